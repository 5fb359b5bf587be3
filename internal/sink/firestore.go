package sink

import (
	"context"
	"fmt"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
)

// FirestoreSink adds one document per record to a Firestore collection
type FirestoreSink struct {
	client     *firestore.Client
	collection *firestore.CollectionRef
}

// NewFirestoreSink connects to Firestore. An empty projectID is detected from
// the credentials; an empty credentialsFile uses application default
// credentials.
func NewFirestoreSink(ctx context.Context, projectID, collection, credentialsFile string) (*FirestoreSink, error) {
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	log.Printf("[Sink] Firestore collection %q ready", collection)
	return &FirestoreSink{
		client:     client,
		collection: client.Collection(collection),
	}, nil
}

// Submit adds the record as a new document
func (s *FirestoreSink) Submit(ctx context.Context, rec CountRecord) error {
	if _, _, err := s.collection.Add(ctx, rec.Fields()); err != nil {
		return fmt.Errorf("firestore add: %w", err)
	}
	return nil
}

// Close closes the client
func (s *FirestoreSink) Close() error {
	return s.client.Close()
}
