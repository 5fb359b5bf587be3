package sink

import (
	"context"
	"log"
	"time"

	"crowdcount/internal/database"
)

// SQLiteSink stores records in the local database and prunes old rows
type SQLiteSink struct {
	db        *database.Database
	retention time.Duration
	ownsDB    bool
}

// NewSQLiteSink stores records in db. A positive retention deletes records
// older than it after every insert.
func NewSQLiteSink(db *database.Database, retention time.Duration) *SQLiteSink {
	return &SQLiteSink{db: db, retention: retention}
}

// Submit inserts the record
func (s *SQLiteSink) Submit(ctx context.Context, rec CountRecord) error {
	err := s.db.SaveCountRecord(ctx, &database.CountRecord{
		ID:          rec.ID,
		Timestamp:   rec.Timestamp,
		PeopleCount: rec.Count,
		TrackingIDs: rec.IDs,
		CreatedAt:   rec.CreatedAt,
	})
	if err != nil {
		return err
	}

	if s.retention > 0 {
		deleted, err := s.db.DeleteOldCountRecords(ctx, rec.CreatedAt.Add(-s.retention))
		if err != nil {
			log.Printf("[Sink] Failed to prune old records: %v", err)
		} else if deleted > 0 {
			log.Printf("[Sink] Pruned %d records older than %s", deleted, s.retention)
		}
	}
	return nil
}

// Database returns the backing store for read APIs
func (s *SQLiteSink) Database() *database.Database {
	return s.db
}

// Close closes the database if the sink opened it
func (s *SQLiteSink) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// FromDatabase converts a stored row back into a record
func FromDatabase(row *database.CountRecord) CountRecord {
	return CountRecord{
		ID:        row.ID,
		Timestamp: row.Timestamp,
		Count:     row.PeopleCount,
		IDs:       row.TrackingIDs,
		CreatedAt: row.CreatedAt,
	}
}
