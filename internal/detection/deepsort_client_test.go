package detection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcount/internal/pipeline"
)

type fakeTrackingService struct {
	mu       sync.Mutex
	sessions map[string]createSessionRequest
	updates  []updateRequest
	deleted  []string
}

func (s *fakeTrackingService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/track/sessions":
		var req createSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.sessions[req.SessionID] = req
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/update"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/track/sessions/"), "/update")
		if _, ok := s.sessions[id]; !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.updates = append(s.updates, req)

		resp := updateResponse{Tracks: []remoteTrack{}}
		for i, b := range req.Boxes {
			resp.Tracks = append(resp.Tracks, remoteTrack{TrackID: i + 1, BBox: b[:], ClassID: req.ClassIDs[i]})
		}
		json.NewEncoder(w).Encode(resp)
	case r.Method == http.MethodDelete:
		s.deleted = append(s.deleted, strings.TrimPrefix(r.URL.Path, "/track/sessions/"))
		w.WriteHeader(http.StatusOK)
	default:
		http.NotFound(w, r)
	}
}

func TestDeepSortClientUpdate(t *testing.T) {
	svc := &fakeTrackingService{sessions: map[string]createSessionRequest{}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	params := DeepSortParams{MaxCosineDistance: 0.2, NMSMaxOverlap: 1.0, MaxIOUDistance: 0.7, MaxAge: 70, NInit: 3, NNBudget: 100}
	client := NewDeepSortClient(srv.URL, time.Second, params)
	assert.Empty(t, client.SessionID())

	batch := &pipeline.DetectionBatch{
		Boxes:    []pipeline.BBox{{CX: 10, CY: 20, W: 5, H: 10}, {CX: 50, CY: 60, W: 5, H: 10}},
		Scores:   []float32{0.9, 0.8},
		ClassIDs: []int{0, 0},
	}
	tracks, err := client.Update(context.Background(), batch, testFrame())
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, 1, tracks[0].ID)
	assert.Equal(t, pipeline.BBox{CX: 50, CY: 60, W: 5, H: 10}, tracks[1].BBox)

	// empty batches are forwarded so the tracker can age its tracks
	tracks, err = client.Update(context.Background(), nil, testFrame())
	require.NoError(t, err)
	assert.Empty(t, tracks)

	sessionID := client.SessionID()
	_, err = uuid.Parse(sessionID)
	require.NoError(t, err)

	svc.mu.Lock()
	assert.Len(t, svc.sessions, 1)
	assert.Equal(t, params, svc.sessions[sessionID].DeepSortParams)
	require.Len(t, svc.updates, 2)
	assert.Equal(t, uint64(1), svc.updates[0].FrameSeq)
	assert.NotEmpty(t, svc.updates[0].Image)
	assert.Empty(t, svc.updates[1].Boxes)
	svc.mu.Unlock()

	require.NoError(t, client.Close())
	assert.Equal(t, []string{sessionID}, svc.deleted)
	assert.Empty(t, client.SessionID())
}

func TestDeepSortClientSessionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewDeepSortClient(srv.URL, time.Second, DeepSortParams{})
	_, err := client.Update(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open tracking session")
	assert.Empty(t, client.SessionID())
	require.NoError(t, client.Close())
}
