package pipeline

import (
	"context"
	"fmt"
)

// TrackingAdapter invokes the tracker once per frame and extracts identities
type TrackingAdapter struct {
	tracker Tracker
}

// NewTrackingAdapter creates a tracking adapter
func NewTrackingAdapter(tracker Tracker) *TrackingAdapter {
	return &TrackingAdapter{tracker: tracker}
}

// Track updates the tracker with a batch. An empty result is valid and
// returned as nil tracks with a nil error.
func (a *TrackingAdapter) Track(ctx context.Context, batch *DetectionBatch, frame *FrameData) (tracks []Track, err error) {
	if a.tracker == nil {
		return nil, fmt.Errorf("tracker not configured")
	}

	defer func() {
		if r := recover(); r != nil {
			tracks = nil
			err = fmt.Errorf("tracker panic: %v", r)
		}
	}()

	tracks, err = a.tracker.Update(ctx, batch, frame)
	if err != nil {
		return nil, fmt.Errorf("tracking failed: %w", err)
	}
	if len(tracks) == 0 {
		return nil, nil
	}
	return tracks, nil
}

// Identities returns the track ids in tracker order
func Identities(tracks []Track) []int {
	if len(tracks) == 0 {
		return nil
	}
	ids := make([]int, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	return ids
}
