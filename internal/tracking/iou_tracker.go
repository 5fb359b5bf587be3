// Package tracking contains the in-process multi-object tracker used when no
// remote DeepSORT service is configured.
package tracking

import (
	"context"
	"sort"
	"sync"

	"crowdcount/internal/pipeline"
)

// Config holds the association and lifecycle parameters
type Config struct {
	// MaxIOUDistance is the largest 1-IoU accepted for a match
	MaxIOUDistance float32
	// MaxAge is the number of consecutive misses before a confirmed track is deleted
	MaxAge int
	// NInit is the number of hits before a track is confirmed
	NInit int
}

type trackState int

const (
	tentative trackState = iota
	confirmed
)

type track struct {
	id              int
	box             pipeline.BBox
	classID         int
	confidence      float32
	hits            int
	timeSinceUpdate int
	state           trackState
}

// IOUTracker associates detections to tracks greedily by overlap
type IOUTracker struct {
	cfg    Config
	tracks []*track
	nextID int
	mu     sync.Mutex
}

// NewIOUTracker creates a tracker. Identities start at 1.
func NewIOUTracker(cfg Config) *IOUTracker {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 70
	}
	if cfg.NInit <= 0 {
		cfg.NInit = 3
	}
	if cfg.MaxIOUDistance <= 0 {
		cfg.MaxIOUDistance = 0.7
	}
	return &IOUTracker{cfg: cfg, nextID: 1}
}

type candidate struct {
	track, det int
	iou        float32
}

// Update advances the tracker by one frame. A nil or empty batch ages all
// tracks. Returned tracks are confirmed and were seen in this or the
// previous frame.
func (t *IOUTracker) Update(_ context.Context, batch *pipeline.DetectionBatch, _ *pipeline.FrameData) ([]pipeline.Track, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, tr := range t.tracks {
		tr.timeSinceUpdate++
	}

	n := batch.Len()
	minIOU := 1 - t.cfg.MaxIOUDistance

	var candidates []candidate
	for i, tr := range t.tracks {
		for j := 0; j < n; j++ {
			iou := tr.box.IoU(batch.Boxes[j])
			if iou > 0 && iou >= minIOU {
				candidates = append(candidates, candidate{track: i, det: j, iou: iou})
			}
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].iou > candidates[b].iou
	})

	trackMatched := make([]bool, len(t.tracks))
	detMatched := make([]bool, n)
	for _, c := range candidates {
		if trackMatched[c.track] || detMatched[c.det] {
			continue
		}
		trackMatched[c.track] = true
		detMatched[c.det] = true
		t.tracks[c.track].update(batch, c.det, t.cfg.NInit)
	}

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackMatched[i] {
			if tr.state == tentative || tr.timeSinceUpdate > t.cfg.MaxAge {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for j := 0; j < n; j++ {
		if detMatched[j] {
			continue
		}
		tr := &track{
			id:         t.nextID,
			box:        batch.Boxes[j],
			classID:    batch.ClassIDs[j],
			confidence: batch.Scores[j],
			hits:       1,
		}
		if t.cfg.NInit <= 1 {
			tr.state = confirmed
		}
		t.nextID++
		t.tracks = append(t.tracks, tr)
	}

	var out []pipeline.Track
	for _, tr := range t.tracks {
		if tr.state != confirmed || tr.timeSinceUpdate > 1 {
			continue
		}
		out = append(out, pipeline.Track{
			ID:         tr.id,
			BBox:       tr.box,
			ClassID:    tr.classID,
			Confidence: tr.confidence,
		})
	}
	return out, nil
}

// Active returns the number of tracks currently held, tentative included
func (t *IOUTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

func (tr *track) update(batch *pipeline.DetectionBatch, j, nInit int) {
	tr.box = batch.Boxes[j]
	tr.classID = batch.ClassIDs[j]
	tr.confidence = batch.Scores[j]
	tr.hits++
	tr.timeSinceUpdate = 0
	if tr.state == tentative && tr.hits >= nInit {
		tr.state = confirmed
	}
}
