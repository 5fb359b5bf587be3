package tracking

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crowdcount/internal/pipeline"
)

func batchOf(boxes ...pipeline.BBox) *pipeline.DetectionBatch {
	b := &pipeline.DetectionBatch{}
	for _, box := range boxes {
		b.Boxes = append(b.Boxes, box)
		b.Scores = append(b.Scores, 0.9)
		b.ClassIDs = append(b.ClassIDs, 0)
	}
	return b
}

func box(cx float32) pipeline.BBox {
	return pipeline.BBox{CX: cx, CY: 100, W: 40, H: 80}
}

func ids(tracks []pipeline.Track) []int {
	return pipeline.Identities(tracks)
}

func TestTrackConfirmedAfterNInit(t *testing.T) {
	tr := NewIOUTracker(Config{MaxIOUDistance: 0.7, MaxAge: 5, NInit: 3})
	ctx := context.Background()

	out, err := tr.Update(ctx, batchOf(box(100)), nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	out, _ = tr.Update(ctx, batchOf(box(102)), nil)
	assert.Empty(t, out)

	out, _ = tr.Update(ctx, batchOf(box(104)), nil)
	assert.Equal(t, []int{1}, ids(out))
	assert.Equal(t, float32(104), out[0].BBox.CX)
}

func TestTwoPeopleKeepIdentities(t *testing.T) {
	tr := NewIOUTracker(Config{MaxIOUDistance: 0.7, MaxAge: 5, NInit: 1})
	ctx := context.Background()

	out, _ := tr.Update(ctx, batchOf(box(100), box(300)), nil)
	assert.Equal(t, []int{1, 2}, ids(out))

	// detections arrive in a different order
	out, _ = tr.Update(ctx, batchOf(box(305), box(98)), nil)
	assert.ElementsMatch(t, []int{1, 2}, ids(out))
	for _, track := range out {
		if track.ID == 1 {
			assert.Equal(t, float32(98), track.BBox.CX)
		}
	}
}

func TestTentativeTrackDroppedOnMiss(t *testing.T) {
	tr := NewIOUTracker(Config{MaxIOUDistance: 0.7, MaxAge: 5, NInit: 3})
	ctx := context.Background()

	tr.Update(ctx, batchOf(box(100)), nil)
	assert.Equal(t, 1, tr.Active())

	tr.Update(ctx, nil, nil)
	assert.Equal(t, 0, tr.Active())

	// new person gets a new identity, ids are never reused
	tr.Update(ctx, batchOf(box(100)), nil)
	tr.Update(ctx, batchOf(box(100)), nil)
	out, _ := tr.Update(ctx, batchOf(box(100)), nil)
	assert.Equal(t, []int{2}, ids(out))
}

func TestConfirmedTrackExpiresAfterMaxAge(t *testing.T) {
	tr := NewIOUTracker(Config{MaxIOUDistance: 0.7, MaxAge: 2, NInit: 1})
	ctx := context.Background()

	out, _ := tr.Update(ctx, batchOf(box(100)), nil)
	assert.Equal(t, []int{1}, ids(out))

	// reported for one more frame after a miss
	out, _ = tr.Update(ctx, nil, nil)
	assert.Equal(t, []int{1}, ids(out))

	out, _ = tr.Update(ctx, &pipeline.DetectionBatch{}, nil)
	assert.Empty(t, out)
	assert.Equal(t, 1, tr.Active())

	tr.Update(ctx, nil, nil)
	assert.Equal(t, 0, tr.Active())
}

func TestReacquiredWithinMaxAge(t *testing.T) {
	tr := NewIOUTracker(Config{MaxIOUDistance: 0.7, MaxAge: 10, NInit: 1})
	ctx := context.Background()

	tr.Update(ctx, batchOf(box(100)), nil)
	tr.Update(ctx, nil, nil)
	tr.Update(ctx, nil, nil)

	out, _ := tr.Update(ctx, batchOf(box(103)), nil)
	assert.Equal(t, []int{1}, ids(out))
}

func TestLowOverlapStartsNewTrack(t *testing.T) {
	tr := NewIOUTracker(Config{MaxIOUDistance: 0.3, MaxAge: 10, NInit: 1})
	ctx := context.Background()

	tr.Update(ctx, batchOf(box(100)), nil)
	// IoU of boxes shifted by 20 px with width 40 is 1/3, below 0.7
	out, _ := tr.Update(ctx, batchOf(box(120)), nil)
	assert.ElementsMatch(t, []int{1, 2}, ids(out))
}

func TestDefaults(t *testing.T) {
	tr := NewIOUTracker(Config{})
	assert.Equal(t, Config{MaxIOUDistance: 0.7, MaxAge: 70, NInit: 3}, tr.cfg)
}
