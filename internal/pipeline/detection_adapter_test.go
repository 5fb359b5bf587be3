package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	opts := DetectOptions{ConfidenceThreshold: 0.3, AllowedClassIDs: []int{0}}
	good := BBox{CX: 10, CY: 10, W: 4, H: 8}

	tests := []struct {
		name string
		dets []Detection
		want int
	}{
		{"nil", nil, 0},
		{"qualifying", []Detection{{BBox: good, Confidence: 0.5}}, 1},
		{"threshold inclusive", []Detection{{BBox: good, Confidence: 0.3}}, 1},
		{"below threshold", []Detection{{BBox: good, Confidence: 0.29}}, 0},
		{"confidence above one", []Detection{{BBox: good, Confidence: 1.5}}, 0},
		{"wrong class", []Detection{{BBox: good, Confidence: 0.9, ClassID: 2}}, 0},
		{"zero width", []Detection{{BBox: BBox{CX: 1, CY: 1, W: 0, H: 3}, Confidence: 0.9}}, 0},
		{"nan box", []Detection{{BBox: BBox{CX: float32(math.NaN()), CY: 1, W: 2, H: 3}, Confidence: 0.9}}, 0},
		{"mixed", []Detection{
			{BBox: good, Confidence: 0.9},
			{BBox: good, Confidence: 0.1},
			{BBox: good, Confidence: 0.8, ClassID: 0},
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch := Normalize(tt.dets, opts)
			assert.Equal(t, tt.want, batch.Len())
			if tt.want == 0 {
				assert.Nil(t, batch)
				return
			}
			assert.Len(t, batch.Scores, tt.want)
			assert.Len(t, batch.ClassIDs, tt.want)
		})
	}
}

func TestNormalizeEmptyAllowedSetAllowsAll(t *testing.T) {
	batch := Normalize([]Detection{
		{BBox: BBox{CX: 5, CY: 5, W: 2, H: 2}, Confidence: 0.9, ClassID: 3},
		{BBox: BBox{CX: 5, CY: 5, W: 2, H: 2}, Confidence: 0.9, ClassID: 0},
	}, DetectOptions{})
	require.NotNil(t, batch)
	assert.Equal(t, []int{3, 0}, batch.ClassIDs)
}

func TestDetectionAdapterErrors(t *testing.T) {
	frame := &FrameData{Seq: 1}

	failing := NewDetectionAdapter(&fakeDetector{fn: func(*FrameData) ([]Detection, error) {
		return nil, errors.New("connection refused")
	}}, DetectOptions{})
	_, err := failing.Detect(context.Background(), frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detection failed")

	panicking := NewDetectionAdapter(&fakeDetector{fn: func(*FrameData) ([]Detection, error) {
		panic("index out of range")
	}}, DetectOptions{})
	batch, err := panicking.Detect(context.Background(), frame)
	require.Error(t, err)
	assert.Nil(t, batch)

	_, err = NewDetectionAdapter(nil, DetectOptions{}).Detect(context.Background(), frame)
	require.Error(t, err)
}

func TestBBoxIoU(t *testing.T) {
	a := BBoxFromCorners(0, 0, 10, 10)
	assert.InDelta(t, 1.0, a.IoU(a), 1e-6)

	b := BBoxFromCorners(5, 0, 15, 10)
	assert.InDelta(t, 50.0/150.0, a.IoU(b), 1e-6)

	c := BBoxFromCorners(20, 20, 30, 30)
	assert.Equal(t, float32(0), a.IoU(c))

	x1, y1, x2, y2 := b.Corners()
	assert.Equal(t, []float32{5, 0, 15, 10}, []float32{x1, y1, x2, y2})
}

func TestTrackingAdapter(t *testing.T) {
	batch := &DetectionBatch{Boxes: []BBox{{CX: 1, CY: 1, W: 1, H: 1}}, Scores: []float32{1}, ClassIDs: []int{0}}

	empty := NewTrackingAdapter(&fakeTracker{fn: func(*DetectionBatch, *FrameData) ([]Track, error) {
		return []Track{}, nil
	}})
	tracks, err := empty.Track(context.Background(), batch, &FrameData{})
	require.NoError(t, err)
	assert.Nil(t, tracks)

	panicking := NewTrackingAdapter(&fakeTracker{fn: func(*DetectionBatch, *FrameData) ([]Track, error) {
		panic("boom")
	}})
	_, err = panicking.Track(context.Background(), batch, &FrameData{})
	require.Error(t, err)

	assert.Equal(t, []int{4, 2, 9}, Identities([]Track{{ID: 4}, {ID: 2}, {ID: 9}}))
	assert.Nil(t, Identities(nil))
}
