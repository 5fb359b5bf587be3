package pipeline

import (
	"context"
	"fmt"
)

// DetectionAdapter runs the detector and normalizes its output into the
// batch shape trackers consume
type DetectionAdapter struct {
	detector Detector
	opts     DetectOptions
}

// NewDetectionAdapter creates a detection adapter
func NewDetectionAdapter(detector Detector, opts DetectOptions) *DetectionAdapter {
	return &DetectionAdapter{
		detector: detector,
		opts:     opts,
	}
}

// Options returns the detector parameters
func (a *DetectionAdapter) Options() DetectOptions {
	return a.opts
}

// Detect runs detection for one frame. A nil batch with a nil error means the
// frame has no qualifying detections.
func (a *DetectionAdapter) Detect(ctx context.Context, frame *FrameData) (batch *DetectionBatch, err error) {
	if a.detector == nil {
		return nil, fmt.Errorf("detector not configured")
	}

	defer func() {
		if r := recover(); r != nil {
			batch = nil
			err = fmt.Errorf("detector panic: %v", r)
		}
	}()

	dets, err := a.detector.Detect(ctx, frame, a.opts)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	return Normalize(dets, a.opts), nil
}

// Normalize drops malformed and non-qualifying detections and converts the
// rest to column form. Returns nil when nothing qualifies.
func Normalize(dets []Detection, opts DetectOptions) *DetectionBatch {
	if len(dets) == 0 {
		return nil
	}

	batch := &DetectionBatch{
		Boxes:    make([]BBox, 0, len(dets)),
		Scores:   make([]float32, 0, len(dets)),
		ClassIDs: make([]int, 0, len(dets)),
	}

	for _, d := range dets {
		if !d.BBox.Valid() {
			continue
		}
		if d.Confidence < 0 || d.Confidence > 1 || d.Confidence < opts.ConfidenceThreshold {
			continue
		}
		if !opts.Allows(d.ClassID) {
			continue
		}

		batch.Boxes = append(batch.Boxes, d.BBox)
		batch.Scores = append(batch.Scores, d.Confidence)
		batch.ClassIDs = append(batch.ClassIDs, d.ClassID)
	}

	if batch.Len() == 0 {
		return nil
	}
	return batch
}
