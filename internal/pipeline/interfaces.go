package pipeline

import (
	"context"
	"errors"
)

var (
	// ErrEndOfStream is returned by a VideoSource when no more frames will follow
	ErrEndOfStream = errors.New("end of stream")
	// ErrSourceClosed is returned by Next after Close
	ErrSourceClosed = errors.New("video source closed")
)

// VideoSource yields frames in order. Any error other than ErrEndOfStream is fatal.
type VideoSource interface {
	// Next blocks until the next frame is available
	Next(ctx context.Context) (*FrameData, error)

	// Close releases the underlying handle
	Close() error
}

// Detector is the object detection backend
type Detector interface {
	// Detect runs detection on a frame and returns the objects found
	Detect(ctx context.Context, frame *FrameData, opts DetectOptions) ([]Detection, error)
}

// Tracker is the multi-object tracker. It must accept empty batches.
type Tracker interface {
	// Update feeds one frame's detections and returns the active tracks
	Update(ctx context.Context, batch *DetectionBatch, frame *FrameData) ([]Track, error)
}

// Display receives processed frames for presentation
type Display interface {
	// Show presents a frame result; returning true requests a stop (e.g. quit key)
	Show(result *FrameResult) bool

	// Close releases display resources
	Close() error
}

// FrameResultHandler receives frame results from the event bus
type FrameResultHandler interface {
	// OnFrameResult is called for each published result
	OnFrameResult(result *FrameResult)
}

// StatsHook is notified of frame loop events (metrics)
type StatsHook interface {
	FrameRead()
	FrameEmpty()
	FrameError()
	TracksFound(n int)
}

// NoopDisplay discards frames
type NoopDisplay struct{}

func (NoopDisplay) Show(*FrameResult) bool { return false }

func (NoopDisplay) Close() error { return nil }

var _ Display = NoopDisplay{}
