package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"crowdcount/internal/identity"
)

// FramePipeline is the per-frame control loop: read, detect, track, record
// identities, present. It is the only writer of the identity set.
type FramePipeline struct {
	source    VideoSource
	detection *DetectionAdapter
	tracking  *TrackingAdapter
	ids       *identity.Set
	display   Display
	eventBus  *EventBus
	hook      StatsHook

	started     atomic.Bool
	stopCh      chan struct{}
	stopOnce    sync.Once
	releaseOnce sync.Once

	stats   PipelineStats
	statsMu sync.RWMutex
}

// NewFramePipeline creates a frame pipeline. display may be nil.
func NewFramePipeline(
	source VideoSource,
	detection *DetectionAdapter,
	tracking *TrackingAdapter,
	ids *identity.Set,
	display Display,
) *FramePipeline {
	if display == nil {
		display = NoopDisplay{}
	}
	return &FramePipeline{
		source:    source,
		detection: detection,
		tracking:  tracking,
		ids:       ids,
		display:   display,
		stopCh:    make(chan struct{}),
		stats: PipelineStats{
			State: StateRunning,
		},
	}
}

// SetEventBus sets the bus frame results are published on
func (p *FramePipeline) SetEventBus(bus *EventBus) {
	p.eventBus = bus
}

// SetStatsHook sets the receiver of frame loop events
func (p *FramePipeline) SetStatsHook(hook StatsHook) {
	p.hook = hook
}

// RequestStop asks the loop to stop after the current iteration
func (p *FramePipeline) RequestStop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
	})
}

// State returns the current lifecycle state
func (p *FramePipeline) State() State {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats.State
}

// Stats returns a copy of the frame loop counters
func (p *FramePipeline) Stats() PipelineStats {
	p.statsMu.RLock()
	defer p.statsMu.RUnlock()
	return p.stats
}

// Run processes frames until end of stream, a stop request, context
// cancellation or a fatal source error. Resources are released exactly once
// on every exit path. Only a fatal source error is returned as an error.
func (p *FramePipeline) Run(ctx context.Context) (reason ExitReason, err error) {
	if !p.started.CompareAndSwap(false, true) {
		return "", errors.New("frame pipeline already started")
	}
	defer p.release()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Pipeline] Recovered from panic: %v", r)
			reason, err = ExitSourceError, fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	p.statsMu.Lock()
	p.stats.StartedAt = time.Now()
	p.statsMu.Unlock()

	log.Printf("[Pipeline] Processing loop started")

	for {
		if p.stopRequested(ctx) {
			p.setState(StateDraining)
			log.Printf("[Pipeline] Stop requested, draining")
			return ExitUserStop, nil
		}

		frame, err := p.source.Next(ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				log.Printf("[Pipeline] End of stream after %d frames", p.Stats().FramesRead)
				return ExitEndOfStream, nil
			}
			if ctx.Err() != nil {
				p.setState(StateDraining)
				log.Printf("[Pipeline] Interrupted while waiting for a frame")
				return ExitUserStop, nil
			}
			log.Printf("[Pipeline] Fatal video source error: %v", err)
			return ExitSourceError, fmt.Errorf("video source: %w", err)
		}

		result := p.processFrame(ctx, frame)

		if p.eventBus != nil {
			p.eventBus.Publish(result)
		}
		if p.display.Show(result) {
			p.RequestStop()
		}
	}
}

func (p *FramePipeline) stopRequested(ctx context.Context) bool {
	select {
	case <-p.stopCh:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// processFrame runs detection and tracking for one frame and records the
// identities. Per-frame failures are logged and treated as an empty result.
func (p *FramePipeline) processFrame(ctx context.Context, frame *FrameData) *FrameResult {
	p.statsMu.Lock()
	p.stats.FramesRead++
	p.stats.LastFrameTime = frame.Timestamp
	p.statsMu.Unlock()
	p.notify(func(h StatsHook) { h.FrameRead() })

	result := &FrameResult{Frame: frame}

	batch, err := p.detection.Detect(ctx, frame)
	if err != nil {
		p.frameError(frame, err)
		result.WindowSize = p.ids.Len()
		return result
	}
	if batch.Len() == 0 {
		p.statsMu.Lock()
		p.stats.FramesEmpty++
		p.statsMu.Unlock()
		p.notify(func(h StatsHook) { h.FrameEmpty() })
		result.WindowSize = p.ids.Len()
		return result
	}
	result.Detections = batch.Detections()

	p.statsMu.Lock()
	p.stats.TrackerCalls++
	p.statsMu.Unlock()

	tracks, err := p.tracking.Track(ctx, batch, frame)
	if err != nil {
		p.frameError(frame, err)
		result.WindowSize = p.ids.Len()
		return result
	}
	if len(tracks) == 0 {
		p.statsMu.Lock()
		p.stats.FramesNoTracks++
		p.statsMu.Unlock()
		result.WindowSize = p.ids.Len()
		return result
	}

	ids := Identities(tracks)
	p.ids.InsertAll(ids)

	p.statsMu.Lock()
	p.stats.IDsInserted += uint64(len(ids))
	p.statsMu.Unlock()
	p.notify(func(h StatsHook) { h.TracksFound(len(ids)) })

	result.Tracks = tracks
	result.WindowSize = p.ids.Len()
	return result
}

func (p *FramePipeline) frameError(frame *FrameData, err error) {
	p.statsMu.Lock()
	p.stats.FrameErrors++
	p.statsMu.Unlock()
	p.notify(func(h StatsHook) { h.FrameError() })

	log.Printf("[Pipeline] Frame %d skipped: %v", frame.Seq, err)
}

func (p *FramePipeline) notify(fn func(StatsHook)) {
	if p.hook != nil {
		fn(p.hook)
	}
}

func (p *FramePipeline) setState(state State) {
	p.statsMu.Lock()
	p.stats.State = state
	p.statsMu.Unlock()
}

// release closes the video source and display. Runs once.
func (p *FramePipeline) release() {
	p.releaseOnce.Do(func() {
		if err := p.source.Close(); err != nil {
			log.Printf("[Pipeline] Error closing video source: %v", err)
		}
		if err := p.display.Close(); err != nil {
			log.Printf("[Pipeline] Error closing display: %v", err)
		}
		p.setState(StateStopped)
		log.Printf("[Pipeline] Resources released successfully")
	})
}
