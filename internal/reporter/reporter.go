// Package reporter periodically drains the identity set and submits one
// count record per window.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"crowdcount/internal/identity"
	"crowdcount/internal/sink"
)

// Listener receives every record built by the reporter once its submission
// has been attempted
type Listener func(rec sink.CountRecord)

// Outcome is the result of one reporting cycle
type Outcome struct {
	Record sink.CountRecord `json:"record"`
	Err    error            `json:"-"`
	Error  string           `json:"error,omitempty"`
	At     time.Time        `json:"at"`
}

// Options configure a Reporter
type Options struct {
	Interval      time.Duration
	SubmitTimeout time.Duration
	// Observer, if set, receives every cycle outcome
	Observer func(Outcome)
	// Now defaults to time.Now
	Now func() time.Time
}

// Reporter flushes the identity set every interval and submits the window's
// count. A failed submission is logged and the window is lost.
type Reporter struct {
	ids  *identity.Set
	sink sink.Sink
	opts Options

	listeners []Listener
	cycles    int

	last    *Outcome
	mu      sync.RWMutex
	cycleMu sync.Mutex
}

// New creates a reporter
func New(ids *identity.Set, s sink.Sink, opts Options) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reporter{
		ids:  ids,
		sink: s,
		opts: opts,
	}
}

// AddListener registers a listener. Not safe to call after Run starts.
func (r *Reporter) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Interval returns the reporting period
func (r *Reporter) Interval() time.Duration {
	return r.opts.Interval
}

// Run waits one interval, reports, and repeats until ctx is cancelled.
// Submission time is not subtracted from the next wait.
func (r *Reporter) Run(ctx context.Context) {
	log.Printf("[Reporter] Started, interval %s", r.opts.Interval)

	timer := time.NewTimer(r.opts.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Reporter] Stopped")
			return
		case <-timer.C:
			r.Cycle(ctx)
			timer.Reset(r.opts.Interval)
		}
	}
}

// Cycle performs one report: flush, build the record, submit, then notify
// listeners. The set is emptied whether or not the submission succeeds.
func (r *Reporter) Cycle(ctx context.Context) Outcome {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	_, ids := r.ids.Flush()
	rec := sink.NewCountRecord(r.opts.Now(), ids)

	err := r.submit(ctx, rec)
	if err != nil {
		log.Printf("[Reporter] Error sending people count: %v", err)
	} else {
		log.Printf("[Reporter] People count sent: %d", rec.Count)
	}

	out := Outcome{Record: rec, Err: err, At: r.opts.Now()}
	if err != nil {
		out.Error = err.Error()
	}

	r.mu.Lock()
	r.last = &out
	r.cycles++
	r.mu.Unlock()

	if r.opts.Observer != nil {
		r.opts.Observer(out)
	}
	for _, l := range r.listeners {
		l(rec)
	}
	return out
}

// Final runs one last cycle at shutdown. ctx must not be the cancelled run
// context.
func (r *Reporter) Final(ctx context.Context) Outcome {
	log.Printf("[Reporter] Flushing final window")
	return r.Cycle(ctx)
}

func (r *Reporter) submit(ctx context.Context, rec sink.CountRecord) (err error) {
	if r.sink == nil {
		return errors.New("no sink configured")
	}

	if r.opts.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.SubmitTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = panicError{p}
		}
	}()

	return r.sink.Submit(ctx, rec)
}

// Last returns the most recent cycle outcome, nil before the first cycle
func (r *Reporter) Last() *Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	out := *r.last
	return &out
}

// Cycles returns how many reports were attempted
func (r *Reporter) Cycles() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cycles
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("sink panic: %v", e.value)
}
