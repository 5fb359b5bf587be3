package sink

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// LogSink writes one JSON line per record
type LogSink struct {
	w  io.Writer
	mu sync.Mutex
}

// NewLogSink writes records to w
func NewLogSink(w io.Writer) *LogSink {
	return &LogSink{w: w}
}

// Submit writes the record
func (s *LogSink) Submit(_ context.Context, rec CountRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(line, '\n'))
	return err
}

// Close is a no-op
func (s *LogSink) Close() error {
	return nil
}
