package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"crowdcount/internal/pipeline"
)

const (
	readChunkSize  = 8192
	maxFrameBuffer = 16 * 1024 * 1024
)

// StreamSource yields JPEG frames from a concatenated MJPEG byte stream
type StreamSource struct {
	reader io.ReadCloser
	width  int
	height int

	buffer []byte
	chunk  []byte
	seq    uint64

	eof       bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
}

// NewStreamSource wraps a reader producing back-to-back JPEG images
func NewStreamSource(reader io.ReadCloser, width, height int) *StreamSource {
	return &StreamSource{
		reader: reader,
		width:  width,
		height: height,
		buffer: make([]byte, 0, 1024*1024),
		chunk:  make([]byte, readChunkSize),
	}
}

// Next blocks until a complete JPEG is available. io.EOF from the reader is
// reported as pipeline.ErrEndOfStream; a trailing partial frame is discarded.
// Cancelling ctx closes the reader so a stalled read returns ctx.Err().
func (s *StreamSource) Next(ctx context.Context) (*pipeline.FrameData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, pipeline.ErrSourceClosed
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		if frame := extractJPEGFrame(&s.buffer); frame != nil {
			s.seq++
			return &pipeline.FrameData{
				Data:      frame,
				Seq:       s.seq,
				Timestamp: time.Now(),
				Width:     s.width,
				Height:    s.height,
			}, nil
		}

		if s.eof {
			return nil, pipeline.ErrEndOfStream
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		n, err := s.reader.Read(s.chunk)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if n > 0 {
			s.buffer = append(s.buffer, s.chunk[:n]...)
			if len(s.buffer) > maxFrameBuffer {
				return nil, fmt.Errorf("no complete frame in %d bytes", len(s.buffer))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.eof = true
				continue
			}
			if s.closed.Load() {
				return nil, pipeline.ErrSourceClosed
			}
			return nil, fmt.Errorf("read frame: %w", err)
		}
	}
}

// FramesRead returns the number of frames yielded so far
func (s *StreamSource) FramesRead() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Close closes the underlying reader. Safe to call more than once.
func (s *StreamSource) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}

// extractJPEGFrame extracts a complete JPEG frame from buffer
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	// Find JPEG start marker (FFD8)
	startIdx := -1
	for i := 0; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD8 {
			startIdx = i
			break
		}
	}
	if startIdx == -1 {
		// keep the last byte, it may be the first half of a marker
		*buffer = (*buffer)[len(*buffer)-1:]
		return nil
	}

	// Find JPEG end marker (FFD9)
	endIdx := -1
	for i := startIdx + 2; i < len(*buffer)-1; i++ {
		if (*buffer)[i] == 0xFF && (*buffer)[i+1] == 0xD9 {
			endIdx = i + 2
			break
		}
	}
	if endIdx == -1 {
		return nil
	}

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]

	return frame
}
