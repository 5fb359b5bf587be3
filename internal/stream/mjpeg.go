package stream

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"crowdcount/internal/pipeline"
)

// Preview serves the annotated pipeline output as an MJPEG stream
type Preview struct {
	drawTracks bool

	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	latest   *pipeline.FrameResult
	latestMu sync.RWMutex
}

// NewPreview creates a preview. drawTracks enables track boxes and ids.
func NewPreview(drawTracks bool) *Preview {
	return &Preview{
		drawTracks: drawTracks,
		clients:    make(map[chan []byte]bool),
	}
}

// Run consumes frame results until ctx is cancelled or the channel is closed.
// Frames are only rendered while clients are connected.
func (p *Preview) Run(ctx context.Context, results <-chan *pipeline.FrameResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-results:
			if !ok {
				return
			}
			p.update(result)
		}
	}
}

func (p *Preview) update(result *pipeline.FrameResult) {
	p.latestMu.Lock()
	p.latest = result
	p.latestMu.Unlock()

	if p.ClientCount() == 0 {
		return
	}

	frame := Render(result, p.drawTracks)
	if frame == nil {
		return
	}

	p.clientsMu.RLock()
	for ch := range p.clients {
		select {
		case ch <- frame:
		default:
			// Client is slow, skip frame
		}
	}
	p.clientsMu.RUnlock()
}

// ClientCount returns the number of connected stream clients
func (p *Preview) ClientCount() int {
	p.clientsMu.RLock()
	defer p.clientsMu.RUnlock()
	return len(p.clients)
}

// Snapshot renders the latest frame, nil before the first frame
func (p *Preview) Snapshot() []byte {
	p.latestMu.RLock()
	latest := p.latest
	p.latestMu.RUnlock()

	if latest == nil {
		return nil
	}
	return Render(latest, p.drawTracks)
}

// ServeHTTP serves the MJPEG stream to a client
func (p *Preview) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	clientCh := make(chan []byte, 5)
	p.clientsMu.Lock()
	p.clients[clientCh] = true
	p.clientsMu.Unlock()

	defer func() {
		p.clientsMu.Lock()
		delete(p.clients, clientCh)
		p.clientsMu.Unlock()
	}()

	log.Printf("[MJPEGStream] Client connected from %s", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			log.Printf("[MJPEGStream] Client disconnected")
			return
		case frame := <-clientCh:
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
			w.Write(frame)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
		}
	}
}

// SnapshotHandler serves single frame snapshots
type SnapshotHandler struct {
	preview *Preview
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(preview *Preview) *SnapshotHandler {
	return &SnapshotHandler{preview: preview}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame := h.preview.Snapshot()
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}
