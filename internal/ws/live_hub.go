package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"crowdcount/internal/pipeline"
	"crowdcount/internal/sink"
)

const writeWait = 10 * time.Second

// client serializes writes to one connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// LiveHub manages WebSocket connections for the live track feed
type LiveHub struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

// NewLiveHub creates a new live hub
func NewLiveHub() *LiveHub {
	return &LiveHub{
		clients: make(map[*client]bool),
	}
}

// register adds a connection
func (h *LiveHub) register(conn *websocket.Conn) *client {
	c := &client{conn: conn}

	h.mu.Lock()
	h.clients[c] = true
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[WS] Client registered (total: %d)", total)
	return c
}

// unregister removes a connection
func (h *LiveHub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if ok {
		log.Printf("[WS] Client unregistered")
	}
}

// ClientCount returns the number of connected clients
func (h *LiveHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to all clients, dropping the ones that fail
func (h *LiveHub) Broadcast(message []byte) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, message); err != nil {
			log.Printf("[WS] Error sending to client: %v", err)
			h.unregister(c)
			c.conn.Close()
		}
	}
}

// BroadcastJSON marshals and broadcasts v when clients are connected
func (h *LiveHub) BroadcastJSON(v any) {
	if h.ClientCount() == 0 {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[WS] Error marshaling message: %v", err)
		return
	}
	h.Broadcast(data)
}

// OnReport broadcasts a reported window. Used as a reporter listener.
func (h *LiveHub) OnReport(rec sink.CountRecord) {
	h.BroadcastJSON(NewReportMessage(rec))
}

// Run forwards frame results from the event bus until ctx is cancelled or the
// subscription is closed
func (h *LiveHub) Run(ctx context.Context, results <-chan *pipeline.FrameResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-results:
			if !ok {
				return
			}
			h.BroadcastJSON(NewTracksMessage(result))
		}
	}
}

// Close disconnects all clients
func (h *LiveHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		c.conn.Close()
		delete(h.clients, c)
	}
}
