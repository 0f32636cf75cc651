package publish

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HubConfig configures WebSocket hub behavior.
type HubConfig struct {
	// WriteTimeout is the per-subscriber write deadline.
	WriteTimeout time.Duration
	// ReadLimit bounds inbound frames; subscribers are not expected to send.
	ReadLimit int64
}

// DefaultHubConfig returns default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		WriteTimeout: 10 * time.Second,
		ReadLimit:    512,
	}
}

// Hub is a WebSocket broadcast Publisher. Subscribers attach to a named
// channel via the HTTP handler; Publish writes the payload to every
// subscriber of that channel. A subscriber that cannot keep up is dropped
// rather than blocking the publisher.
type Hub struct {
	config   HubConfig
	upgrader websocket.Upgrader
	logger   *log.Logger

	mu   sync.RWMutex
	subs map[string]map[*websocket.Conn]struct{} // channel -> connections
}

// NewHub creates a new broadcast hub.
func NewHub(config *HubConfig, logger *log.Logger) *Hub {
	cfg := DefaultHubConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Hub{
		config: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
		subs:   make(map[string]map[*websocket.Conn]struct{}),
	}
}

// Compile-time interface check.
var _ Publisher = (*Hub)(nil)

// ServeHTTP upgrades a subscriber connection. The channel name comes from
// the "channel" query parameter.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	if channel == "" {
		http.Error(w, "missing channel parameter", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("WARN websocket upgrade failed: %v", err)
		return
	}

	h.add(channel, conn)
	h.logger.Printf("subscriber joined channel=%s remote=%s", channel, conn.RemoteAddr())

	// Reader goroutine: detects subscriber disconnect and discards any
	// inbound frames.
	go func() {
		conn.SetReadLimit(h.config.ReadLimit)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.remove(channel, conn)
				conn.Close()
				return
			}
		}
	}()
}

// Publish writes payload to every subscriber of channel. Write failures drop
// the subscriber; Publish itself never fails once the payload is handed off.
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.subs[channel]))
	for conn := range h.subs[channel] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Printf("WARN dropping slow subscriber channel=%s remote=%s: %v",
				channel, conn.RemoteAddr(), err)
			h.remove(channel, conn)
			conn.Close()
		}
	}
	return nil
}

// SubscriberCount returns the number of live subscribers on channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Close disconnects all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel, conns := range h.subs {
		for conn := range conns {
			conn.Close()
		}
		delete(h.subs, channel)
	}
}

func (h *Hub) add(channel string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*websocket.Conn]struct{})
	}
	h.subs[channel][conn] = struct{}{}
}

func (h *Hub) remove(channel string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.subs[channel]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.subs, channel)
		}
	}
}
