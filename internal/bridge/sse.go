// internal/bridge/sse.go
package bridge

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// writerBuffer is the per-subscriber channel depth. A subscriber that falls
// this far behind starts losing events rather than stalling the session
// reader.
const writerBuffer = 32

// Hub fans decoded game-server frames out to the SSE streams open for each
// username. Safe for concurrent subscribe/unsubscribe/publish.
type Hub struct {
	logger *logrus.Logger

	mu      sync.Mutex
	writers map[string]map[chan []byte]struct{}
}

// NewHub returns an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		logger:  logger,
		writers: make(map[string]map[chan []byte]struct{}),
	}
}

// Subscribe registers a new stream for username and returns its event
// channel.
func (h *Hub) Subscribe(username string) chan []byte {
	ch := make(chan []byte, writerBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.writers[username]
	if !ok {
		set = make(map[chan []byte]struct{})
		h.writers[username] = set
	}
	set[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a stream. Siblings are untouched.
func (h *Hub) Unsubscribe(username string, ch chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.writers[username]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.writers, username)
		}
	}
}

// Publish serializes v once and offers it to every stream for username.
// Delivery is best-effort per stream.
func (h *Hub) Publish(username string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warnf("sse: failed to marshal event for %s: %v", username, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.writers[username] {
		select {
		case ch <- data:
		default:
			h.logger.Warnf("sse: dropping event for slow subscriber of %s", username)
		}
	}
}

// Subscribers reports how many streams username has open, for tests and
// diagnostics.
func (h *Hub) Subscribers(username string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.writers[username])
}
