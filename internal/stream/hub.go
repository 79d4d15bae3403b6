// Package stream fans published frames out to downstream consumers.
package stream

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/banshee-data/camera.control/internal/camera"
)

// Hub is a fire-and-forget frame publisher. Consumers that fall behind miss
// frames; Publish never blocks.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan camera.Frame
	published   uint64
	dropped     uint64
	closed      bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan camera.Frame)}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a consumer. buffer is how many frames it may lag
// behind before frames are dropped for it.
func (h *Hub) Subscribe(buffer int) (string, <-chan camera.Frame) {
	if buffer < 1 {
		buffer = 1
	}
	id := randomID()
	ch := make(chan camera.Frame, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a consumer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// NumSubscribers reports how many consumers are attached.
func (h *Hub) NumSubscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Publish delivers f to every consumer with room for it. Each consumer gets
// its own copy of the pixel buffer.
func (h *Hub) Publish(f camera.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published++
	for _, ch := range h.subscribers {
		select {
		case ch <- f.Clone():
		default:
			h.dropped++
		}
	}
}

// Stats is a snapshot of hub counters.
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{Subscribers: len(h.subscribers), Published: h.published, Dropped: h.dropped}
}

// Close detaches every consumer. Later subscriptions receive a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
