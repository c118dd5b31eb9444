// Package monitor fans live test samples out to any number of subscribers
// and serves them on the debug tree as a server-sent event stream.
package monitor

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/banshee-data/heartrate.report/internal/sink"
)

// subscriberBuffer is how many samples a slow subscriber may fall behind
// before further samples are dropped for it.
const subscriberBuffer = 16

// Hub is a sink.Notifier that broadcasts each live sample to its subscribers.
// Notify never blocks: a subscriber whose channel is full misses the sample.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan sink.LiveSample
	closed      bool
	last        *sink.LiveSample
	dropped     uint64
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan sink.LiveSample)}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber. The channel is closed by Unsubscribe
// or Close.
func (h *Hub) Subscribe() (string, <-chan sink.LiveSample) {
	id := randomID()
	ch := make(chan sink.LiveSample, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *Hub) Notify(s sink.LiveSample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.last = &s
	for _, ch := range h.subscribers {
		select {
		case ch <- s:
		default:
			h.dropped++
		}
	}
}

// Last returns the most recent sample, if any has been seen.
func (h *Hub) Last() (sink.LiveSample, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return sink.LiveSample{}, false
	}
	return *h.last, true
}

// Dropped counts samples not delivered to a full subscriber channel.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Subscribers reports the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. Later notifications are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
