package api

import (
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/deflection/internal/publish"
)

// subscriberBuffer is the number of samples queued per tail client before
// further samples are dropped for that client.
const subscriberBuffer = 64

// SampleHub fans published samples out to live tail subscribers. Offer never
// blocks the acquisition loop: slow subscribers miss samples.
type SampleHub struct {
	mu          sync.Mutex
	subscribers map[string]chan publish.Sample
}

func NewSampleHub() *SampleHub {
	return &SampleHub{subscribers: make(map[string]chan publish.Sample)}
}

// Subscribe registers a new subscriber and returns its ID and channel.
func (h *SampleHub) Subscribe() (string, <-chan publish.Sample) {
	id := uuid.NewString()
	ch := make(chan publish.Sample, subscriberBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the subscriber's channel.
func (h *SampleHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Offer delivers s to every subscriber with room in its queue.
func (h *SampleHub) Offer(s publish.Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}

// Close unsubscribes everyone, ending their tail streams.
func (h *SampleHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

func (h *SampleHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
