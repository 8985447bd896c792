// Package broadcast is the replication fan-out: a multi-producer/
// multi-consumer channel of raw wire frames, one subscription per follower
// connection. A slow subscriber is disconnected rather than allowed to
// stall the publisher, per the design's "prefer disconnect over
// back-pressure" rule.
package broadcast

import "sync"

// DefaultQueueDepth is the per-subscriber buffer size used when none is
// specified.
const DefaultQueueDepth = 256

// Hub is a broadcast channel of raw frame bytes.
type Hub struct {
	mu         sync.Mutex
	subs       map[int]chan []byte
	nextID     int
	queueDepth int
}

// NewHub creates a Hub whose subscriber channels are buffered to
// queueDepth (DefaultQueueDepth if <= 0).
func NewHub(queueDepth int) *Hub {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Hub{subs: make(map[int]chan []byte), queueDepth: queueDepth}
}

// Subscribe registers a new subscriber and returns its id (for
// Unsubscribe) and the channel it should read frames from.
func (h *Hub) Subscribe() (int, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan []byte, h.queueDepth)
	h.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber, closing its channel. Safe to call more
// than once or with an unknown id.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish fans frame out to every current subscriber without blocking: a
// subscriber whose queue is full is dropped rather than allowed to stall
// the publisher.
func (h *Hub) Publish(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- frame:
		default:
			delete(h.subs, id)
			close(ch)
		}
	}
}

// SubscriberCount reports the current number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
