package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"care-dispatch/internal/models"

	"github.com/puzpuzpuz/xsync/v4"
)

// Hub fans notifications out to in-process subscribers such as the operator
// alert stream. Slow subscribers miss messages rather than block senders.
type Hub struct {
	subscribers *xsync.Map[uint64, *subscriber]
	nextID      atomic.Uint64
	dropped     atomic.Uint64
}

type subscriber struct {
	ch     chan models.Notification
	filter func(models.Notification) bool
	mu     sync.Mutex
	closed bool
}

func NewHub() *Hub {
	return &Hub{subscribers: xsync.NewMap[uint64, *subscriber]()}
}

// Subscribe registers a subscriber. filter may be nil to receive everything.
// The returned function unsubscribes and closes the channel.
func (h *Hub) Subscribe(buffer int, filter func(models.Notification) bool) (<-chan models.Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	id := h.nextID.Add(1)
	sub := &subscriber{ch: make(chan models.Notification, buffer), filter: filter}
	h.subscribers.Store(id, sub)

	return sub.ch, func() {
		if s, ok := h.subscribers.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

func (h *Hub) Notify(_ context.Context, n models.Notification) error {
	h.subscribers.Range(func(_ uint64, sub *subscriber) bool {
		if !sub.trySend(n) {
			h.dropped.Add(1)
		}
		return true
	})
	return nil
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	return h.subscribers.Size()
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (s *subscriber) trySend(n models.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if s.filter != nil && !s.filter(n) {
		return true
	}
	select {
	case s.ch <- n:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
