// Package stream fans directory events out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event is one directory mutation as seen by subscribers.
type Event struct {
	Type      string         `json:"type"`
	ActorID   string         `json:"actor_id"`
	RequestID string         `json:"request_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers (SSE clients).
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]chan Event
	next    int
	buffer  int
	dropped atomic.Uint64
}

// New returns an empty stream. buffer is the per-subscriber queue length.
func New(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 16
	}
	return &Stream{
		subs:   make(map[int]chan Event),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, s.buffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers without blocking.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// slow subscriber
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() uint64 {
	return s.dropped.Load()
}
