package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue fans events out to in-process subscribers. Suitable for
// single-process deployments and tests.
type MemoryQueue struct {
	mu     sync.RWMutex
	subs   map[*MemorySubscription]struct{}
	buffer int
	closed bool
}

// NewMemoryQueue initialises an in-memory fan-out queue.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 32
	}
	return &MemoryQueue{
		subs:   make(map[*MemorySubscription]struct{}),
		buffer: buffer,
	}
}

func (q *MemoryQueue) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.New("queue closed")
	}
	for sub := range q.subs {
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Drop instead of blocking to keep the live path responsive.
		}
	}
	return nil
}

// Subscribe registers a new in-process event stream.
func (q *MemoryQueue) Subscribe() *MemorySubscription {
	sub := &MemorySubscription{
		queue: q,
		ch:    make(chan Event, q.buffer),
	}
	q.mu.Lock()
	q.subs[sub] = struct{}{}
	q.mu.Unlock()
	return sub
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	subs := make([]*MemorySubscription, 0, len(q.subs))
	for sub := range q.subs {
		subs = append(subs, sub)
	}
	q.closed = true
	q.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return nil
}

// MemorySubscription is an active in-process event stream.
type MemorySubscription struct {
	once  sync.Once
	queue *MemoryQueue
	ch    chan Event
}

func (s *MemorySubscription) Events() <-chan Event {
	return s.ch
}

func (s *MemorySubscription) Close() {
	s.once.Do(func() {
		s.queue.mu.Lock()
		delete(s.queue.subs, s)
		s.queue.mu.Unlock()
		close(s.ch)
	})
}
