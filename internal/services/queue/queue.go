// Package queue provides the bounded hand-off queues between pipeline stages.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Policy decides which item is lost when a push meets a full queue
type Policy int

const (
	// DropNewest rejects the incoming item and keeps what is queued
	DropNewest Policy = iota
	// DropOldest evicts the head of the queue to admit the incoming item
	DropOldest
)

func (p Policy) String() string {
	if p == DropOldest {
		return "drop_oldest"
	}
	return "drop_newest"
}

// Stats is a point-in-time view of queue counters
type Stats struct {
	Pushed  uint64 `json:"pushed"`
	Dropped uint64 `json:"dropped"`
	Popped  uint64 `json:"popped"`
	Len     int    `json:"len"`
	Cap     int    `json:"cap"`
}

// Bounded is a fixed-capacity FIFO backed by a buffered channel. Pushes
// never block.
type Bounded[T any] struct {
	ch     chan T
	policy Policy
	evict  sync.Mutex

	closed  atomic.Bool
	pushed  atomic.Uint64
	dropped atomic.Uint64
	popped  atomic.Uint64
}

// New creates a queue holding at most capacity items (minimum 1)
func New[T any](capacity int, policy Policy) *Bounded[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Bounded[T]{
		ch:     make(chan T, capacity),
		policy: policy,
	}
}

// TryPush offers item to the queue and reports whether it was enqueued.
// Under DropOldest the result is true unless the queue is closed.
func (q *Bounded[T]) TryPush(item T) bool {
	if q.closed.Load() {
		q.dropped.Add(1)
		return false
	}

	if q.policy == DropNewest {
		select {
		case q.ch <- item:
			q.pushed.Add(1)
			return true
		default:
			q.dropped.Add(1)
			return false
		}
	}

	q.evict.Lock()
	defer q.evict.Unlock()
	for {
		select {
		case q.ch <- item:
			q.pushed.Add(1)
			return true
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// TryPop returns the head item without waiting
func (q *Bounded[T]) TryPop() (T, bool) {
	select {
	case item := <-q.ch:
		q.popped.Add(1)
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Pop waits up to idle for an item. It returns false on timeout or when
// ctx is done.
func (q *Bounded[T]) Pop(ctx context.Context, idle time.Duration) (T, bool) {
	var zero T
	timer := time.NewTimer(idle)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return zero, false
	case item := <-q.ch:
		q.popped.Add(1)
		return item, true
	case <-timer.C:
		return zero, false
	}
}

// Close stops the queue accepting new items. Queued items stay poppable.
func (q *Bounded[T]) Close() {
	q.closed.Store(true)
}

func (q *Bounded[T]) Len() int { return len(q.ch) }
func (q *Bounded[T]) Cap() int { return cap(q.ch) }

// Stats returns the current counters
func (q *Bounded[T]) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
		Popped:  q.popped.Load(),
		Len:     len(q.ch),
		Cap:     cap(q.ch),
	}
}
