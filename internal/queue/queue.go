// Package queue provides an unbounded FIFO whose Push never blocks and whose
// Pop waits for an element. The master uses it as its channel of available
// worker addresses.
package queue

import (
	"context"
	"sync"
)

// Queue is safe for concurrent use. The zero value is not usable; call New.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T

	// ready holds a token while items is non-empty so a waiting Pop can be
	// woken without holding mu.
	ready chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends v without blocking. Duplicates are kept.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, v)
	q.signal()
}

// Pop removes and returns the oldest element, waiting until one exists or
// ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.signal()
			q.mu.Unlock()
			return v, nil
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// signal must be called with mu held.
func (q *Queue[T]) signal() {
	if len(q.items) == 0 {
		return
	}
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
