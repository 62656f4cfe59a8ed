// Package queue provides the unbounded FIFO mailbox shared by the
// persistence lanes and the dispatch workers.
package queue

import (
	"context"
	"sync"
	"time"
)

// Queue is an unbounded, goroutine safe FIFO. Enqueue never blocks.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Enqueue appends item and wakes one waiting consumer.
func (q *Queue[T]) Enqueue(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain removes and returns up to max items in FIFO order. A non-positive
// max drains everything.
func (q *Queue[T]) Drain(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	copy(out, q.items[:n])

	var zero T
	for i := 0; i < n; i++ {
		q.items[i] = zero
	}
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return out
}

// Dequeue removes the head item, waiting up to timeout for one to arrive.
func (q *Queue[T]) Dequeue(timeout time.Duration) (T, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if items := q.Drain(1); len(items) == 1 {
			return items[0], true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			var zero T
			return zero, false
		}
		if !q.waitSignal(context.Background(), remaining) {
			var zero T
			return zero, false
		}
	}
}

// Wait blocks until the queue is non-empty, timeout elapses or ctx is done,
// and reports whether items are available.
func (q *Queue[T]) Wait(ctx context.Context, timeout time.Duration) bool {
	if q.Len() > 0 {
		return true
	}
	q.waitSignal(ctx, timeout)
	return q.Len() > 0
}

func (q *Queue[T]) waitSignal(ctx context.Context, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-q.ready:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}
