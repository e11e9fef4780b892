// Package flow provides bounded hand-off and rate control between
// producers and consumers.
package flow

import (
	"context"
	"sync"
	"time"
)

// queueError is a sentinel error type for queue operations.
type queueError string

func (e queueError) Error() string { return string(e) }

const (
	// ErrQueueClosed is returned by Offer after Close, and by Poll once
	// the queue is closed and drained.
	ErrQueueClosed = queueError("queue closed")

	// ErrOfferTimeout is returned when the queue stayed full for the
	// whole offer timeout.
	ErrOfferTimeout = queueError("offer timed out")
)

// BoundedQueue is a FIFO with fixed capacity. Producers block while it
// is full; consumers poll with a timeout.
type BoundedQueue[T any] struct {
	items     chan T
	done      chan struct{}
	closeOnce sync.Once
}

// NewBoundedQueue creates a queue with the given capacity.
func NewBoundedQueue[T any](capacity int) *BoundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &BoundedQueue[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
}

// Offer adds item, waiting up to timeout for space. A zero timeout
// waits until ctx is done.
func (q *BoundedQueue[T]) Offer(ctx context.Context, item T, timeout time.Duration) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case q.items <- item:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrOfferTimeout
	}
}

// Poll removes the head item, waiting up to timeout. ok is false when
// nothing arrived in time. Items queued before Close are still
// returned; after that Poll fails with ErrQueueClosed.
func (q *BoundedQueue[T]) Poll(ctx context.Context, timeout time.Duration) (item T, ok bool, err error) {
	select {
	case item = <-q.items:
		return item, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case item = <-q.items:
		return item, true, nil
	case <-q.done:
		select {
		case item = <-q.items:
			return item, true, nil
		default:
			return item, false, ErrQueueClosed
		}
	case <-ctx.Done():
		return item, false, ctx.Err()
	case <-timer.C:
		return item, false, nil
	}
}

// Close stops further offers. It is safe to call more than once.
func (q *BoundedQueue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Len returns the current queue length.
func (q *BoundedQueue[T]) Len() int {
	return len(q.items)
}

// Pressure returns how full the queue is, from 0 to 1.
func (q *BoundedQueue[T]) Pressure() float64 {
	return float64(len(q.items)) / float64(cap(q.items))
}
