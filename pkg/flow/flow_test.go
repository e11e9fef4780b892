package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBoundedQueueOrder(t *testing.T) {
	q := NewBoundedQueue[int](4)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if err := q.Offer(ctx, i, time.Second); err != nil {
			t.Fatalf("Offer(%d) error: %v", i, err)
		}
	}
	if q.Pressure() != 1 {
		t.Errorf("Pressure() = %v, want 1", q.Pressure())
	}
	for i := 0; i < 4; i++ {
		got, ok, err := q.Poll(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("Poll() = %v, %v, %v", got, ok, err)
		}
		if got != i {
			t.Errorf("Poll() = %d, want %d", got, i)
		}
	}
}

func TestBoundedQueueOfferTimeout(t *testing.T) {
	q := NewBoundedQueue[string](1)
	ctx := context.Background()
	if err := q.Offer(ctx, "a", time.Second); err != nil {
		t.Fatalf("Offer() error: %v", err)
	}
	start := time.Now()
	err := q.Offer(ctx, "b", 20*time.Millisecond)
	if !errors.Is(err, ErrOfferTimeout) {
		t.Fatalf("Offer() error = %v, want ErrOfferTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Offer() returned before the timeout")
	}
}

func TestBoundedQueuePollTimeout(t *testing.T) {
	q := NewBoundedQueue[int](1)
	_, ok, err := q.Poll(context.Background(), 10*time.Millisecond)
	if ok || err != nil {
		t.Errorf("Poll() = %v, %v; want false, nil", ok, err)
	}
}

func TestBoundedQueueCloseDrains(t *testing.T) {
	q := NewBoundedQueue[int](2)
	ctx := context.Background()
	q.Offer(ctx, 7, time.Second)
	q.Close()
	q.Close()

	if err := q.Offer(ctx, 8, time.Second); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Offer() after Close error = %v, want ErrQueueClosed", err)
	}
	got, ok, err := q.Poll(ctx, time.Second)
	if got != 7 || !ok || err != nil {
		t.Errorf("Poll() = %d, %v, %v; want 7, true, nil", got, ok, err)
	}
	if _, _, err := q.Poll(ctx, time.Second); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Poll() on drained queue error = %v, want ErrQueueClosed", err)
	}
}

func TestBoundedQueueContext(t *testing.T) {
	q := NewBoundedQueue[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := q.Poll(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Poll() error = %v, want context.Canceled", err)
	}
}

func TestBoundedQueueConcurrent(t *testing.T) {
	q := NewBoundedQueue[int](8)
	ctx := context.Background()
	const n = 1000

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < n/4; i++ {
				if err := q.Offer(ctx, 1, 0); err != nil {
					t.Errorf("Offer() error: %v", err)
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		q.Close()
	}()

	sum := 0
	for {
		v, ok, err := q.Poll(ctx, time.Second)
		if errors.Is(err, ErrQueueClosed) {
			break
		}
		if ok {
			sum += v
		}
	}
	if sum != n {
		t.Errorf("received %d items, want %d", sum, n)
	}
}

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(1000, 2)
	if !r.TryAcquire(2) {
		t.Fatal("TryAcquire(2) on a full bucket = false")
	}
	if r.TryAcquire(2) {
		t.Error("TryAcquire(2) on an empty bucket = true")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Acquire(ctx, 1); err != nil {
		t.Errorf("Acquire() error: %v", err)
	}
}
