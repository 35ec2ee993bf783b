package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aquamarinepk/relaybus/buserr"
)

func TestFIFOOrderPreserved(t *testing.T) {
	q := NewFIFO(10, DropNewest)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, Entry{Value: i}); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	for i := 0; i < 5; i++ {
		e, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if e.Value != i {
			t.Errorf("Dequeue() = %v, want %d", e.Value, i)
		}
	}
}

func TestFIFODropNewestOnOverflow(t *testing.T) {
	q := NewFIFO(2, DropNewest)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Entry{Value: 1}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, Entry{Value: 2}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	err := q.Enqueue(ctx, Entry{Value: 3})
	if err == nil {
		t.Fatal("Enqueue() at capacity error = nil, want overflow")
	}
	if !buserr.Is(err, buserr.Overflow) {
		t.Errorf("Enqueue() err kind = %v, want Overflow", err)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestFIFODropOldestOnOverflow(t *testing.T) {
	q := NewFIFO(2, DropOldest)
	ctx := context.Background()

	q.Enqueue(ctx, Entry{Value: 1})
	q.Enqueue(ctx, Entry{Value: 2})
	if err := q.Enqueue(ctx, Entry{Value: 3}); err != nil {
		t.Fatalf("Enqueue() error = %v, want success (drop_oldest never rejects)", err)
	}

	e, _ := q.Dequeue(ctx)
	if e.Value != 2 {
		t.Errorf("Dequeue() = %v, want 2 (1 was evicted)", e.Value)
	}
	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", q.Dropped())
	}
}

func TestFIFOBlockUnblocksOnSpace(t *testing.T) {
	q := NewFIFO(1, Block)
	ctx := context.Background()

	q.Enqueue(ctx, Entry{Value: 1})

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, Entry{Value: 2})
	}()

	select {
	case <-done:
		t.Fatal("blocking Enqueue() returned before space was freed")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocking Enqueue() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocking Enqueue() never unblocked after space freed")
	}
}

func TestFIFOBlockHonorsContextCancellation(t *testing.T) {
	q := NewFIFO(1, Block)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	q.Enqueue(context.Background(), Entry{Value: 1})

	err := q.Enqueue(ctx, Entry{Value: 2})
	if err == nil {
		t.Fatal("Enqueue() with expired context error = nil, want timeout")
	}
}

func TestStopWakesBlockedConsumers(t *testing.T) {
	q := NewFIFO(1, DropNewest)
	done := make(chan error, 1)

	go func() {
		_, err := q.Dequeue(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	select {
	case err := <-done:
		if !buserr.Is(err, buserr.Shutdown) {
			t.Errorf("Dequeue() after Stop() err kind = %v, want Shutdown", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue() never woke after Stop()")
	}
}

func TestEnqueueAfterStopReturnsShutdown(t *testing.T) {
	q := NewFIFO(10, DropNewest)
	q.Stop()

	err := q.Enqueue(context.Background(), Entry{Value: 1})
	if !buserr.Is(err, buserr.Shutdown) {
		t.Errorf("Enqueue() after Stop() err kind = %v, want Shutdown", err)
	}
}

func TestPriorityOrderingWithFIFOTiebreak(t *testing.T) {
	q := NewPriority(10, DropNewest)
	ctx := context.Background()

	q.Enqueue(ctx, Entry{Value: "low-1", Priority: 1})
	q.Enqueue(ctx, Entry{Value: "high-1", Priority: 5})
	q.Enqueue(ctx, Entry{Value: "low-2", Priority: 1})
	q.Enqueue(ctx, Entry{Value: "high-2", Priority: 5})

	want := []string{"high-1", "high-2", "low-1", "low-2"}
	for _, w := range want {
		e, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue() error = %v", err)
		}
		if e.Value != w {
			t.Errorf("Dequeue() = %v, want %v", e.Value, w)
		}
	}
}

func TestPeakTracksMaxSize(t *testing.T) {
	q := NewFIFO(10, DropNewest)
	ctx := context.Background()

	q.Enqueue(ctx, Entry{Value: 1})
	q.Enqueue(ctx, Entry{Value: 2})
	q.Enqueue(ctx, Entry{Value: 3})
	q.Dequeue(ctx)
	q.Dequeue(ctx)

	if q.Peak() != 3 {
		t.Errorf("Peak() = %d, want 3", q.Peak())
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}
