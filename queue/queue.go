// Package queue implements the bus's sole backpressure surface: a
// bounded FIFO or priority queue of delivery entries, with a
// configurable overflow policy.
package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/aquamarinepk/relaybus/buserr"
)

// OverflowPolicy selects what Enqueue does when the queue is full.
type OverflowPolicy int

const (
	// DropNewest rejects the incoming entry, returning an overflow error.
	DropNewest OverflowPolicy = iota
	// DropOldest evicts the head entry to make room for the incoming one.
	DropOldest
	// Block waits for space, honoring ctx cancellation.
	Block
)

// Entry pairs a message payload (opaque to the queue) with an ordering
// priority. FIFO queues ignore Priority.
type Entry struct {
	Value    any
	Priority int
}

// Queue is the interface shared by the FIFO and priority implementations.
type Queue interface {
	// Enqueue adds e per the configured overflow policy. On a full queue,
	// DropNewest returns an overflow error, DropOldest evicts the head and
	// succeeds, and Block waits, returning a timeout error if ctx is done
	// first. Returns a shutdown error if Stop was called.
	Enqueue(ctx context.Context, e Entry) error
	// Dequeue blocks until an entry is available or the queue is
	// stopped. Entries still queued at Stop are returned; once a stopped
	// queue is empty, Dequeue returns a shutdown error.
	Dequeue(ctx context.Context) (Entry, error)
	// Stop wakes every blocked caller; further Enqueue calls fail with a
	// shutdown error.
	Stop()
	// Len is an advisory current size.
	Len() int
	// Dropped returns the count of entries dropped to overflow.
	Dropped() uint64
	// Peak returns the highest Len observed since construction.
	Peak() int
}

// shared holds the state common to both implementations.
type shared struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	capacity int
	policy   OverflowPolicy
	stopped  bool
	dropped  uint64
	peak     int
}

// setup initializes s in place, binding both conds to s.mu.
func (s *shared) setup(capacity int, policy OverflowPolicy) {
	s.capacity = capacity
	s.policy = policy
	s.notEmpty = sync.NewCond(&s.mu)
	s.notFull = sync.NewCond(&s.mu)
}

func (s *shared) recordSize(n int) {
	if n > s.peak {
		s.peak = n
	}
}

// fifo is a slice-backed, order-preserving bounded queue.
type fifo struct {
	shared
	items []Entry
}

// NewFIFO returns a FIFO queue bounded by capacity, using policy on
// overflow.
func NewFIFO(capacity int, policy OverflowPolicy) Queue {
	q := &fifo{}
	q.setup(capacity, policy)
	return q
}

func (q *fifo) Enqueue(ctx context.Context, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.stopped && len(q.items) >= q.capacity {
		switch q.policy {
		case DropNewest:
			q.dropped++
			return buserr.New("queue.enqueue", buserr.Overflow, nil)
		case DropOldest:
			q.items = q.items[1:]
			q.dropped++
		case Block:
			if err := q.waitForSpace(ctx); err != nil {
				return err
			}
		}
	}
	if q.stopped {
		return buserr.New("queue.enqueue", buserr.Shutdown, nil)
	}

	q.items = append(q.items, e)
	q.recordSize(len(q.items))
	q.notEmpty.Signal()
	return nil
}

// waitForSpace blocks on notFull until space frees, the queue stops, or
// ctx is done. Must be called with q.mu held; it releases and reacquires
// the lock internally via sync.Cond.Wait.
func (q *fifo) waitForSpace(ctx context.Context) error {
	return waitOnCond(ctx, &q.shared, q.notFull)
}

func (q *fifo) Dequeue(ctx context.Context) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.stopped && len(q.items) == 0 {
		if err := waitOnCond(ctx, &q.shared, q.notEmpty); err != nil {
			return Entry{}, err
		}
	}
	if len(q.items) == 0 {
		return Entry{}, buserr.New("queue.dequeue", buserr.Shutdown, nil)
	}

	e := q.items[0]
	q.items = q.items[1:]
	q.notFull.Signal()
	return e, nil
}

func (q *fifo) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *fifo) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *fifo) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *fifo) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

// heapItem is one slot in the priority heap: higher Priority first, FIFO
// tiebreak via seq.
type heapItem struct {
	entry Entry
	seq   uint64
}

type priorityHeap []heapItem

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].entry.Priority != h[j].entry.Priority {
		return h[i].entry.Priority > h[j].entry.Priority
	}
	return h[i].seq < h[j].seq
}
func (h priorityHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *priorityHeap) Push(x any)   { *h = append(*h, x.(heapItem)) }
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// priorityQueue dequeues the highest-priority entry first, breaking ties
// by enqueue order.
type priorityQueue struct {
	shared
	items priorityHeap
	seq   uint64
}

// NewPriority returns a priority queue bounded by capacity, using policy
// on overflow.
func NewPriority(capacity int, policy OverflowPolicy) Queue {
	q := &priorityQueue{}
	q.setup(capacity, policy)
	return q
}

func (q *priorityQueue) Enqueue(ctx context.Context, e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.stopped && q.items.Len() >= q.capacity {
		switch q.policy {
		case DropNewest:
			q.dropped++
			return buserr.New("queue.enqueue", buserr.Overflow, nil)
		case DropOldest:
			heap.Pop(&q.items)
			q.dropped++
		case Block:
			if err := waitOnCond(ctx, &q.shared, q.notFull); err != nil {
				return err
			}
		}
	}
	if q.stopped {
		return buserr.New("queue.enqueue", buserr.Shutdown, nil)
	}

	q.seq++
	heap.Push(&q.items, heapItem{entry: e, seq: q.seq})
	q.recordSize(q.items.Len())
	q.notEmpty.Signal()
	return nil
}

func (q *priorityQueue) Dequeue(ctx context.Context) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for !q.stopped && q.items.Len() == 0 {
		if err := waitOnCond(ctx, &q.shared, q.notEmpty); err != nil {
			return Entry{}, err
		}
	}
	if q.items.Len() == 0 {
		return Entry{}, buserr.New("queue.dequeue", buserr.Shutdown, nil)
	}

	item := heap.Pop(&q.items).(heapItem)
	q.notFull.Signal()
	return item.entry, nil
}

func (q *priorityQueue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = true
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

func (q *priorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

func (q *priorityQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *priorityQueue) Peak() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peak
}

// waitOnCond blocks on cond, which must belong to s.mu, until woken. If
// ctx carries a deadline or cancellation, a watcher goroutine broadcasts
// the condition when ctx is done so the wait can observe it and return
// a timeout error wrapping ctx.Err(); the mutex must be held by the
// caller on entry, and is held again on return.
func waitOnCond(ctx context.Context, s *shared, cond *sync.Cond) error {
	if ctx == nil || ctx.Done() == nil {
		cond.Wait()
		return nil
	}

	done := make(chan struct{})
	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			cond.Broadcast()
			s.mu.Unlock()
		case <-stopWatch:
		}
		close(done)
	}()

	cond.Wait()
	close(stopWatch)
	<-done

	if err := ctx.Err(); err != nil {
		return buserr.New("queue.enqueue", buserr.Timeout, err)
	}
	return nil
}
