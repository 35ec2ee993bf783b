// Package backend abstracts the worker pool that runs delivery tasks
// submitted by a bus. Two implementations are provided: Standalone,
// which owns its own goroutines, and Integration, which wraps a
// caller-supplied pool.
package backend

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/aquamarinepk/relaybus/buserr"
)

// Backend is the sole concurrency primitive the bus depends on.
type Backend interface {
	// Initialize prepares the backend for Submit. Idempotent: calling it
	// again on an already-initialized backend is a no-op returning nil.
	Initialize() error
	// Shutdown stops accepting new tasks and joins every worker,
	// draining whatever was already submitted.
	Shutdown() error
	// Submit schedules task for execution and returns once it is
	// enqueued, not once it has run. Returns a shutdown error once
	// Shutdown has been called.
	Submit(task func()) error
	// IsReady reports whether Submit will currently accept work.
	IsReady() bool
}

// Standalone owns a fixed pool of worker goroutines reading from a
// shared task channel. It actually runs workers+1 goroutines: the extra
// one is reserved headroom so a long-lived task occupying a goroutine for
// the task's entire lifetime (a bus's dispatch loop, in particular) can't
// starve the configured worker count out of running anything else — with
// workers=1, a dispatch loop that never returns would otherwise leave no
// goroutine free to run the callback tasks it submits.
type Standalone struct {
	tasks    chan func()
	wg       sync.WaitGroup
	mu       sync.Mutex
	ready    bool
	shutdown bool
	workers  int
}

// NewStandalone returns a Standalone backend configured for workers
// goroutines of callback concurrency (plus one reserved goroutine, see
// Standalone). A non-positive workers defaults to runtime.NumCPU(),
// minimum 1.
func NewStandalone(workers int) *Standalone {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers < 1 {
		workers = 1
	}
	return &Standalone{
		tasks:   make(chan func(), workers*64),
		workers: workers + 1,
	}
}

func (b *Standalone) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ready {
		return nil
	}
	if b.shutdown {
		return buserr.New("backend.initialize", buserr.Shutdown, fmt.Errorf("backend already shut down"))
	}

	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go b.run()
	}
	b.ready = true
	return nil
}

func (b *Standalone) run() {
	defer b.wg.Done()
	for task := range b.tasks {
		task()
	}
}

func (b *Standalone) Shutdown() error {
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return nil
	}
	b.shutdown = true
	b.ready = false
	close(b.tasks)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *Standalone) Submit(task func()) (err error) {
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return buserr.New("backend.submit", buserr.Shutdown, fmt.Errorf("backend is shut down"))
	}
	b.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = buserr.New("backend.submit", buserr.Shutdown, fmt.Errorf("backend is shut down"))
		}
	}()

	// Tasks MUST NOT be dropped silently, so a full buffer blocks rather
	// than failing.
	b.tasks <- task
	return nil
}

func (b *Standalone) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready && !b.shutdown
}

// Integration wraps an externally owned worker pool so a host
// application can share one pool across the bus and its own work.
type Integration struct {
	submitFn     func(task func()) error
	initializeFn func() error
	shutdownFn   func() error
	isReadyFn    func() bool

	mu       sync.Mutex
	shutdown bool
}

// NewIntegration wraps the given pool callbacks. initializeFn,
// shutdownFn, and isReadyFn may be nil, in which case they are no-ops
// (initialize/shutdown) or always-true (isReady).
func NewIntegration(submitFn func(task func()) error, initializeFn func() error, shutdownFn func() error, isReadyFn func() bool) *Integration {
	return &Integration{
		submitFn:     submitFn,
		initializeFn: initializeFn,
		shutdownFn:   shutdownFn,
		isReadyFn:    isReadyFn,
	}
}

func (b *Integration) Initialize() error {
	if b.initializeFn == nil {
		return nil
	}
	return b.initializeFn()
}

func (b *Integration) Shutdown() error {
	b.mu.Lock()
	if b.shutdown {
		b.mu.Unlock()
		return nil
	}
	b.shutdown = true
	b.mu.Unlock()

	if b.shutdownFn == nil {
		return nil
	}
	return b.shutdownFn()
}

func (b *Integration) Submit(task func()) error {
	b.mu.Lock()
	shutdown := b.shutdown
	b.mu.Unlock()

	if shutdown {
		return buserr.New("backend.submit", buserr.Shutdown, fmt.Errorf("backend is shut down"))
	}
	return b.submitFn(task)
}

func (b *Integration) IsReady() bool {
	b.mu.Lock()
	shutdown := b.shutdown
	b.mu.Unlock()

	if shutdown {
		return false
	}
	if b.isReadyFn == nil {
		return true
	}
	return b.isReadyFn()
}
