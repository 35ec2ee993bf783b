package backend

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aquamarinepk/relaybus/buserr"
)

func TestStandaloneRunsSubmittedTasks(t *testing.T) {
	b := NewStandalone(4)
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer b.Shutdown()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		if err := b.Submit(func() {
			defer wg.Done()
			atomic.AddInt64(&counter, 1)
		}); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	wg.Wait()

	if got := atomic.LoadInt64(&counter); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
}

func TestStandaloneInitializeIsIdempotent(t *testing.T) {
	b := NewStandalone(2)
	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := b.Initialize(); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	b.Shutdown()
}

func TestStandaloneSubmitAfterShutdownFails(t *testing.T) {
	b := NewStandalone(2)
	b.Initialize()
	b.Shutdown()

	err := b.Submit(func() {})
	if !buserr.Is(err, buserr.Shutdown) {
		t.Errorf("Submit() after Shutdown() err kind = %v, want Shutdown", err)
	}
}

func TestStandaloneShutdownDrainsQueuedTasks(t *testing.T) {
	b := NewStandalone(1)
	b.Initialize()

	var ran int64
	for i := 0; i < 20; i++ {
		b.Submit(func() {
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&ran, 1)
		})
	}

	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if got := atomic.LoadInt64(&ran); got != 20 {
		t.Errorf("ran = %d after Shutdown(), want all 20 drained", got)
	}
}

func TestStandaloneIsReady(t *testing.T) {
	b := NewStandalone(1)
	if b.IsReady() {
		t.Error("IsReady() before Initialize() = true, want false")
	}

	b.Initialize()
	if !b.IsReady() {
		t.Error("IsReady() after Initialize() = false, want true")
	}

	b.Shutdown()
	if b.IsReady() {
		t.Error("IsReady() after Shutdown() = true, want false")
	}
}

func TestStandaloneDefaultWorkerCount(t *testing.T) {
	b := NewStandalone(0)
	if b.workers < 1 {
		t.Errorf("workers = %d, want at least 1", b.workers)
	}
}

func TestIntegrationDelegatesToCallbacks(t *testing.T) {
	var submitted, initialized, shutdown int32

	b := NewIntegration(
		func(task func()) error {
			atomic.AddInt32(&submitted, 1)
			task()
			return nil
		},
		func() error {
			atomic.AddInt32(&initialized, 1)
			return nil
		},
		func() error {
			atomic.AddInt32(&shutdown, 1)
			return nil
		},
		func() bool { return true },
	)

	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	ran := false
	if err := b.Submit(func() { ran = true }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !ran {
		t.Error("Submit() did not run the task via the integration callback")
	}
	if !b.IsReady() {
		t.Error("IsReady() = false, want true")
	}
	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if atomic.LoadInt32(&initialized) != 1 || atomic.LoadInt32(&submitted) != 1 || atomic.LoadInt32(&shutdown) != 1 {
		t.Error("expected each callback to be invoked exactly once")
	}
}

func TestIntegrationSubmitAfterShutdownFails(t *testing.T) {
	b := NewIntegration(
		func(task func()) error { task(); return nil },
		nil, nil, nil,
	)
	b.Initialize()
	b.Shutdown()

	err := b.Submit(func() {})
	if !buserr.Is(err, buserr.Shutdown) {
		t.Errorf("Submit() after Shutdown() err kind = %v, want Shutdown", err)
	}
}

func TestIntegrationNilCallbacksAreNoops(t *testing.T) {
	b := NewIntegration(
		func(task func()) error { task(); return nil },
		nil, nil, nil,
	)

	if err := b.Initialize(); err != nil {
		t.Fatalf("Initialize() with nil initializeFn error = %v", err)
	}
	if !b.IsReady() {
		t.Error("IsReady() with nil isReadyFn = false, want true")
	}
	if err := b.Shutdown(); err != nil {
		t.Fatalf("Shutdown() with nil shutdownFn error = %v", err)
	}
}
