package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"reel/internal/pkg/logger"
)

func TestNewManagerDefaultTimeout(t *testing.T) {
	mgr := NewManager(logger.Discard(), 0)
	if mgr.timeout != 30*time.Second {
		t.Errorf("expected 30s default, got %s", mgr.timeout)
	}
}

func TestShutdownRunsHandlersLIFO(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var order []string
	for _, name := range []string{"database", "redis", "http server"} {
		name := name
		mgr.Register(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	mgr.Shutdown()

	want := []string{"http server", "redis", "database"}
	if len(order) != len(want) {
		t.Fatalf("expected %d handlers to run, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var ran atomic.Bool
	mgr.RegisterSimple("first", func() { ran.Store(true) })
	mgr.Register("failing", func(ctx context.Context) error {
		return errors.New("close failed")
	})

	mgr.Shutdown()

	if !ran.Load() {
		t.Error("handler registered before a failing one should still run")
	}
}

func TestShutdownOnce(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var calls atomic.Int32
	mgr.RegisterSimple("count", func() { calls.Add(1) })

	mgr.Shutdown()
	mgr.Shutdown()

	if calls.Load() != 1 {
		t.Errorf("expected handler to run once, ran %d times", calls.Load())
	}
}

func TestContextCanceledBeforeHandlers(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)
	ctx := mgr.Context()

	var canceledFirst bool
	mgr.RegisterSimple("check", func() { canceledFirst = ctx.Err() != nil })

	select {
	case <-ctx.Done():
		t.Fatal("context should be live before shutdown")
	default:
	}

	mgr.Shutdown()

	if !canceledFirst {
		t.Error("expected Context to be canceled before handlers run")
	}
	select {
	case <-mgr.Done():
	default:
		t.Error("expected Done to be closed after Shutdown")
	}
}

func TestShutdownTimeoutSkipsRemaining(t *testing.T) {
	mgr := NewManager(logger.Discard(), 50*time.Millisecond)

	var skipped atomic.Bool
	skipped.Store(true)
	mgr.RegisterSimple("late", func() { skipped.Store(false) })
	mgr.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	mgr.Shutdown()

	if time.Since(start) > time.Second {
		t.Errorf("shutdown took too long: %s", time.Since(start))
	}
	if !skipped.Load() {
		t.Error("handlers after the deadline should be skipped")
	}
}

func TestWaitWithContext(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	var ran atomic.Bool
	mgr.RegisterSimple("cleanup", func() { ran.Store(true) })

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	mgr.WaitWithContext(ctx)

	if !ran.Load() {
		t.Error("expected cleanup to run after context cancellation")
	}
}
