package lock

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestScopedLock_AcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")
	lk := New(path, time.Second)

	if err := lk.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lk.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}

	// Reacquirable after release.
	if err := lk.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to reacquire lock: %v", err)
	}
	if err := lk.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
}

func TestScopedLock_ContentionTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")

	holder := New(path, time.Second)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer holder.Release()

	contender := New(path, 150*time.Millisecond)
	start := time.Now()
	err := contender.Acquire(context.Background())
	if err == nil {
		contender.Release()
		t.Fatal("Expected timeout acquiring held lock, got nil")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Gave up after %v, expected to wait near the timeout", elapsed)
	}
}

func TestScopedLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")

	holder := New(path, time.Second)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	released := make(chan struct{})
	go func() {
		time.Sleep(200 * time.Millisecond)
		holder.Release()
		close(released)
	}()

	waiter := New(path, 5*time.Second)
	if err := waiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Expected acquisition after release, got: %v", err)
	}
	defer waiter.Release()

	select {
	case <-released:
	default:
		t.Error("Acquired lock before holder released it")
	}
}

func TestScopedLock_ContextCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.lock")

	holder := New(path, time.Second)
	if err := holder.Acquire(context.Background()); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer holder.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	contender := New(path, 10*time.Second)
	if err := contender.Acquire(ctx); err == nil {
		contender.Release()
		t.Fatal("Expected error from cancelled context, got nil")
	}
}
