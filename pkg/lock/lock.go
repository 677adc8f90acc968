// Package lock provides the exclusive advisory file lock that serializes
// transactions over a WAL directory.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

// ErrTimeout is returned when the lock could not be acquired within the
// configured bound.
var ErrTimeout = errors.New("lock acquisition timed out")

// DefaultTimeout bounds lock acquisition when no explicit value is set.
const DefaultTimeout = 30 * time.Second

// retryInterval is how often acquisition is retried while blocked.
const retryInterval = 100 * time.Millisecond

// ScopedLock is an exclusive, advisory, cross-platform file lock. Acquire
// blocks until the lock is held or the timeout elapses; Release is safe on
// every exit path, held or not.
type ScopedLock struct {
	fl      *flock.Flock
	timeout time.Duration
}

// New creates a lock backed by the given file path.
func New(path string, timeout time.Duration) *ScopedLock {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ScopedLock{
		fl:      flock.New(path),
		timeout: timeout,
	}
}

// Acquire takes the exclusive lock, retrying until the timeout elapses.
// On timeout it returns an error wrapping ErrTimeout.
func (l *ScopedLock) Acquire(ctx context.Context) error {
	lockCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	locked, err := l.fl.TryLockContext(lockCtx, retryInterval)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s held by another process after %s: %w",
				l.fl.Path(), l.timeout, ErrTimeout)
		}
		return fmt.Errorf("acquiring lock %s: %w", l.fl.Path(), err)
	}
	if !locked {
		return fmt.Errorf("%s held by another process after %s: %w",
			l.fl.Path(), l.timeout, ErrTimeout)
	}
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *ScopedLock) Release() error {
	return l.fl.Unlock()
}

// Path returns the lock file path.
func (l *ScopedLock) Path() string {
	return l.fl.Path()
}
