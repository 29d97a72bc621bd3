package statestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrLockTimeout is returned by WithStateLock when the cross-process
// directory lock could not be acquired before the configured timeout.
// spec.md §7 maps this to the "lock-timeout" reason code.
var ErrLockTimeout = errors.New("statestore: lock acquisition timed out")

// staleLockAge is how long a lock directory can exist before it is
// considered abandoned by a crashed process and broken.
const staleLockAge = 30 * time.Second

const (
	initialBackoff = 10 * time.Millisecond
	maxBackoff     = 250 * time.Millisecond
)

// acquireProcessLock creates the lock directory, polling with linear
// backoff until it succeeds, the context is cancelled, or timeout elapses.
// A lock directory whose mtime is older than staleLockAge is treated as
// abandoned and removed so a crashed holder can never wedge the store.
func (s *Store) acquireProcessLock(ctx context.Context, timeout time.Duration) (release func(), err error) {
	deadline := time.Now().Add(timeout)
	backoff := initialBackoff

	for {
		mkErr := os.Mkdir(s.lockPath(), 0700)
		if mkErr == nil {
			return func() { os.Remove(s.lockPath()) }, nil
		}
		if !os.IsExist(mkErr) {
			return nil, fmt.Errorf("statestore: create lock directory: %w", mkErr)
		}

		if info, statErr := os.Stat(s.lockPath()); statErr == nil {
			if time.Since(info.ModTime()) > staleLockAge {
				os.Remove(s.lockPath())
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff += initialBackoff
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
