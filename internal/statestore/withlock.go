package statestore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/wireterm/wireterm/server/internal/authstate"
)

// ModifierFunc inspects current (nil if no state exists yet) and decides
// the outcome of one locked operation: result is handed back to the
// caller of WithStateLock unchanged; next, if non-nil, is persisted
// before the lock is released. A modifier that wants a read-only
// operation (no write) returns a nil next.
type ModifierFunc[T any] func(current *authstate.State) (result T, next *authstate.State, err error)

// WithStateLock runs fn as the sole writer: it takes the in-process FIFO
// ticket, then the cross-process directory lock, reloads the freshest
// state from disk (bypassing any cache), runs fn, persists fn's returned
// state if non-nil, and releases both locks — in that order, always, even
// if fn panics or returns an error. See spec.md §4.5's WithStateLock
// contract.
//
// Go does not allow a generic method on a non-generic receiver, so this
// is a package function taking the Store explicitly rather than a method.
func WithStateLock[T any](ctx context.Context, s *Store, fn ModifierFunc[T]) (T, error) {
	var zero T

	s.ticket.Lock()
	defer s.ticket.Unlock()

	timeout := time.Duration(s.lockTimeoutMs) * time.Millisecond
	release, err := s.acquireProcessLock(ctx, timeout)
	if err != nil {
		return zero, err
	}
	defer release()

	s.invalidateCache()
	current, err := s.Load(ctx, nowMillis())
	if err != nil {
		return zero, err
	}

	result, next, ferr := runModifier(fn, current)
	if ferr != nil {
		return result, ferr
	}

	if next != nil {
		if err := s.Save(ctx, *next); err != nil {
			return result, err
		}
	}
	return result, nil
}

// runModifier isolates fn's invocation so a panic inside the modifier
// never leaves the ticket or cross-process lock held.
func runModifier[T any](fn ModifierFunc[T], current *authstate.State) (result T, next *authstate.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("statestore: modifier panicked: %v", r)
			err = fmt.Errorf("statestore: modifier panicked: %v", r)
		}
	}()
	return fn(current)
}

// nowMillis is the Unix time in milliseconds, matching the epoch-ms
// convention used throughout authstate (Session.Expiry, SetupToken.ExpiresAt).
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
