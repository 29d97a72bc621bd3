// Package lockout implements per-credential failed-attempt tracking with
// exponential backoff. Used only by the login-verify path. See spec.md §4.3.
package lockout

import (
	"sync"
	"time"
)

// Status is the result of checking or recording against a credential's
// lockout state.
type Status struct {
	Locked       bool
	RetryAfterSec int
}

type entry struct {
	failCount   int
	lockedUntil time.Time
}

// Tracker holds per-credential lockout state. Safe for concurrent use.
type Tracker struct {
	maxAttempts  int
	baseBackoff  time.Duration
	maxBackoff   time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Tracker. maxAttempts is the failure count at which a
// credential first locks; baseBackoff is the initial lock duration, which
// doubles with each subsequent lockout up to maxBackoff.
func New(maxAttempts int, baseBackoff, maxBackoff time.Duration) *Tracker {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = time.Hour
	}
	return &Tracker{
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		entries:     make(map[string]*entry),
	}
}

// IsLocked reports whether id is currently locked out.
func (t *Tracker) IsLocked(id string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return Status{}
	}
	return t.statusLocked(e)
}

// RecordFailure increments id's failure count. Once the count reaches
// maxAttempts, it locks id out for an exponentially growing backoff
// window, capped at maxBackoff.
func (t *Tracker) RecordFailure(id string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		e = &entry{}
		t.entries[id] = e
	}
	e.failCount++

	if e.failCount >= t.maxAttempts {
		backoff := t.backoffFor(e.failCount)
		e.lockedUntil = time.Now().Add(backoff)
	}

	return t.statusLocked(e)
}

// RecordSuccess clears id's lockout state entirely.
func (t *Tracker) RecordSuccess(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// backoffFor returns the backoff duration for the (failCount-maxAttempts+1)th
// lockout, doubling from baseBackoff up to maxBackoff.
func (t *Tracker) backoffFor(failCount int) time.Duration {
	overage := failCount - t.maxAttempts
	backoff := t.baseBackoff
	for i := 0; i < overage; i++ {
		backoff *= 2
		if backoff >= t.maxBackoff {
			return t.maxBackoff
		}
	}
	if backoff > t.maxBackoff {
		return t.maxBackoff
	}
	return backoff
}

func (t *Tracker) statusLocked(e *entry) Status {
	now := time.Now()
	if now.After(e.lockedUntil) {
		return Status{Locked: false}
	}
	retry := int(e.lockedUntil.Sub(now).Seconds())
	if retry < 1 {
		retry = 1
	}
	return Status{Locked: true, RetryAfterSec: retry}
}
