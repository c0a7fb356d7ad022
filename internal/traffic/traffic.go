// Package traffic keeps a sliding window of upstream-facing request outcomes. The health
// endpoint reads the error rate from it to report "degraded".
package traffic

import (
	"sync"
	"time"
)

// maxAge bounds how long outcomes are retained regardless of the window asked for.
const maxAge = 5 * time.Minute

var defaultTracker = NewTracker(time.Now)

// RecordSuccess records a successful weather request.
func RecordSuccess() {
	defaultTracker.Record(false)
}

// RecordError records a failed weather request (upstream error, timeout, malformed data).
func RecordError() {
	defaultTracker.Record(true)
}

// ErrorRate returns (errorCount, totalCount) within the window.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

type outcome struct {
	at     time.Time
	failed bool
}

// Tracker maintains a time-ordered window of outcomes.
type Tracker struct {
	mu       sync.Mutex
	now      func() time.Time
	outcomes []outcome
}

// NewTracker creates a Tracker reading time from now.
func NewTracker(now func() time.Time) *Tracker {
	return &Tracker{now: now}
}

// Record appends an outcome stamped with the current time.
func (t *Tracker) Record(failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.outcomes = append(t.outcomes, outcome{at: now, failed: failed})
	t.pruneLocked(now)
}

// ErrorRate returns (errorCount, totalCount) for outcomes no older than window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	for _, o := range t.outcomes {
		if o.at.Before(cutoff) {
			continue
		}
		total++
		if o.failed {
			errors++
		}
	}
	return errors, total
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outcomes = nil
}

// pruneLocked drops outcomes older than maxAge. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	i := 0
	for ; i < len(t.outcomes) && t.outcomes[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.outcomes = append(t.outcomes[:0], t.outcomes[i:]...)
	}
}
