// Package expiry implements the per-key expiry scheduler: one timer per
// SET-with-expiry, firing a deletion at the stored absolute instant. The
// keyspace guards against a stale timer (one whose key was re-SET before
// it fired) by checking a generation captured at schedule time, so this
// scheduler itself only needs to invoke the callback it was given — it
// does not need to track or cancel timers on overwrite.
package expiry

import (
	"time"

	"github.com/codecrafters-redis-go/internal/clock"
)

// Scheduler schedules deletions at absolute instants using the host timer
// wheel (time.AfterFunc). Its clock is injectable so tests can control
// "now" without sleeping.
type Scheduler struct {
	now clock.Clock
}

// New creates a Scheduler using now as its time source.
func New(now clock.Clock) *Scheduler {
	return &Scheduler{now: now}
}

// Schedule arranges for fire to run at, or immediately if at is already
// due. fire is expected to re-check whatever condition made the deletion
// valid (the keyspace does this via a generation number) because the key
// may have been overwritten between Schedule and the timer firing.
func (s *Scheduler) Schedule(at time.Time, fire func()) {
	now := s.now()
	if !at.After(now) {
		go fire()
		return
	}
	time.AfterFunc(at.Sub(now), fire)
}
