// Package clock supplies the single "now" indirection used across the
// server so expiry and replication-timing tests can inject a controlled
// clock instead of the host wall clock.
package clock

import "time"

// Clock returns the current instant. The zero value of any field holding
// a Clock must never be called directly — use Wall() or a test double.
type Clock func() time.Time

// Wall is the production clock: the host's wall-clock time.
func Wall() Clock {
	return time.Now
}
