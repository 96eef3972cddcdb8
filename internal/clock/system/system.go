// Package system adapts the wall clock to the clock.Clock contract.
package system

import "time"

// Clock reads time.Now and normalizes to UTC so run timestamps compare
// cleanly regardless of host timezone.
type Clock struct{}

// New returns the process-wide wall clock.
func New() *Clock {
	return &Clock{}
}

// Now reports the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
