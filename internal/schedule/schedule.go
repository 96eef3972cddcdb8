// Package schedule decides when the monthly crawl is due and drives it from a
// database-backed schedule row, so any number of service instances can probe
// concurrently while exactly one executes each due run.
package schedule

import (
	"time"

	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

// Decision is the outcome of checking a schedule row against the clock.
type Decision int

const (
	// Waiting means the next run time has not arrived yet.
	Waiting Decision = iota
	// Due means the run should execute now.
	Due
	// Disabled means the schedule is switched off.
	Disabled
)

// Decide checks a schedule row against the current time.
func Decide(s store.Schedule, now time.Time) Decision {
	if !s.Enabled {
		return Disabled
	}
	if now.Before(s.NextRunAt) {
		return Waiting
	}
	return Due
}

// Advance moves next forward one month at a time until it is after now. A
// single step is the normal case; extra steps absorb downtime so a stale row
// does not trigger a burst of catch-up runs.
func Advance(next, now time.Time, loc *time.Location) time.Time {
	next = next.In(loc)
	for !next.After(now) {
		next = next.AddDate(0, 1, 0)
	}
	return next
}
