// Package store defines the persistence contracts for directory records, run
// logs, and the crawl schedule. By programming against interfaces the crawl
// pipeline stays testable without a real database.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AIDiaryET/counselor-crawler/internal/counselor"
)

// ErrNotFound reports a missing row on keyed lookups.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle state of one orchestrated crawl run.
type RunStatus string

// Run log states. A run row is created STARTED and transitions to exactly
// one terminal state; terminal rows are never mutated again.
const (
	RunStarted RunStatus = "STARTED"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// RunLog is one append-only record of an orchestrated execution.
type RunLog struct {
	ID            int64      `json:"id"`
	ScheduleKey   string     `json:"scheduleKey"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    *time.Time `json:"finishedAt"`
	Status        RunStatus  `json:"status"`
	Message       string     `json:"message"`
	UpsertedCount int        `json:"upsertedCount"`
}

// Schedule is the singleton durable due-time row for one schedule key.
type Schedule struct {
	ID          int64
	Key         string
	NextRunAt   time.Time
	LastRunAt   *time.Time
	Timezone    string
	Enabled     bool
	LockVersion int64
}

// Location resolves the schedule's own timezone.
func (s Schedule) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// FillStats aggregates field fill rates over the whole record store.
type FillStats struct {
	Total           int64   `json:"total"`
	EmailFilled     int64   `json:"emailFilled"`
	EmailMissing    int64   `json:"emailMissing"`
	EmailFilledRate float64 `json:"emailFilledRate"`
	SpecialtyFilled int64   `json:"specialtyFilled"`
	SpecialtyMissed int64   `json:"specialtyMissed"`
	RegionsFilled   int64   `json:"regionsFilled"`
}

// RecordStore is keyed storage of merged directory records.
type RecordStore interface {
	// GetBySourceID looks a record up by its origin pair; ErrNotFound when absent.
	GetBySourceID(ctx context.Context, source, sourceID string) (*counselor.Record, error)
	// Save upserts by identity inside a single transaction and refreshes
	// the lifecycle timestamps.
	Save(ctx context.Context, rec *counselor.Record) error
	// ListPage returns a stable-ordered batch for full-store iteration.
	ListPage(ctx context.Context, offset, limit int) ([]counselor.Record, error)
	// ListRecent pages records by updatedAt descending and reports the total.
	ListRecent(ctx context.Context, page, size int) ([]counselor.Record, int64, error)
	// Search applies the tokenized multi-field query with the same paging.
	Search(ctx context.Context, q Query, page, size int) ([]counselor.Record, int64, error)
	Stats(ctx context.Context) (FillStats, error)
}

// RunLogStore owns the append-only run log.
type RunLogStore interface {
	Start(ctx context.Context, key string, at time.Time) (int64, error)
	Finish(ctx context.Context, id int64, status RunStatus, message string, upserted int, at time.Time) error
	Latest(ctx context.Context, key string) (*RunLog, error)
}

// ScheduleMutator runs inside the schedule row's lock. Returning changed
// persists the mutated row before the lock is released.
type ScheduleMutator func(ctx context.Context, s *Schedule) (changed bool, err error)

// ScheduleStore holds the durable schedule rows.
type ScheduleStore interface {
	// Get reads the row without locking; ErrNotFound when absent.
	Get(ctx context.Context, key string) (*Schedule, error)
	// WithLock takes a row-level exclusive lock on the schedule (creating it
	// from defaults when missing), runs fn, persists when changed, and
	// commits in one transaction, so concurrent probes serialize.
	WithLock(ctx context.Context, key string, defaults Schedule, fn ScheduleMutator) error
}
