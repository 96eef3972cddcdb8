package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

const scheduleColumns = `id, key_name, next_run_at, last_run_at, timezone, enabled, lock_version`

// ScheduleStore persists the durable due-time rows with row-level locking.
type ScheduleStore struct {
	db DB
}

// NewScheduleStore wraps a pool (or a mock) as a store.ScheduleStore.
func NewScheduleStore(db DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// Get reads the schedule row without locking it.
func (s *ScheduleStore) Get(ctx context.Context, key string) (*store.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM crawl_schedule WHERE key_name = $1`
	sched, err := scanSchedule(s.db.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get schedule %s: %w", key, err)
	}
	return sched, nil
}

// WithLock serializes the due-check-and-run critical section. The row is
// locked FOR UPDATE for the duration of fn; a concurrent probe blocks on the
// lock and, once it acquires it, observes whatever fn committed.
func (s *ScheduleStore) WithLock(
	ctx context.Context,
	key string,
	defaults store.Schedule,
	fn store.ScheduleMutator,
) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schedule tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	query := `SELECT ` + scheduleColumns + ` FROM crawl_schedule WHERE key_name = $1 FOR UPDATE`
	sched, err := scanSchedule(tx.QueryRow(ctx, query, key))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock schedule %s: %w", key, err)
		}
		sched, err = insertSchedule(ctx, tx, defaults)
		if err != nil {
			return err
		}
	}

	changed, err := fn(ctx, sched)
	if err != nil {
		return err
	}
	if changed {
		update := `
UPDATE crawl_schedule
SET next_run_at = $1, last_run_at = $2, timezone = $3, enabled = $4,
    lock_version = lock_version + 1, updated_at = NOW()
WHERE id = $5`
		if _, err := tx.Exec(ctx, update,
			sched.NextRunAt, sched.LastRunAt, sched.Timezone, sched.Enabled, sched.ID,
		); err != nil {
			return fmt.Errorf("advance schedule %s: %w", key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schedule tx: %w", err)
	}
	return nil
}

func insertSchedule(ctx context.Context, tx pgx.Tx, defaults store.Schedule) (*store.Schedule, error) {
	query := `
INSERT INTO crawl_schedule (key_name, next_run_at, last_run_at, timezone, enabled)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + scheduleColumns
	sched, err := scanSchedule(tx.QueryRow(ctx, query,
		defaults.Key, defaults.NextRunAt, defaults.LastRunAt, defaults.Timezone, defaults.Enabled,
	))
	if err != nil {
		return nil, fmt.Errorf("init schedule %s: %w", defaults.Key, err)
	}
	return sched, nil
}

func scanSchedule(row pgx.Row) (*store.Schedule, error) {
	var sched store.Schedule
	err := row.Scan(
		&sched.ID, &sched.Key, &sched.NextRunAt, &sched.LastRunAt,
		&sched.Timezone, &sched.Enabled, &sched.LockVersion,
	)
	if err != nil {
		return nil, err
	}
	return &sched, nil
}
