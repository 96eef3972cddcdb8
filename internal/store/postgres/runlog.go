package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

// RunLogStore persists the append-only crawl run log.
type RunLogStore struct {
	db DB
}

// NewRunLogStore wraps a pool (or a mock) as a store.RunLogStore.
func NewRunLogStore(db DB) *RunLogStore {
	return &RunLogStore{db: db}
}

// Start inserts a STARTED row before any network work happens.
func (s *RunLogStore) Start(ctx context.Context, key string, at time.Time) (int64, error) {
	query := `
INSERT INTO crawl_run_log (key_name, started_at, status)
VALUES ($1, $2, $3)
RETURNING id`
	var id int64
	if err := s.db.QueryRow(ctx, query, key, at, store.RunStarted).Scan(&id); err != nil {
		return 0, fmt.Errorf("start run log: %w", err)
	}
	return id, nil
}

// Finish transitions a STARTED row to its terminal state. Terminal rows are
// immutable: the guard in the WHERE clause makes a second transition fail.
func (s *RunLogStore) Finish(
	ctx context.Context,
	id int64,
	status store.RunStatus,
	message string,
	upserted int,
	at time.Time,
) error {
	query := `
UPDATE crawl_run_log
SET status = $1, message = $2, upserted_count = $3, finished_at = $4
WHERE id = $5 AND status = $6`
	tag, err := s.db.Exec(ctx, query, status, message, upserted, at, id, store.RunStarted)
	if err != nil {
		return fmt.Errorf("finish run log %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run log %d is not in STARTED state", id)
	}
	return nil
}

// Latest returns the most recent run for a key, ErrNotFound when none exist.
func (s *RunLogStore) Latest(ctx context.Context, key string) (*store.RunLog, error) {
	query := `
SELECT id, key_name, started_at, finished_at, status, message, upserted_count
FROM crawl_run_log
WHERE key_name = $1
ORDER BY started_at DESC
LIMIT 1`
	var rl store.RunLog
	err := s.db.QueryRow(ctx, query, key).Scan(
		&rl.ID, &rl.ScheduleKey, &rl.StartedAt, &rl.FinishedAt,
		&rl.Status, &rl.Message, &rl.UpsertedCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("latest run log for %s: %w", key, err)
	}
	return &rl, nil
}
