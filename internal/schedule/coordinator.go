package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/clock"
	"github.com/AIDiaryET/counselor-crawler/internal/crawl"
	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

const (
	defaultProbeInterval   = time.Minute
	defaultMissingInterval = 10 * time.Second
)

// Runner executes one full crawl pass under a run log key.
type Runner interface {
	RunOnce(ctx context.Context, key string) (crawl.RunResult, error)
}

// Config holds the coordinator tunables.
type Config struct {
	// Key names the schedule row and the run log entries.
	Key string
	// Timezone is the zone the monthly boundary is computed in.
	Timezone string
	// Enabled seeds the schedule row's enabled flag when the row is created.
	Enabled bool
	// ProbeInterval is the pause between due checks.
	ProbeInterval time.Duration
	// MissingInterval is the shorter pause used while the schedule row does
	// not exist yet.
	MissingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaultProbeInterval
	}
	if c.MissingInterval <= 0 {
		c.MissingInterval = defaultMissingInterval
	}
	return c
}

// Coordinator probes the schedule row and triggers due runs. The due check
// and the run itself happen under the row's lock, so concurrent instances
// serialize and at most one executes a given due window.
type Coordinator struct {
	schedules store.ScheduleStore
	runner    Runner
	clk       clock.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewCoordinator builds a schedule coordinator.
func NewCoordinator(
	schedules store.ScheduleStore,
	runner Runner,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Coordinator {
	return &Coordinator{
		schedules: schedules,
		runner:    runner,
		clk:       clk,
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("schedule"),
	}
}

// Run probes until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		interval := c.Probe(ctx)
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Probe performs one due check, executing the crawl when the row is due, and
// returns how long to wait before the next probe.
func (c *Coordinator) Probe(ctx context.Context) time.Duration {
	sched, err := c.schedules.Get(ctx, c.cfg.Key)
	if errors.Is(err, store.ErrNotFound) {
		if err := c.seed(ctx); err != nil {
			c.logger.Warn("schedule seed failed", zap.Error(err))
		}
		return c.cfg.MissingInterval
	}
	if err != nil {
		c.logger.Warn("schedule probe failed", zap.Error(err))
		return c.cfg.MissingInterval
	}

	if Decide(*sched, c.clk.Now()) != Due {
		return c.cfg.ProbeInterval
	}

	if err := c.runDue(ctx); err != nil {
		c.logger.Error("scheduled run failed", zap.String("key", c.cfg.Key), zap.Error(err))
	}
	return c.cfg.ProbeInterval
}

// seed creates the schedule row immediately due, so a fresh deployment (or a
// lost row) runs a full crawl on the next probe instead of waiting a month.
func (c *Coordinator) seed(ctx context.Context) error {
	if _, err := time.LoadLocation(c.cfg.Timezone); err != nil {
		return fmt.Errorf("schedule timezone %q: %w", c.cfg.Timezone, err)
	}
	defaults := store.Schedule{
		Key:       c.cfg.Key,
		NextRunAt: c.clk.Now(),
		Timezone:  c.cfg.Timezone,
		Enabled:   c.cfg.Enabled,
	}
	c.logger.Info("seeding schedule row",
		zap.String("key", c.cfg.Key), zap.Time("nextRunAt", defaults.NextRunAt))
	return c.schedules.WithLock(ctx, c.cfg.Key, defaults,
		func(context.Context, *store.Schedule) (bool, error) { return false, nil })
}

// runDue re-checks due-ness under the row lock and runs the crawl while
// holding it. The row only advances after a successful run; a failed run
// leaves it due, so the next probe retries.
func (c *Coordinator) runDue(ctx context.Context) error {
	return c.schedules.WithLock(ctx, c.cfg.Key, store.Schedule{
		Key:      c.cfg.Key,
		Timezone: c.cfg.Timezone,
		Enabled:  c.cfg.Enabled,
	}, func(ctx context.Context, sched *store.Schedule) (bool, error) {
		now := c.clk.Now()
		if Decide(*sched, now) != Due {
			return false, nil
		}
		loc, err := sched.Location()
		if err != nil {
			return false, err
		}

		if _, err := c.runner.RunOnce(ctx, c.cfg.Key); err != nil {
			return false, err
		}

		ranAt := c.clk.Now()
		sched.LastRunAt = &ranAt
		sched.NextRunAt = Advance(sched.NextRunAt, ranAt, loc)
		return true, nil
	})
}
