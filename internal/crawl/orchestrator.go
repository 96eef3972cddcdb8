package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/clock"
	"github.com/AIDiaryET/counselor-crawler/internal/metrics"
	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

// Orchestrator runs the full list-then-detail pass and records the outcome in
// the run log. Every run produces exactly one terminal run log row, success
// or failure.
type Orchestrator struct {
	list   *ListCrawler
	detail *DetailCrawler
	runs   store.RunLogStore
	clk    clock.Clock
	logger *zap.Logger
}

// NewOrchestrator wires the two phases to the run log.
func NewOrchestrator(
	list *ListCrawler,
	detail *DetailCrawler,
	runs store.RunLogStore,
	clk clock.Clock,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		list:   list,
		detail: detail,
		runs:   runs,
		clk:    clk,
		logger: logger.Named("orchestrator"),
	}
}

// RunResult carries the per-phase counts of one orchestrated run.
type RunResult struct {
	Upserted int
	Enriched int
}

// Total is the combined write count recorded in the run log.
func (r RunResult) Total() int { return r.Upserted + r.Enriched }

// RunOnce executes one full crawl under the given run log key.
func (o *Orchestrator) RunOnce(ctx context.Context, key string) (RunResult, error) {
	var res RunResult
	runID, err := o.runs.Start(ctx, key, o.clk.Now())
	if err != nil {
		return res, fmt.Errorf("start run %s: %w", key, err)
	}
	o.logger.Info("crawl run started", zap.String("key", key), zap.Int64("runId", runID))

	res.Upserted, err = o.list.CrawlAllPages(ctx)
	if err != nil {
		return res, o.fail(ctx, runID, key, res.Total(), err)
	}

	rep, err := o.detail.CrawlAndEnrichAll(ctx)
	res.Enriched = rep.Enriched
	if err != nil {
		return res, o.fail(ctx, runID, key, res.Total(), err)
	}

	msg := fmt.Sprintf("OK (detail+%d)", res.Enriched)
	if err := o.runs.Finish(ctx, runID, store.RunSuccess, msg, res.Total(), o.clk.Now()); err != nil {
		return res, fmt.Errorf("finish run %d: %w", runID, err)
	}
	metrics.ObserveRun(string(store.RunSuccess))
	o.logger.Info("crawl run succeeded",
		zap.String("key", key), zap.Int("upserted", res.Upserted), zap.Int("enriched", res.Enriched))
	return res, nil
}

// fail records the terminal FAILED row and hands the original error back. The
// finish uses a detached context so cancellation of the run still gets logged.
func (o *Orchestrator) fail(ctx context.Context, runID int64, key string, total int, cause error) error {
	finishCtx := context.WithoutCancel(ctx)
	if err := o.runs.Finish(finishCtx, runID, store.RunFailed, cause.Error(), total, o.clk.Now()); err != nil {
		o.logger.Error("failed to finalize run log", zap.Int64("runId", runID), zap.Error(err))
	}
	metrics.ObserveRun(string(store.RunFailed))
	o.logger.Error("crawl run failed", zap.String("key", key), zap.Error(cause))
	return cause
}
