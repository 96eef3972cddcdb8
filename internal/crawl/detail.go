package crawl

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/counselor"
	"github.com/AIDiaryET/counselor-crawler/internal/extract"
	"github.com/AIDiaryET/counselor-crawler/internal/metrics"
	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

// Report summarizes one detail enrichment pass.
type Report struct {
	Enriched int
	Failed   []string
}

// DetailCrawler enriches stored records from their profile pages in batches.
type DetailCrawler struct {
	fetcher Fetcher
	records store.RecordStore
	cfg     Config
	logger  *zap.Logger
}

// NewDetailCrawler builds a detail-phase crawler.
func NewDetailCrawler(fetcher Fetcher, records store.RecordStore, cfg Config, logger *zap.Logger) *DetailCrawler {
	return &DetailCrawler{
		fetcher: fetcher,
		records: records,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("detail"),
	}
}

// CrawlAndEnrichAll iterates the whole record store in batches. Per-record
// failures are logged and collected in the report; only store iteration
// errors and context cancellation abort the pass.
func (c *DetailCrawler) CrawlAndEnrichAll(ctx context.Context) (Report, error) {
	var rep Report
	offset := 0
	for {
		batch, err := c.records.ListPage(ctx, offset, c.cfg.BatchSize)
		if err != nil {
			return rep, fmt.Errorf("load detail batch at %d: %w", offset, err)
		}
		if len(batch) == 0 {
			break
		}

		for i := range batch {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			rec := batch[i]
			// Records keyed by a fallback identity carry no origin number and
			// have no detail page to fetch.
			if rec.SourceID == "" {
				continue
			}
			if err := c.enrichOne(ctx, &rec); err != nil {
				metrics.ObserveEnrichFailure()
				rep.Failed = append(rep.Failed, rec.SourceID)
				c.logger.Warn("detail enrichment failed",
					zap.String("sourceId", rec.SourceID), zap.Error(err))
				continue
			}
			rep.Enriched++
		}

		offset += len(batch)
		if len(batch) < c.cfg.BatchSize {
			break
		}
		if err := sleepCtx(ctx, c.cfg.BatchPause); err != nil {
			return rep, err
		}
	}

	c.logger.Info("detail crawl finished",
		zap.Int("enriched", rep.Enriched), zap.Int("failed", len(rep.Failed)))
	return rep, nil
}

// CrawlOne enriches a single stored record by source id. It reports success
// rather than returning the error so callers can surface a plain ok/failed
// outcome; an unknown source id is a failure, not a reason to create a row.
func (c *DetailCrawler) CrawlOne(ctx context.Context, sourceID string) bool {
	rec, err := c.records.GetBySourceID(ctx, counselor.Source, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Warn("no stored record for source id", zap.String("sourceId", sourceID))
		return false
	}
	if err != nil {
		c.logger.Warn("record lookup failed", zap.String("sourceId", sourceID), zap.Error(err))
		return false
	}
	if err := c.enrichOne(ctx, rec); err != nil {
		c.logger.Warn("detail enrichment failed", zap.String("sourceId", sourceID), zap.Error(err))
		return false
	}
	return true
}

func (c *DetailCrawler) enrichOne(ctx context.Context, rec *counselor.Record) error {
	u := rec.DetailURL
	if u == "" {
		u = withParam(c.cfg.DetailURL, "idx", rec.SourceID)
	}
	doc, err := c.fetcher.FetchFollowingFrames(ctx, u)
	if err != nil {
		metrics.ObservePage("detail", "error")
		return err
	}
	metrics.ObservePage("detail", "ok")

	rec.ApplyDetail(extract.ParseDetail(doc, u))
	if rec.DetailURL == "" {
		rec.DetailURL = u
	}
	if err := c.records.Save(ctx, rec); err != nil {
		return err
	}
	metrics.ObserveUpsert("detail")
	return nil
}
