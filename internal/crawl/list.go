package crawl

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/counselor"
	"github.com/AIDiaryET/counselor-crawler/internal/extract"
	"github.com/AIDiaryET/counselor-crawler/internal/metrics"
	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

// ListCrawler walks the paged directory listing and upserts one skeleton
// record per row.
type ListCrawler struct {
	fetcher Fetcher
	records store.RecordStore
	cfg     Config
	logger  *zap.Logger
}

// NewListCrawler builds a list-phase crawler.
func NewListCrawler(fetcher Fetcher, records store.RecordStore, cfg Config, logger *zap.Logger) *ListCrawler {
	return &ListCrawler{
		fetcher: fetcher,
		records: records,
		cfg:     cfg.withDefaults(),
		logger:  logger.Named("list"),
	}
}

// CrawlAllPages fetches page 1, discovers the last page from the pagination
// bar, then walks every remaining page. A failure on page 1 aborts the run;
// later pages fail soft, so one broken page does not lose the rest.
func (c *ListCrawler) CrawlAllPages(ctx context.Context) (int, error) {
	doc, err := c.fetcher.FetchFollowingFrames(ctx, c.pageURL(1))
	if err != nil {
		metrics.ObservePage("list", "error")
		return 0, fmt.Errorf("fetch list page 1: %w", err)
	}
	metrics.ObservePage("list", "ok")

	last := extract.LastPage(doc)
	if c.cfg.MaxPages > 0 && last > c.cfg.MaxPages {
		last = c.cfg.MaxPages
	}
	c.logger.Info("list crawl started", zap.Int("lastPage", last))

	upserted := c.upsertRows(ctx, extract.ParseList(doc, c.cfg.ListURL))

	for page := 2; page <= last; page++ {
		if err := sleepCtx(ctx, c.cfg.PageDelay); err != nil {
			return upserted, err
		}
		doc, err := c.fetcher.FetchFollowingFrames(ctx, c.pageURL(page))
		if err != nil {
			metrics.ObservePage("list", "error")
			c.logger.Warn("list page fetch failed", zap.Int("page", page), zap.Error(err))
			continue
		}
		metrics.ObservePage("list", "ok")
		upserted += c.upsertRows(ctx, extract.ParseList(doc, c.cfg.ListURL))
	}

	c.logger.Info("list crawl finished", zap.Int("upserted", upserted))
	return upserted, nil
}

func (c *ListCrawler) upsertRows(ctx context.Context, rows []counselor.ListRow) int {
	upserted := 0
	for _, row := range rows {
		if row.SourceID == "" {
			continue
		}
		rec, err := c.records.GetBySourceID(ctx, counselor.Source, row.SourceID)
		if errors.Is(err, store.ErrNotFound) {
			rec = &counselor.Record{}
		} else if err != nil {
			c.logger.Warn("record lookup failed", zap.String("sourceId", row.SourceID), zap.Error(err))
			continue
		}
		rec.ApplyListRow(row)
		if err := c.records.Save(ctx, rec); err != nil {
			c.logger.Warn("record upsert failed", zap.String("sourceId", row.SourceID), zap.Error(err))
			continue
		}
		metrics.ObserveUpsert("list")
		upserted++
	}
	return upserted
}

func (c *ListCrawler) pageURL(page int) string {
	return withParam(c.cfg.ListURL, "page", strconv.Itoa(page))
}
