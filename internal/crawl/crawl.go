// Package crawl drives the two-phase directory pipeline: the list phase
// discovers and upserts skeleton records page by page, the detail phase walks
// the stored records and enriches each one from its profile page. The
// orchestrator brackets a full pass with a run log row.
package crawl

import (
	"context"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Fetcher is the page retrieval dependency of both crawl phases.
type Fetcher interface {
	FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error)
	FetchFollowingFrames(ctx context.Context, rawURL string) (*goquery.Document, error)
}

const (
	defaultPageDelay  = 400 * time.Millisecond
	defaultBatchPause = 500 * time.Millisecond
	defaultBatchSize  = 100
)

// Config holds the crawl-phase tunables.
type Config struct {
	// ListURL is the paged directory listing; the page number is appended
	// as the "page" query parameter.
	ListURL string
	// DetailURL is the profile page; the record's source id is appended as
	// the "idx" query parameter.
	DetailURL string
	// PageDelay is the pause between consecutive list page fetches.
	PageDelay time.Duration
	// BatchPause is the pause between detail enrichment batches.
	BatchPause time.Duration
	// BatchSize is how many stored records one detail batch loads.
	BatchSize int
	// MaxPages caps the list walk; zero means follow pagination to the end.
	MaxPages int
}

func (c Config) withDefaults() Config {
	if c.PageDelay <= 0 {
		c.PageDelay = defaultPageDelay
	}
	if c.BatchPause <= 0 {
		c.BatchPause = defaultBatchPause
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	return c
}

func withParam(rawURL, key, value string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
