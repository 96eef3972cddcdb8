// Package fetch retrieves directory pages with retries, request pacing, and
// frame-following for legacy pages that serve their content inside a frameset.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxAttempts = 3
	defaultBackoffBase = 1500 * time.Millisecond
	defaultFrameDepth  = 5
)

// Config controls collector and retry behavior.
type Config struct {
	UserAgent     string
	Referer       string
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	MaxFrameDepth int
	// ForceHTTPS rewrites http:// and //www. frame URLs before fetching;
	// the production site bounces both through an interstitial.
	ForceHTTPS bool
}

// Fetcher executes single HTTP GETs through a Colly collector, pacing every
// attempt through the injected Pacer.
type Fetcher struct {
	cfg           Config
	pacer         Pacer
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// New builds a Fetcher. A nil pacer disables pacing (useful in tests).
func New(cfg Config, pacer Pacer, logger *zap.Logger) *Fetcher {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.MaxFrameDepth == 0 {
		cfg.MaxFrameDepth = defaultFrameDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		pacer:         pacer,
		baseCollector: c,
		logger:        logger,
	}
}

// FetchDocument GETs rawURL and parses the body, retrying transient failures
// with exponential backoff. The pre-request pace applies to every attempt,
// not only retries.
func (f *Fetcher) FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if f.pacer != nil {
			if err := f.pacer.Wait(ctx); err != nil {
				return nil, &Error{URL: rawURL, Err: err}
			}
		}

		body, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			doc, parseErr := goquery.NewDocumentFromReader(bytes.NewReader(body))
			if parseErr != nil {
				return nil, &Error{URL: rawURL, Err: fmt.Errorf("parse html: %w", parseErr)}
			}
			return doc, nil
		}

		lastErr = err
		if !retryable(err) {
			break
		}
		f.logger.Warn("fetch attempt failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt < f.cfg.MaxAttempts-1 {
			if err := sleepCtx(ctx, f.backoff(attempt)); err != nil {
				return nil, &Error{URL: rawURL, Err: err}
			}
		}
	}
	return nil, &Error{URL: rawURL, Err: lastErr}
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "ko,en;q=0.8")
		if f.cfg.Referer != "" {
			r.Headers.Set("Referer", f.cfg.Referer)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("response failed: %w", fetchErr)
		}
		return body, nil
	}
}

func (f *Fetcher) backoff(attempt int) time.Duration {
	return f.cfg.BackoffBase * (1 << attempt)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
