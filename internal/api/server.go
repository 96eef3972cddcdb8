// Package api exposes the HTTP interface for the counselor crawler service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/clock"
	"github.com/AIDiaryET/counselor-crawler/internal/crawl"
	"github.com/AIDiaryET/counselor-crawler/internal/metrics"
	"github.com/AIDiaryET/counselor-crawler/internal/store"
)

// ListRunner triggers the list phase on demand.
type ListRunner interface {
	CrawlAllPages(ctx context.Context) (int, error)
}

// DetailRunner triggers detail enrichment on demand.
type DetailRunner interface {
	CrawlAndEnrichAll(ctx context.Context) (crawl.Report, error)
	CrawlOne(ctx context.Context, sourceID string) bool
}

// FullRunner triggers a complete orchestrated run.
type FullRunner interface {
	RunOnce(ctx context.Context, key string) (crawl.RunResult, error)
}

// Config holds the HTTP surface tunables.
type Config struct {
	// RunKey is the run log key manual triggers execute under.
	RunKey string
	// ReadTimeout bounds the read-only endpoints.
	ReadTimeout time.Duration
	// CrawlTimeout bounds the synchronous crawl triggers, which can run for
	// many minutes on a full directory pass.
	CrawlTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.RunKey == "" {
		c.RunKey = "KCA_MONTHLY"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.CrawlTimeout <= 0 {
		c.CrawlTimeout = 30 * time.Minute
	}
	return c
}

// Server wires HTTP handlers to the crawl pipeline and stores.
type Server struct {
	router    chi.Router
	list      ListRunner
	detail    DetailRunner
	full      FullRunner
	records   store.RecordStore
	runs      store.RunLogStore
	schedules store.ScheduleStore
	clk       clock.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	list ListRunner,
	detail DetailRunner,
	full FullRunner,
	records store.RecordStore,
	runs store.RunLogStore,
	schedules store.ScheduleStore,
	clk clock.Clock,
	cfg Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		list:      list,
		detail:    detail,
		full:      full,
		records:   records,
		runs:      runs,
		schedules: schedules,
		clk:       clk,
		cfg:       cfg.withDefaults(),
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/crawl", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(s.cfg.CrawlTimeout))
			r.Post("/list", s.crawlList)
			r.Post("/detail", s.crawlDetail)
			r.Post("/all", s.crawlAll)
			r.Post("/one", s.crawlOne)
		})
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(s.cfg.ReadTimeout))
			r.Get("/status", s.status)
			r.Get("/stats", s.stats)
			r.Get("/preview", s.preview)
			r.Get("/search", s.search)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The stores back every endpoint; a cheap query proves the pool is up.
	if _, err := s.runs.Latest(r.Context(), s.cfg.RunKey); err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
