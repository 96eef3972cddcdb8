// Package main wires together the counselor crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AIDiaryET/counselor-crawler/internal/api"
	"github.com/AIDiaryET/counselor-crawler/internal/clock/system"
	"github.com/AIDiaryET/counselor-crawler/internal/config"
	"github.com/AIDiaryET/counselor-crawler/internal/crawl"
	"github.com/AIDiaryET/counselor-crawler/internal/fetch"
	"github.com/AIDiaryET/counselor-crawler/internal/logging"
	"github.com/AIDiaryET/counselor-crawler/internal/metrics"
	"github.com/AIDiaryET/counselor-crawler/internal/schedule"
	"github.com/AIDiaryET/counselor-crawler/internal/store/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:             cfg.DB.DSN,
		MaxConns:        int32(cfg.DB.MaxConns),
		MinConns:        int32(cfg.DB.MinConns),
		MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		logger.Fatal("database connect failed", zap.Error(err))
	}
	defer pool.Close()

	records := postgres.NewRecordStore(pool)
	runs := postgres.NewRunLogStore(pool)
	schedules := postgres.NewScheduleStore(pool)

	pacer := fetch.NewJitterPacer(
		time.Duration(cfg.Crawler.MinDelayMs)*time.Millisecond,
		time.Duration(cfg.Crawler.MaxDelayMs)*time.Millisecond,
		0,
	)
	fetcher := fetch.New(fetch.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		Referer:       cfg.Crawler.Referer,
		Timeout:       cfg.Crawler.Timeout(),
		MaxAttempts:   cfg.Crawler.MaxAttempts,
		BackoffBase:   time.Duration(cfg.Crawler.BackoffBaseMs) * time.Millisecond,
		MaxFrameDepth: cfg.Crawler.MaxFrameDepth,
		ForceHTTPS:    cfg.Crawler.ForceHTTPS,
	}, pacer, logger.Named("fetch"))

	crawlCfg := crawl.Config{
		ListURL:    cfg.Crawler.ListURL(),
		DetailURL:  cfg.Crawler.DetailURL(),
		PageDelay:  time.Duration(cfg.Crawler.PageDelayMs) * time.Millisecond,
		BatchPause: time.Duration(cfg.Crawler.BatchPauseMs) * time.Millisecond,
		BatchSize:  cfg.Crawler.BatchSize,
		MaxPages:   cfg.Crawler.MaxPages,
	}
	clk := system.New()
	listCrawler := crawl.NewListCrawler(fetcher, records, crawlCfg, logger)
	detailCrawler := crawl.NewDetailCrawler(fetcher, records, crawlCfg, logger)
	orchestrator := crawl.NewOrchestrator(listCrawler, detailCrawler, runs, clk, logger)

	coordinator := schedule.NewCoordinator(schedules, orchestrator, clk, schedule.Config{
		Key:             cfg.Schedule.Key,
		Timezone:        cfg.Schedule.Timezone,
		Enabled:         cfg.Schedule.Enabled,
		ProbeInterval:   time.Duration(cfg.Schedule.ProbeIntervalSec) * time.Second,
		MissingInterval: time.Duration(cfg.Schedule.MissingIntervalMs) * time.Millisecond,
	}, logger)

	apiServer := api.NewServer(listCrawler, detailCrawler, orchestrator, records, runs, schedules, clk, api.Config{
		RunKey:       cfg.Schedule.Key,
		ReadTimeout:  time.Duration(cfg.API.ReadTimeoutSeconds) * time.Second,
		CrawlTimeout: time.Duration(cfg.API.CrawlTimeoutMinutes) * time.Minute,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("schedule coordinator started", zap.String("key", cfg.Schedule.Key))
		if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("schedule coordinator stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
