// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// CrawlerConfig governs the fetch and crawl pipeline.
type CrawlerConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	ListPath       string `mapstructure:"list_path"`
	DetailPath     string `mapstructure:"detail_path"`
	UserAgent      string `mapstructure:"user_agent"`
	Referer        string `mapstructure:"referer"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	BackoffBaseMs  int    `mapstructure:"backoff_base_ms"`
	MinDelayMs     int    `mapstructure:"min_delay_ms"`
	MaxDelayMs     int    `mapstructure:"max_delay_ms"`
	PageDelayMs    int    `mapstructure:"page_delay_ms"`
	BatchPauseMs   int    `mapstructure:"batch_pause_ms"`
	BatchSize      int    `mapstructure:"batch_size"`
	MaxPages       int    `mapstructure:"max_pages"`
	MaxFrameDepth  int    `mapstructure:"max_frame_depth"`
	ForceHTTPS     bool   `mapstructure:"force_https"`
}

// ListURL joins the base URL and list path.
func (c CrawlerConfig) ListURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.ListPath
}

// DetailURL joins the base URL and detail path.
func (c CrawlerConfig) DetailURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.DetailPath
}

// Timeout returns the fetch timeout as a duration.
func (c CrawlerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ScheduleConfig drives the monthly schedule coordinator.
type ScheduleConfig struct {
	Key               string `mapstructure:"key"`
	Timezone          string `mapstructure:"timezone"`
	Enabled           bool   `mapstructure:"enabled"`
	ProbeIntervalSec  int    `mapstructure:"probe_interval_seconds"`
	MissingIntervalMs int    `mapstructure:"missing_interval_ms"`
}

// APIConfig bounds the synchronous HTTP endpoints.
type APIConfig struct {
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	CrawlTimeoutMinutes int `mapstructure:"crawl_timeout_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COUNSELOR_CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	// registering the key makes AutomaticEnv visible to Unmarshal
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("crawler.base_url", "https://www.counselors.or.kr")
	v.SetDefault("crawler.list_path", "/site/counselors/list")
	v.SetDefault("crawler.detail_path", "/site/counselors/view")
	v.SetDefault("crawler.user_agent", "counselor-crawler/0.1")
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.max_attempts", 3)
	v.SetDefault("crawler.backoff_base_ms", 1500)
	v.SetDefault("crawler.min_delay_ms", 300)
	v.SetDefault("crawler.max_delay_ms", 900)
	v.SetDefault("crawler.page_delay_ms", 400)
	v.SetDefault("crawler.batch_pause_ms", 500)
	v.SetDefault("crawler.batch_size", 100)
	v.SetDefault("crawler.max_pages", 0)
	v.SetDefault("crawler.max_frame_depth", 5)
	v.SetDefault("crawler.force_https", true)
	v.SetDefault("schedule.key", "KCA_MONTHLY")
	v.SetDefault("schedule.timezone", "Asia/Seoul")
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.probe_interval_seconds", 60)
	v.SetDefault("schedule.missing_interval_ms", 10000)
	v.SetDefault("api.read_timeout_seconds", 60)
	v.SetDefault("api.crawl_timeout_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required")
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url is required")
	}
	if c.Crawler.MinDelayMs > c.Crawler.MaxDelayMs {
		return fmt.Errorf("crawler.min_delay_ms must be <= crawler.max_delay_ms")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Schedule.Key == "" {
		return fmt.Errorf("schedule.key is required")
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	return nil
}
