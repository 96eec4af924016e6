// Package config defines the top-level configuration for tokenbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// duration wraps time.Duration so it can be parsed from TOML strings like
// "30s" or "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TOKENBOT_* environment
// variables.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Jupiter    JupiterConfig    `toml:"jupiter"`
	Pumpfun    PumpfunConfig    `toml:"pumpfun"`
	Prices     PricesConfig     `toml:"prices"`
	Classifier ClassifierConfig `toml:"classifier"`
	Engine     EngineConfig     `toml:"engine"`
	Execution  ExecutionConfig  `toml:"execution"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// JupiterConfig holds the aggregated-liquidity price/quote API endpoints.
type JupiterConfig struct {
	PriceHost  string   `toml:"price_host"`
	StreamHost string   `toml:"stream_host"`
	Timeout    duration `toml:"timeout"`
}

// PumpfunConfig holds the bonding-curve venue API endpoint.
type PumpfunConfig struct {
	Host    string   `toml:"host"`
	Timeout duration `toml:"timeout"`
}

// PricesConfig tunes the aggregator and its cache.
type PricesConfig struct {
	CacheTTL         duration `toml:"cache_ttl"`
	CacheCapacity    int      `toml:"cache_capacity"`
	DEXBatchSize     int      `toml:"dex_batch_size"`
	CurveParallelism int      `toml:"curve_parallelism"`
	RefreshInterval  duration `toml:"refresh_interval"`
	// Watchlist is always refreshed, in addition to tokens with pending
	// orders. Monitor mode refreshes only the watchlist.
	Watchlist []string `toml:"watchlist"`
}

// ClassifierConfig tunes token classification caching.
type ClassifierConfig struct {
	ClassTTL         duration `toml:"class_ttl"`
	MigrationRecheck duration `toml:"migration_recheck"`
}

// EngineConfig tunes the order engine.
type EngineConfig struct {
	PollInterval       duration `toml:"poll_interval"`
	Tolerance          float64  `toml:"tolerance"`
	MinOrderAmount     float64  `toml:"min_order_amount"`
	MaxOrderAmount     float64  `toml:"max_order_amount"`
	MaxSlippage        float64  `toml:"max_slippage"`
	OrdersPerOwner     int      `toml:"orders_per_owner"`      // rate limit
	OwnerWindow        duration `toml:"owner_window"`          // rate limit window
	ExecutionLockTTL   duration `toml:"execution_lock_ttl"`    // per-order dispatch lock
	StreamSubscription bool     `toml:"stream_subscription"`   // real-time price pushes
	MaxConcurrentExecs int      `toml:"max_concurrent_execs"`  // worker pool bound
}

// ExecutionConfig tunes the execution service.
type ExecutionConfig struct {
	MaxRetries          int      `toml:"max_retries"`
	RetryBaseDelay      duration `toml:"retry_base_delay"`
	MaxPriceImpact      float64  `toml:"max_price_impact"`
	ConfirmTimeout      duration `toml:"confirm_timeout"`
	MEVProtection       bool     `toml:"mev_protection"`
	BundleTip           float64  `toml:"bundle_tip"`
	PriorityFeeFloor    float64  `toml:"priority_fee_floor"`
	PriorityFeeCeiling  float64  `toml:"priority_fee_ceiling"`
}

// ArchiveConfig tunes cold-storage archival of terminal orders and trades.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
	BatchSize     int      `toml:"batch_size"`
}

// NotifyConfig holds operator notification channels and event filters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// Defaults returns a Config populated with sensible development defaults.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tokenbot",
			User:          "tokenbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Jupiter: JupiterConfig{
			PriceHost:  "https://lite-api.jup.ag",
			StreamHost: "wss://stream.jup.ag",
			Timeout:    duration{10 * time.Second},
		},
		Pumpfun: PumpfunConfig{
			Host:    "https://frontend-api.pump.fun",
			Timeout: duration{10 * time.Second},
		},
		Prices: PricesConfig{
			CacheTTL:         duration{30 * time.Second},
			CacheCapacity:    10000,
			DEXBatchSize:     100,
			CurveParallelism: 8,
			RefreshInterval:  duration{15 * time.Second},
		},
		Classifier: ClassifierConfig{
			ClassTTL:         duration{10 * time.Minute},
			MigrationRecheck: duration{2 * time.Minute},
		},
		Engine: EngineConfig{
			PollInterval:       duration{30 * time.Second},
			Tolerance:          0.01,
			MinOrderAmount:     0.001,
			MaxOrderAmount:     100,
			MaxSlippage:        0.5,
			OrdersPerOwner:     10,
			OwnerWindow:        duration{time.Second},
			ExecutionLockTTL:   duration{2 * time.Minute},
			StreamSubscription: false,
			MaxConcurrentExecs: 4,
		},
		Execution: ExecutionConfig{
			MaxRetries:         3,
			RetryBaseDelay:     duration{time.Second},
			MaxPriceImpact:     0.05,
			ConfirmTimeout:     duration{60 * time.Second},
			MEVProtection:      false,
			BundleTip:          0.0001,
			PriorityFeeFloor:   0.000005,
			PriorityFeeCeiling: 0.005,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
			BatchSize:     5000,
		},
		Notify: NotifyConfig{
			Events: []string{"order_filled", "order_cancelled", "order_error", "token_migrated", "position_closed"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9190,
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Venues
	if c.Jupiter.PriceHost == "" {
		errs = append(errs, "jupiter: price_host must not be empty")
	}
	if c.Pumpfun.Host == "" {
		errs = append(errs, "pumpfun: host must not be empty")
	}

	// Prices
	if c.Prices.DEXBatchSize < 1 {
		errs = append(errs, "prices: dex_batch_size must be >= 1")
	}
	if c.Prices.CurveParallelism < 1 {
		errs = append(errs, "prices: curve_parallelism must be >= 1")
	}
	if c.Prices.CacheCapacity < 1 {
		errs = append(errs, "prices: cache_capacity must be >= 1")
	}
	if c.Prices.CacheTTL.Duration <= 0 {
		errs = append(errs, "prices: cache_ttl must be positive")
	}

	// Classifier
	if c.Classifier.ClassTTL.Duration <= 0 {
		errs = append(errs, "classifier: class_ttl must be positive")
	}
	if c.Classifier.MigrationRecheck.Duration <= 0 {
		errs = append(errs, "classifier: migration_recheck must be positive")
	}
	if c.Classifier.MigrationRecheck.Duration >= c.Classifier.ClassTTL.Duration {
		errs = append(errs, "classifier: migration_recheck must be shorter than class_ttl")
	}

	// Engine
	if c.Engine.PollInterval.Duration <= 0 {
		errs = append(errs, "engine: poll_interval must be positive")
	}
	if c.Engine.Tolerance < 0 || c.Engine.Tolerance > 1 {
		errs = append(errs, fmt.Sprintf("engine: tolerance must be within [0, 1], got %g", c.Engine.Tolerance))
	}
	if c.Engine.MinOrderAmount <= 0 {
		errs = append(errs, "engine: min_order_amount must be > 0")
	}
	if c.Engine.MaxOrderAmount < c.Engine.MinOrderAmount {
		errs = append(errs, "engine: max_order_amount must be >= min_order_amount")
	}
	if c.Engine.MaxSlippage < 0 || c.Engine.MaxSlippage > 1 {
		errs = append(errs, fmt.Sprintf("engine: max_slippage must be within [0, 1], got %g", c.Engine.MaxSlippage))
	}
	if c.Engine.MaxConcurrentExecs < 1 {
		errs = append(errs, "engine: max_concurrent_execs must be >= 1")
	}

	// Execution
	if c.Execution.MaxRetries < 1 {
		errs = append(errs, "execution: max_retries must be >= 1")
	}
	if c.Execution.RetryBaseDelay.Duration <= 0 {
		errs = append(errs, "execution: retry_base_delay must be positive")
	}
	if c.Execution.MaxPriceImpact <= 0 || c.Execution.MaxPriceImpact > 1 {
		errs = append(errs, fmt.Sprintf("execution: max_price_impact must be within (0, 1], got %g", c.Execution.MaxPriceImpact))
	}
	if c.Execution.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "execution: confirm_timeout must be positive")
	}
	if c.Execution.PriorityFeeCeiling < c.Execution.PriorityFeeFloor {
		errs = append(errs, "execution: priority_fee_ceiling must be >= priority_fee_floor")
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
