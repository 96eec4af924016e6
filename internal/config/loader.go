package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TOKENBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TOKENBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "TOKENBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "TOKENBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "TOKENBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "TOKENBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "TOKENBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "TOKENBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "TOKENBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "TOKENBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "TOKENBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "TOKENBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TOKENBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TOKENBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TOKENBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TOKENBOT_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "TOKENBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TOKENBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TOKENBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "TOKENBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TOKENBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TOKENBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "TOKENBOT_S3_FORCE_PATH_STYLE")

	// ── Venues ──
	setStr(&cfg.Jupiter.PriceHost, "TOKENBOT_JUPITER_PRICE_HOST")
	setStr(&cfg.Jupiter.StreamHost, "TOKENBOT_JUPITER_STREAM_HOST")
	setDuration(&cfg.Jupiter.Timeout, "TOKENBOT_JUPITER_TIMEOUT")
	setStr(&cfg.Pumpfun.Host, "TOKENBOT_PUMPFUN_HOST")
	setDuration(&cfg.Pumpfun.Timeout, "TOKENBOT_PUMPFUN_TIMEOUT")

	// ── Prices ──
	setDuration(&cfg.Prices.CacheTTL, "TOKENBOT_PRICES_CACHE_TTL")
	setInt(&cfg.Prices.CacheCapacity, "TOKENBOT_PRICES_CACHE_CAPACITY")
	setInt(&cfg.Prices.DEXBatchSize, "TOKENBOT_PRICES_DEX_BATCH_SIZE")
	setInt(&cfg.Prices.CurveParallelism, "TOKENBOT_PRICES_CURVE_PARALLELISM")
	setDuration(&cfg.Prices.RefreshInterval, "TOKENBOT_PRICES_REFRESH_INTERVAL")
	setStringSlice(&cfg.Prices.Watchlist, "TOKENBOT_PRICES_WATCHLIST")

	// ── Classifier ──
	setDuration(&cfg.Classifier.ClassTTL, "TOKENBOT_CLASSIFIER_CLASS_TTL")
	setDuration(&cfg.Classifier.MigrationRecheck, "TOKENBOT_CLASSIFIER_MIGRATION_RECHECK")

	// ── Engine ──
	setDuration(&cfg.Engine.PollInterval, "TOKENBOT_ENGINE_POLL_INTERVAL")
	setFloat64(&cfg.Engine.Tolerance, "TOKENBOT_ENGINE_TOLERANCE")
	setFloat64(&cfg.Engine.MinOrderAmount, "TOKENBOT_ENGINE_MIN_ORDER_AMOUNT")
	setFloat64(&cfg.Engine.MaxOrderAmount, "TOKENBOT_ENGINE_MAX_ORDER_AMOUNT")
	setFloat64(&cfg.Engine.MaxSlippage, "TOKENBOT_ENGINE_MAX_SLIPPAGE")
	setBool(&cfg.Engine.StreamSubscription, "TOKENBOT_ENGINE_STREAM_SUBSCRIPTION")
	setInt(&cfg.Engine.MaxConcurrentExecs, "TOKENBOT_ENGINE_MAX_CONCURRENT_EXECS")

	// ── Execution ──
	setInt(&cfg.Execution.MaxRetries, "TOKENBOT_EXECUTION_MAX_RETRIES")
	setDuration(&cfg.Execution.RetryBaseDelay, "TOKENBOT_EXECUTION_RETRY_BASE_DELAY")
	setFloat64(&cfg.Execution.MaxPriceImpact, "TOKENBOT_EXECUTION_MAX_PRICE_IMPACT")
	setDuration(&cfg.Execution.ConfirmTimeout, "TOKENBOT_EXECUTION_CONFIRM_TIMEOUT")
	setBool(&cfg.Execution.MEVProtection, "TOKENBOT_EXECUTION_MEV_PROTECTION")
	setFloat64(&cfg.Execution.BundleTip, "TOKENBOT_EXECUTION_BUNDLE_TIP")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TOKENBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "TOKENBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "TOKENBOT_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TOKENBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TOKENBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TOKENBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TOKENBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "TOKENBOT_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "TOKENBOT_METRICS_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "TOKENBOT_MODE")
	setStr(&cfg.LogLevel, "TOKENBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
