package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/solwatch/tokenbot/internal/blob/s3"
	"github.com/solwatch/tokenbot/internal/cache/memory"
	"github.com/solwatch/tokenbot/internal/cache/redis"
	"github.com/solwatch/tokenbot/internal/config"
	"github.com/solwatch/tokenbot/internal/domain"
	"github.com/solwatch/tokenbot/internal/engine"
	"github.com/solwatch/tokenbot/internal/exec"
	"github.com/solwatch/tokenbot/internal/ledger"
	"github.com/solwatch/tokenbot/internal/notify"
	"github.com/solwatch/tokenbot/internal/pipeline"
	"github.com/solwatch/tokenbot/internal/platform/jupiter"
	"github.com/solwatch/tokenbot/internal/platform/paper"
	"github.com/solwatch/tokenbot/internal/platform/pumpfun"
	"github.com/solwatch/tokenbot/internal/price"
	"github.com/solwatch/tokenbot/internal/store/cached"
	"github.com/solwatch/tokenbot/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Wire constructs it; the
// returned cleanup function tears resources down in reverse order.
type Dependencies struct {
	// Stores
	Orders    domain.OrderStore
	Positions domain.PositionStore
	Trades    domain.TradeStore
	Audit     domain.AuditStore

	// Prices
	Aggregator *price.Aggregator
	Classifier *price.Classifier
	Stream     *jupiter.Stream

	// Trading
	Engine   *engine.Engine
	Ledger   *ledger.Ledger
	Executor *exec.Service

	// Supporting services
	Bus      domain.SignalBus
	Notifier *notify.Notifier
	Archiver *pipeline.Archiver
	Registry *prometheus.Registry
}

// needsPostgres reports whether the mode persists anything.
func needsPostgres(mode string) bool {
	return mode == "trade" || mode == "paper"
}

// needsRedis matches needsPostgres: the order cache, rate limiter, dispatch
// lock, and signal bus only matter when orders flow.
func needsRedis(mode string) bool {
	return mode == "trade" || mode == "paper"
}

// Wire constructs the full dependency graph for the configured mode.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Registry: prometheus.NewRegistry(),
	}

	// Venue clients and the price layer run in every mode.
	dex := jupiter.NewClient(cfg.Jupiter.PriceHost, cfg.Jupiter.Timeout.Duration)
	curve := pumpfun.NewClient(cfg.Pumpfun.Host, cfg.Pumpfun.Timeout.Duration)

	priceCache := memory.NewPriceCache(cfg.Prices.CacheTTL.Duration, cfg.Prices.CacheCapacity)
	deps.Aggregator = price.NewAggregator(dex, curve, priceCache,
		cfg.Prices.DEXBatchSize, cfg.Prices.CurveParallelism, logger)
	deps.Classifier = price.NewClassifier(curve, dex,
		cfg.Classifier.ClassTTL.Duration, cfg.Classifier.MigrationRecheck.Duration, logger)

	// Notifications run in every mode; with no channels configured the
	// notifier is a no-op.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscord(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	if mode == "monitor" {
		return deps, cleanup, nil
	}

	// --- PostgreSQL ---
	var pgClient *postgres.Client
	if needsPostgres(mode) {
		var err error
		pgClient, err = postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Orders = postgres.NewOrderStore(pool)
		deps.Positions = postgres.NewPositionStore(pool)
		deps.Trades = postgres.NewTradeStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	var (
		limiter domain.RateLimiter
		locks   domain.LockManager
	)
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		orderCache := redis.NewOrderCache(redisClient, 5*time.Minute)
		deps.Orders = cached.NewOrderStore(deps.Orders, orderCache, logger)

		limiter = redis.NewRateLimiter(redisClient)
		locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
	}

	// --- Ledger ---
	deps.Ledger = ledger.New(deps.Positions, deps.Aggregator, logger)

	// --- Venue strategies and chain collaborators ---
	// The paper venue is the in-repo binding for the swap and chain
	// interfaces; live venue strategies are injected in their place when a
	// deployment provides them.
	venue := paper.NewVenue(func(ctx context.Context, token string) (float64, error) {
		q, err := deps.Aggregator.GetPrice(ctx, token)
		if err != nil {
			return 0, err
		}
		return q.Price, nil
	}, logger)

	strategies := map[domain.TokenClass]domain.SwapStrategy{
		domain.TokenClassAMM:          venue,
		domain.TokenClassBondingCurve: venue,
	}

	execCfg := exec.Config{
		MaxRetries:         cfg.Execution.MaxRetries,
		RetryBaseDelay:     cfg.Execution.RetryBaseDelay.Duration,
		MaxPriceImpact:     cfg.Execution.MaxPriceImpact,
		ConfirmTimeout:     cfg.Execution.ConfirmTimeout.Duration,
		MEVProtection:      cfg.Execution.MEVProtection && mode == "trade",
		BundleTip:          cfg.Execution.BundleTip,
		PriorityFeeFloor:   cfg.Execution.PriorityFeeFloor,
		PriorityFeeCeiling: cfg.Execution.PriorityFeeCeiling,
	}
	deps.Executor = exec.NewService(execCfg, strategies, venue, venue, venue, venue,
		deps.Aggregator, exec.NewMetrics(deps.Registry), logger)

	// --- Engine ---
	deps.Engine = engine.New(engine.Config{
		PollInterval:       cfg.Engine.PollInterval.Duration,
		Tolerance:          cfg.Engine.Tolerance,
		MinOrderAmount:     cfg.Engine.MinOrderAmount,
		MaxOrderAmount:     cfg.Engine.MaxOrderAmount,
		MaxSlippage:        cfg.Engine.MaxSlippage,
		OrdersPerOwner:     cfg.Engine.OrdersPerOwner,
		OwnerWindow:        cfg.Engine.OwnerWindow.Duration,
		ExecutionLockTTL:   cfg.Engine.ExecutionLockTTL.Duration,
		MaxConcurrentExecs: cfg.Engine.MaxConcurrentExecs,
	}, engine.Deps{
		Orders:     deps.Orders,
		Prices:     deps.Aggregator,
		Classifier: deps.Classifier,
		Executor:   deps.Executor,
		Ledger:     deps.Ledger,
		Limiter:    limiter,
		Locks:      locks,
		Bus:        deps.Bus,
		Audit:      deps.Audit,
		Notify:     deps.Notifier,
	}, logger)

	// --- Real-time price stream ---
	if cfg.Engine.StreamSubscription {
		deps.Stream = jupiter.NewStream(cfg.Jupiter.StreamHost, logger)
	}

	// --- Cold-storage archival ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		retention := time.Duration(cfg.Archive.RetentionDays) * 24 * time.Hour
		deps.Archiver = pipeline.NewArchiver(deps.Orders, deps.Trades,
			s3blob.NewWriter(s3Client), retention, cfg.Archive.BatchSize, logger)
	}

	return deps, cleanup, nil
}
