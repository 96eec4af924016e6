package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/solwatch/tokenbot/internal/domain"
	"github.com/solwatch/tokenbot/internal/engine"
)

// tradingMode runs the full engine: order monitoring, price refresh,
// optional real-time stream, optional archival, and the metrics listener.
// Both trade and paper mode land here; they differ only in wiring.
func (a *App) tradingMode(ctx context.Context, deps *Dependencies) error {
	deps.Classifier.OnClassChanged(func(token string, from, to domain.TokenClass) {
		deps.Notifier.Notify(ctx, "token_migrated",
			fmt.Sprintf("token %s migrated %s -> %s", token, from, to))
	})

	monitor := deps.Engine.MonitorTask()
	monitor.Start(ctx)
	defer monitor.Stop()

	refresh := engine.NewTask("price_refresh", a.cfg.Prices.RefreshInterval.Duration,
		func(ctx context.Context) { a.refreshPrices(ctx, deps) }, a.logger)
	refresh.Start(ctx)
	defer refresh.Stop()

	if deps.Archiver != nil {
		archive := engine.NewTask("archiver", a.cfg.Archive.Interval.Duration,
			func(ctx context.Context) {
				if err := deps.Archiver.Run(ctx); err != nil {
					a.logger.Error("archive pass failed", slog.Any("error", err))
				}
			}, a.logger)
		archive.Start(ctx)
		defer archive.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	if deps.Stream != nil {
		g.Go(func() error {
			return a.runStream(gctx, deps)
		})
	}
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return a.serveMetrics(gctx, deps)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	return g.Wait()
}

// monitorMode runs prices and classification only: the configured watchlist
// is refreshed on the price interval, with no persistence or execution.
func (a *App) monitorMode(ctx context.Context, deps *Dependencies) error {
	if len(a.cfg.Prices.Watchlist) == 0 {
		a.logger.Warn("monitor mode with empty watchlist, nothing to refresh")
	}

	refresh := engine.NewTask("price_refresh", a.cfg.Prices.RefreshInterval.Duration,
		func(ctx context.Context) { a.refreshPrices(ctx, deps) }, a.logger)
	refresh.Start(ctx)
	defer refresh.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Metrics.Enabled {
		g.Go(func() error {
			return a.serveMetrics(gctx, deps)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	return g.Wait()
}

// refreshPrices warms the price cache for the watchlist plus every token
// with a pending order, batching DEX tokens and fanning out curve tokens
// according to each token's class.
func (a *App) refreshPrices(ctx context.Context, deps *Dependencies) {
	seen := make(map[string]struct{})
	var tokens []string
	add := func(token string) {
		if _, ok := seen[token]; !ok {
			seen[token] = struct{}{}
			tokens = append(tokens, token)
		}
	}

	for _, t := range a.cfg.Prices.Watchlist {
		add(t)
	}
	if deps.Orders != nil {
		pending, err := deps.Orders.ListForMonitoring(ctx)
		if err != nil {
			a.logger.Warn("pending token listing failed", slog.Any("error", err))
		} else {
			for _, o := range pending {
				add(o.Token)
			}
		}
	}
	if len(tokens) == 0 {
		return
	}

	var dexTokens, curveTokens []string
	for _, token := range tokens {
		class, err := deps.Classifier.DetectClass(ctx, token)
		if err != nil {
			a.logger.Debug("classification failed during refresh",
				slog.String("token", token), slog.Any("error", err))
			continue
		}
		if class == domain.TokenClassBondingCurve {
			curveTokens = append(curveTokens, token)
		} else {
			dexTokens = append(dexTokens, token)
		}
	}

	if len(dexTokens) > 0 {
		if _, err := deps.Aggregator.GetDEXPrices(ctx, dexTokens); err != nil {
			a.logger.Warn("dex refresh failed", slog.Any("error", err))
		}
	}
	if len(curveTokens) > 0 {
		if _, err := deps.Aggregator.GetBondingCurvePrices(ctx, curveTokens); err != nil {
			a.logger.Warn("curve refresh failed", slog.Any("error", err))
		}
	}
}

// runStream connects the real-time price stream, keeps its subscription in
// sync with the pending-order token set, and feeds pushes into immediate
// order evaluation.
func (a *App) runStream(ctx context.Context, deps *Dependencies) error {
	if err := deps.Stream.Connect(ctx); err != nil {
		return fmt.Errorf("app: price stream: %w", err)
	}
	defer func() { _ = deps.Stream.Close() }()

	// Refresh the subscription on the poll interval so newly created
	// orders get stream coverage without a restart.
	resub := time.NewTicker(a.cfg.Engine.PollInterval.Duration)
	defer resub.Stop()

	subscribe := func() {
		pending, err := deps.Orders.ListForMonitoring(ctx)
		if err != nil {
			a.logger.Warn("stream subscription listing failed", slog.Any("error", err))
			return
		}
		seen := make(map[string]struct{})
		var tokens []string
		for _, o := range pending {
			if _, ok := seen[o.Token]; !ok {
				seen[o.Token] = struct{}{}
				tokens = append(tokens, o.Token)
			}
		}
		if len(tokens) == 0 {
			return
		}
		if err := deps.Stream.Subscribe(ctx, tokens); err != nil {
			a.logger.Warn("stream subscribe failed", slog.Any("error", err))
		}
	}
	subscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-resub.C:
			subscribe()
		case update, ok := <-deps.Stream.Updates():
			if !ok {
				return fmt.Errorf("app: price stream closed: %w", domain.ErrStreamClosed)
			}
			deps.Engine.EvaluateToken(ctx, update.Token)
		}
	}
}

// serveMetrics exposes the prometheus registry until the context ends.
func (a *App) serveMetrics(ctx context.Context, deps *Dependencies) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	a.logger.Info("metrics listener started", slog.Int("port", a.cfg.Metrics.Port))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: metrics listener: %w", err)
	}
}
