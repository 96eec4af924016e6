// Package app owns the top-level lifecycle: it wires the dependency graph
// from configuration and runs the goroutines for the selected operating
// mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/solwatch/tokenbot/internal/config"
)

// App is the root application object. It holds the configuration, logger,
// and the cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies, starts the configured mode, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "trade", "paper":
		return a.tradingMode(ctx, deps)
	case "monitor":
		return a.monitorMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to
// call more than once.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
