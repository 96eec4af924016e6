package price

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/solwatch/tokenbot/internal/domain"
)

// ClassChangedFunc is called when a token migrates from the bonding curve
// to pooled DEX liquidity.
type ClassChangedFunc func(token string, from, to domain.TokenClass)

// Classifier decides which market class a token trades on and caches the
// answer. Classification only moves bonding_curve to amm; a cached amm
// entry is trusted until it expires and is never re-probed for migration.
type Classifier struct {
	curve domain.PriceSource
	dex   domain.PriceSource

	classTTL         time.Duration
	migrationRecheck time.Duration

	mu      sync.Mutex
	entries map[string]domain.TokenClassification

	onClassChanged ClassChangedFunc
	logger         *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewClassifier creates a Classifier. migrationRecheck should be shorter
// than classTTL so curve-bound tokens are probed for migration more often
// than their classification expires.
func NewClassifier(curve, dex domain.PriceSource, classTTL, migrationRecheck time.Duration, logger *slog.Logger) *Classifier {
	return &Classifier{
		curve:            curve,
		dex:              dex,
		classTTL:         classTTL,
		migrationRecheck: migrationRecheck,
		entries:          make(map[string]domain.TokenClassification),
		logger:           logger.With(slog.String("component", "token_classifier")),
		now:              time.Now,
	}
}

// OnClassChanged registers the migration callback. Must be called before
// the classifier is shared across goroutines.
func (c *Classifier) OnClassChanged(fn ClassChangedFunc) {
	c.onClassChanged = fn
}

// DetectClass returns the token's market class, reusing the cached answer
// while it is fresh. Curve-bound tokens are re-probed for migration on the
// recheck cadence even while the cached class is still valid.
func (c *Classifier) DetectClass(ctx context.Context, token string) (domain.TokenClass, error) {
	now := c.now()

	c.mu.Lock()
	entry, ok := c.entries[token]
	c.mu.Unlock()

	if ok && now.Sub(entry.CheckedAt) < c.classTTL {
		if entry.Class == domain.TokenClassAMM {
			return domain.TokenClassAMM, nil
		}
		if now.Sub(entry.LastMigrationCheck) < c.migrationRecheck {
			return entry.Class, nil
		}
		return c.recheckMigration(ctx, token, entry)
	}

	return c.resolve(ctx, token)
}

// ForceUpdate drops the cached entry and re-resolves the token.
func (c *Classifier) ForceUpdate(ctx context.Context, token string) (domain.TokenClass, error) {
	c.mu.Lock()
	delete(c.entries, token)
	c.mu.Unlock()

	return c.resolve(ctx, token)
}

// recheckMigration probes the curve venue for a still-curve-bound token. A
// migrated answer flips the cached class to amm and fires the callback.
func (c *Classifier) recheckMigration(ctx context.Context, token string, entry domain.TokenClassification) (domain.TokenClass, error) {
	status, err := c.curve.GetTokenStatus(ctx, token)
	if err != nil {
		// Keep the cached class on probe failure; the next tick retries.
		c.logger.Warn("migration probe failed",
			slog.String("token", token), slog.Any("error", err))
		return entry.Class, nil
	}

	now := c.now()
	entry.LastMigrationCheck = now

	if status.Migrated {
		old := entry.Class
		entry.Class = domain.TokenClassAMM
		entry.CheckedAt = now

		c.mu.Lock()
		c.entries[token] = entry
		c.mu.Unlock()

		c.logger.Info("token migrated to pooled liquidity",
			slog.String("token", token))
		if c.onClassChanged != nil {
			c.onClassChanged(token, old, domain.TokenClassAMM)
		}
		return domain.TokenClassAMM, nil
	}

	c.mu.Lock()
	c.entries[token] = entry
	c.mu.Unlock()
	return entry.Class, nil
}

// resolve classifies from scratch: curve status first, DEX tradability as
// the fallback signal.
func (c *Classifier) resolve(ctx context.Context, token string) (domain.TokenClass, error) {
	now := c.now()

	status, err := c.curve.GetTokenStatus(ctx, token)
	if err == nil && status.Exists {
		class := domain.TokenClassAMM
		if status.OnCurve && !status.Migrated {
			class = domain.TokenClassBondingCurve
		}
		c.store(token, class, now)
		return class, nil
	}
	if err != nil {
		c.logger.Debug("curve status probe failed",
			slog.String("token", token), slog.Any("error", err))
	}

	dexStatus, err := c.dex.GetTokenStatus(ctx, token)
	if err != nil {
		return "", fmt.Errorf("price: classify %s: %w", token, err)
	}
	if !dexStatus.Exists {
		return "", fmt.Errorf("price: classify %s: %w", token, domain.ErrNotFound)
	}

	c.store(token, domain.TokenClassAMM, now)
	return domain.TokenClassAMM, nil
}

func (c *Classifier) store(token string, class domain.TokenClass, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.entries[token]
	// Never downgrade a known amm token back to the curve.
	if ok && old.Class == domain.TokenClassAMM && class == domain.TokenClassBondingCurve {
		class = domain.TokenClassAMM
	}

	c.entries[token] = domain.TokenClassification{
		Token:              token,
		Class:              class,
		CheckedAt:          now,
		LastMigrationCheck: now,
	}
}
