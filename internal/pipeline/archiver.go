// Package pipeline holds background maintenance jobs. The archiver moves
// terminal orders and old trades from the database to S3 cold storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solwatch/tokenbot/internal/domain"
)

// Archiver policy: rows older than the retention window, in batches of
// BatchSize per run, archived first and pruned only after the upload
// succeeded.
type Archiver struct {
	orders  domain.OrderStore
	trades  domain.TradeStore
	blob    domain.Archiver
	logger  *slog.Logger

	retention time.Duration
	batchSize int

	// now is swappable for tests.
	now func() time.Time
}

// NewArchiver creates the archive job.
func NewArchiver(orders domain.OrderStore, trades domain.TradeStore, blob domain.Archiver, retention time.Duration, batchSize int, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Archiver{
		orders:    orders,
		trades:    trades,
		blob:      blob,
		retention: retention,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// Run executes one archive pass: trades first, then terminal orders. A
// failed upload leaves the rows in place for the next pass.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)

	tradeCount, err := a.archiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive trades before %v: %w", cutoff, err)
	}

	orderCount, err := a.archiveOrders(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: archive orders before %v: %w", cutoff, err)
	}

	if tradeCount > 0 || orderCount > 0 {
		a.logger.Info("archive pass complete",
			slog.Time("cutoff", cutoff),
			slog.Int("trades", tradeCount),
			slog.Int("orders", orderCount))
	}
	return nil
}

func (a *Archiver) archiveTrades(ctx context.Context, cutoff time.Time) (int, error) {
	trades, err := a.trades.ListBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, err
	}
	if len(trades) == 0 {
		return 0, nil
	}

	records := make([]any, len(trades))
	for i, t := range trades {
		records[i] = t
	}

	key := archiveKey("trades", a.now())
	if err := a.blob.ArchiveJSONL(ctx, key, records); err != nil {
		return 0, err
	}

	// Prune only rows covered by the uploaded batch.
	pruneCutoff := trades[len(trades)-1].Timestamp.Add(time.Nanosecond)
	if pruneCutoff.After(cutoff) {
		pruneCutoff = cutoff
	}
	if _, err := a.trades.DeleteBefore(ctx, pruneCutoff); err != nil {
		return 0, fmt.Errorf("prune after upload to %s: %w", key, err)
	}

	return len(trades), nil
}

// archiveOrders uploads and deletes terminal orders older than the cutoff.
// Orders still pending, executing, inactive, or in error are never touched.
func (a *Archiver) archiveOrders(ctx context.Context, cutoff time.Time) (int, error) {
	var old []domain.Order
collect:
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusFilled,
		domain.OrderStatusCancelled,
		domain.OrderStatusExpired,
	} {
		orders, err := a.orders.ListByStatus(ctx, status)
		if err != nil {
			return 0, err
		}
		for _, o := range orders {
			if o.UpdatedAt.Before(cutoff) {
				old = append(old, o)
			}
			if len(old) >= a.batchSize {
				break collect
			}
		}
	}
	if len(old) == 0 {
		return 0, nil
	}

	records := make([]any, len(old))
	for i, o := range old {
		records[i] = o
	}

	key := archiveKey("orders", a.now())
	if err := a.blob.ArchiveJSONL(ctx, key, records); err != nil {
		return 0, err
	}

	for _, o := range old {
		if err := a.orders.Delete(ctx, o.ID); err != nil {
			a.logger.Warn("prune archived order failed",
				slog.String("order_id", o.ID), slog.Any("error", err))
		}
	}

	return len(old), nil
}

func archiveKey(kind string, now time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, now.UTC().Format("2006/01/02"), now.UTC().Format("150405"))
}
