package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/solwatch/tokenbot/internal/domain"
)

// Executor runs an order against its venue with retries.
type Executor interface {
	ExecuteOrderWithRetry(ctx context.Context, order domain.Order, class domain.TokenClass) (domain.ExecutionResult, error)
}

// TradeRecorder applies a fill to the position ledger.
type TradeRecorder interface {
	RecordTrade(ctx context.Context, ownerID, token string, side domain.OrderSide, price, size float64, txRef string) (domain.Position, error)
}

// PriceGetter resolves a current market price.
type PriceGetter interface {
	GetPrice(ctx context.Context, token string) (domain.PriceQuote, error)
}

// ClassDetector resolves which market class a token trades on.
type ClassDetector interface {
	DetectClass(ctx context.Context, token string) (domain.TokenClass, error)
}

// Notifier pushes operator-facing event messages.
type Notifier interface {
	Notify(ctx context.Context, event, message string)
}

// Config carries the engine's tunables.
type Config struct {
	PollInterval   time.Duration
	Tolerance      float64 // execution tolerance band, as a fraction
	MinOrderAmount float64
	MaxOrderAmount float64
	MaxSlippage    float64

	// Per-owner creation rate limit.
	OrdersPerOwner int
	OwnerWindow    time.Duration

	// TTL for the per-order dispatch lock.
	ExecutionLockTTL time.Duration

	// Upper bound on concurrent executions per monitoring pass.
	MaxConcurrentExecs int
}

// OrderFilledFunc is called after a fill is fully recorded.
type OrderFilledFunc func(order domain.Order, result domain.ExecutionResult)

// OrderCancelledFunc is called for every order a cancellation touched.
type OrderCancelledFunc func(order domain.Order)

// Engine is the order lifecycle state machine. It owns creation,
// cancellation, the monitoring loop, and fill handling; swap mechanics live
// behind the Executor.
type Engine struct {
	cfg Config

	orders     domain.OrderStore
	prices     PriceGetter
	classifier ClassDetector
	executor   Executor
	ledger     TradeRecorder

	limiter domain.RateLimiter
	locks   domain.LockManager
	bus     domain.SignalBus
	audit   domain.AuditStore
	notify  Notifier

	onFilled    OrderFilledFunc
	onCancelled OrderCancelledFunc

	logger *slog.Logger
}

// Deps bundles the engine's collaborators. Limiter, Locks, Bus, Audit, and
// Notify may be nil; the engine degrades to running without them.
type Deps struct {
	Orders     domain.OrderStore
	Prices     PriceGetter
	Classifier ClassDetector
	Executor   Executor
	Ledger     TradeRecorder

	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Bus     domain.SignalBus
	Audit   domain.AuditStore
	Notify  Notifier
}

// New creates the engine.
func New(cfg Config, deps Deps, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		orders:     deps.Orders,
		prices:     deps.Prices,
		classifier: deps.Classifier,
		executor:   deps.Executor,
		ledger:     deps.Ledger,
		limiter:    deps.Limiter,
		locks:      deps.Locks,
		bus:        deps.Bus,
		audit:      deps.Audit,
		notify:     deps.Notify,
		logger:     logger.With(slog.String("component", "order_engine")),
	}
}

// OnOrderFilled registers the fill callback. Must be set before Start.
func (e *Engine) OnOrderFilled(fn OrderFilledFunc) { e.onFilled = fn }

// OnOrderCancelled registers the cancel callback. Must be set before Start.
func (e *Engine) OnOrderCancelled(fn OrderCancelledFunc) { e.onCancelled = fn }

// MonitorTask returns the periodic monitoring task, not yet started.
func (e *Engine) MonitorTask() *Task {
	return NewTask("order_monitor", e.cfg.PollInterval, e.runMonitorPass, e.logger)
}

// CreateOrder validates and persists a new order. A BUY carrying a
// take-profit percent also creates the linked SELL leg, inactive until the
// buy fills; both rows are written in one transaction.
func (e *Engine) CreateOrder(ctx context.Context, p domain.OrderParams) (domain.Order, error) {
	if err := e.validateParams(p); err != nil {
		return domain.Order{}, err
	}

	if e.limiter != nil {
		allowed, err := e.limiter.Allow(ctx, "orders:"+p.OwnerID, e.cfg.OrdersPerOwner, e.cfg.OwnerWindow)
		if err != nil {
			e.logger.Warn("rate limiter unavailable, allowing request", slog.Any("error", err))
		} else if !allowed {
			return domain.Order{}, fmt.Errorf("engine: create order for %s: %w", p.OwnerID, domain.ErrRateLimited)
		}
	}

	class, err := e.classifier.DetectClass(ctx, p.Token)
	if err != nil {
		return domain.Order{}, fmt.Errorf("engine: classify %s: %w", p.Token, err)
	}

	now := time.Now()
	order := domain.Order{
		ID:                uuid.NewString(),
		OwnerID:           p.OwnerID,
		Token:             p.Token,
		Side:              p.Side,
		Class:             class,
		Amount:            p.Amount,
		TargetPrice:       p.TargetPrice,
		Slippage:          p.Slippage,
		TakeProfitPercent: p.TakeProfitPercent,
		Status:            domain.OrderStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if p.Side == domain.OrderSideBuy && p.TakeProfitPercent > 0 {
		takeProfit := domain.Order{
			ID:               uuid.NewString(),
			OwnerID:          p.OwnerID,
			Token:            p.Token,
			Side:             domain.OrderSideSell,
			Class:            class,
			Amount:           0, // sized from the realized fill on activation
			TargetPrice:      p.TargetPrice * (1 + p.TakeProfitPercent/100),
			Slippage:         p.Slippage,
			Status:           domain.OrderStatusInactive,
			LinkedBuyOrderID: &order.ID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		order.LinkedTakeProfitOrderID = &takeProfit.ID

		if err := e.orders.CreateWithTakeProfit(ctx, order, takeProfit); err != nil {
			return domain.Order{}, fmt.Errorf("engine: create order pair: %w", err)
		}
	} else {
		if err := e.orders.Create(ctx, order); err != nil {
			return domain.Order{}, fmt.Errorf("engine: create order: %w", err)
		}
	}

	e.logger.Info("order created",
		slog.String("order_id", order.ID),
		slog.String("owner_id", order.OwnerID),
		slog.String("token", order.Token),
		slog.String("side", string(order.Side)),
		slog.Float64("target_price", order.TargetPrice))

	e.auditLog(ctx, "order_placed", map[string]any{
		"order_id": order.ID,
		"owner_id": order.OwnerID,
		"token":    order.Token,
		"side":     string(order.Side),
	})
	e.publish(ctx, "orders", order)

	return order, nil
}

func (e *Engine) validateParams(p domain.OrderParams) error {
	switch {
	case p.OwnerID == "":
		return fmt.Errorf("engine: missing owner: %w", domain.ErrInvalidOrder)
	case !domain.IsValidMint(p.Token):
		return fmt.Errorf("engine: bad mint address %q: %w", p.Token, domain.ErrInvalidOrder)
	case p.Side != domain.OrderSideBuy && p.Side != domain.OrderSideSell:
		return fmt.Errorf("engine: bad side %q: %w", p.Side, domain.ErrInvalidOrder)
	case p.TargetPrice <= 0:
		return fmt.Errorf("engine: target price must be positive: %w", domain.ErrInvalidOrder)
	case p.Amount < e.cfg.MinOrderAmount || p.Amount > e.cfg.MaxOrderAmount:
		return fmt.Errorf("engine: amount %v outside [%v, %v]: %w",
			p.Amount, e.cfg.MinOrderAmount, e.cfg.MaxOrderAmount, domain.ErrInvalidOrder)
	case p.Slippage < 0 || p.Slippage > e.cfg.MaxSlippage:
		return fmt.Errorf("engine: slippage %v outside [0, %v]: %w",
			p.Slippage, e.cfg.MaxSlippage, domain.ErrInvalidOrder)
	case p.TakeProfitPercent < 0:
		return fmt.Errorf("engine: take-profit percent must not be negative: %w", domain.ErrInvalidOrder)
	case p.TakeProfitPercent > 0 && p.Side != domain.OrderSideBuy:
		return fmt.Errorf("engine: take-profit only applies to buys: %w", domain.ErrInvalidOrder)
	}
	return nil
}

// CancelOrder cancels a pending order and cascades to a linked leg still
// pending or inactive. Orders in any other state return ErrInvalidState.
func (e *Engine) CancelOrder(ctx context.Context, id string) error {
	order, err := e.orders.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: cancel order %s: %w", id, err)
	}
	if !order.CanCancel() {
		return fmt.Errorf("engine: cancel order %s in status %s: %w",
			id, order.Status, domain.ErrInvalidState)
	}

	cancelled, err := e.orders.CancelLinked(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: cancel order %s: %w", id, err)
	}

	e.logger.Info("order cancelled",
		slog.String("order_id", id),
		slog.Int("cascade_count", len(cancelled)))

	for _, cid := range cancelled {
		co, err := e.orders.GetByID(ctx, cid)
		if err != nil {
			e.logger.Warn("cancelled order readback failed",
				slog.String("order_id", cid), slog.Any("error", err))
			continue
		}
		e.publish(ctx, "orders", co)
		if e.onCancelled != nil {
			e.onCancelled(co)
		}
	}

	e.auditLog(ctx, "order_cancelled", map[string]any{
		"order_id":  id,
		"cancelled": cancelled,
	})
	return nil
}

// shouldExecute applies the tolerance band: a BUY fires when the market is
// at or below target*(1+tol), a SELL when at or above target*(1-tol).
func (e *Engine) shouldExecute(order domain.Order, price float64) bool {
	switch order.Side {
	case domain.OrderSideBuy:
		return price <= order.TargetPrice*(1+e.cfg.Tolerance)
	case domain.OrderSideSell:
		return price >= order.TargetPrice*(1-e.cfg.Tolerance)
	default:
		return false
	}
}

// runMonitorPass evaluates every pending order against current prices and
// dispatches the ones inside their tolerance band.
func (e *Engine) runMonitorPass(ctx context.Context) {
	orders, err := e.orders.ListForMonitoring(ctx)
	if err != nil {
		e.logger.Error("monitoring list failed", slog.Any("error", err))
		return
	}
	if len(orders) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.MaxConcurrentExecs
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for _, order := range orders {
		g.Go(func() error {
			e.evaluateOrder(gctx, order)
			return nil
		})
	}
	_ = g.Wait()
}

// EvaluateToken evaluates only the pending orders for one token, used by
// the real-time price stream path. The price push is advisory; execution
// re-resolves the price through the aggregator.
func (e *Engine) EvaluateToken(ctx context.Context, token string) {
	orders, err := e.orders.ListForMonitoring(ctx)
	if err != nil {
		e.logger.Error("stream evaluation list failed", slog.Any("error", err))
		return
	}
	for _, order := range orders {
		if order.Token == token {
			e.evaluateOrder(ctx, order)
		}
	}
}

func (e *Engine) evaluateOrder(ctx context.Context, order domain.Order) {
	quote, err := e.prices.GetPrice(ctx, order.Token)
	if err != nil {
		e.logger.Warn("price unavailable for pending order",
			slog.String("order_id", order.ID),
			slog.String("token", order.Token),
			slog.Any("error", err))
		return
	}

	if !e.shouldExecute(order, quote.Price) {
		return
	}

	e.dispatch(ctx, order)
}

// dispatch moves one order through execution under the per-order lock so
// the polling and stream paths never double-submit.
func (e *Engine) dispatch(ctx context.Context, order domain.Order) {
	if e.locks != nil {
		unlock, err := e.locks.Acquire(ctx, "exec:"+order.ID, e.cfg.ExecutionLockTTL)
		if err != nil {
			if !errors.Is(err, domain.ErrLockHeld) {
				e.logger.Warn("dispatch lock failed",
					slog.String("order_id", order.ID), slog.Any("error", err))
			}
			return
		}
		defer unlock()
	}

	// Reload under the lock; another path may have already moved it.
	current, err := e.orders.GetByID(ctx, order.ID)
	if err != nil || current.Status != domain.OrderStatusPending {
		return
	}

	if err := e.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusExecuting); err != nil {
		e.logger.Error("mark executing failed",
			slog.String("order_id", order.ID), slog.Any("error", err))
		return
	}

	result, err := e.executor.ExecuteOrderWithRetry(ctx, current, current.Class)
	if err != nil {
		e.handleExecutionFailure(ctx, current, err)
		return
	}

	if err := e.HandleOrderFilled(ctx, current, result); err != nil {
		e.logger.Error("fill handling failed",
			slog.String("order_id", order.ID), slog.Any("error", err))
		e.parkUnrecordedFill(ctx, current, result, err)
	}
}

// parkUnrecordedFill surfaces a confirmed swap whose bookkeeping failed.
// The order moves to error with the fill data and tx reference kept on it
// so an operator can reconcile the ledger; it must not re-execute.
func (e *Engine) parkUnrecordedFill(ctx context.Context, order domain.Order, result domain.ExecutionResult, handleErr error) {
	order.Status = domain.OrderStatusError
	order.LastError = handleErr.Error()
	order.FilledAmount = result.FilledAmount
	order.FilledPrice = result.FilledPrice
	order.TxRef = result.TxRef
	order.Fee = result.Fee
	now := time.Now()
	order.LastRetryAt = &now
	if err := e.orders.Update(ctx, order); err != nil {
		e.logger.Error("park unrecorded fill failed",
			slog.String("order_id", order.ID), slog.Any("error", err))
	}

	e.auditLog(ctx, "fill_unrecorded", map[string]any{
		"order_id": order.ID,
		"tx_ref":   result.TxRef,
		"error":    handleErr.Error(),
	})
	e.notifyEvent(ctx, "order_failed",
		fmt.Sprintf("order %s (%s %s) filled on chain (tx %s) but recording failed: %v",
			order.ID, order.Side, order.Token, result.TxRef, handleErr))
}

// handleExecutionFailure maps an execution error back onto order state.
// Policy aborts (excessive impact, price moved off target since the poll)
// return the order to pending so a later pass can try again; everything
// else parks it in error.
func (e *Engine) handleExecutionFailure(ctx context.Context, order domain.Order, execErr error) {
	if errors.Is(execErr, domain.ErrExcessiveImpact) || errors.Is(execErr, domain.ErrInvalidPrice) {
		e.logger.Warn("execution aborted by policy, order stays pending",
			slog.String("order_id", order.ID),
			slog.Any("error", execErr))
		if err := e.orders.UpdateStatus(ctx, order.ID, domain.OrderStatusPending); err != nil {
			e.logger.Error("revert to pending failed",
				slog.String("order_id", order.ID), slog.Any("error", err))
		}
		return
	}

	e.logger.Error("execution failed",
		slog.String("order_id", order.ID), slog.Any("error", execErr))

	order.Status = domain.OrderStatusError
	order.LastError = execErr.Error()
	now := time.Now()
	order.LastRetryAt = &now
	if err := e.orders.Update(ctx, order); err != nil {
		e.logger.Error("mark error failed",
			slog.String("order_id", order.ID), slog.Any("error", err))
	}

	e.auditLog(ctx, "order_failed", map[string]any{
		"order_id": order.ID,
		"error":    execErr.Error(),
	})
	e.notifyEvent(ctx, "order_failed",
		fmt.Sprintf("order %s (%s %s) failed: %v", order.ID, order.Side, order.Token, execErr))
}

// HandleOrderFilled records the fill in the ledger, marks the order filled,
// and activates a linked take-profit leg, repriced off the realized fill.
func (e *Engine) HandleOrderFilled(ctx context.Context, order domain.Order, result domain.ExecutionResult) error {
	position, err := e.ledger.RecordTrade(ctx, order.OwnerID, order.Token, order.Side,
		result.FilledPrice, result.FilledAmount, result.TxRef)
	if err != nil {
		return fmt.Errorf("engine: record fill for %s: %w", order.ID, err)
	}

	order.Status = domain.OrderStatusFilled
	order.FilledAmount = result.FilledAmount
	order.FilledPrice = result.FilledPrice
	order.TxRef = result.TxRef
	order.Fee = result.Fee
	order.LinkedPositionID = &position.ID

	activatedTP := false
	if order.Side == domain.OrderSideBuy && order.LinkedTakeProfitOrderID != nil {
		takeProfit, err := e.orders.GetByID(ctx, *order.LinkedTakeProfitOrderID)
		if err != nil {
			return fmt.Errorf("engine: load take-profit leg: %w", err)
		}
		if takeProfit.Status == domain.OrderStatusInactive {
			takeProfit.Status = domain.OrderStatusPending
			takeProfit.TargetPrice = result.FilledPrice * (1 + order.TakeProfitPercent/100)
			takeProfit.Amount = result.FilledAmount
			takeProfit.LinkedPositionID = &position.ID

			if err := e.orders.UpdateLinked(ctx, order, takeProfit); err != nil {
				return fmt.Errorf("engine: activate take-profit: %w", err)
			}
			activatedTP = true

			e.logger.Info("take-profit activated",
				slog.String("order_id", takeProfit.ID),
				slog.Float64("target_price", takeProfit.TargetPrice),
				slog.Float64("amount", takeProfit.Amount))
			e.publish(ctx, "orders", takeProfit)
		}
	}
	if !activatedTP {
		if err := e.orders.Update(ctx, order); err != nil {
			return fmt.Errorf("engine: persist fill: %w", err)
		}
	}

	e.logger.Info("order filled",
		slog.String("order_id", order.ID),
		slog.String("tx_ref", result.TxRef),
		slog.Float64("filled_price", result.FilledPrice),
		slog.Float64("filled_amount", result.FilledAmount),
		slog.Int("attempts", result.Attempts))

	e.auditLog(ctx, "order_filled", map[string]any{
		"order_id":      order.ID,
		"tx_ref":        result.TxRef,
		"filled_price":  result.FilledPrice,
		"filled_amount": result.FilledAmount,
		"position_id":   position.ID,
	})
	e.publish(ctx, "orders", order)
	e.publish(ctx, "positions", position)
	e.notifyEvent(ctx, "order_filled",
		fmt.Sprintf("order %s filled: %s %s at %v (tx %s)",
			order.ID, order.Side, order.Token, result.FilledPrice, result.TxRef))

	if e.onFilled != nil {
		e.onFilled(order, result)
	}
	return nil
}

func (e *Engine) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.Warn("audit log failed", slog.String("event", event), slog.Any("error", err))
	}
}

func (e *Engine) publish(ctx context.Context, channel string, payload any) {
	if e.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Warn("event marshal failed", slog.String("channel", channel), slog.Any("error", err))
		return
	}
	if err := e.bus.Publish(ctx, channel, data); err != nil {
		e.logger.Warn("event publish failed", slog.String("channel", channel), slog.Any("error", err))
	}
}

func (e *Engine) notifyEvent(ctx context.Context, event, message string) {
	if e.notify == nil {
		return
	}
	e.notify.Notify(ctx, event, message)
}
