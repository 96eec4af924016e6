package exec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solwatch/tokenbot/internal/domain"
)

// PriceGetter resolves a current market price for pre-submission validation.
type PriceGetter interface {
	GetPrice(ctx context.Context, token string) (domain.PriceQuote, error)
}

// Config carries the execution tunables.
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration

	// MaxPriceImpact is the quoted-impact ceiling; above it the attempt
	// aborts with ErrExcessiveImpact and the order stays pending.
	MaxPriceImpact float64

	ConfirmTimeout time.Duration

	MEVProtection bool
	BundleTip     float64

	PriorityFeeFloor   float64
	PriorityFeeCeiling float64
}

// Service executes eligible orders. Strategies are keyed by market class;
// the chain collaborators are shared across classes.
type Service struct {
	cfg        Config
	strategies map[domain.TokenClass]domain.SwapStrategy
	submitter  domain.TxSubmitter
	bundler    domain.BundleSubmitter
	confirmer  domain.Confirmer
	prices     PriceGetter
	fees       feeModel
	metrics    *Metrics
	logger     *slog.Logger
}

// NewService creates the execution service. bundler and metrics may be nil.
func NewService(
	cfg Config,
	strategies map[domain.TokenClass]domain.SwapStrategy,
	submitter domain.TxSubmitter,
	bundler domain.BundleSubmitter,
	confirmer domain.Confirmer,
	oracle domain.FeeOracle,
	prices PriceGetter,
	metrics *Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		cfg:        cfg,
		strategies: strategies,
		submitter:  submitter,
		bundler:    bundler,
		confirmer:  confirmer,
		prices:     prices,
		fees:       feeModel{oracle: oracle, floor: cfg.PriorityFeeFloor, ceiling: cfg.PriorityFeeCeiling},
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "execution_service")),
	}
}

// ExecuteOrderWithRetry runs the order through the retry policy. Transient
// failures back off and retry; policy aborts and ambiguous confirmations
// stop immediately.
func (s *Service) ExecuteOrderWithRetry(ctx context.Context, order domain.Order, class domain.TokenClass) (domain.ExecutionResult, error) {
	policy := retryPolicy{
		maxAttempts: s.cfg.MaxRetries,
		baseDelay:   s.cfg.RetryBaseDelay,
	}
	if policy.maxAttempts <= 0 {
		policy.maxAttempts = 3
	}
	if policy.baseDelay <= 0 {
		policy.baseDelay = time.Second
	}

	var result domain.ExecutionResult
	attempts, err := policy.run(ctx, func(ctx context.Context) error {
		started := time.Now()
		r, attemptErr := s.executeOrder(ctx, order, class)
		elapsed := time.Since(started)

		if attemptErr != nil {
			s.metrics.observeAttempt("failure", elapsed)
			s.logger.Warn("execution attempt failed",
				slog.String("order_id", order.ID),
				slog.Duration("elapsed", elapsed),
				slog.Any("error", attemptErr))
			return attemptErr
		}

		s.metrics.observeAttempt("success", elapsed)
		result = r
		return nil
	})

	result.Attempts = attempts
	if err != nil {
		return result, fmt.Errorf("exec: order %s: %w", order.ID, err)
	}
	return result, nil
}

// executeOrder is one full attempt: revalidate, quote, policy checks,
// build, submit, confirm.
func (s *Service) executeOrder(ctx context.Context, order domain.Order, class domain.TokenClass) (domain.ExecutionResult, error) {
	if err := s.validatePriceBeforeExecution(ctx, order); err != nil {
		return domain.ExecutionResult{}, err
	}

	strategy, ok := s.strategies[class]
	if !ok {
		return domain.ExecutionResult{}, fmt.Errorf("no strategy for class %s: %w", class, domain.ErrInvalidOrder)
	}

	tradable, err := strategy.CanTrade(ctx, order.Token)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("tradability check: %w", err)
	}
	if !tradable {
		return domain.ExecutionResult{}, fmt.Errorf("token %s not tradable: %w", order.Token, domain.ErrInvalidOrder)
	}

	params := domain.SwapParams{
		OwnerID:  order.OwnerID,
		Token:    order.Token,
		Side:     order.Side,
		Amount:   order.Amount,
		Slippage: order.Slippage,
	}

	quote, err := strategy.GetQuote(ctx, params)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("quote: %w", err)
	}
	s.metrics.observeImpact(quote.PriceImpact)

	if s.cfg.MaxPriceImpact > 0 && quote.PriceImpact > s.cfg.MaxPriceImpact {
		return domain.ExecutionResult{}, fmt.Errorf("impact %.4f over ceiling %.4f: %w",
			quote.PriceImpact, s.cfg.MaxPriceImpact, domain.ErrExcessiveImpact)
	}

	priorityFee := s.fees.priorityFee(ctx)
	s.metrics.observeFee(priorityFee)

	tx, err := strategy.BuildTransaction(ctx, params)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("build transaction: %w", err)
	}

	if err := s.submitter.Simulate(ctx, tx); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("simulate: %w", err)
	}

	txRef, err := s.submit(ctx, tx, priorityFee)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("submit: %w", err)
	}

	conf, err := s.confirmer.WaitForConfirmation(ctx, txRef, s.cfg.ConfirmTimeout)
	if err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("confirm %s: %w", txRef, err)
	}

	return buildResult(order, quote, conf), nil
}

// submit prefers the MEV-protected bundle path when enabled and falls back
// to the plain submitter when bundling fails.
func (s *Service) submit(ctx context.Context, tx domain.UnsignedTx, priorityFee float64) (string, error) {
	if s.cfg.MEVProtection && s.bundler != nil {
		txRef, err := s.bundler.SubmitBundle(ctx, tx, s.cfg.BundleTip)
		if err == nil {
			return txRef, nil
		}
		s.logger.Warn("bundle submission failed, falling back to plain path",
			slog.Any("error", err))
	}
	return s.submitter.Submit(ctx, tx, priorityFee)
}

// validatePriceBeforeExecution re-checks the market against the target with
// no tolerance. The monitoring band got the order here; a real fill must be
// at or beyond the target.
func (s *Service) validatePriceBeforeExecution(ctx context.Context, order domain.Order) error {
	quote, err := s.prices.GetPrice(ctx, order.Token)
	if err != nil {
		return fmt.Errorf("revalidate price: %w", err)
	}

	switch order.Side {
	case domain.OrderSideBuy:
		if quote.Price > order.TargetPrice {
			return fmt.Errorf("price %v above buy target %v: %w",
				quote.Price, order.TargetPrice, domain.ErrInvalidPrice)
		}
	case domain.OrderSideSell:
		if quote.Price < order.TargetPrice {
			return fmt.Errorf("price %v below sell target %v: %w",
				quote.Price, order.TargetPrice, domain.ErrInvalidPrice)
		}
	}
	return nil
}

// buildResult derives the fill from the confirmed output. FilledAmount is
// always the token quantity traded: what the buy received, or what the sell
// spent. FilledPrice is the realized per-token price.
func buildResult(order domain.Order, quote domain.SwapQuote, conf domain.Confirmation) domain.ExecutionResult {
	result := domain.ExecutionResult{
		TxRef: conf.TxRef,
		Fee:   quote.Fee,
	}

	if order.Side == domain.OrderSideBuy {
		result.FilledAmount = conf.OutputAmount
		if conf.OutputAmount > 0 {
			result.FilledPrice = order.Amount / conf.OutputAmount
		}
		return result
	}

	result.FilledAmount = order.Amount
	if order.Amount > 0 {
		result.FilledPrice = conf.OutputAmount / order.Amount
	}
	return result
}
