package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/tokenbot/internal/domain"
)

const testMint = "So11111111111111111111111111111111111111112"

// memOrderStore is an in-memory domain.OrderStore for engine tests.
type memOrderStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]domain.Order)}
}

var _ domain.OrderStore = (*memOrderStore)(nil)

func (s *memOrderStore) Create(ctx context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *memOrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOrderStore) ListByOwner(ctx context.Context, ownerID string, opts domain.ListOpts) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) ListByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) ListActiveByOwner(ctx context.Context, ownerID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.OwnerID == ownerID && !o.Status.IsTerminal() {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) GetLinked(ctx context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	var linkedID *string
	switch {
	case o.LinkedTakeProfitOrderID != nil:
		linkedID = o.LinkedTakeProfitOrderID
	case o.LinkedBuyOrderID != nil:
		linkedID = o.LinkedBuyOrderID
	default:
		return domain.Order{}, domain.ErrNotFound
	}
	linked, ok := s.orders[*linkedID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return linked, nil
}

func (s *memOrderStore) ListByPosition(ctx context.Context, positionID string) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.LinkedPositionID != nil && *o.LinkedPositionID == positionID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOrderStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	return out, nil
}

func (s *memOrderStore) Update(ctx context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return domain.ErrNotFound
	}
	s.orders[o.ID] = o
	return nil
}

func (s *memOrderStore) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.Status = status
	s.orders[id] = o
	return nil
}

func (s *memOrderStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, id)
	return nil
}

func (s *memOrderStore) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, o := range s.orders {
		if o.OwnerID == ownerID {
			delete(s.orders, id)
			n++
		}
	}
	return n, nil
}

func (s *memOrderStore) Stats(ctx context.Context) (domain.OrderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := domain.OrderStats{ByStatus: make(map[domain.OrderStatus]int)}
	for _, o := range s.orders {
		stats.ByStatus[o.Status]++
		stats.Total++
	}
	return stats, nil
}

func (s *memOrderStore) ListForMonitoring(ctx context.Context) ([]domain.Order, error) {
	return s.ListByStatus(ctx, domain.OrderStatusPending)
}

func (s *memOrderStore) CreateWithTakeProfit(ctx context.Context, buy, takeProfit domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[buy.ID] = buy
	s.orders[takeProfit.ID] = takeProfit
	return nil
}

func (s *memOrderStore) UpdateLinked(ctx context.Context, a, b domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[a.ID] = a
	s.orders[b.ID] = b
	return nil
}

func (s *memOrderStore) CancelLinked(ctx context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	o.Status = domain.OrderStatusCancelled
	s.orders[id] = o
	cancelled := []string{id}

	var linkedID *string
	switch {
	case o.LinkedTakeProfitOrderID != nil:
		linkedID = o.LinkedTakeProfitOrderID
	case o.LinkedBuyOrderID != nil:
		linkedID = o.LinkedBuyOrderID
	}
	if linkedID != nil {
		if linked, ok := s.orders[*linkedID]; ok &&
			(linked.Status == domain.OrderStatusPending || linked.Status == domain.OrderStatusInactive) {
			linked.Status = domain.OrderStatusCancelled
			s.orders[linked.ID] = linked
			cancelled = append(cancelled, linked.ID)
		}
	}
	return cancelled, nil
}

func (s *memOrderStore) BatchUpdateStatus(ctx context.Context, ids []string, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			o.Status = status
			s.orders[id] = o
		}
	}
	return nil
}

func (s *memOrderStore) BatchUpdate(ctx context.Context, orders []domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return nil
}

// fakeExecutor fills every order at a scripted price, or fails with err.
type fakeExecutor struct {
	mu    sync.Mutex
	price float64
	err   error
	calls int
}

func (f *fakeExecutor) ExecuteOrderWithRetry(ctx context.Context, order domain.Order, class domain.TokenClass) (domain.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return domain.ExecutionResult{Attempts: 1}, f.err
	}
	amount := order.Amount
	if order.Side == domain.OrderSideBuy {
		amount = order.Amount / f.price
	}
	return domain.ExecutionResult{
		TxRef:        "tx-" + uuid.NewString(),
		FilledAmount: amount,
		FilledPrice:  f.price,
		Fee:          0.0025,
		Attempts:     1,
	}, nil
}

// fakeLedger records calls and returns a stable position.
type fakeLedger struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeLedger) RecordTrade(ctx context.Context, ownerID, token string, side domain.OrderSide, price, size float64, txRef string) (domain.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Position{}, f.err
	}
	f.calls = append(f.calls, fmt.Sprintf("%s %s %v@%v", side, token, size, price))
	return domain.Position{
		ID:      "pos-1",
		OwnerID: ownerID,
		Token:   token,
		Size:    size,
		Status:  domain.PositionStatusOpen,
	}, nil
}

type staticPrice struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (s *staticPrice) set(p float64) {
	s.mu.Lock()
	s.price = p
	s.mu.Unlock()
}

func (s *staticPrice) GetPrice(ctx context.Context, token string) (domain.PriceQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.PriceQuote{}, s.err
	}
	return domain.PriceQuote{Token: token, Price: s.price, Timestamp: time.Now()}, nil
}

type staticClass domain.TokenClass

func (s staticClass) DetectClass(ctx context.Context, token string) (domain.TokenClass, error) {
	return domain.TokenClass(s), nil
}

func testConfig() Config {
	return Config{
		PollInterval:   time.Second,
		Tolerance:      0.01,
		MinOrderAmount: 0.001,
		MaxOrderAmount: 100,
		MaxSlippage:    0.05,
	}
}

type engineFixture struct {
	engine   *Engine
	store    *memOrderStore
	prices   *staticPrice
	executor *fakeExecutor
	ledger   *fakeLedger
}

func newFixture(cfg Config) *engineFixture {
	f := &engineFixture{
		store:    newMemOrderStore(),
		prices:   &staticPrice{price: 1.0},
		executor: &fakeExecutor{price: 1.0},
		ledger:   &fakeLedger{},
	}
	f.engine = New(cfg, Deps{
		Orders:     f.store,
		Prices:     f.prices,
		Classifier: staticClass(domain.TokenClassAMM),
		Executor:   f.executor,
		Ledger:     f.ledger,
	}, slog.Default())
	return f
}

func buyParams() domain.OrderParams {
	return domain.OrderParams{
		OwnerID:     "owner-1",
		Token:       testMint,
		Side:        domain.OrderSideBuy,
		Amount:      1.0,
		TargetPrice: 0.00001,
		Slippage:    0.01,
	}
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(testConfig())

	order, err := f.engine.CreateOrder(context.Background(), buyParams())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, domain.TokenClassAMM, order.Class)
	assert.Nil(t, order.LinkedTakeProfitOrderID)

	stored, err := f.store.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
}

func TestCreateOrderValidation(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*domain.OrderParams)
	}{
		{"missing owner", func(p *domain.OrderParams) { p.OwnerID = "" }},
		{"bad mint", func(p *domain.OrderParams) { p.Token = "not-a-mint" }},
		{"bad side", func(p *domain.OrderParams) { p.Side = "hold" }},
		{"zero target", func(p *domain.OrderParams) { p.TargetPrice = 0 }},
		{"amount too small", func(p *domain.OrderParams) { p.Amount = 0.0001 }},
		{"amount too large", func(p *domain.OrderParams) { p.Amount = 1000 }},
		{"negative slippage", func(p *domain.OrderParams) { p.Slippage = -0.01 }},
		{"slippage over max", func(p *domain.OrderParams) { p.Slippage = 0.5 }},
		{"negative take profit", func(p *domain.OrderParams) { p.TakeProfitPercent = -5 }},
		{"take profit on sell", func(p *domain.OrderParams) {
			p.Side = domain.OrderSideSell
			p.TakeProfitPercent = 10
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := buyParams()
			tc.mutate(&p)
			_, err := f.engine.CreateOrder(ctx, p)
			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}

	stats, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total, "rejected params must persist nothing")
}

func TestCreateOrderWithTakeProfit(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	p := buyParams()
	p.TakeProfitPercent = 50

	order, err := f.engine.CreateOrder(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, order.LinkedTakeProfitOrderID)

	tp, err := f.store.GetByID(ctx, *order.LinkedTakeProfitOrderID)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusInactive, tp.Status)
	assert.Equal(t, domain.OrderSideSell, tp.Side)
	assert.InDelta(t, 0.000015, tp.TargetPrice, 1e-15)
	assert.Zero(t, tp.Amount, "the leg is sized from the realized fill")
	require.NotNil(t, tp.LinkedBuyOrderID)
	assert.Equal(t, order.ID, *tp.LinkedBuyOrderID)
}

func TestCancelOrderCascades(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	p := buyParams()
	p.TakeProfitPercent = 50
	order, err := f.engine.CreateOrder(ctx, p)
	require.NoError(t, err)

	var cancelled []string
	f.engine.OnOrderCancelled(func(o domain.Order) {
		cancelled = append(cancelled, o.ID)
	})

	require.NoError(t, f.engine.CancelOrder(ctx, order.ID))

	buy, err := f.store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, buy.Status)

	tp, err := f.store.GetByID(ctx, *order.LinkedTakeProfitOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, tp.Status)

	assert.ElementsMatch(t, []string{order.ID, tp.ID}, cancelled)
}

func TestCancelOrderInvalidState(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, buyParams())
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateStatus(ctx, order.ID, domain.OrderStatusFilled))

	err = f.engine.CancelOrder(ctx, order.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestShouldExecuteToleranceBand(t *testing.T) {
	f := newFixture(testConfig())

	buy := domain.Order{Side: domain.OrderSideBuy, TargetPrice: 100}
	assert.True(t, f.engine.shouldExecute(buy, 100))
	assert.True(t, f.engine.shouldExecute(buy, 101), "inside the band above target")
	assert.True(t, f.engine.shouldExecute(buy, 95))
	assert.False(t, f.engine.shouldExecute(buy, 101.01))

	sell := domain.Order{Side: domain.OrderSideSell, TargetPrice: 100}
	assert.True(t, f.engine.shouldExecute(sell, 100))
	assert.True(t, f.engine.shouldExecute(sell, 99), "inside the band below target")
	assert.True(t, f.engine.shouldExecute(sell, 120))
	assert.False(t, f.engine.shouldExecute(sell, 98.99))
}

func TestMonitorPassFillsEligibleOrder(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, buyParams())
	require.NoError(t, err)

	f.prices.set(0.0000095)
	f.executor.price = 0.0000095

	f.engine.runMonitorPass(ctx)

	filled, err := f.store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, filled.Status)
	assert.Equal(t, 0.0000095, filled.FilledPrice)
	assert.NotEmpty(t, filled.TxRef)
	require.NotNil(t, filled.LinkedPositionID)
	require.Len(t, f.ledger.calls, 1)
}

func TestMonitorPassSkipsOutOfBandOrder(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, buyParams())
	require.NoError(t, err)

	f.prices.set(0.00002)
	f.engine.runMonitorPass(ctx)

	stored, err := f.store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Zero(t, f.executor.calls)
}

func TestMonitorPassIdempotent(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	_, err := f.engine.CreateOrder(ctx, buyParams())
	require.NoError(t, err)

	f.prices.set(0.0000095)
	f.executor.price = 0.0000095

	f.engine.runMonitorPass(ctx)
	f.engine.runMonitorPass(ctx)

	assert.Equal(t, 1, f.executor.calls, "a filled order must not execute again")
	assert.Len(t, f.ledger.calls, 1)
}

func TestTakeProfitActivationOnFill(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	p := buyParams()
	p.TakeProfitPercent = 50
	order, err := f.engine.CreateOrder(ctx, p)
	require.NoError(t, err)

	// Fill realizes slightly under target; the leg reprices off the fill.
	f.prices.set(0.0000095)
	f.executor.price = 0.0000095

	f.engine.runMonitorPass(ctx)

	buy, err := f.store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusFilled, buy.Status)

	tp, err := f.store.GetByID(ctx, *order.LinkedTakeProfitOrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, tp.Status)
	assert.InDelta(t, 0.0000095*1.5, tp.TargetPrice, 1e-15)
	assert.Equal(t, buy.FilledAmount, tp.Amount, "the leg sells exactly what the buy received")
	require.NotNil(t, tp.LinkedPositionID)
}

func TestBuyAndTakeProfitLifecycle(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	p := buyParams()
	p.TakeProfitPercent = 50
	order, err := f.engine.CreateOrder(ctx, p)
	require.NoError(t, err)

	f.prices.set(0.0000095)
	f.executor.price = 0.0000095
	f.engine.runMonitorPass(ctx)

	tpID := *order.LinkedTakeProfitOrderID
	tp, err := f.store.GetByID(ctx, tpID)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPending, tp.Status)

	// Market reaches the repriced take-profit target.
	f.prices.set(tp.TargetPrice)
	f.executor.price = tp.TargetPrice
	f.engine.runMonitorPass(ctx)

	tp, err = f.store.GetByID(ctx, tpID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, tp.Status)
	require.Len(t, f.ledger.calls, 2)
}

func TestExecutionPolicyAbortKeepsOrderPending(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, buyParams())
	require.NoError(t, err)

	f.prices.set(0.0000095)
	f.executor.err = fmt.Errorf("impact over ceiling: %w", domain.ErrExcessiveImpact)

	f.engine.runMonitorPass(ctx)

	stored, err := f.store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, stored.Status)
	assert.Empty(t, f.ledger.calls)
}

func TestExecutionFailureParksOrderInError(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, buyParams())
	require.NoError(t, err)

	f.prices.set(0.0000095)
	f.executor.err = fmt.Errorf("deadline: %w", domain.ErrConfirmationTimeout)

	f.engine.runMonitorPass(ctx)

	stored, err := f.store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusError, stored.Status)
	assert.NotEmpty(t, stored.LastError)
	require.NotNil(t, stored.LastRetryAt)
}

func TestFillRecordingFailureParksOrderWithFillData(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, buyParams())
	require.NoError(t, err)

	f.prices.set(0.0000095)
	f.executor.price = 0.0000095
	f.ledger.err = fmt.Errorf("storage down")

	f.engine.runMonitorPass(ctx)

	stored, err := f.store.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusError, stored.Status)
	assert.Contains(t, stored.LastError, "storage down")
	require.NotNil(t, stored.LastRetryAt)

	// The swap confirmed, so the fill must survive on the order for
	// later reconciliation.
	assert.NotEmpty(t, stored.TxRef)
	assert.InDelta(t, 0.0000095, stored.FilledPrice, 1e-12)
	assert.InDelta(t, 1.0/0.0000095, stored.FilledAmount, 1e-3)

	// Once parked, a later pass must not re-execute even after the
	// ledger recovers.
	f.ledger.err = nil
	f.engine.runMonitorPass(ctx)
	assert.Equal(t, 1, f.executor.calls)
	assert.Empty(t, f.ledger.calls)
}

func TestEvaluateTokenOnlyTouchesMatchingOrders(t *testing.T) {
	f := newFixture(testConfig())
	ctx := context.Background()

	matching, err := f.engine.CreateOrder(ctx, buyParams())
	require.NoError(t, err)

	other := buyParams()
	other.Token = "JUPyiwrYJFskUPiHa7hkeR8VUtAeFoSYbKedZNsDvCN"
	unrelated, err := f.engine.CreateOrder(ctx, other)
	require.NoError(t, err)

	f.prices.set(0.0000095)
	f.executor.price = 0.0000095

	f.engine.EvaluateToken(ctx, testMint)

	m, err := f.store.GetByID(ctx, matching.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, m.Status)

	u, err := f.store.GetByID(ctx, unrelated.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, u.Status)
}
