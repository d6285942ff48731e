package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpbot/internal/account"
	"perpbot/internal/domain"
	"perpbot/internal/ports"
	"perpbot/internal/sizing"
)

// --- Mocks ---

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...map[string]interface{})        {}
func (nopLogger) Info(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Warn(context.Context, string, ...map[string]interface{})         {}
func (nopLogger) Error(context.Context, error, string, ...map[string]interface{}) {}

type submittedOrder struct {
	symbol     string
	side       domain.Side
	contracts  float64
	reduceOnly bool
}

// mockExchange fills every order at the current mark price unless an
// error or a non-filled state is injected.
type mockExchange struct {
	mu         sync.Mutex
	markPrices map[string]float64
	specs      map[string]domain.SymbolSpec
	balance    float64
	positions  []*ports.ExchangePosition

	nextOrderID int64
	orders      map[int64]*domain.OrderStatus
	submitted   []submittedOrder

	submitErr error
	statusErr error
	newState  domain.OrderState // state assigned to new orders, default FILLED
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		markPrices: map[string]float64{},
		specs:      map[string]domain.SymbolSpec{},
		orders:     map[int64]*domain.OrderStatus{},
		balance:    1000,
	}
}

func (m *mockExchange) setMark(symbol string, price float64) {
	m.mu.Lock()
	m.markPrices[symbol] = price
	m.mu.Unlock()
}

func (m *mockExchange) submittedOrders() []submittedOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]submittedOrder, len(m.submitted))
	copy(out, m.submitted)
	return out
}

func (m *mockExchange) Candles(_ context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	out := make([]*domain.Candle, limit)
	for i := range out {
		out[i] = &domain.Candle{Symbol: symbol, Interval: interval, Close: m.markPrices[symbol], IsFinal: true}
	}
	return out, nil
}

func (m *mockExchange) MarkPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markPrices[symbol], nil
}

func (m *mockExchange) StreamCandles(context.Context, string, string, func(c *domain.Candle), func(err error)) (chan struct{}, chan struct{}, error) {
	return make(chan struct{}), make(chan struct{}, 1), nil
}

func (m *mockExchange) SubmitOrder(_ context.Context, symbol string, side domain.Side, contracts float64, reduceOnly bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return 0, m.submitErr
	}
	m.nextOrderID++
	state := m.newState
	if state == "" {
		state = domain.OrderFilled
	}
	m.orders[m.nextOrderID] = &domain.OrderStatus{
		OrderID:   m.nextOrderID,
		State:     state,
		FillPrice: m.markPrices[symbol],
		FilledQty: contracts,
	}
	m.submitted = append(m.submitted, submittedOrder{symbol, side, contracts, reduceOnly})
	return m.nextOrderID, nil
}

func (m *mockExchange) OrderStatus(_ context.Context, _ string, orderID int64) (*domain.OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	status, ok := m.orders[orderID]
	if !ok {
		return nil, ports.ErrOrderNotFound
	}
	return status, nil
}

func (m *mockExchange) CancelOrder(context.Context, string, int64) error { return nil }

func (m *mockExchange) Balance(context.Context, string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *mockExchange) OpenPositions(context.Context) ([]*ports.ExchangePosition, error) {
	return m.positions, nil
}

func (m *mockExchange) SetLeverage(context.Context, string, int) error { return nil }

func (m *mockExchange) SymbolSpecs(context.Context) (map[string]domain.SymbolSpec, error) {
	return m.specs, nil
}

func (m *mockExchange) SetServerTime(context.Context) error { return nil }
func (m *mockExchange) Ping(context.Context) error          { return nil }
func (m *mockExchange) GetServerTime(context.Context) (time.Time, error) {
	return time.Now(), nil
}

type mockStateRepo struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	mode      domain.Mode
	modeAt    time.Time
	saveErr   error
}

func newMockStateRepo() *mockStateRepo {
	return &mockStateRepo{positions: map[string]*domain.Position{}}
}

func (m *mockStateRepo) SavePosition(_ context.Context, pos *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.positions[pos.Symbol] = pos
	return nil
}

func (m *mockStateRepo) RemovePosition(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	return nil
}

func (m *mockStateRepo) OpenPositions(context.Context) ([]*domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStateRepo) SavePendingMode(_ context.Context, mode domain.Mode, requestedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	m.modeAt = requestedAt
	return nil
}

func (m *mockStateRepo) ClearPendingMode(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = ""
	m.modeAt = time.Time{}
	return nil
}

func (m *mockStateRepo) PendingMode(context.Context) (domain.Mode, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, m.modeAt, nil
}

type mockRecorder struct {
	mu     sync.Mutex
	trades []domain.ClosedTrade
}

func (m *mockRecorder) Record(trade domain.ClosedTrade) {
	m.mu.Lock()
	m.trades = append(m.trades, trade)
	m.mu.Unlock()
}

func (m *mockRecorder) recorded() []domain.ClosedTrade {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ClosedTrade, len(m.trades))
	copy(out, m.trades)
	return out
}

type mockNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (m *mockNotifier) Alert(_ context.Context, title, _ string) error {
	m.mu.Lock()
	m.alerts = append(m.alerts, title)
	m.mu.Unlock()
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

// stubSignals emits a fixed signal per symbol, HOLD otherwise.
type stubSignals struct {
	signals map[string]domain.Signal
}

func (s *stubSignals) RequiredCandles() int { return 1 }

func (s *stubSignals) Signal(_ context.Context, symbol string, _ []*domain.Candle) (domain.Signal, error) {
	if sig, ok := s.signals[symbol]; ok {
		return sig, nil
	}
	return domain.SignalHold, nil
}

// --- Test harness ---

type harness struct {
	ctrl     *Controller
	exchange *mockExchange
	repo     *mockStateRepo
	recorder *mockRecorder
	notifier *mockNotifier
	signals  *stubSignals
	acct     *account.State
	kill     *Switch
}

func newHarness(t *testing.T, symbols []string, freeBalance float64, mode domain.Mode) *harness {
	t.Helper()

	exchange := newMockExchange()
	for _, sym := range symbols {
		exchange.specs[sym] = domain.SymbolSpec{Symbol: sym, ContractMultiplier: 1, StepSize: 0.001, MinOrderSize: 0.001}
		exchange.setMark(sym, 100)
	}

	logger := nopLogger{}
	sizer, err := sizing.New(logger)
	require.NoError(t, err)
	sizer.Update(context.Background(), exchange.specs)

	acct, err := account.New(freeBalance, mode, 2)
	require.NoError(t, err)

	repo := newMockStateRepo()
	recorder := &mockRecorder{}
	notifier := &mockNotifier{}
	signals := &stubSignals{signals: map[string]domain.Signal{}}
	kill := NewSwitch()

	cfg := Config{
		Symbols:            symbols,
		Asset:              "USDT",
		Leverage:           10,
		FixedMargin:        50,
		MaxOpenPositions:   2,
		TakeProfitPct:      0.02,
		StopLossPct:        0.01,
		CandleInterval:     "15m",
		TickInterval:       time.Second,
		ExitRetryLimit:     3,
		OrderPollAttempts:  2,
		OrderPollDelay:     time.Millisecond,
		ReconcileInterval:  time.Minute,
		ReconcileTolerance: 1,
	}

	ctrl, err := New(cfg, logger, exchange, signals, sizer, acct, repo, recorder, notifier, kill)
	require.NoError(t, err)

	return &harness{
		ctrl: ctrl, exchange: exchange, repo: repo, recorder: recorder,
		notifier: notifier, signals: signals, acct: acct, kill: kill,
	}
}

func finalCandle(symbol string, close float64) *domain.Candle {
	return &domain.Candle{Symbol: symbol, Interval: "15m", Close: close, IsFinal: true}
}

// openPosition drives one cycle that opens a long position at the
// current mark price.
func (h *harness) openPosition(t *testing.T, symbol string) *domain.Position {
	t.Helper()
	h.signals.signals[symbol] = domain.SignalLong
	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle(symbol, h.exchange.markPrices[symbol])})
	delete(h.signals.signals, symbol)
	pos := h.acct.Position(symbol)
	require.NotNil(t, pos, "expected an open position for %s", symbol)
	return pos
}

// --- Tests ---

func TestController_EntryOpensPositionWithProtectiveLevels(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	h.signals.signals["BTCUSDT"] = domain.SignalLong

	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("BTCUSDT", 100)})

	pos := h.acct.Position("BTCUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, domain.Long, pos.Side)
	assert.Equal(t, 100.0, pos.EntryPrice)
	// 50 margin x 10 leverage = 500 notional, 5 contracts at price 100.
	assert.InDelta(t, 5.0, pos.Contracts, 1e-9)
	assert.Equal(t, 50.0, pos.Margin)
	assert.Equal(t, 10, pos.Leverage)
	assert.InDelta(t, 102.0, pos.TakeProfit, 1e-9)
	assert.InDelta(t, 99.0, pos.StopLoss, 1e-9)

	assert.InDelta(t, 950.0, h.acct.FreeBalance(), 1e-9)
	assert.Contains(t, h.repo.positions, "BTCUSDT")

	orders := h.exchange.submittedOrders()
	require.Len(t, orders, 1)
	assert.False(t, orders[0].reduceOnly)
}

func TestController_ShortEntryLevelsMirrored(t *testing.T) {
	h := newHarness(t, []string{"ETHUSDT"}, 1000, domain.ModeBoth)
	h.signals.signals["ETHUSDT"] = domain.SignalShort
	h.exchange.setMark("ETHUSDT", 200)

	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("ETHUSDT", 200)})

	pos := h.acct.Position("ETHUSDT")
	require.NotNil(t, pos)
	assert.Equal(t, domain.Short, pos.Side)
	assert.InDelta(t, 196.0, pos.TakeProfit, 1e-9)
	assert.InDelta(t, 202.0, pos.StopLoss, 1e-9)
}

func TestController_ConcurrencyCapNeverExceeded(t *testing.T) {
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	h := newHarness(t, symbols, 1000, domain.ModeBoth)
	for _, sym := range symbols {
		h.signals.signals[sym] = domain.SignalLong
	}

	candles := []*domain.Candle{
		finalCandle("BTCUSDT", 100),
		finalCandle("ETHUSDT", 100),
		finalCandle("SOLUSDT", 100),
	}
	h.ctrl.Cycle(context.Background(), candles)

	assert.Equal(t, 2, h.acct.OpenCount())
	// First come, first served: the third arrival was discarded.
	assert.NotNil(t, h.acct.Position("BTCUSDT"))
	assert.NotNil(t, h.acct.Position("ETHUSDT"))
	assert.Nil(t, h.acct.Position("SOLUSDT"))

	// The discarded intent is gone: a later cycle with no new candle for
	// it does not resurrect it.
	h.ctrl.Cycle(context.Background(), nil)
	assert.Equal(t, 2, h.acct.OpenCount())
}

func TestController_InsufficientBalanceDiscardsIntent(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 40, domain.ModeBoth)
	h.signals.signals["BTCUSDT"] = domain.SignalLong

	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("BTCUSDT", 100)})

	assert.Equal(t, 0, h.acct.OpenCount())
	assert.InDelta(t, 40.0, h.acct.FreeBalance(), 1e-9, "no partial reservation")
	assert.Empty(t, h.exchange.submittedOrders(), "no order may reach the exchange")
	assert.False(t, h.ctrl.EntriesHalted(), "a discarded intent is not an error condition")
}

func TestController_ModeRestrictsSignalDirection(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeLongOnly)
	h.signals.signals["BTCUSDT"] = domain.SignalShort

	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("BTCUSDT", 100)})

	assert.Equal(t, 0, h.acct.OpenCount())
	assert.Empty(t, h.exchange.submittedOrders())
}

func TestController_TakeProfitExit(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	h.openPosition(t, "BTCUSDT") // long at 100, TP 102, SL 99

	h.exchange.setMark("BTCUSDT", 102.5)
	h.ctrl.Cycle(context.Background(), nil)

	assert.Equal(t, 0, h.acct.OpenCount())
	assert.NotContains(t, h.repo.positions, "BTCUSDT")

	trades := h.recorder.recorded()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitTakeProfit, trades[0].Reason)
	assert.Equal(t, 102.5, trades[0].ExitPrice)
	assert.InDelta(t, 12.5, trades[0].PnL, 1e-9) // (102.5-100) * 5 contracts

	// Margin released plus PnL settled.
	assert.InDelta(t, 1012.5, h.acct.FreeBalance(), 1e-9)

	orders := h.exchange.submittedOrders()
	require.Len(t, orders, 2)
	assert.True(t, orders[1].reduceOnly, "closing orders must be reduce-only")
	assert.Equal(t, domain.Short, orders[1].side)
}

func TestController_StopLossExit(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	h.openPosition(t, "BTCUSDT")

	h.exchange.setMark("BTCUSDT", 98.5)
	h.ctrl.Cycle(context.Background(), nil)

	trades := h.recorder.recorded()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitStopLoss, trades[0].Reason)
	assert.InDelta(t, -7.5, trades[0].PnL, 1e-9) // (98.5-100) * 5 contracts
	assert.InDelta(t, 992.5, h.acct.FreeBalance(), 1e-9)
}

func TestController_KillSwitchFlattensAndBlocksEntries(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, 1000, domain.ModeBoth)
	h.openPosition(t, "BTCUSDT")
	h.openPosition(t, "ETHUSDT")
	require.Equal(t, 2, h.acct.OpenCount())

	h.kill.Engage()
	h.kill.Engage() // idempotent

	h.signals.signals["SOLUSDT"] = domain.SignalLong
	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("SOLUSDT", 100)})

	assert.Equal(t, 0, h.acct.OpenCount(), "all positions flattened")
	assert.Nil(t, h.acct.Position("SOLUSDT"), "no new entries under kill switch")

	trades := h.recorder.recorded()
	require.Len(t, trades, 2)
	for _, trade := range trades {
		assert.Equal(t, domain.ExitKillSwitch, trade.Reason)
	}

	// Entries stay blocked until the switch is cleared.
	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("SOLUSDT", 100)})
	assert.Equal(t, 0, h.acct.OpenCount())

	h.kill.Clear()
	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("SOLUSDT", 100)})
	assert.NotNil(t, h.acct.Position("SOLUSDT"))
}

func TestController_ExitRetryBoundHaltsEntriesKeepsPosition(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT", "ETHUSDT"}, 1000, domain.ModeBoth)
	h.openPosition(t, "BTCUSDT")

	h.exchange.setMark("BTCUSDT", 102.5) // TP triggered
	h.exchange.mu.Lock()
	h.exchange.submitErr = errors.New("exchange unavailable")
	h.exchange.mu.Unlock()

	// Retry limit is 3: two retriable failures, then the fatal one.
	for i := 0; i < 3; i++ {
		h.ctrl.Cycle(context.Background(), nil)
	}

	assert.True(t, h.ctrl.EntriesHalted())
	assert.Equal(t, 1, h.acct.OpenCount(), "position is never dropped from tracking")
	assert.Empty(t, h.recorder.recorded())
	assert.Equal(t, 1, h.notifier.count(), "operator alerted exactly once")

	// New entries are refused while the close keeps being retried.
	h.signals.signals["ETHUSDT"] = domain.SignalLong
	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("ETHUSDT", 100)})
	assert.Nil(t, h.acct.Position("ETHUSDT"))
	assert.Equal(t, 1, h.notifier.count())

	// Once the exchange recovers the retried close completes.
	h.exchange.mu.Lock()
	h.exchange.submitErr = nil
	h.exchange.mu.Unlock()
	h.ctrl.Cycle(context.Background(), nil)

	assert.Equal(t, 0, h.acct.OpenCount())
	trades := h.recorder.recorded()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitTakeProfit, trades[0].Reason)
}

func TestController_ModeChangeDeferredUntilFlat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	h.openPosition(t, "BTCUSDT")

	applied, err := h.ctrl.RequestModeChange(ctx, domain.ModeShortOnly)
	require.NoError(t, err)
	assert.False(t, applied, "mode change must defer while positions are open")
	assert.Equal(t, domain.ModeBoth, h.ctrl.Mode(), "old mode stays active")
	assert.Equal(t, domain.ModeShortOnly, h.repo.mode, "pending request persisted")

	// Old-mode entries are still allowed while the change is pending; the
	// position blocks it for now.
	h.ctrl.Cycle(ctx, nil)
	assert.Equal(t, domain.ModeBoth, h.ctrl.Mode())

	// Position exits, the same cycle applies the new mode.
	h.exchange.setMark("BTCUSDT", 102.5)
	h.ctrl.Cycle(ctx, nil)
	assert.Equal(t, 0, h.acct.OpenCount())
	assert.Equal(t, domain.ModeShortOnly, h.ctrl.Mode())
	assert.Equal(t, domain.Mode(""), h.repo.mode, "persisted request cleared")

	// Entries now obey the new mode.
	h.exchange.setMark("BTCUSDT", 100)
	h.signals.signals["BTCUSDT"] = domain.SignalLong
	h.ctrl.Cycle(ctx, []*domain.Candle{finalCandle("BTCUSDT", 100)})
	assert.Equal(t, 0, h.acct.OpenCount())

	h.signals.signals["BTCUSDT"] = domain.SignalShort
	h.ctrl.Cycle(ctx, []*domain.Candle{finalCandle("BTCUSDT", 100)})
	require.NotNil(t, h.acct.Position("BTCUSDT"))
	assert.Equal(t, domain.Short, h.acct.Position("BTCUSDT").Side)
}

func TestController_ModeChangeImmediateWhenFlat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)

	applied, err := h.ctrl.RequestModeChange(ctx, domain.ModeHalted)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.ModeHalted, h.ctrl.Mode())

	h.signals.signals["BTCUSDT"] = domain.SignalLong
	h.ctrl.Cycle(ctx, []*domain.Candle{finalCandle("BTCUSDT", 100)})
	assert.Equal(t, 0, h.acct.OpenCount())
}

func TestController_NewerModeRequestReplacesPending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	h.openPosition(t, "BTCUSDT")

	_, err := h.ctrl.RequestModeChange(ctx, domain.ModeShortOnly)
	require.NoError(t, err)
	_, err = h.ctrl.RequestModeChange(ctx, domain.ModeLongOnly)
	require.NoError(t, err)

	h.exchange.setMark("BTCUSDT", 102.5)
	h.ctrl.Cycle(ctx, nil)
	assert.Equal(t, domain.ModeLongOnly, h.ctrl.Mode())
}

func TestController_InvalidModeRejected(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	_, err := h.ctrl.RequestModeChange(context.Background(), domain.Mode("upside-down"))
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestController_SlowExitFillConfirmedNextCycle(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	h.openPosition(t, "BTCUSDT")

	// The close order submits but stays pending this cycle.
	h.exchange.mu.Lock()
	h.exchange.newState = domain.OrderPending
	h.exchange.mu.Unlock()
	h.exchange.setMark("BTCUSDT", 102.5)
	h.ctrl.Cycle(context.Background(), nil)

	assert.Equal(t, 1, h.acct.OpenCount(), "unconfirmed close keeps the position")
	assert.Empty(t, h.recorder.recorded())

	// The order fills out of band; the next cycle must re-poll it rather
	// than submit a second close.
	h.exchange.mu.Lock()
	closeID := h.exchange.nextOrderID
	h.exchange.orders[closeID].State = domain.OrderFilled
	h.exchange.mu.Unlock()
	h.ctrl.Cycle(context.Background(), nil)

	assert.Equal(t, 0, h.acct.OpenCount())
	require.Len(t, h.recorder.recorded(), 1)

	reduceOnly := 0
	for _, o := range h.exchange.submittedOrders() {
		if o.reduceOnly {
			reduceOnly++
		}
	}
	assert.Equal(t, 1, reduceOnly, "exactly one close order for one position")
}

func TestController_TakeProfitCheckedBeforeStopLoss(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	pos := h.openPosition(t, "BTCUSDT")

	// Force a degenerate position whose levels are both crossed at once.
	pos.TakeProfit = 100
	pos.StopLoss = 100
	h.exchange.setMark("BTCUSDT", 100)
	h.ctrl.Cycle(context.Background(), nil)

	trades := h.recorder.recorded()
	require.Len(t, trades, 1)
	assert.Equal(t, domain.ExitTakeProfit, trades[0].Reason)
}

func TestController_SizingRoundsDownToStep(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)
	h.exchange.setMark("BTCUSDT", 3000)
	h.signals.signals["BTCUSDT"] = domain.SignalLong

	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("BTCUSDT", 3000)})

	pos := h.acct.Position("BTCUSDT")
	require.NotNil(t, pos)
	// 500 / 3000 = 0.1666..., floored to the 0.001 step.
	assert.InDelta(t, 0.166, pos.Contracts, 1e-9)
}

func TestController_HoldSignalOpensNothing(t *testing.T) {
	h := newHarness(t, []string{"BTCUSDT"}, 1000, domain.ModeBoth)

	h.ctrl.Cycle(context.Background(), []*domain.Candle{finalCandle("BTCUSDT", 100)})

	assert.Equal(t, 0, h.acct.OpenCount())
	assert.Empty(t, h.exchange.submittedOrders())
}
