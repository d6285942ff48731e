// Package engine contains the trade lifecycle controller: the single
// authority that opens, monitors, and closes positions, and gates mode
// changes. Each symbol owns one slot that moves through
// IDLE -> ENTRY_PENDING -> OPEN -> EXIT_PENDING -> IDLE; the controller
// runs all slots on one sequential decision loop so the concurrency cap
// and account ledger are never mutated concurrently.
package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"perpbot/internal/account"
	"perpbot/internal/domain"
	"perpbot/internal/metrics"
	"perpbot/internal/ports"
	"perpbot/internal/sizing"
)

const maxCandleHistory = 500

type slotState int

const (
	slotIdle slotState = iota
	slotEntryPending
	slotOpen
	slotExitPending
)

func (s slotState) String() string {
	switch s {
	case slotIdle:
		return "IDLE"
	case slotEntryPending:
		return "ENTRY_PENDING"
	case slotOpen:
		return "OPEN"
	case slotExitPending:
		return "EXIT_PENDING"
	default:
		return "UNKNOWN"
	}
}

// slot is the per-symbol lifecycle state.
type slot struct {
	state        slotState
	pos          *domain.Position
	exitReason   domain.ExitReason
	exitOrderID  int64 // close order awaiting confirmation, 0 if none
	exitAttempts int   // failed exit cycles so far
	timedOut     bool  // retry bound crossed and alert sent
}

// pendingMode is a deferred mode-change request held until the open
// position set drains to zero.
type pendingMode struct {
	mode        domain.Mode
	requestedAt time.Time
	skipped     int // monitoring cycles skipped while positions were open
}

// TradeRecorder receives closed-trade records. Implementations must not
// block the caller.
type TradeRecorder interface {
	Record(trade domain.ClosedTrade)
}

// Config holds the controller parameters.
type Config struct {
	Symbols          []string // evaluation order is the configured order
	Asset            string   // quote/margin asset, e.g. "USDT"
	Leverage         int
	FixedMargin      float64 // margin per position, quote currency
	MaxOpenPositions int
	TakeProfitPct    float64 // e.g. 0.02 for 2% from entry
	StopLossPct      float64 // e.g. 0.01 for 1% from entry
	CandleInterval   string  // signal cadence, e.g. "15m"

	TickInterval       time.Duration // TP/SL mark-price check cadence
	ExitRetryLimit     int           // failed exit cycles before the fatal alert
	OrderPollAttempts  int
	OrderPollDelay     time.Duration
	ReconcileInterval  time.Duration
	ReconcileTolerance float64 // quote-currency drift tolerance
}

func (c Config) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("leverage must be positive")
	}
	if c.FixedMargin <= 0 {
		return fmt.Errorf("fixed margin must be positive")
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("max open positions must be positive")
	}
	if c.TakeProfitPct <= 0 || c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return fmt.Errorf("TP/SL percentages out of range")
	}
	if c.ExitRetryLimit <= 0 {
		return fmt.Errorf("exit retry limit must be positive")
	}
	return nil
}

// Controller orchestrates the trade lifecycle across symbol slots.
type Controller struct {
	cfg       Config
	logger    ports.Logger
	exchange  ports.ExchangeClient
	signals   ports.SignalSource
	sizer     *sizing.Converter
	acct      *account.State
	stateRepo ports.StateRepository
	reporter  TradeRecorder
	notifier  ports.Notifier
	kill      *Switch

	// mu serializes the decision loop against RequestModeChange.
	mu            sync.Mutex
	slots         map[string]*slot
	pending       *pendingMode
	entriesHalted bool

	candleCh chan *domain.Candle
	history  map[string][]*domain.Candle

	now func() time.Time // swapped in tests
}

// New creates a Controller. The account state must already be seeded
// (balance, mode); recovered positions are loaded in Run.
func New(
	cfg Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	signals ports.SignalSource,
	sizer *sizing.Converter,
	acct *account.State,
	stateRepo ports.StateRepository,
	reporter TradeRecorder,
	notifier ports.Notifier,
	kill *Switch,
) (*Controller, error) {
	if logger == nil || exchange == nil || signals == nil || sizer == nil ||
		acct == nil || stateRepo == nil || reporter == nil || notifier == nil || kill == nil {
		return nil, fmt.Errorf("missing required dependencies for controller")
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid controller configuration: %w", err)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.OrderPollAttempts <= 0 {
		cfg.OrderPollAttempts = 5
	}
	if cfg.OrderPollDelay <= 0 {
		cfg.OrderPollDelay = 500 * time.Millisecond
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 15 * time.Minute
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "15m"
	}

	slots := make(map[string]*slot, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		slots[sym] = &slot{state: slotIdle}
	}

	return &Controller{
		cfg:       cfg,
		logger:    logger,
		exchange:  exchange,
		signals:   signals,
		sizer:     sizer,
		acct:      acct,
		stateRepo: stateRepo,
		reporter:  reporter,
		notifier:  notifier,
		kill:      kill,
		slots:     slots,
		candleCh:  make(chan *domain.Candle, 4*len(cfg.Symbols)),
		history:   make(map[string][]*domain.Candle, len(cfg.Symbols)),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run initializes exchange state, recovers persisted positions, and
// drives the monitoring loop until the context is canceled.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info(ctx, "Starting trade lifecycle controller", map[string]interface{}{
		"symbols": c.cfg.Symbols, "leverage": c.cfg.Leverage, "cap": c.cfg.MaxOpenPositions,
	})

	if err := c.exchange.SetServerTime(ctx); err != nil {
		return fmt.Errorf("failed to synchronize server time: %w", err)
	}

	if err := c.refreshSymbolSpecs(ctx); err != nil {
		return err
	}

	for _, sym := range c.cfg.Symbols {
		if err := c.exchange.SetLeverage(ctx, sym, c.cfg.Leverage); err != nil {
			c.logger.Warn(ctx, "Failed to set leverage, continuing with exchange-side setting", map[string]interface{}{
				"symbol": sym, "leverage": c.cfg.Leverage, "error": err.Error(),
			})
		}
	}

	if err := c.recover(ctx); err != nil {
		return err
	}

	if err := c.seedHistory(ctx); err != nil {
		return err
	}

	stops, err := c.startStreams(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, stop := range stops {
			select {
			case stop <- struct{}{}:
			default:
			}
		}
	}()

	tick := time.NewTicker(c.cfg.TickInterval)
	defer tick.Stop()
	reconcile := time.NewTicker(c.cfg.ReconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info(ctx, "Controller context canceled, shutting down")
			return ctx.Err()
		case <-reconcile.C:
			c.reconcileBalance(ctx)
			if err := c.refreshSymbolSpecs(ctx); err != nil {
				c.logger.Warn(ctx, "Symbol metadata refresh failed", map[string]interface{}{"error": err.Error()})
			}
		case <-tick.C:
			c.Cycle(ctx, c.drainCandles())
		}
	}
}

// Cycle executes one sequential decision cycle: kill-switch check,
// TP/SL evaluation, exit processing, mode-change evaluation, then entry
// solicitation for the final candles that arrived since the last cycle.
// Exported so tests and the backtester can drive cycles directly.
func (c *Controller) Cycle(ctx context.Context, newCandles []*domain.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	metrics.CyclesTotal.Inc()

	c.applyKillSwitch(ctx)
	c.checkExitTriggers(ctx)
	c.processExits(ctx)
	c.applyPendingMode(ctx)
	c.solicitEntries(ctx, newCandles)
	c.publishGauges()
}

// RequestModeChange applies the mode immediately when no positions are
// open; otherwise the request is persisted and deferred until the open
// set drains. A newer request replaces an older pending one. Returns
// true when the mode was applied immediately.
func (c *Controller) RequestModeChange(ctx context.Context, mode domain.Mode) (bool, error) {
	if !mode.IsValid() {
		return false, fmt.Errorf("invalid operating mode %q: %w", mode, ports.ErrInvalidRequest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.acct.OpenCount() == 0 {
		if err := c.acct.SetMode(mode); err != nil {
			return false, err
		}
		c.pending = nil
		if err := c.stateRepo.ClearPendingMode(ctx); err != nil {
			c.logger.Warn(ctx, "Failed to clear persisted mode change", map[string]interface{}{"error": err.Error()})
		}
		c.logger.Info(ctx, "Operating mode changed", map[string]interface{}{"mode": mode})
		return true, nil
	}

	requestedAt := c.now()
	c.pending = &pendingMode{mode: mode, requestedAt: requestedAt}
	if err := c.stateRepo.SavePendingMode(ctx, mode, requestedAt); err != nil {
		c.logger.Warn(ctx, "Failed to persist pending mode change", map[string]interface{}{"error": err.Error()})
	}
	c.logger.Info(ctx, "Mode change deferred until open positions close", map[string]interface{}{
		"requestedMode": mode, "openPositions": c.acct.OpenCount(),
	})
	return false, nil
}

// Mode returns the current operating mode.
func (c *Controller) Mode() domain.Mode {
	return c.acct.Mode()
}

// EntriesHalted reports whether a fatal condition has disabled new
// entries. Exit monitoring continues regardless.
func (c *Controller) EntriesHalted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entriesHalted
}

// --- Initialization helpers ---

func (c *Controller) refreshSymbolSpecs(ctx context.Context) error {
	specs, err := c.exchange.SymbolSpecs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load symbol metadata: %w", err)
	}
	c.sizer.Update(ctx, specs)
	for _, sym := range c.cfg.Symbols {
		if _, err := c.sizer.Spec(sym); err != nil {
			return fmt.Errorf("configured symbol has no exchange metadata: %w", err)
		}
	}
	return nil
}

// recover loads persisted open positions and the pending mode change,
// then diffs the recovered set against the exchange's reported
// positions. The exchange is ground truth: any discrepancy is fatal and
// is never silently corrected.
func (c *Controller) recover(ctx context.Context) error {
	op := "recover"

	persisted, err := c.stateRepo.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted positions: %w", err)
	}

	reported, err := c.exchange.OpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to query exchange positions: %w", err)
	}
	bySymbol := make(map[string]*ports.ExchangePosition, len(reported))
	for _, p := range reported {
		bySymbol[p.Symbol] = p
	}

	for _, pos := range persisted {
		exch, ok := bySymbol[pos.Symbol]
		if !ok {
			return c.reconciliationFailure(ctx, fmt.Sprintf(
				"persisted position %s %s not reported by exchange", pos.Symbol, pos.Side))
		}
		if exch.Side != pos.Side || math.Abs(exch.Contracts-pos.Contracts) > 1e-9 {
			return c.reconciliationFailure(ctx, fmt.Sprintf(
				"position %s differs: tracked %s %v contracts, exchange %s %v contracts",
				pos.Symbol, pos.Side, pos.Contracts, exch.Side, exch.Contracts))
		}
		delete(bySymbol, pos.Symbol)
	}

	// Exchange positions on our symbols that we have no record of are
	// just as fatal as missing ones.
	for _, sym := range c.cfg.Symbols {
		if exch, ok := bySymbol[sym]; ok {
			return c.reconciliationFailure(ctx, fmt.Sprintf(
				"exchange reports untracked position %s %s %v contracts", exch.Symbol, exch.Side, exch.Contracts))
		}
	}

	balance, err := c.exchange.Balance(ctx, c.cfg.Asset)
	if err != nil {
		return fmt.Errorf("failed to query account balance: %w", err)
	}
	committed := 0.0
	for _, pos := range persisted {
		committed += pos.Margin
	}
	c.acct.SetFreeBalance(balance - committed)

	for _, pos := range persisted {
		if err := c.acct.Insert(pos); err != nil {
			return fmt.Errorf("%s: failed to restore position %s: %w", op, pos.Symbol, err)
		}
		s, ok := c.slots[pos.Symbol]
		if !ok {
			return c.reconciliationFailure(ctx, fmt.Sprintf(
				"persisted position %s is not in the configured symbol set", pos.Symbol))
		}
		s.state = slotOpen
		s.pos = pos
		c.logger.Info(ctx, "Recovered open position", map[string]interface{}{
			"symbol": pos.Symbol, "side": pos.Side, "entryPrice": pos.EntryPrice,
			"takeProfit": pos.TakeProfit, "stopLoss": pos.StopLoss,
		})
	}

	mode, requestedAt, err := c.stateRepo.PendingMode(ctx)
	if err != nil {
		return fmt.Errorf("failed to load pending mode change: %w", err)
	}
	switch {
	case mode == "":
	case !mode.IsValid():
		c.logger.Warn(ctx, "Discarding corrupt persisted mode change", map[string]interface{}{
			"requestedMode": mode,
		})
		if clearErr := c.stateRepo.ClearPendingMode(ctx); clearErr != nil {
			c.logger.Warn(ctx, "Failed to clear persisted mode change", map[string]interface{}{"error": clearErr.Error()})
		}
	default:
		c.pending = &pendingMode{mode: mode, requestedAt: requestedAt}
		c.logger.Info(ctx, "Recovered pending mode change", map[string]interface{}{
			"requestedMode": mode, "requestedAt": requestedAt,
		})
	}

	c.logger.Info(ctx, "State recovery complete", map[string]interface{}{
		"openPositions": c.acct.OpenCount(), "freeBalance": c.acct.FreeBalance(),
	})
	return nil
}

func (c *Controller) reconciliationFailure(ctx context.Context, detail string) error {
	err := fmt.Errorf("%s: %w", detail, ports.ErrReconciliationMismatch)
	c.logger.Error(ctx, err, "Startup reconciliation failed, refusing to trade")
	if alertErr := c.notifier.Alert(ctx, "Reconciliation mismatch", detail); alertErr != nil {
		c.logger.Warn(ctx, "Failed to deliver reconciliation alert", map[string]interface{}{"error": alertErr.Error()})
	}
	return err
}

func (c *Controller) seedHistory(ctx context.Context) error {
	required := c.signals.RequiredCandles()
	for _, sym := range c.cfg.Symbols {
		candles, err := c.exchange.Candles(ctx, sym, c.cfg.CandleInterval, required)
		if err != nil {
			return fmt.Errorf("failed to load initial candles for %s: %w", sym, err)
		}
		if len(candles) < required {
			return fmt.Errorf("not enough initial candles for %s (%d < %d)", sym, len(candles), required)
		}
		c.history[sym] = candles
	}
	c.logger.Info(ctx, "Candle history seeded", map[string]interface{}{
		"interval": c.cfg.CandleInterval, "perSymbol": required,
	})
	return nil
}

func (c *Controller) startStreams(ctx context.Context) ([]chan struct{}, error) {
	stops := make([]chan struct{}, 0, len(c.cfg.Symbols))
	for _, sym := range c.cfg.Symbols {
		symbol := sym
		handler := func(candle *domain.Candle) {
			if !candle.IsFinal {
				return
			}
			select {
			case c.candleCh <- candle:
			default:
				c.logger.Warn(context.Background(), "Candle buffer full, dropping update", map[string]interface{}{
					"symbol": candle.Symbol,
				})
			}
		}
		errHandler := func(err error) {
			c.logger.Error(context.Background(), err, "Candle stream error", map[string]interface{}{"symbol": symbol})
		}
		_, stop, err := c.exchange.StreamCandles(ctx, symbol, c.cfg.CandleInterval, handler, errHandler)
		if err != nil {
			return nil, fmt.Errorf("failed to start candle stream for %s: %w", symbol, err)
		}
		stops = append(stops, stop)
	}
	return stops, nil
}

// drainCandles collects the final candles that arrived since the last
// cycle, in arrival order, and folds them into the history cache.
func (c *Controller) drainCandles() []*domain.Candle {
	var arrived []*domain.Candle
	for {
		select {
		case candle := <-c.candleCh:
			arrived = append(arrived, candle)
			hist := append(c.history[candle.Symbol], candle)
			if len(hist) > maxCandleHistory {
				hist = hist[len(hist)-maxCandleHistory:]
			}
			c.history[candle.Symbol] = hist
		default:
			return arrived
		}
	}
}

func (c *Controller) reconcileBalance(ctx context.Context) {
	balance, err := c.exchange.Balance(ctx, c.cfg.Asset)
	if err != nil {
		c.logger.Warn(ctx, "Balance reconciliation skipped, exchange query failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.acct.Reconcile(balance, c.cfg.ReconcileTolerance); err != nil {
		c.logger.Error(ctx, err, "Balance reconciliation mismatch, halting new entries")
		c.entriesHalted = true
		if alertErr := c.notifier.Alert(ctx, "Reconciliation mismatch", err.Error()); alertErr != nil {
			c.logger.Warn(ctx, "Failed to deliver reconciliation alert", map[string]interface{}{"error": alertErr.Error()})
		}
	}
}

func (c *Controller) publishGauges() {
	metrics.OpenPositions.Set(float64(c.acct.OpenCount()))
	metrics.FreeBalance.Set(c.acct.FreeBalance())
}
