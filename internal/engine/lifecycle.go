package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/metrics"
	"perpbot/internal/ports"
)

// applyKillSwitch flags every open position for closure while the kill
// switch is engaged. Already-pending exits keep their original reason.
func (c *Controller) applyKillSwitch(ctx context.Context) {
	if !c.kill.Engaged() {
		return
	}
	for _, sym := range c.cfg.Symbols {
		s := c.slots[sym]
		if s.state != slotOpen {
			continue
		}
		s.state = slotExitPending
		s.exitReason = domain.ExitKillSwitch
		c.logger.Warn(ctx, "Kill switch engaged, flattening position", map[string]interface{}{
			"symbol": sym, "side": s.pos.Side,
		})
	}
}

// checkExitTriggers evaluates TP/SL levels against the current mark
// price for every open position. TP is checked before SL so a candle
// that spans both levels books the profitable exit.
func (c *Controller) checkExitTriggers(ctx context.Context) {
	for _, sym := range c.cfg.Symbols {
		s := c.slots[sym]
		if s.state != slotOpen {
			continue
		}

		mark, err := c.exchange.MarkPrice(ctx, sym)
		if err != nil {
			c.logger.Warn(ctx, "Mark price unavailable, skipping TP/SL check", map[string]interface{}{
				"symbol": sym, "error": err.Error(),
			})
			continue
		}

		switch {
		case s.pos.HitTakeProfit(mark):
			s.state = slotExitPending
			s.exitReason = domain.ExitTakeProfit
			c.logger.Info(ctx, "Take profit triggered", map[string]interface{}{
				"symbol": sym, "side": s.pos.Side, "markPrice": mark, "takeProfit": s.pos.TakeProfit,
			})
		case s.pos.HitStopLoss(mark):
			s.state = slotExitPending
			s.exitReason = domain.ExitStopLoss
			c.logger.Info(ctx, "Stop loss triggered", map[string]interface{}{
				"symbol": sym, "side": s.pos.Side, "markPrice": mark, "stopLoss": s.pos.StopLoss,
			})
		}
	}
}

// processExits submits and confirms close orders for every slot in
// EXIT_PENDING. A close that cannot be confirmed is retried on the next
// cycle; past the retry bound the controller halts new entries and
// alerts, but never drops the position from tracking.
func (c *Controller) processExits(ctx context.Context) {
	for _, sym := range c.cfg.Symbols {
		s := c.slots[sym]
		if s.state != slotExitPending {
			continue
		}
		c.processExit(ctx, sym, s)
	}
}

func (c *Controller) processExit(ctx context.Context, sym string, s *slot) {
	// A close order from an earlier cycle may have filled since. Always
	// re-poll before submitting another order so a slow fill is never
	// doubled up with a second close.
	if s.exitOrderID != 0 {
		status, err := c.exchange.OrderStatus(ctx, sym, s.exitOrderID)
		if err == nil {
			switch status.State {
			case domain.OrderFilled:
				c.finalizeClose(ctx, sym, s, status)
				return
			case domain.OrderPending:
				c.failExitAttempt(ctx, sym, s, fmt.Errorf("close order %d still unconfirmed", s.exitOrderID))
				return
			case domain.OrderRejected:
				s.exitOrderID = 0
			}
		} else {
			c.failExitAttempt(ctx, sym, s, fmt.Errorf("failed to query close order %d: %w", s.exitOrderID, err))
			return
		}
	}

	orderID, err := c.exchange.SubmitOrder(ctx, sym, s.pos.Side.Opposite(), s.pos.Contracts, true)
	if err != nil {
		c.failExitAttempt(ctx, sym, s, fmt.Errorf("failed to submit close order: %w", err))
		return
	}
	s.exitOrderID = orderID

	status, err := c.awaitOrder(ctx, sym, orderID)
	if err != nil {
		c.failExitAttempt(ctx, sym, s, err)
		return
	}
	c.finalizeClose(ctx, sym, s, status)
}

// failExitAttempt counts one failed exit cycle. Crossing the retry
// bound is fatal for entries only: exits keep being retried and the
// position stays tracked until an operator intervenes.
func (c *Controller) failExitAttempt(ctx context.Context, sym string, s *slot, cause error) {
	s.exitAttempts++
	metrics.ExitsRetried.Inc()

	if s.exitAttempts < c.cfg.ExitRetryLimit {
		c.logger.Warn(ctx, "Exit attempt failed, will retry next cycle", map[string]interface{}{
			"symbol": sym, "attempt": s.exitAttempts, "limit": c.cfg.ExitRetryLimit, "error": cause.Error(),
		})
		return
	}

	err := fmt.Errorf("%s exit attempt %d failed: %v: %w", sym, s.exitAttempts, cause, ports.ErrExitConfirmationTimeout)
	c.logger.Error(ctx, err, "Exit confirmation timed out, halting new entries")
	c.entriesHalted = true
	if !s.timedOut {
		s.timedOut = true
		detail := fmt.Sprintf("Could not confirm close of %s %s after %d attempts. New entries halted; close retries continue. Manual intervention required.",
			sym, s.pos.Side, s.exitAttempts)
		if alertErr := c.notifier.Alert(ctx, "Exit confirmation timeout", detail); alertErr != nil {
			c.logger.Warn(ctx, "Failed to deliver exit timeout alert", map[string]interface{}{"error": alertErr.Error()})
		}
	}
}

// finalizeClose books the fill: realizes PnL against the ledger, drops
// the persisted position, records the closed trade, and frees the slot.
func (c *Controller) finalizeClose(ctx context.Context, sym string, s *slot, status *domain.OrderStatus) {
	multiplier := 1.0
	if spec, err := c.sizer.Spec(sym); err == nil {
		multiplier = spec.ContractMultiplier
	}

	trade := domain.CloseOut(s.pos, status.FillPrice, multiplier, c.now(), s.exitReason)

	c.acct.Remove(sym)
	c.acct.Release(s.pos.Margin)
	c.acct.Settle(trade.PnL)

	if err := c.stateRepo.RemovePosition(ctx, sym); err != nil {
		c.logger.Warn(ctx, "Failed to remove persisted position", map[string]interface{}{
			"symbol": sym, "error": err.Error(),
		})
	}

	c.reporter.Record(trade)
	c.logger.Info(ctx, "Position closed", map[string]interface{}{
		"symbol": sym, "side": trade.Side, "entryPrice": trade.EntryPrice,
		"exitPrice": trade.ExitPrice, "pnl": trade.PnL, "reason": trade.Reason,
	})

	*s = slot{state: slotIdle}
}

// applyPendingMode applies a deferred mode change once the open
// position set has drained to zero. Entries solicited later in the same
// cycle already run under the new mode.
func (c *Controller) applyPendingMode(ctx context.Context) {
	if c.pending == nil {
		return
	}
	if c.acct.OpenCount() > 0 {
		c.pending.skipped++
		c.logger.Debug(ctx, "Mode change still deferred", map[string]interface{}{
			"requestedMode": c.pending.mode, "openPositions": c.acct.OpenCount(), "skippedCycles": c.pending.skipped,
		})
		return
	}

	if err := c.acct.SetMode(c.pending.mode); err != nil {
		c.logger.Error(ctx, err, "Failed to apply deferred mode change")
		c.pending = nil
		// Drop the persisted request too, or it would be reloaded and
		// fail again on every restart.
		if clearErr := c.stateRepo.ClearPendingMode(ctx); clearErr != nil {
			c.logger.Warn(ctx, "Failed to clear persisted mode change", map[string]interface{}{"error": clearErr.Error()})
		}
		return
	}
	c.logger.Info(ctx, "Deferred mode change applied", map[string]interface{}{
		"mode": c.pending.mode, "requestedAt": c.pending.requestedAt, "skippedCycles": c.pending.skipped,
	})
	c.pending = nil
	if err := c.stateRepo.ClearPendingMode(ctx); err != nil {
		c.logger.Warn(ctx, "Failed to clear persisted mode change", map[string]interface{}{"error": err.Error()})
	}
}

// solicitEntries evaluates the strategy on each final candle that
// arrived this cycle, in arrival order, and opens positions for
// permitted signals. A discarded intent is gone; it is never retried or
// resized.
func (c *Controller) solicitEntries(ctx context.Context, newCandles []*domain.Candle) {
	if c.kill.Engaged() || c.entriesHalted {
		if len(newCandles) > 0 {
			c.logger.Debug(ctx, "Entries disabled, ignoring new candles", map[string]interface{}{
				"killSwitch": c.kill.Engaged(), "entriesHalted": c.entriesHalted,
			})
		}
		return
	}

	for _, candle := range newCandles {
		s, ok := c.slots[candle.Symbol]
		if !ok || s.state != slotIdle {
			continue
		}

		sig, err := c.signals.Signal(ctx, candle.Symbol, c.history[candle.Symbol])
		if err != nil {
			c.logger.Warn(ctx, "Strategy evaluation failed", map[string]interface{}{
				"symbol": candle.Symbol, "error": err.Error(),
			})
			continue
		}
		if sig == domain.SignalHold {
			continue
		}

		mode := c.acct.Mode()
		if !mode.Permits(sig) {
			c.logger.Debug(ctx, "Signal not permitted by operating mode", map[string]interface{}{
				"symbol": candle.Symbol, "signal": sig, "mode": mode,
			})
			continue
		}
		if !c.acct.HasCapacity() {
			c.logger.Debug(ctx, "Concurrent position cap reached, discarding signal", map[string]interface{}{
				"symbol": candle.Symbol, "signal": sig,
			})
			continue
		}

		side := domain.Long
		if sig == domain.SignalShort {
			side = domain.Short
		}
		c.attemptEntry(ctx, candle.Symbol, s, side, candle.Close)
	}
}

// attemptEntry sizes, reserves, submits, and confirms one entry. Any
// failure releases the reservation and returns the slot to IDLE.
func (c *Controller) attemptEntry(ctx context.Context, sym string, s *slot, side domain.Side, refPrice float64) {
	metrics.EntriesAttempted.Inc()

	mark, err := c.exchange.MarkPrice(ctx, sym)
	if err != nil {
		c.logger.Warn(ctx, "Mark price unavailable, sizing from candle close", map[string]interface{}{
			"symbol": sym, "error": err.Error(),
		})
		mark = refPrice
	}

	intent := domain.OrderIntent{
		Symbol:         sym,
		Side:           side,
		TargetNotional: c.cfg.FixedMargin * float64(c.cfg.Leverage),
		Margin:         c.cfg.FixedMargin,
	}
	intent.Contracts, err = c.sizer.Contracts(intent.Symbol, intent.TargetNotional, mark)
	if err != nil {
		if errors.Is(err, ports.ErrSizeBelowMinimum) || errors.Is(err, ports.ErrUnknownSymbol) {
			c.logger.Info(ctx, "Entry intent discarded during sizing", map[string]interface{}{
				"symbol": sym, "side": side, "targetNotional": intent.TargetNotional, "reason": err.Error(),
			})
		} else {
			c.logger.Error(ctx, err, "Sizing failed", map[string]interface{}{"symbol": sym})
		}
		metrics.EntriesRejected.Inc()
		return
	}

	if !c.acct.Reserve(intent.Margin) {
		c.logger.Info(ctx, "Entry intent discarded, insufficient free balance", map[string]interface{}{
			"symbol": sym, "side": side, "margin": intent.Margin,
			"freeBalance": c.acct.FreeBalance(), "error": ports.ErrInsufficientBalance.Error(),
		})
		metrics.EntriesRejected.Inc()
		return
	}

	s.state = slotEntryPending

	orderID, err := c.exchange.SubmitOrder(ctx, intent.Symbol, intent.Side, intent.Contracts, false)
	if err != nil {
		c.logger.Error(ctx, err, "Entry order submission failed", map[string]interface{}{
			"symbol": sym, "side": side, "contracts": intent.Contracts,
		})
		c.acct.Release(intent.Margin)
		metrics.EntriesRejected.Inc()
		s.state = slotIdle
		return
	}

	status, err := c.awaitOrder(ctx, sym, orderID)
	if err != nil {
		c.logger.Error(ctx, err, "Entry order not filled, canceling", map[string]interface{}{
			"symbol": sym, "orderID": orderID,
		})
		if cancelErr := c.exchange.CancelOrder(ctx, sym, orderID); cancelErr != nil {
			c.logger.Warn(ctx, "Failed to cancel unconfirmed entry order", map[string]interface{}{
				"symbol": sym, "orderID": orderID, "error": cancelErr.Error(),
			})
		}
		c.acct.Release(intent.Margin)
		metrics.EntriesRejected.Inc()
		s.state = slotIdle
		return
	}

	fillPrice := status.FillPrice
	filled := status.FilledQty
	if filled <= 0 {
		filled = intent.Contracts
	}

	var takeProfit, stopLoss float64
	if side == domain.Long {
		takeProfit = fillPrice * (1 + c.cfg.TakeProfitPct)
		stopLoss = fillPrice * (1 - c.cfg.StopLossPct)
	} else {
		takeProfit = fillPrice * (1 - c.cfg.TakeProfitPct)
		stopLoss = fillPrice * (1 + c.cfg.StopLossPct)
	}

	pos := &domain.Position{
		Symbol:     sym,
		Side:       side,
		EntryPrice: fillPrice,
		Contracts:  filled,
		Margin:     intent.Margin,
		Leverage:   c.cfg.Leverage,
		TakeProfit: takeProfit,
		StopLoss:   stopLoss,
		OpenedAt:   c.now(),
	}

	if err := c.acct.Insert(pos); err != nil {
		c.logger.Error(ctx, err, "Failed to track filled position, closing immediately", map[string]interface{}{
			"symbol": sym,
		})
		c.emergencyClose(ctx, sym, side, filled)
		c.acct.Release(intent.Margin)
		s.state = slotIdle
		return
	}
	if err := c.stateRepo.SavePosition(ctx, pos); err != nil {
		c.logger.Error(ctx, err, "Failed to persist filled position, closing immediately", map[string]interface{}{
			"symbol": sym,
		})
		c.emergencyClose(ctx, sym, side, filled)
		c.acct.Remove(sym)
		c.acct.Release(intent.Margin)
		s.state = slotIdle
		return
	}

	s.state = slotOpen
	s.pos = pos
	c.logger.Info(ctx, "Position opened", map[string]interface{}{
		"symbol": sym, "side": side, "entryPrice": fillPrice, "contracts": filled,
		"margin": pos.Margin, "leverage": pos.Leverage, "takeProfit": takeProfit, "stopLoss": stopLoss,
	})
}

// emergencyClose flattens a fill that could not be tracked or
// persisted. Best effort: the reconciler catches anything left behind.
func (c *Controller) emergencyClose(ctx context.Context, sym string, side domain.Side, contracts float64) {
	if _, err := c.exchange.SubmitOrder(ctx, sym, side.Opposite(), contracts, true); err != nil {
		c.logger.Error(ctx, err, "EMERGENCY: failed to flatten untracked position", map[string]interface{}{
			"symbol": sym, "side": side, "contracts": contracts,
		})
		detail := fmt.Sprintf("Untracked %s %s position of %v contracts could not be flattened: %v", sym, side, contracts, err)
		if alertErr := c.notifier.Alert(ctx, "Emergency close failed", detail); alertErr != nil {
			c.logger.Warn(ctx, "Failed to deliver emergency close alert", map[string]interface{}{"error": alertErr.Error()})
		}
	}
}

// awaitOrder polls an order until it fills or the poll attempts run
// out. A rejection or exhausted polling is an error; the caller decides
// whether to cancel, release, or retry.
func (c *Controller) awaitOrder(ctx context.Context, sym string, orderID int64) (*domain.OrderStatus, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.OrderPollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.OrderPollDelay):
			}
		}

		status, err := c.exchange.OrderStatus(ctx, sym, orderID)
		if err != nil {
			lastErr = err
			continue
		}
		switch status.State {
		case domain.OrderFilled:
			return status, nil
		case domain.OrderRejected:
			return nil, fmt.Errorf("order %d for %s: %w", orderID, sym, ports.ErrOrderRejected)
		}
		lastErr = fmt.Errorf("order %d for %s still %s", orderID, sym, status.State)
	}
	return nil, fmt.Errorf("order %d for %s not confirmed after %d polls: %v: %w",
		orderID, sym, c.cfg.OrderPollAttempts, lastErr, ports.ErrTimeout)
}
