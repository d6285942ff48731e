// Package backtest replays historical candles through a signal source
// using the same entry gating, sizing, and TP/SL policy the live engine
// applies, and reports aggregate performance.
package backtest

import (
	"context"
	"fmt"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
	"perpbot/internal/report"
	"perpbot/internal/sizing"
)

// Config holds the backtest parameters. They mirror the live trading
// parameters so a backtest exercises the same policy.
type Config struct {
	Symbol         string
	Mode           domain.Mode
	InitialBalance float64
	FixedMargin    float64
	Leverage       int
	TakeProfitPct  float64
	StopLossPct    float64
}

func (c Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.InitialBalance <= 0 || c.FixedMargin <= 0 || c.Leverage <= 0 {
		return fmt.Errorf("balance, margin, and leverage must be positive")
	}
	if c.TakeProfitPct <= 0 || c.StopLossPct <= 0 || c.StopLossPct >= 1 {
		return fmt.Errorf("TP/SL percentages out of range")
	}
	return nil
}

// Result holds the outcome of one backtest run.
type Result struct {
	Performance report.Performance
	Trades      []domain.ClosedTrade
	Skipped     int // signals discarded by mode, balance, or sizing
}

// Runner replays candles for a single symbol.
type Runner struct {
	logger  ports.Logger
	signals ports.SignalSource
	sizer   *sizing.Converter
}

// NewRunner creates a backtest runner.
func NewRunner(logger ports.Logger, signals ports.SignalSource, sizer *sizing.Converter) (*Runner, error) {
	if logger == nil || signals == nil || sizer == nil {
		return nil, fmt.Errorf("missing required dependencies for backtest runner")
	}
	return &Runner{logger: logger, signals: signals, sizer: sizer}, nil
}

// Run replays the candles, oldest first. Open positions are checked for
// TP/SL against each candle's high/low before a new entry is
// considered; TP is evaluated first, and exits fill at the level price.
func (r *Runner) Run(ctx context.Context, candles []*domain.Candle, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest configuration: %w", err)
	}
	mode := cfg.Mode
	if mode == "" {
		mode = domain.ModeBoth
	}
	required := r.signals.RequiredCandles()
	if len(candles) <= required {
		return nil, fmt.Errorf("not enough candles for the signal source (%d <= %d)", len(candles), required)
	}

	multiplier := 1.0
	if spec, err := r.sizer.Spec(cfg.Symbol); err == nil {
		multiplier = spec.ContractMultiplier
	}

	result := &Result{}
	balance := cfg.InitialBalance
	var open *domain.Position

	for i := required; i < len(candles); i++ {
		candle := candles[i]
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if open != nil {
			if exitPrice, reason, closed := intraCandleExit(open, candle); closed {
				trade := domain.CloseOut(open, exitPrice, multiplier, candle.CloseTime, reason)
				balance += trade.PnL
				result.Trades = append(result.Trades, trade)
				open = nil
			}
		}
		if open != nil {
			continue
		}

		sig, err := r.signals.Signal(ctx, cfg.Symbol, candles[:i+1])
		if err != nil {
			return nil, fmt.Errorf("signal evaluation failed at candle %d: %w", i, err)
		}
		if sig == domain.SignalHold {
			continue
		}
		if !mode.Permits(sig) {
			result.Skipped++
			continue
		}
		if cfg.FixedMargin > balance {
			result.Skipped++
			continue
		}

		contracts, err := r.sizer.Contracts(cfg.Symbol, cfg.FixedMargin*float64(cfg.Leverage), candle.Close)
		if err != nil {
			result.Skipped++
			continue
		}

		side := domain.Long
		if sig == domain.SignalShort {
			side = domain.Short
		}
		entry := candle.Close

		var takeProfit, stopLoss float64
		if side == domain.Long {
			takeProfit = entry * (1 + cfg.TakeProfitPct)
			stopLoss = entry * (1 - cfg.StopLossPct)
		} else {
			takeProfit = entry * (1 - cfg.TakeProfitPct)
			stopLoss = entry * (1 + cfg.StopLossPct)
		}

		open = &domain.Position{
			Symbol:     cfg.Symbol,
			Side:       side,
			EntryPrice: entry,
			Contracts:  contracts,
			Margin:     cfg.FixedMargin,
			Leverage:   cfg.Leverage,
			TakeProfit: takeProfit,
			StopLoss:   stopLoss,
			OpenedAt:   candle.CloseTime,
		}
	}

	// A position still open at the end of the data is flattened at the
	// last price so the equity curve is complete.
	if open != nil {
		last := candles[len(candles)-1]
		trade := domain.CloseOut(open, last.Close, multiplier, last.CloseTime, domain.ExitKillSwitch)
		balance += trade.PnL
		result.Trades = append(result.Trades, trade)
	}

	result.Performance = report.Summarize(result.Trades, cfg.InitialBalance)
	r.logger.Info(ctx, "Backtest complete", map[string]interface{}{
		"symbol": cfg.Symbol, "candles": len(candles), "trades": result.Performance.TotalTrades,
		"winRate": result.Performance.WinRate, "finalBalance": result.Performance.FinalBalance,
		"skippedSignals": result.Skipped,
	})
	return result, nil
}

// intraCandleExit reports whether the candle crossed the position's TP
// or SL level, returning the fill price and reason.
func intraCandleExit(pos *domain.Position, candle *domain.Candle) (float64, domain.ExitReason, bool) {
	if pos.Side == domain.Long {
		if candle.High >= pos.TakeProfit {
			return pos.TakeProfit, domain.ExitTakeProfit, true
		}
		if candle.Low <= pos.StopLoss {
			return pos.StopLoss, domain.ExitStopLoss, true
		}
		return 0, "", false
	}
	if candle.Low <= pos.TakeProfit {
		return pos.TakeProfit, domain.ExitTakeProfit, true
	}
	if candle.High >= pos.StopLoss {
		return pos.StopLoss, domain.ExitStopLoss, true
	}
	return 0, "", false
}
