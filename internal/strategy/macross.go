// Package strategy contains signal sources. The lifecycle controller
// only depends on ports.SignalSource, so implementations here can be
// swapped through configuration without touching the controller.
package strategy

import (
	"context"
	"fmt"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
	"perpbot/internal/strategy/indicators"
)

// MACrossConfig holds parameters for the moving-average crossover source.
type MACrossConfig struct {
	FastPeriod    int     // e.g., 5
	SlowPeriod    int     // e.g., 20
	RSIPeriod     int     // e.g., 14
	RSIOverbought float64 // e.g., 70.0, suppresses LONG entries above it
	RSIOversold   float64 // e.g., 30.0, suppresses SHORT entries below it
}

// MACross emits LONG when the fast MA crosses above the slow MA and
// SHORT on the opposite cross, filtered by RSI so entries are not taken
// into an already overheated move.
type MACross struct {
	cfg    MACrossConfig
	logger ports.Logger
}

// NewMACross creates a new crossover signal source.
func NewMACross(cfg MACrossConfig, logger ports.Logger) (*MACross, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for signal source")
	}
	if cfg.FastPeriod <= 0 || cfg.SlowPeriod <= 0 || cfg.RSIPeriod <= 0 {
		return nil, fmt.Errorf("signal source periods must be positive")
	}
	if cfg.FastPeriod >= cfg.SlowPeriod {
		return nil, fmt.Errorf("fast period must be less than slow period")
	}
	if cfg.RSIOverbought <= cfg.RSIOversold || cfg.RSIOverbought > 100 || cfg.RSIOversold < 0 {
		return nil, fmt.Errorf("invalid RSI thresholds (overbought must be > oversold, within 0-100)")
	}
	return &MACross{cfg: cfg, logger: logger}, nil
}

// RequiredCandles returns the minimum history length for a stable signal.
// One extra candle beyond the slow period is needed to observe the cross,
// and one beyond the RSI period for its lookback.
func (m *MACross) RequiredCandles() int {
	required := m.cfg.SlowPeriod
	if m.cfg.RSIPeriod > required {
		required = m.cfg.RSIPeriod
	}
	return required + 1
}

// Signal evaluates the candle history for one symbol.
func (m *MACross) Signal(ctx context.Context, symbol string, candles []*domain.Candle) (domain.Signal, error) {
	if len(candles) < m.RequiredCandles() {
		return domain.SignalHold, fmt.Errorf("not enough candles (%d) for signal, need %d", len(candles), m.RequiredCandles())
	}

	fastNow, err := indicators.SMA(candles, m.cfg.FastPeriod)
	if err != nil {
		return domain.SignalHold, err
	}
	slowNow, err := indicators.SMA(candles, m.cfg.SlowPeriod)
	if err != nil {
		return domain.SignalHold, err
	}

	prev := candles[:len(candles)-1]
	fastPrev, err := indicators.SMA(prev, m.cfg.FastPeriod)
	if err != nil {
		return domain.SignalHold, err
	}
	slowPrev, err := indicators.SMA(prev, m.cfg.SlowPeriod)
	if err != nil {
		return domain.SignalHold, err
	}

	crossedUp := fastPrev <= slowPrev && fastNow > slowNow
	crossedDown := fastPrev >= slowPrev && fastNow < slowNow
	if !crossedUp && !crossedDown {
		return domain.SignalHold, nil
	}

	rsi, err := indicators.RSI(candles, m.cfg.RSIPeriod)
	if err != nil {
		return domain.SignalHold, err
	}

	if crossedUp {
		if rsi >= m.cfg.RSIOverbought {
			m.logger.Debug(ctx, "Crossover up suppressed by RSI", map[string]interface{}{
				"symbol": symbol, "rsi": rsi, "overbought": m.cfg.RSIOverbought,
			})
			return domain.SignalHold, nil
		}
		m.logger.Info(ctx, "Crossover up", map[string]interface{}{
			"symbol": symbol, "fastMA": fastNow, "slowMA": slowNow, "rsi": rsi,
		})
		return domain.SignalLong, nil
	}

	if rsi <= m.cfg.RSIOversold {
		m.logger.Debug(ctx, "Crossover down suppressed by RSI", map[string]interface{}{
			"symbol": symbol, "rsi": rsi, "oversold": m.cfg.RSIOversold,
		})
		return domain.SignalHold, nil
	}
	m.logger.Info(ctx, "Crossover down", map[string]interface{}{
		"symbol": symbol, "fastMA": fastNow, "slowMA": slowNow, "rsi": rsi,
	})
	return domain.SignalShort, nil
}
