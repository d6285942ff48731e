// Package sizing converts quote-currency notional targets into
// exchange-native contract sizes. Rounding always goes down so a fill
// can never commit more margin than the target.
package sizing

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// Converter maps a target notional to a contract size using a per-symbol
// metadata table. The table is refreshed periodically from exchange
// metadata; conversion itself is pure and idempotent.
type Converter struct {
	logger ports.Logger

	mu    sync.RWMutex
	specs map[string]domain.SymbolSpec
}

// New creates a Converter with an empty metadata table.
func New(logger ports.Logger) (*Converter, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for sizing converter")
	}
	return &Converter{
		logger: logger,
		specs:  make(map[string]domain.SymbolSpec),
	}, nil
}

// Update replaces the metadata table with a fresh snapshot from the
// exchange. Specs with a non-positive step size are dropped: they would
// make step rounding meaningless.
func (c *Converter) Update(ctx context.Context, specs map[string]domain.SymbolSpec) {
	clean := make(map[string]domain.SymbolSpec, len(specs))
	for sym, spec := range specs {
		if spec.StepSize <= 0 || spec.ContractMultiplier <= 0 {
			c.logger.Warn(ctx, "Dropping symbol spec with invalid step or multiplier", map[string]interface{}{
				"symbol": sym, "stepSize": spec.StepSize, "multiplier": spec.ContractMultiplier,
			})
			continue
		}
		clean[sym] = spec
	}

	c.mu.Lock()
	c.specs = clean
	c.mu.Unlock()
	c.logger.Info(ctx, "Symbol metadata refreshed", map[string]interface{}{"symbols": len(clean)})
}

// Spec returns the metadata for a symbol.
// Fails with ports.ErrUnknownSymbol if metadata is absent.
func (c *Converter) Spec(symbol string) (domain.SymbolSpec, error) {
	c.mu.RLock()
	spec, ok := c.specs[symbol]
	c.mu.RUnlock()
	if !ok {
		return domain.SymbolSpec{}, fmt.Errorf("symbol %s: %w", symbol, ports.ErrUnknownSymbol)
	}
	return spec, nil
}

// Contracts computes the order size for a target notional at the given
// mark price:
//
//	contracts = floor(targetNotional / (markPrice * multiplier) / step) * step
//
// The result is always <= the unrounded target. Fails with
// ports.ErrSizeBelowMinimum when the rounded size is zero or under the
// exchange minimum; callers treat that as an intent discard.
func (c *Converter) Contracts(symbol string, targetNotional, markPrice float64) (float64, error) {
	spec, err := c.Spec(symbol)
	if err != nil {
		return 0, err
	}
	if markPrice <= 0 {
		return 0, fmt.Errorf("mark price %v for %s: %w", markPrice, symbol, ports.ErrInvalidRequest)
	}
	if targetNotional <= 0 {
		return 0, fmt.Errorf("target notional %v for %s: %w", targetNotional, symbol, ports.ErrInvalidRequest)
	}

	notional := decimal.NewFromFloat(targetNotional)
	unitValue := decimal.NewFromFloat(markPrice).Mul(decimal.NewFromFloat(spec.ContractMultiplier))
	step := decimal.NewFromFloat(spec.StepSize)

	// Decimal division keeps the floor exact at step boundaries, where
	// float64 arithmetic would sometimes round a full step away.
	steps := notional.Div(unitValue).Div(step).Floor()
	contracts := steps.Mul(step)

	result, _ := contracts.Float64()
	if result <= 0 || result < spec.MinOrderSize {
		return 0, fmt.Errorf("%s: %v contracts at price %v: %w", symbol, result, markPrice, ports.ErrSizeBelowMinimum)
	}
	return result, nil
}
