// Package indicators provides the numeric primitives shared by signal
// sources. All functions take candle history ordered oldest first.
package indicators

import (
	"fmt"

	"perpbot/internal/domain"
)

// SMA computes the Simple Moving Average of closing prices over the
// last period candles.
func SMA(candles []*domain.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	if len(candles) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate SMA for period %d", len(candles), period)
	}

	total := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		total += candles[i].Close
	}
	return total / float64(period), nil
}

// SMASeries computes the SMA at every index of the history. Indexes
// before the first full window hold NaN-free zero values with ok=false
// in the companion slice.
func SMASeries(candles []*domain.Candle, period int) ([]float64, []bool, error) {
	if period <= 0 {
		return nil, nil, fmt.Errorf("SMA period must be positive, got %d", period)
	}
	values := make([]float64, len(candles))
	valid := make([]bool, len(candles))

	var windowSum float64
	for i, c := range candles {
		windowSum += c.Close
		if i >= period {
			windowSum -= candles[i-period].Close
		}
		if i+1 >= period {
			values[i] = windowSum / float64(period)
			valid[i] = true
		}
	}
	return values, valid, nil
}

// EMA computes the Exponential Moving Average of closing prices, seeded
// with the SMA of the first period candles.
func EMA(candles []*domain.Candle, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("EMA period must be positive, got %d", period)
	}
	if len(candles) < period {
		return 0, fmt.Errorf("not enough data (%d) to calculate EMA for period %d", len(candles), period)
	}

	seed, err := SMA(candles[:period], period)
	if err != nil {
		return 0, fmt.Errorf("failed to seed EMA: %w", err)
	}

	multiplier := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(candles); i++ {
		ema = (candles[i].Close-ema)*multiplier + ema
	}
	return ema, nil
}
