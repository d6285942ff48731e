package ports

import (
	"context"

	"perpbot/internal/domain"
)

// SignalSource produces directional signals from candle history. It is
// pluggable: implementations may be swapped without controller changes.
type SignalSource interface {
	// RequiredCandles returns the minimum history length the source needs.
	RequiredCandles() int

	// Signal evaluates the candle history (oldest first) for one symbol.
	Signal(ctx context.Context, symbol string, candles []*domain.Candle) (domain.Signal, error)
}
