package domain

import "time"

// ClosedTrade is the immutable record emitted when a position exits.
// Owned by the reporting engine's history once created.
type ClosedTrade struct {
	ID         int64      // Assigned by the trade store
	Symbol     string     // Trading symbol
	Side       Side       // Direction of the closed position
	EntryPrice float64    // Average fill price at open
	ExitPrice  float64    // Average fill price at close
	Contracts  float64    // Size in exchange contracts
	PnL        float64    // Realized profit/loss in quote currency
	OpenedAt   time.Time  // Entry fill timestamp
	ClosedAt   time.Time  // Exit fill timestamp
	Reason     ExitReason // Why the position was closed
}

// CloseOut converts a position into its ClosedTrade record.
func CloseOut(p *Position, exitPrice, multiplier float64, closedAt time.Time, reason ExitReason) ClosedTrade {
	return ClosedTrade{
		Symbol:     p.Symbol,
		Side:       p.Side,
		EntryPrice: p.EntryPrice,
		ExitPrice:  exitPrice,
		Contracts:  p.Contracts,
		PnL:        p.UnrealizedPnL(exitPrice, multiplier),
		OpenedAt:   p.OpenedAt,
		ClosedAt:   closedAt,
		Reason:     reason,
	}
}
