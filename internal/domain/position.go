package domain

import "time"

// Position is a leveraged position owned by the lifecycle controller
// from open to close. On exit it is converted into a ClosedTrade and
// removed from account state.
type Position struct {
	Symbol     string    // Trading symbol (e.g., "BTCUSDT")
	Side       Side      // LONG or SHORT
	EntryPrice float64   // Average fill price at open
	Contracts  float64   // Size in exchange contracts
	Margin     float64   // Margin committed in quote currency
	Leverage   int       // Leverage used for the position
	TakeProfit float64   // Price level that triggers a TP exit
	StopLoss   float64   // Price level that triggers an SL exit
	OpenedAt   time.Time // Timestamp of the entry fill
}

// HitTakeProfit reports whether the mark price has crossed the TP level.
func (p *Position) HitTakeProfit(markPrice float64) bool {
	if p.Side == Long {
		return markPrice >= p.TakeProfit
	}
	return markPrice <= p.TakeProfit
}

// HitStopLoss reports whether the mark price has crossed the SL level.
func (p *Position) HitStopLoss(markPrice float64) bool {
	if p.Side == Long {
		return markPrice <= p.StopLoss
	}
	return markPrice >= p.StopLoss
}

// UnrealizedPnL computes the quote-currency PnL of the position at the
// given mark price for a contract with the given multiplier.
func (p *Position) UnrealizedPnL(markPrice, multiplier float64) float64 {
	diff := markPrice - p.EntryPrice
	if p.Side == Short {
		diff = -diff
	}
	return diff * p.Contracts * multiplier
}
