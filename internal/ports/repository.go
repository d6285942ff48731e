package ports

import (
	"context"
	"time"

	"perpbot/internal/domain"
)

// StateRepository persists the controller state that must survive a
// restart: the open position set and any pending mode change. On
// startup the controller reconciles the recovered positions against the
// exchange before resuming.
type StateRepository interface {
	// SavePosition inserts or replaces the open position for its symbol.
	SavePosition(ctx context.Context, pos *domain.Position) error
	// RemovePosition deletes the open position for a symbol.
	RemovePosition(ctx context.Context, symbol string) error
	// OpenPositions loads all persisted open positions.
	OpenPositions(ctx context.Context) ([]*domain.Position, error)

	// SavePendingMode persists a deferred mode-change request.
	SavePendingMode(ctx context.Context, mode domain.Mode, requestedAt time.Time) error
	// ClearPendingMode removes the persisted mode-change request.
	ClearPendingMode(ctx context.Context) error
	// PendingMode loads the persisted mode-change request, if any.
	// Returns "", zero time if none is pending.
	PendingMode(ctx context.Context) (domain.Mode, time.Time, error)
}

// TradeSummary aggregates closed trades over one reporting bucket.
type TradeSummary struct {
	Bucket time.Time // start of the hour or day
	Trades int
	Wins   int
	PnL    float64
}

// TradeRepository stores the immutable closed-trade history.
type TradeRepository interface {
	// CreateTrade saves a closed trade and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.ClosedTrade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error)
	// TotalPnL sums realized PnL over the whole history.
	TotalPnL(ctx context.Context) (float64, error)
	// SummarizeHourly aggregates trades per hour since the given time.
	SummarizeHourly(ctx context.Context, since time.Time) ([]TradeSummary, error)
	// SummarizeDaily aggregates trades per calendar day since the given time.
	SummarizeDaily(ctx context.Context, since time.Time) ([]TradeSummary, error)
}
