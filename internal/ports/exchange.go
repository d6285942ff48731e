package ports

import (
	"context"
	"time"

	"perpbot/internal/domain"
)

// ExchangePosition is a position as reported by the exchange. Used only
// for startup reconciliation against the locally tracked position set.
type ExchangePosition struct {
	Symbol     string
	Side       domain.Side
	Contracts  float64 // absolute size
	EntryPrice float64
	MarkPrice  float64
	Leverage   int
}

// MarketDataFeed supplies candles and live mark prices.
type MarketDataFeed interface {
	// Candles retrieves the most recent candles for the symbol, oldest first.
	Candles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error)

	// MarkPrice retrieves the current mark price for a symbol.
	MarkPrice(ctx context.Context, symbol string) (float64, error)

	// StreamCandles starts a stream of candle updates for a symbol. The
	// handler receives every update, including unfinished intervals
	// (Candle.IsFinal distinguishes them). Returns channels to observe and
	// stop the stream.
	StreamCandles(ctx context.Context, symbol, interval string, handler func(c *domain.Candle), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}

// OrderClient submits and tracks exchange orders. All orders are market
// orders; the lifecycle controller manages TP/SL levels itself.
type OrderClient interface {
	// SubmitOrder places a market order and returns the exchange order ID.
	// reduceOnly must be set for closing orders so a failed close can never
	// open an opposite position.
	SubmitOrder(ctx context.Context, symbol string, side domain.Side, contracts float64, reduceOnly bool) (int64, error)

	// OrderStatus reports the current state of a submitted order.
	OrderStatus(ctx context.Context, symbol string, orderID int64) (*domain.OrderStatus, error)

	// CancelOrder cancels an open order by its ID.
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
}

// AccountClient exposes exchange-reported account state.
type AccountClient interface {
	// Balance retrieves the available balance for an asset (e.g., "USDT").
	Balance(ctx context.Context, asset string) (float64, error)

	// OpenPositions lists all non-zero positions reported by the exchange.
	OpenPositions(ctx context.Context) ([]*ExchangePosition, error)

	// SetLeverage sets the leverage for a symbol.
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	// SymbolSpecs retrieves sizing metadata for all tradable symbols.
	SymbolSpecs(ctx context.Context) (map[string]domain.SymbolSpec, error)
}

// ExchangeClient is the full exchange surface the application wires up.
type ExchangeClient interface {
	MarketDataFeed
	OrderClient
	AccountClient

	// SetServerTime synchronizes the client clock with the exchange.
	SetServerTime(ctx context.Context) error

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current exchange server time.
	GetServerTime(ctx context.Context) (time.Time, error)
}
