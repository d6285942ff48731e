// Package report is the reporting engine: it consumes immutable
// ClosedTrade records asynchronously, persists them to the trade store
// and a CSV log, and aggregates summaries. It never blocks, and never
// shares mutable state with, the lifecycle controller.
package report

import (
	"context"
	"fmt"
	"sync"

	"perpbot/internal/domain"
	"perpbot/internal/metrics"
	"perpbot/internal/ports"
)

const recordBuffer = 256

// Engine receives closed trades on a buffered channel and writes them
// out on its own goroutine.
type Engine struct {
	logger    ports.Logger
	tradeRepo ports.TradeRepository
	csv       *TradeLog // optional

	recordCh chan domain.ClosedTrade
	done     chan struct{}
	closeOne sync.Once
}

// NewEngine creates a reporting engine and starts its writer goroutine.
// csvLog may be nil to disable the CSV trail.
func NewEngine(logger ports.Logger, tradeRepo ports.TradeRepository, csvLog *TradeLog) (*Engine, error) {
	if logger == nil || tradeRepo == nil {
		return nil, fmt.Errorf("missing required dependencies for reporting engine")
	}
	e := &Engine{
		logger:    logger,
		tradeRepo: tradeRepo,
		csv:       csvLog,
		recordCh:  make(chan domain.ClosedTrade, recordBuffer),
		done:      make(chan struct{}),
	}
	go e.run()
	return e, nil
}

// Record hands a closed trade to the engine. It never blocks the
// caller: if the buffer is full the trade is logged and dropped from
// reporting (the controller's own persistence is unaffected).
func (e *Engine) Record(trade domain.ClosedTrade) {
	select {
	case e.recordCh <- trade:
	default:
		e.logger.Warn(context.Background(), "Reporting buffer full, dropping trade record", map[string]interface{}{
			"symbol": trade.Symbol, "pnl": trade.PnL,
		})
	}
}

// Close stops accepting records, drains the buffer, and waits for the
// writer to finish.
func (e *Engine) Close() {
	e.closeOne.Do(func() {
		close(e.recordCh)
		<-e.done
	})
}

func (e *Engine) run() {
	defer close(e.done)
	ctx := context.Background()

	for trade := range e.recordCh {
		if _, err := e.tradeRepo.CreateTrade(ctx, &trade); err != nil {
			e.logger.Error(ctx, err, "Failed to persist closed trade", map[string]interface{}{
				"symbol": trade.Symbol, "reason": trade.Reason,
			})
		}
		if e.csv != nil {
			if err := e.csv.Append(&trade); err != nil {
				e.logger.Error(ctx, err, "Failed to append trade to CSV log", map[string]interface{}{
					"symbol": trade.Symbol,
				})
			}
		}
		metrics.TradesClosed.WithLabelValues(string(trade.Reason)).Inc()
		metrics.RealizedPnL.Add(trade.PnL)

		e.logger.Info(ctx, "Trade recorded", map[string]interface{}{
			"symbol": trade.Symbol,
			"side":   trade.Side,
			"pnl":    trade.PnL,
			"reason": trade.Reason,
		})
	}
}
