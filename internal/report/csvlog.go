package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"perpbot/internal/domain"
)

// TradeLog appends closed trades to a CSV file, one row per close. The
// header is written once when the file is created.
type TradeLog struct {
	mu   sync.Mutex
	path string
}

var csvHeader = []string{
	"closed_at", "opened_at", "symbol", "side", "contracts",
	"entry_price", "exit_price", "pnl", "reason",
}

// NewTradeLog creates a TradeLog writing to path.
func NewTradeLog(path string) (*TradeLog, error) {
	if path == "" {
		return nil, fmt.Errorf("trade log path is required")
	}
	return &TradeLog{path: path}, nil
}

// Append writes one trade row, creating the file with a header row on
// first use.
func (l *TradeLog) Append(trade *domain.ClosedTrade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, statErr := os.Stat(l.path)
	isNew := os.IsNotExist(statErr)

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open trade log %s: %w", l.path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if isNew {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write trade log header: %w", err)
		}
	}
	if err := w.Write([]string{
		trade.ClosedAt.UTC().Format(time.RFC3339),
		trade.OpenedAt.UTC().Format(time.RFC3339),
		trade.Symbol,
		string(trade.Side),
		strconv.FormatFloat(trade.Contracts, 'f', -1, 64),
		strconv.FormatFloat(trade.EntryPrice, 'f', -1, 64),
		strconv.FormatFloat(trade.ExitPrice, 'f', -1, 64),
		strconv.FormatFloat(trade.PnL, 'f', -1, 64),
		string(trade.Reason),
	}); err != nil {
		return fmt.Errorf("failed to write trade log row: %w", err)
	}
	w.Flush()
	return w.Error()
}
