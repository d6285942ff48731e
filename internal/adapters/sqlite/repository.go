// Package sqlite implements the ports.StateRepository and
// ports.TradeRepository interfaces using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"perpbot/internal/domain"
	"perpbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository persists the open position set, any pending mode change,
// and the immutable closed-trade history.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database and ensures the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/perpbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS open_positions (
		symbol TEXT PRIMARY KEY,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		contracts REAL NOT NULL,
		margin REAL NOT NULL,
		leverage INTEGER NOT NULL,
		take_profit REAL NOT NULL,
		stop_loss REAL NOT NULL,
		opened_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS closed_trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		contracts REAL NOT NULL,
		pnl REAL NOT NULL,
		opened_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP NOT NULL,
		reason TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_mode (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		mode TEXT NOT NULL,
		requested_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_closed_trades_symbol_closed_at ON closed_trades (symbol, closed_at);
	CREATE INDEX IF NOT EXISTS idx_closed_trades_closed_at ON closed_trades (closed_at);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- StateRepository Implementation ---

// SavePosition inserts or replaces the open position for its symbol.
func (r *Repository) SavePosition(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO open_positions (symbol, side, entry_price, contracts, margin, leverage, take_profit, stop_loss, opened_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(symbol) DO UPDATE SET
		side = excluded.side, entry_price = excluded.entry_price, contracts = excluded.contracts,
		margin = excluded.margin, leverage = excluded.leverage, take_profit = excluded.take_profit,
		stop_loss = excluded.stop_loss, opened_at = excluded.opened_at`

	_, err := r.db.ExecContext(ctx, query,
		pos.Symbol, pos.Side, pos.EntryPrice, pos.Contracts, pos.Margin,
		pos.Leverage, pos.TakeProfit, pos.StopLoss, pos.OpenedAt)
	if err != nil {
		return fmt.Errorf("failed to save position for symbol %s: %w", pos.Symbol, err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"symbol": pos.Symbol, "side": pos.Side})
	return nil
}

// RemovePosition deletes the open position for a symbol.
func (r *Repository) RemovePosition(ctx context.Context, symbol string) error {
	const query = `DELETE FROM open_positions WHERE symbol = ?`
	result, err := r.db.ExecContext(ctx, query, symbol)
	if err != nil {
		return fmt.Errorf("failed to remove position for symbol %s: %w", symbol, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected removing position %s: %w", symbol, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no open position for symbol %s: %w", symbol, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Position removed", map[string]interface{}{"symbol": symbol})
	return nil
}

// OpenPositions loads all persisted open positions.
func (r *Repository) OpenPositions(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT symbol, side, entry_price, contracts, margin, leverage, take_profit, stop_loss, opened_at
	FROM open_positions ORDER BY opened_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan open position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating open position rows: %w", err)
	}
	return positions, nil
}

// SavePendingMode persists a deferred mode-change request, replacing
// any earlier one.
func (r *Repository) SavePendingMode(ctx context.Context, mode domain.Mode, requestedAt time.Time) error {
	const query = `
	INSERT INTO pending_mode (id, mode, requested_at) VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET mode = excluded.mode, requested_at = excluded.requested_at`

	if _, err := r.db.ExecContext(ctx, query, mode, requestedAt); err != nil {
		return fmt.Errorf("failed to save pending mode %s: %w", mode, err)
	}
	r.logger.Debug(ctx, "Pending mode saved", map[string]interface{}{"mode": mode})
	return nil
}

// ClearPendingMode removes the persisted mode-change request.
func (r *Repository) ClearPendingMode(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_mode WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to clear pending mode: %w", err)
	}
	return nil
}

// PendingMode loads the persisted mode-change request, if any.
func (r *Repository) PendingMode(ctx context.Context) (domain.Mode, time.Time, error) {
	const query = `SELECT mode, requested_at FROM pending_mode WHERE id = 1`

	var mode domain.Mode
	var requestedAt time.Time
	err := r.db.QueryRowContext(ctx, query).Scan(&mode, &requestedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, nil
		}
		return "", time.Time{}, fmt.Errorf("failed to query pending mode: %w", err)
	}
	return mode, requestedAt, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a closed trade and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.ClosedTrade) (int64, error) {
	const query = `
	INSERT INTO closed_trades (symbol, side, entry_price, exit_price, contracts, pnl, opened_at, closed_at, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Symbol, trade.Side, trade.EntryPrice, trade.ExitPrice, trade.Contracts,
		trade.PnL, trade.OpenedAt, trade.ClosedAt, trade.Reason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert closed trade for symbol %s: %w", trade.Symbol, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for closed trade %s: %w", trade.Symbol, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Closed trade recorded", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "pnl": trade.PnL})
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error) {
	const query = `
	SELECT id, symbol, side, entry_price, exit_price, contracts, pnl, opened_at, closed_at, reason
	FROM closed_trades
	WHERE symbol = ? ORDER BY closed_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades for symbol %s: %w", symbol, err)
	}
	defer rows.Close()

	trades := make([]*domain.ClosedTrade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan closed trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closed trade rows: %w", err)
	}
	return trades, nil
}

// TotalPnL sums realized PnL over the whole history.
func (r *Repository) TotalPnL(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM closed_trades`
	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to calculate total PnL: %w", err)
	}
	return total, nil
}

// SummarizeHourly aggregates trades per hour since the given time.
func (r *Repository) SummarizeHourly(ctx context.Context, since time.Time) ([]ports.TradeSummary, error) {
	const query = `
	SELECT strftime('%Y-%m-%dT%H:00:00Z', closed_at), COUNT(*), SUM(pnl > 0), COALESCE(SUM(pnl), 0)
	FROM closed_trades
	WHERE closed_at >= ?
	GROUP BY 1 ORDER BY 1`
	return r.summarize(ctx, query, since)
}

// SummarizeDaily aggregates trades per calendar day since the given time.
func (r *Repository) SummarizeDaily(ctx context.Context, since time.Time) ([]ports.TradeSummary, error) {
	const query = `
	SELECT strftime('%Y-%m-%dT00:00:00Z', closed_at), COUNT(*), SUM(pnl > 0), COALESCE(SUM(pnl), 0)
	FROM closed_trades
	WHERE closed_at >= ?
	GROUP BY 1 ORDER BY 1`
	return r.summarize(ctx, query, since)
}

func (r *Repository) summarize(ctx context.Context, query string, since time.Time) ([]ports.TradeSummary, error) {
	rows, err := r.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade summary: %w", err)
	}
	defer rows.Close()

	summaries := make([]ports.TradeSummary, 0)
	for rows.Next() {
		var bucket string
		var s ports.TradeSummary
		if err := rows.Scan(&bucket, &s.Trades, &s.Wins, &s.PnL); err != nil {
			return nil, fmt.Errorf("failed to scan trade summary row: %w", err)
		}
		s.Bucket, err = time.Parse(time.RFC3339, bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to parse summary bucket '%s': %w", bucket, err)
		}
		summaries = append(summaries, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade summary rows: %w", err)
	}
	return summaries, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	var pos domain.Position
	err := s.Scan(&pos.Symbol, &pos.Side, &pos.EntryPrice, &pos.Contracts, &pos.Margin,
		&pos.Leverage, &pos.TakeProfit, &pos.StopLoss, &pos.OpenedAt)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

func scanTrade(s scanner) (*domain.ClosedTrade, error) {
	var trade domain.ClosedTrade
	err := s.Scan(&trade.ID, &trade.Symbol, &trade.Side, &trade.EntryPrice, &trade.ExitPrice,
		&trade.Contracts, &trade.PnL, &trade.OpenedAt, &trade.ClosedAt, &trade.Reason)
	if err != nil {
		return nil, err
	}
	return &trade, nil
}
