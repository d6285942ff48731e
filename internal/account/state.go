// Package account holds the authoritative in-memory ledger of free
// balance, open positions, and operating mode. It is not a cache: the
// lifecycle controller is its only writer, and drift against the
// exchange-reported balance is surfaced as an alert, never corrected
// automatically.
package account

import (
	"fmt"
	"math"
	"sync"

	"perpbot/internal/domain"
	"perpbot/internal/ports"
)

// State tracks free balance and the open position set. All mutations
// come from the controller's single decision goroutine; the mutex only
// protects read snapshots taken from other goroutines.
type State struct {
	mu          sync.RWMutex
	freeBalance float64
	positions   map[string]*domain.Position
	mode        domain.Mode
	maxOpen     int
}

// New creates a State with the given starting balance, mode, and
// concurrent-position cap.
func New(freeBalance float64, mode domain.Mode, maxOpen int) (*State, error) {
	if freeBalance < 0 {
		return nil, fmt.Errorf("free balance cannot be negative")
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("invalid operating mode %q", mode)
	}
	if maxOpen <= 0 {
		return nil, fmt.Errorf("max open positions must be positive")
	}
	return &State{
		freeBalance: freeBalance,
		positions:   make(map[string]*domain.Position),
		mode:        mode,
		maxOpen:     maxOpen,
	}, nil
}

// FreeBalance returns the uncommitted quote-currency balance.
func (s *State) FreeBalance() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freeBalance
}

// Reserve commits margin for an entry about to be submitted. Returns
// false when the margin exceeds the free balance; the caller discards
// the intent rather than retrying with a smaller size.
func (s *State) Reserve(margin float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if margin <= 0 || margin > s.freeBalance {
		return false
	}
	s.freeBalance -= margin
	return true
}

// Release returns previously reserved margin to the free balance, e.g.
// after an order rejection or a position close.
func (s *State) Release(margin float64) {
	if margin <= 0 {
		return
	}
	s.mu.Lock()
	s.freeBalance += margin
	s.mu.Unlock()
}

// Settle applies realized PnL to the free balance on position close.
func (s *State) Settle(pnl float64) {
	s.mu.Lock()
	s.freeBalance += pnl
	s.mu.Unlock()
}

// Insert records an open position. At most one position per symbol may
// exist and the concurrency cap is enforced here as a final guard.
func (s *State) Insert(pos *domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.positions[pos.Symbol]; exists {
		return fmt.Errorf("position already open for %s: %w", pos.Symbol, ports.ErrDuplicateEntry)
	}
	if len(s.positions) >= s.maxOpen {
		return fmt.Errorf("open position cap %d reached", s.maxOpen)
	}
	s.positions[pos.Symbol] = pos
	return nil
}

// Remove deletes the open position for a symbol, freeing its slot.
func (s *State) Remove(symbol string) {
	s.mu.Lock()
	delete(s.positions, symbol)
	s.mu.Unlock()
}

// Position returns the open position for a symbol, or nil.
func (s *State) Position(symbol string) *domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[symbol]
}

// OpenPositions returns a snapshot of the open position set.
func (s *State) OpenPositions() []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// OpenCount returns the number of open positions.
func (s *State) OpenCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// HasCapacity reports whether a new position may be opened under the cap.
func (s *State) HasCapacity() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions) < s.maxOpen
}

// Mode returns the current operating mode.
func (s *State) Mode() domain.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode switches the operating mode. The controller only calls this
// once the open position set has drained to zero.
func (s *State) SetMode(mode domain.Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("invalid operating mode %q", mode)
	}
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return nil
}

// SetFreeBalance overwrites the free balance. Used only during startup
// when seeding the ledger from the exchange-reported balance.
func (s *State) SetFreeBalance(balance float64) {
	s.mu.Lock()
	s.freeBalance = balance
	s.mu.Unlock()
}

// Reconcile compares the tracked total equity (free balance plus
// committed margin) against the exchange-reported balance. Drift beyond
// the tolerance fails with ports.ErrReconciliationMismatch; the ledger
// is never adjusted here.
func (s *State) Reconcile(exchangeBalance, tolerance float64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	committed := 0.0
	for _, p := range s.positions {
		committed += p.Margin
	}
	tracked := s.freeBalance + committed
	if drift := math.Abs(tracked - exchangeBalance); drift > tolerance {
		return fmt.Errorf("tracked equity %.4f vs exchange %.4f (drift %.4f, tolerance %.4f): %w",
			tracked, exchangeBalance, drift, tolerance, ports.ErrReconciliationMismatch)
	}
	return nil
}
