package engine

import (
	"sync/atomic"

	"perpbot/internal/metrics"
)

// Switch is the kill switch. Engaging it is idempotent: the controller
// observes it at the top of each cycle, stops opening positions
// immediately, and flattens every open position on the next cycle.
// In-flight exit confirmations are still awaited.
type Switch struct {
	engaged atomic.Bool
}

// NewSwitch creates a disengaged kill switch.
func NewSwitch() *Switch {
	return &Switch{}
}

// Engage activates the kill switch. Safe to call repeatedly and from
// any goroutine.
func (s *Switch) Engage() {
	if s.engaged.CompareAndSwap(false, true) {
		metrics.KillSwitchEngaged.Set(1)
	}
}

// Clear deactivates the kill switch, re-enabling new entries.
func (s *Switch) Clear() {
	if s.engaged.CompareAndSwap(true, false) {
		metrics.KillSwitchEngaged.Set(0)
	}
}

// Engaged reports whether the switch is active.
func (s *Switch) Engaged() bool {
	return s.engaged.Load()
}
