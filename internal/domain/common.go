package domain

// Side represents the direction of a position or order.
type Side string

const (
	Long  Side = "LONG"
	Short Side = "SHORT"
)

// Opposite returns the closing side for a position opened on this side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// Signal is the output of a strategy evaluation for one symbol.
type Signal string

const (
	SignalLong  Signal = "LONG"
	SignalShort Signal = "SHORT"
	SignalHold  Signal = "HOLD"
)

// Mode is the operating mode of the trading engine. It restricts which
// signal directions may open new positions.
type Mode string

const (
	ModeLongOnly  Mode = "long-only"
	ModeShortOnly Mode = "short-only"
	ModeBoth      Mode = "both"
	ModeHalted    Mode = "halted"
)

// IsValid reports whether m is one of the known operating modes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeLongOnly, ModeShortOnly, ModeBoth, ModeHalted:
		return true
	}
	return false
}

// Permits reports whether the mode allows opening a position for the
// given signal direction.
func (m Mode) Permits(sig Signal) bool {
	switch m {
	case ModeLongOnly:
		return sig == SignalLong
	case ModeShortOnly:
		return sig == SignalShort
	case ModeBoth:
		return sig == SignalLong || sig == SignalShort
	}
	return false
}

// ExitReason indicates why a position was closed.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "TP"
	ExitStopLoss   ExitReason = "SL"
	ExitKillSwitch ExitReason = "KILL_SWITCH"
)

// OrderState is the lifecycle state of a submitted exchange order.
type OrderState string

const (
	OrderPending  OrderState = "PENDING"
	OrderFilled   OrderState = "FILLED"
	OrderRejected OrderState = "REJECTED"
)

// OrderStatus is a point-in-time view of a submitted order.
type OrderStatus struct {
	OrderID   int64
	State     OrderState
	FillPrice float64 // average filled price, 0 until filled
	FilledQty float64
}
