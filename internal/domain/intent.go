package domain

// OrderIntent is a sized entry decision for one cycle. It is constructed
// when a signal passes the entry gates and discarded after submission or
// rejection; it never outlives the decision cycle that produced it.
type OrderIntent struct {
	Symbol         string
	Side           Side
	TargetNotional float64 // margin * leverage, quote currency
	Margin         float64 // margin to reserve before submission
	Contracts      float64 // computed exchange order size
}

// SymbolSpec holds the exchange metadata needed to convert a notional
// target into contracts for one symbol.
type SymbolSpec struct {
	Symbol             string
	ContractMultiplier float64 // quote value of one contract unit at price 1
	StepSize           float64 // minimum contract increment
	MinOrderSize       float64 // smallest accepted order, in contracts
}
