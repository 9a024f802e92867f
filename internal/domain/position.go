package domain

import "time"

// PositionState is one node of the position lifecycle.
//
//	entering → holding → {flipping → holding}* →
//	    {taking_profit | stopping_out | expiring_held} → closed
//
// unbalanced is reachable from any partially-filled multi-leg entry.
type PositionState string

const (
	StateEntering     PositionState = "entering"
	StateHolding      PositionState = "holding"
	StateFlipping     PositionState = "flipping"
	StateTakingProfit PositionState = "taking_profit"
	StateStoppingOut  PositionState = "stopping_out"
	StateExpiringHeld PositionState = "expiring_held"
	StateUnbalanced   PositionState = "unbalanced"
	StateClosed       PositionState = "closed"
)

// Open reports whether the state still requires monitoring.
func (s PositionState) Open() bool {
	return s != StateClosed
}

// Position is the local record of one open trade, exclusively owned by the
// engine and persisted after every transition. At most one open position
// exists per ticker.
type Position struct {
	Ticker          string
	Kind            OpportunityKind
	Side            Side // side currently held; for arbitrage, yes (the pair is tracked via costs)
	EntryPriceCents int64
	Contracts       int64
	State           PositionState

	// CumLossCents accumulates realized losses across flips.
	CumLossCents int64
	// FlipCount is monotonically non-decreasing.
	FlipCount int64

	// Arbitrage pair costs; zero for directional positions.
	YesCostCents int64
	NoCostCents  int64

	// Confidence carried over from the opportunity, used by dry-run
	// settlement simulation.
	Confidence float64

	RealizedPnLCents int64
	OpenedAt         time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}

// PnLCents is the mark-to-market profit per contract: current bid minus the
// entry price of the most recent confirmed fill.
func (p Position) PnLCents(bid int64) int64 {
	return bid - p.EntryPriceCents
}

// IsArb reports whether the position holds both legs of a pair.
func (p Position) IsArb() bool {
	return p.Kind == KindArbitrage
}

// BrokerPosition is the exchange's authoritative view of a holding, used by
// reconciliation.
type BrokerPosition struct {
	Ticker        string
	Side          Side
	Count         int64
	AvgPriceCents int64
}

// OrderStatus is the terminal status of an order placement attempt.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusResting  OrderStatus = "resting"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusFailed   OrderStatus = "failed"
)

// OrderResult is what an order placement returned.
type OrderResult struct {
	OrderID          string
	Status           OrderStatus
	FilledPriceCents int64
	Success          bool
}

// OrderRequest describes a single limit order to place.
type OrderRequest struct {
	Ticker     string
	Side       Side
	Action     string // "buy" or "sell"
	PriceCents int64
	Count      int64
}
