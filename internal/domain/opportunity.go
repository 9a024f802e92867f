package domain

import "time"

// Side is one leg of a binary market.
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// OpportunityKind identifies which detector produced an opportunity.
type OpportunityKind string

const (
	KindArbitrage  OpportunityKind = "arbitrage"
	KindImbalance  OpportunityKind = "imbalance"
	KindMispricing OpportunityKind = "mispricing"
	// KindAdopted marks positions reconciliation found at the exchange with
	// no local record; their originating signal is unknown.
	KindAdopted OpportunityKind = "adopted"
)

// Opportunity is a detector's verdict on one snapshot. It is consumed
// immediately by the sizer and never persisted beyond the audit log.
type Opportunity struct {
	Ticker          string
	Kind            OpportunityKind
	Side            Side // empty for arbitrage (both legs are bought)
	EntryPriceCents int64
	// YesAsk/NoAsk capture both legs for arbitrage pair costing.
	YesAsk int64
	NoAsk  int64
	// NetEdgeCents is the fee-adjusted expected edge per contract (or per
	// pair for arbitrage), in cents.
	NetEdgeCents float64
	Confidence   float64 // [0,1]
	Reason       string
	DetectedAt   time.Time
}

// PairCostCents returns the combined ask cost of both legs of an arbitrage
// pair, or the single-leg entry price for directional opportunities.
func (o Opportunity) PairCostCents() int64 {
	if o.Kind == KindArbitrage {
		return o.YesAsk + o.NoAsk
	}
	return o.EntryPriceCents
}
