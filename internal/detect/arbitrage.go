// Package detect holds the opportunity detectors. Every detector is a pure
// function of a snapshot (plus orderbook for imbalance); side effects and
// I/O live in the poller and engine layers so detection stays reproducible
// under test.
package detect

import (
	"fmt"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// ArbitrageParams controls the pairs-arbitrage detector.
type ArbitrageParams struct {
	MinMarginCents int64
	MinNetCents    float64
	FeePct         float64
}

// Arbitrage reports a pairs-arbitrage opportunity: both sides bought together
// cost less than the guaranteed 100c settlement payout. Net profit is the
// gross margin reduced by the fee percentage. Returns false when the margin
// or fee-adjusted net is below the configured minimums, or when either ask
// is missing.
func Arbitrage(snap domain.MarketSnapshot, p ArbitrageParams, now time.Time) (domain.Opportunity, bool) {
	if snap.YesAsk <= 0 || snap.NoAsk <= 0 {
		return domain.Opportunity{}, false
	}
	if snap.Decided() {
		return domain.Opportunity{}, false
	}

	total := snap.YesAsk + snap.NoAsk
	if total >= 100-p.MinMarginCents {
		return domain.Opportunity{}, false
	}

	gross := float64(100 - total)
	net := gross - gross*p.FeePct
	if net < p.MinNetCents {
		return domain.Opportunity{}, false
	}

	return domain.Opportunity{
		Ticker:          snap.Ticker,
		Kind:            domain.KindArbitrage,
		Side:            domain.SideYes,
		EntryPriceCents: snap.YesAsk,
		YesAsk:          snap.YesAsk,
		NoAsk:           snap.NoAsk,
		NetEdgeCents:    net,
		Confidence:      1.0,
		Reason:          fmt.Sprintf("pair cost %dc, net %.2fc/pair after fees", total, net),
		DetectedAt:      now,
	}, true
}
