package detect

import (
	"fmt"
	"math"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// ImbalanceParams controls the order-book-imbalance detector.
type ImbalanceParams struct {
	Threshold          float64
	DepthCents         int64
	MaxEntryPriceCents int64
	FeePct             float64
}

// Imbalance computes the order book imbalance over the bid volume within
// DepthCents of each side's best bid and enters on the heavy side: positive
// OBI means yes-side bid pressure, negative means no-side. Entry is that
// side's current ask, rejected when missing or above MaxEntryPriceCents.
//
// The edge estimate is the fee-adjusted payoff to settlement weighted by
// |OBI|, so stronger imbalances at cheaper entries rank higher.
func Imbalance(snap domain.MarketSnapshot, book domain.OrderBook, p ImbalanceParams, now time.Time) (domain.Opportunity, bool) {
	if snap.Decided() {
		return domain.Opportunity{}, false
	}

	obi := book.OBI(p.DepthCents)
	if p.Threshold <= 0 || math.Abs(obi) < p.Threshold {
		return domain.Opportunity{}, false
	}

	side := domain.SideYes
	if obi < 0 {
		side = domain.SideNo
	}

	entry := snap.Ask(side)
	if entry <= 0 || entry >= 100 {
		return domain.Opportunity{}, false
	}
	if p.MaxEntryPriceCents > 0 && entry > p.MaxEntryPriceCents {
		return domain.Opportunity{}, false
	}

	strength := math.Abs(obi)
	gross := strength * float64(100-entry)
	net := gross - gross*p.FeePct

	return domain.Opportunity{
		Ticker:          snap.Ticker,
		Kind:            domain.KindImbalance,
		Side:            side,
		EntryPriceCents: entry,
		YesAsk:          snap.YesAsk,
		NoAsk:           snap.NoAsk,
		NetEdgeCents:    net,
		Confidence:      strength,
		Reason:          fmt.Sprintf("OBI %+.3f within %dc depth, enter %s at %dc", obi, p.DepthCents, side, entry),
		DetectedAt:      now,
	}, true
}
