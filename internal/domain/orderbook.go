package domain

import "time"

// PriceLevel is a single price+quantity level in a Kalshi-style orderbook.
type PriceLevel struct {
	PriceCents int64
	Count      int64
}

// OrderBook holds the resting bids for both sides of a binary market. Kalshi
// returns only bids per side (a yes bid at p implies a no ask at 100-p).
// Levels are sorted ascending by price, so the best bid is the last element.
type OrderBook struct {
	Ticker    string
	YesBids   []PriceLevel
	NoBids    []PriceLevel
	FetchedAt time.Time
}

// bestBid returns the highest-priced level, or 0 on an empty side.
func bestBid(levels []PriceLevel) int64 {
	if len(levels) == 0 {
		return 0
	}
	return levels[len(levels)-1].PriceCents
}

// volumeWithin sums contract counts at levels within depthCents of the best bid.
func volumeWithin(levels []PriceLevel, depthCents int64) int64 {
	best := bestBid(levels)
	if best == 0 {
		return 0
	}
	var total int64
	for _, l := range levels {
		if l.PriceCents >= best-depthCents {
			total += l.Count
		}
	}
	return total
}

// BidVolumeWithin returns the bid volume for side within a cents-depth window
// of that side's best bid.
func (ob OrderBook) BidVolumeWithin(side Side, depthCents int64) int64 {
	if side == SideYes {
		return volumeWithin(ob.YesBids, depthCents)
	}
	return volumeWithin(ob.NoBids, depthCents)
}

// OBI is the order book imbalance: (Vyes - Vno) / (Vyes + Vno) over the bid
// volume within depthCents of each side's best bid. Positive means yes-heavy.
// Returns 0 when both sides are empty.
func (ob OrderBook) OBI(depthCents int64) float64 {
	vy := volumeWithin(ob.YesBids, depthCents)
	vn := volumeWithin(ob.NoBids, depthCents)
	if vy+vn == 0 {
		return 0
	}
	return float64(vy-vn) / float64(vy+vn)
}
