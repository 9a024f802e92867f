package domain

import "time"

// MarketSnapshot is one poll of a binary market's top-of-book state. It is
// ephemeral: re-fetched every cycle, never mutated, only replaced.
//
// All prices are integer cents (1-99). A zero ask means the side is not
// quoted; per the defaulting rules such snapshots are treated as decided and
// skipped by detectors.
type MarketSnapshot struct {
	Ticker      string
	Title       string
	YesBid      int64
	YesAsk      int64
	NoBid       int64
	NoAsk       int64
	CloseTime   time.Time
	Volume      int64
	FloorStrike *float64 // only set for strike markets (e.g. crypto 15m series)
	FetchedAt   time.Time
}

// SecsLeft returns seconds until market close relative to now. Negative once
// the market has settled. Returns 0 when CloseTime was never populated.
func (m MarketSnapshot) SecsLeft(now time.Time) float64 {
	if m.CloseTime.IsZero() {
		return 0
	}
	return m.CloseTime.Sub(now).Seconds()
}

// YesMid returns the yes mid-price in cents.
func (m MarketSnapshot) YesMid() float64 {
	return float64(m.YesBid+m.YesAsk) / 2
}

// NoMid returns the no mid-price in cents.
func (m MarketSnapshot) NoMid() float64 {
	return float64(m.NoBid+m.NoAsk) / 2
}

// Decided reports whether the market is effectively resolved or unquotable:
// either ask at 95c or above, or either side unquoted. Decided markets are
// skipped by every detector.
func (m MarketSnapshot) Decided() bool {
	if m.YesAsk == 0 || m.NoAsk == 0 {
		return true
	}
	return m.YesAsk >= 95 || m.NoAsk >= 95
}

// Bid returns the current bid for the given side.
func (m MarketSnapshot) Bid(side Side) int64 {
	if side == SideYes {
		return m.YesBid
	}
	return m.NoBid
}

// Ask returns the current ask for the given side.
func (m MarketSnapshot) Ask(side Side) int64 {
	if side == SideYes {
		return m.YesAsk
	}
	return m.NoAsk
}

// MarketFilter narrows which open markets the poller fetches.
type MarketFilter struct {
	Status      string // "open" unless overridden
	MinCloseTs  time.Time
	MaxCloseTs  time.Time
	SeriesIn    []string // optional ticker-prefix allowlist
	Limit       int
}
