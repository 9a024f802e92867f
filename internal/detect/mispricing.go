package detect

import (
	"fmt"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// MispricingParams controls the late-window mispricing detector.
type MispricingParams struct {
	MinSecsLeft   float64
	MaxSecsLeft   float64
	MinVolume     int64
	LowCents      float64
	HighCents     float64
	MinGapCents   float64
	MinConfidence float64
	FeePct        float64
}

// Mispricing looks for late-window extremes: one side's mid priced below
// LowCents while the other's sits above HighCents, with a wide enough gap.
// It buys the cheap side betting on mean reversion or a mispriced
// settlement. Only active inside the [MinSecsLeft, MaxSecsLeft] window with
// enough traded volume.
func Mispricing(snap domain.MarketSnapshot, p MispricingParams, now time.Time) (domain.Opportunity, bool) {
	if snap.Decided() {
		return domain.Opportunity{}, false
	}

	secs := snap.SecsLeft(now)
	if secs < p.MinSecsLeft || secs > p.MaxSecsLeft {
		return domain.Opportunity{}, false
	}
	if snap.Volume < p.MinVolume {
		return domain.Opportunity{}, false
	}

	yesMid := snap.YesMid()
	noMid := snap.NoMid()
	if yesMid <= 0 || noMid <= 0 {
		return domain.Opportunity{}, false
	}

	var cheap domain.Side
	var gap float64
	switch {
	case yesMid < p.LowCents && noMid > p.HighCents:
		cheap = domain.SideYes
		gap = noMid - yesMid
	case noMid < p.LowCents && yesMid > p.HighCents:
		cheap = domain.SideNo
		gap = yesMid - noMid
	default:
		return domain.Opportunity{}, false
	}
	if gap < p.MinGapCents {
		return domain.Opportunity{}, false
	}

	confidence := clamp(0.6, gap/100-p.FeePct+0.3, 0.85)
	if confidence < p.MinConfidence {
		return domain.Opportunity{}, false
	}

	entry := snap.Ask(cheap)
	if entry <= 0 || entry >= 100 {
		return domain.Opportunity{}, false
	}

	gross := confidence * float64(100-entry)
	net := gross - gross*p.FeePct

	return domain.Opportunity{
		Ticker:          snap.Ticker,
		Kind:            domain.KindMispricing,
		Side:            cheap,
		EntryPriceCents: entry,
		YesAsk:          snap.YesAsk,
		NoAsk:           snap.NoAsk,
		NetEdgeCents:    net,
		Confidence:      confidence,
		Reason:          fmt.Sprintf("mid gap %.1fc with %.0fs left, buy %s at %dc", gap, secs, cheap, entry),
		DetectedAt:      now,
	}, true
}

func clamp(lo, v, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
