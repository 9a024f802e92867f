package detect

import (
	"sort"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/config"
	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// Detector bundles the enabled detectors with their configured parameters
// and evaluates each market through all of them.
type Detector struct {
	arbEnabled  bool
	imbEnabled  bool
	misEnabled  bool
	arbParams   ArbitrageParams
	imbParams   ImbalanceParams
	misParams   MispricingParams
}

// NewDetector builds a Detector from the detect and fee configuration.
func NewDetector(cfg config.DetectConfig, feePct float64) *Detector {
	return &Detector{
		arbEnabled: cfg.Arbitrage.Enabled,
		imbEnabled: cfg.Imbalance.Enabled,
		misEnabled: cfg.Mispricing.Enabled,
		arbParams: ArbitrageParams{
			MinMarginCents: cfg.Arbitrage.MinMarginCents,
			MinNetCents:    cfg.Arbitrage.MinNetCents,
			FeePct:         feePct,
		},
		imbParams: ImbalanceParams{
			Threshold:          cfg.Imbalance.Threshold,
			DepthCents:         cfg.Imbalance.DepthCents,
			MaxEntryPriceCents: cfg.Imbalance.MaxEntryPriceCents,
			FeePct:             feePct,
		},
		misParams: MispricingParams{
			MinSecsLeft:   cfg.Mispricing.MinSecsLeft,
			MaxSecsLeft:   cfg.Mispricing.MaxSecsLeft,
			MinVolume:     cfg.Mispricing.MinVolume,
			LowCents:      cfg.Mispricing.LowCents,
			HighCents:     cfg.Mispricing.HighCents,
			MinGapCents:   cfg.Mispricing.MinGapCents,
			MinConfidence: cfg.Mispricing.MinConfidence,
			FeePct:        feePct,
		},
	}
}

// Evaluate runs every enabled detector over one market. Arbitrage wins over
// the directional signals for the same ticker since its payoff does not
// depend on the outcome.
func (d *Detector) Evaluate(snap domain.MarketSnapshot, book domain.OrderBook, now time.Time) []domain.Opportunity {
	var opps []domain.Opportunity

	if d.arbEnabled {
		if opp, ok := Arbitrage(snap, d.arbParams, now); ok {
			return []domain.Opportunity{opp}
		}
	}
	if d.misEnabled {
		if opp, ok := Mispricing(snap, d.misParams, now); ok {
			opps = append(opps, opp)
		}
	}
	if d.imbEnabled {
		if opp, ok := Imbalance(snap, book, d.imbParams, now); ok {
			opps = append(opps, opp)
		}
	}

	// One opportunity per ticker: keep the best fee-adjusted edge.
	if len(opps) > 1 {
		best := opps[0]
		for _, o := range opps[1:] {
			if o.NetEdgeCents > best.NetEdgeCents {
				best = o
			}
		}
		return []domain.Opportunity{best}
	}
	return opps
}

// Rank sorts opportunities by fee-adjusted net edge descending so capital is
// allocated to the best opportunity first.
func Rank(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetEdgeCents > opps[j].NetEdgeCents
	})
}
