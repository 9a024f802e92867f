// Package sizing converts opportunities into contract counts using
// fee-adjusted fractional-Kelly sizing bounded by a bankroll percentage.
package sizing

import (
	"fmt"

	"github.com/jason-bohan/ArbitrageBot/internal/config"
	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// Params are the sizing bounds. KellyFraction is the "Kelly lite" multiplier
// (e.g. 0.25) and BankrollPct the per-trade capital slice (e.g. 0.02).
type Params struct {
	KellyFraction   float64
	BankrollPct     float64
	MaxContracts    int64
	MinNetEdgeCents float64
}

// FromConfig maps the sizing configuration onto Params.
func FromConfig(cfg config.SizingConfig) Params {
	return Params{
		KellyFraction:   cfg.KellyFraction,
		BankrollPct:     cfg.BankrollPct,
		MaxContracts:    cfg.MaxContracts,
		MinNetEdgeCents: cfg.MinNetEdgeCents,
	}
}

// Size returns the contract count for an opportunity given the current
// bankroll in cents. The budget slice is bankroll * kelly * bankroll_pct;
// directional entries get floor(budget/entry) contracts, arbitrage pairs
// additionally never exceed what the full bankroll can pay for both legs.
// Returns ErrEdgeTooSmall below the minimum net edge and ErrSizeZero when
// the budget rounds to zero contracts.
func Size(opp domain.Opportunity, bankrollCents int64, p Params) (int64, error) {
	if opp.NetEdgeCents < p.MinNetEdgeCents {
		return 0, fmt.Errorf("net edge %.2fc below %.2fc: %w",
			opp.NetEdgeCents, p.MinNetEdgeCents, domain.ErrEdgeTooSmall)
	}
	if bankrollCents <= 0 {
		return 0, fmt.Errorf("bankroll %dc: %w", bankrollCents, domain.ErrSizeZero)
	}

	unitCost := opp.EntryPriceCents
	if opp.Kind == domain.KindArbitrage {
		unitCost = opp.PairCostCents()
	}
	if unitCost <= 0 {
		return 0, fmt.Errorf("entry cost %dc: %w", unitCost, domain.ErrSizeZero)
	}

	budget := float64(bankrollCents) * p.KellyFraction * p.BankrollPct
	contracts := int64(budget / float64(unitCost))

	if opp.Kind == domain.KindArbitrage {
		// Both legs must be affordable out of the full bankroll.
		affordable := bankrollCents / unitCost
		if affordable < contracts {
			contracts = affordable
		}
	}

	if contracts < 1 {
		return 0, fmt.Errorf("budget %.1fc buys zero at %dc: %w", budget, unitCost, domain.ErrSizeZero)
	}
	if p.MaxContracts > 0 && contracts > p.MaxContracts {
		contracts = p.MaxContracts
	}
	return contracts, nil
}
