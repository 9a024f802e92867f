package kalshi

import (
	"context"
	"fmt"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// MultiAccount pairs two independently authenticated clients so an
// arbitrage pair can be split across accounts: the primary buys the yes
// leg, the secondary buys the no leg. There is no atomicity between the
// legs; callers must handle a one-legged result.
type MultiAccount struct {
	Primary   *Client
	Secondary *Client
}

// NewMultiAccount wires two clients. Secondary may be nil, in which case
// both legs go through the primary account.
func NewMultiAccount(primary, secondary *Client) *MultiAccount {
	return &MultiAccount{Primary: primary, Secondary: secondary}
}

// Enabled reports whether a second account is configured.
func (m *MultiAccount) Enabled() bool {
	return m.Secondary != nil
}

// PairResult carries the outcome of both legs of a split arbitrage pair.
type PairResult struct {
	YesLeg domain.OrderResult
	NoLeg  domain.OrderResult
}

// Balanced reports whether both legs filled.
func (r PairResult) Balanced() bool {
	return r.YesLeg.Success && r.NoLeg.Success
}

// PlacePair buys the yes leg on the primary account and the no leg on the
// secondary (or the primary when no secondary exists). If the yes leg fails
// the no leg is never attempted. If the no leg fails after a successful
// yes leg, the returned error wraps ErrPartialFill and the caller owns the
// unbalanced exposure.
func (m *MultiAccount) PlacePair(ctx context.Context, opp domain.Opportunity, contracts int64) (PairResult, error) {
	var res PairResult

	yesReq := domain.OrderRequest{
		Ticker:     opp.Ticker,
		Side:       domain.SideYes,
		Action:     "buy",
		PriceCents: opp.YesAsk,
		Count:      contracts,
	}
	yesRes, err := m.Primary.PlaceOrder(ctx, yesReq)
	res.YesLeg = yesRes
	if err != nil {
		return res, fmt.Errorf("yes leg: %w", err)
	}

	noClient := m.Secondary
	if noClient == nil {
		noClient = m.Primary
	}
	noReq := domain.OrderRequest{
		Ticker:     opp.Ticker,
		Side:       domain.SideNo,
		Action:     "buy",
		PriceCents: opp.NoAsk,
		Count:      contracts,
	}
	noRes, err := noClient.PlaceOrder(ctx, noReq)
	res.NoLeg = noRes
	if err != nil {
		return res, fmt.Errorf("no leg after filled yes leg: %v: %w", err, domain.ErrPartialFill)
	}

	return res, nil
}
