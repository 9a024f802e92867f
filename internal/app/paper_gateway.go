package app

import (
	"context"
	"fmt"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
	"github.com/jason-bohan/ArbitrageBot/internal/platform/kalshi"
)

// paperGateway reads real market data through the exchange client but
// substitutes a simulated portfolio. Order placement goes through the paper
// executor, never here.
type paperGateway struct {
	*kalshi.Client
	bankrollCents int64
}

func newPaperGateway(client *kalshi.Client, bankrollCents int64) *paperGateway {
	return &paperGateway{Client: client, bankrollCents: bankrollCents}
}

func (g *paperGateway) GetBalance(context.Context) (int64, error) {
	return g.bankrollCents, nil
}

func (g *paperGateway) GetPortfolioPositions(context.Context) ([]domain.BrokerPosition, error) {
	return nil, nil
}

func (g *paperGateway) PlaceOrder(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, fmt.Errorf("paper gateway does not place orders: %w", domain.ErrOrderRejected)
}

var _ domain.Gateway = (*paperGateway)(nil)
