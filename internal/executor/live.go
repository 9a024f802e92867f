package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
	"github.com/jason-bohan/ArbitrageBot/internal/platform/kalshi"
)

// Live places real orders through the Kalshi gateway. Arbitrage pairs go
// through the multi-account splitter so the two legs can come from separate
// accounts.
type Live struct {
	gateway domain.Gateway
	multi   *kalshi.MultiAccount
	guard   *dedup
	logger  *slog.Logger
}

// NewLive wires a live executor. multi may be nil when arbitrage runs on a
// single account; pairs then place both legs through the gateway.
func NewLive(gateway domain.Gateway, multi *kalshi.MultiAccount, logger *slog.Logger) *Live {
	return &Live{
		gateway: gateway,
		multi:   multi,
		guard:   newDedup(),
		logger:  logger.With(slog.String("component", "executor")),
	}
}

func (l *Live) Enter(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := l.guard.guardEntry(req.Ticker); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusFailed}, err
	}

	res, err := l.gateway.PlaceOrder(ctx, req)
	if err != nil {
		l.guard.release(req.Ticker)
		return res, err
	}

	l.logger.Info("entry placed",
		slog.String("ticker", req.Ticker),
		slog.String("side", string(req.Side)),
		slog.Int64("price_cents", req.PriceCents),
		slog.Int64("count", req.Count),
		slog.String("order_id", res.OrderID))
	return res, nil
}

func (l *Live) EnterPair(ctx context.Context, opp domain.Opportunity, contracts int64) (domain.OrderResult, domain.OrderResult, error) {
	if err := l.guard.guardEntry(opp.Ticker); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusFailed}, domain.OrderResult{Status: domain.OrderStatusFailed}, err
	}

	if l.multi != nil {
		pair, err := l.multi.PlacePair(ctx, opp, contracts)
		if err != nil && !pair.YesLeg.Success {
			// Nothing filled; the ticker may be retried next cycle.
			l.guard.release(opp.Ticker)
		}
		return pair.YesLeg, pair.NoLeg, err
	}

	// Single-account fallback: both legs through one gateway.
	yesRes, err := l.gateway.PlaceOrder(ctx, domain.OrderRequest{
		Ticker: opp.Ticker, Side: domain.SideYes, Action: "buy",
		PriceCents: opp.YesAsk, Count: contracts,
	})
	if err != nil {
		l.guard.release(opp.Ticker)
		return yesRes, domain.OrderResult{}, err
	}

	noRes, err := l.gateway.PlaceOrder(ctx, domain.OrderRequest{
		Ticker: opp.Ticker, Side: domain.SideNo, Action: "buy",
		PriceCents: opp.NoAsk, Count: contracts,
	})
	if err != nil {
		return yesRes, noRes, fmt.Errorf("no leg after filled yes leg: %v: %w", err, domain.ErrPartialFill)
	}

	l.logger.Info("pair placed",
		slog.String("ticker", opp.Ticker),
		slog.Int64("yes_cents", opp.YesAsk),
		slog.Int64("no_cents", opp.NoAsk),
		slog.Int64("pairs", contracts))
	return yesRes, noRes, nil
}

func (l *Live) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return l.gateway.PlaceOrder(ctx, req)
}

func (l *Live) ClearEntry(ticker string) {
	l.guard.release(ticker)
}
