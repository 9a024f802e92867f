package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// Paper simulates fills without touching the exchange. Every order fills
// immediately at its limit price so the engine walks the same transitions
// it would live. The RNG is seedable so simulated settlement outcomes are
// reproducible under test.
type Paper struct {
	guard  *dedup
	logger *slog.Logger
	seq    atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewPaper creates a simulated executor with the given RNG seed.
func NewPaper(seed int64, logger *slog.Logger) *Paper {
	return &Paper{
		guard:  newDedup(),
		logger: logger.With(slog.String("component", "paper_executor")),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (p *Paper) fill(req domain.OrderRequest) domain.OrderResult {
	return domain.OrderResult{
		OrderID:          fmt.Sprintf("sim-%d", p.seq.Add(1)),
		Status:           domain.OrderStatusFilled,
		FilledPriceCents: req.PriceCents,
		Success:          true,
	}
}

func (p *Paper) Enter(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := p.guard.guardEntry(req.Ticker); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusFailed}, err
	}
	res := p.fill(req)
	p.logger.Info("simulated entry",
		slog.String("ticker", req.Ticker),
		slog.String("side", string(req.Side)),
		slog.Int64("price_cents", req.PriceCents),
		slog.Int64("count", req.Count))
	return res, nil
}

func (p *Paper) EnterPair(ctx context.Context, opp domain.Opportunity, contracts int64) (domain.OrderResult, domain.OrderResult, error) {
	if err := p.guard.guardEntry(opp.Ticker); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusFailed}, domain.OrderResult{Status: domain.OrderStatusFailed}, err
	}
	yes := p.fill(domain.OrderRequest{Ticker: opp.Ticker, Side: domain.SideYes, PriceCents: opp.YesAsk, Count: contracts})
	no := p.fill(domain.OrderRequest{Ticker: opp.Ticker, Side: domain.SideNo, PriceCents: opp.NoAsk, Count: contracts})
	p.logger.Info("simulated pair",
		slog.String("ticker", opp.Ticker),
		slog.Int64("pairs", contracts))
	return yes, no, nil
}

func (p *Paper) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	return p.fill(req), nil
}

func (p *Paper) ClearEntry(ticker string) {
	p.guard.release(ticker)
}

// SimulateWin draws a settlement outcome for a held position; the position's
// confidence is the win probability. Used when a dry-run position reaches
// expiry with no real settlement to observe.
func (p *Paper) SimulateWin(confidence float64) bool {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Float64() < confidence
}
