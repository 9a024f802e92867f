package executor

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestPaperFillsAtLimitPrice(t *testing.T) {
	p := NewPaper(1, discard())

	res, err := p.Enter(context.Background(), domain.OrderRequest{
		Ticker: "KXTEST-A", Side: domain.SideYes, Action: "buy", PriceCents: 42, Count: 5,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.OrderStatusFilled, res.Status)
	assert.Equal(t, int64(42), res.FilledPriceCents)
	assert.NotEmpty(t, res.OrderID)
}

func TestEntryDedupBlocksSecondEntry(t *testing.T) {
	p := NewPaper(1, discard())
	ctx := context.Background()
	req := domain.OrderRequest{Ticker: "KXTEST-A", Side: domain.SideYes, Action: "buy", PriceCents: 42, Count: 5}

	_, err := p.Enter(ctx, req)
	require.NoError(t, err)

	_, err = p.Enter(ctx, req)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	// Exits and flips on the held ticker are not guarded.
	_, err = p.Place(ctx, domain.OrderRequest{Ticker: "KXTEST-A", Side: domain.SideYes, Action: "sell", PriceCents: 40, Count: 5})
	assert.NoError(t, err)

	// After the guard clears the ticker can be entered again.
	p.ClearEntry("KXTEST-A")
	_, err = p.Enter(ctx, req)
	assert.NoError(t, err)
}

func TestEnterPairGuardsTicker(t *testing.T) {
	p := NewPaper(1, discard())
	ctx := context.Background()
	opp := domain.Opportunity{
		Ticker: "KXTEST-B", Kind: domain.KindArbitrage,
		YesAsk: 47, NoAsk: 47, NetEdgeCents: 5.9,
	}

	yes, no, err := p.EnterPair(ctx, opp, 3)
	require.NoError(t, err)
	assert.True(t, yes.Success)
	assert.True(t, no.Success)
	assert.Equal(t, int64(47), yes.FilledPriceCents)

	_, _, err = p.EnterPair(ctx, opp, 3)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestSimulateWinIsSeededAndBounded(t *testing.T) {
	a := NewPaper(42, discard())
	b := NewPaper(42, discard())

	for i := 0; i < 50; i++ {
		assert.Equal(t, a.SimulateWin(0.7), b.SimulateWin(0.7), "draw %d", i)
	}

	c := NewPaper(7, discard())
	assert.False(t, c.SimulateWin(0))
	assert.True(t, c.SimulateWin(1))
}
