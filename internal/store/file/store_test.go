package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func samplePosition(ticker string, state domain.PositionState) domain.Position {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Position{
		Ticker:          ticker,
		Kind:            domain.KindImbalance,
		Side:            domain.SideYes,
		EntryPriceCents: 42,
		Contracts:       3,
		State:           state,
		Confidence:      0.7,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
}

func TestUpsertGetRoundTrip(t *testing.T) {
	s, _ := tempStore(t)
	ctx := context.Background()

	want := samplePosition("KXFILE", domain.StateHolding)
	require.NoError(t, s.Upsert(ctx, want))

	got, err := s.Get(ctx, "KXFILE")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Get(ctx, "KXMISSING")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPersistsAcrossReopen(t *testing.T) {
	s, path := tempStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, samplePosition("KXA", domain.StateHolding)))
	require.NoError(t, s.Upsert(ctx, samplePosition("KXB", domain.StateClosed)))
	require.NoError(t, s.Append(ctx, domain.LedgerEntry{
		Ticker: "KXB", Kind: domain.KindImbalance, Side: domain.SideYes,
		Contracts: 3, ProfitCents: 30, RecordedAt: time.Now().UTC(),
	}))

	reopened, err := Open(path)
	require.NoError(t, err)

	open, err := reopened.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "KXA", open[0].Ticker)

	totals, err := reopened.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, int64(1), totals[0].Trades)
	assert.Equal(t, int64(30), totals[0].ProfitCents)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, _ := tempStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, samplePosition("KXDEL", domain.StateHolding)))
	require.NoError(t, s.Delete(ctx, "KXDEL"))
	require.NoError(t, s.Delete(ctx, "KXDEL"), "second delete is a no-op")

	_, err := s.Get(ctx, "KXDEL")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTotalsAggregatesPerKind(t *testing.T) {
	s, _ := tempStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	entries := []domain.LedgerEntry{
		{Ticker: "A", Kind: domain.KindArbitrage, Contracts: 2, ProfitCents: 12, RecordedAt: now},
		{Ticker: "B", Kind: domain.KindArbitrage, Contracts: 1, ProfitCents: 6, RecordedAt: now},
		{Ticker: "C", Kind: domain.KindMispricing, Contracts: 5, ProfitCents: -40, RecordedAt: now},
	}
	for _, e := range entries {
		require.NoError(t, s.Append(ctx, e))
	}

	totals, err := s.Totals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 2)

	assert.Equal(t, domain.KindArbitrage, totals[0].Kind)
	assert.Equal(t, int64(2), totals[0].Trades)
	assert.Equal(t, int64(2), totals[0].Wins)
	assert.Equal(t, int64(18), totals[0].ProfitCents)

	assert.Equal(t, domain.KindMispricing, totals[1].Kind)
	assert.Equal(t, int64(1), totals[1].Losses)
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	s, path := tempStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert(ctx, samplePosition("KXTMP", domain.StateHolding)))
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "state.json", entries[0].Name())
}
