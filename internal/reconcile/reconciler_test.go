package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

type memStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.Position)}
}

func (s *memStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pos.Ticker] = pos
	return nil
}

func (s *memStore) Get(_ context.Context, ticker string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[ticker]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *memStore) Delete(_ context.Context, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, ticker)
	return nil
}

func (s *memStore) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.State.Open() {
			out = append(out, pos)
		}
	}
	return out, nil
}

type fakePortfolio struct {
	holdings []domain.BrokerPosition
}

func (f *fakePortfolio) ListOpenMarkets(context.Context, domain.MarketFilter) ([]domain.MarketSnapshot, error) {
	return nil, nil
}
func (f *fakePortfolio) GetMarket(context.Context, string) (domain.MarketSnapshot, error) {
	return domain.MarketSnapshot{}, domain.ErrNotFound
}
func (f *fakePortfolio) GetOrderbook(context.Context, string) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}
func (f *fakePortfolio) PlaceOrder(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{}, nil
}
func (f *fakePortfolio) GetPortfolioPositions(context.Context) ([]domain.BrokerPosition, error) {
	return f.holdings, nil
}
func (f *fakePortfolio) GetBalance(context.Context) (int64, error) { return 0, nil }

type countingNotifier struct {
	mu     sync.Mutex
	alerts []string
}

func (n *countingNotifier) Notify(_ context.Context, event, title, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, event+": "+title)
	return nil
}

func arbPosition(ticker string, pairs int64) domain.Position {
	now := time.Now().UTC()
	return domain.Position{
		Ticker:       ticker,
		Kind:         domain.KindArbitrage,
		Side:         domain.SideYes,
		Contracts:    pairs,
		State:        domain.StateHolding,
		YesCostCents: 47 * pairs,
		NoCostCents:  47 * pairs,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
}

func newTestReconciler(gateway domain.Gateway, store domain.PositionStore, notifier domain.Notifier) *Reconciler {
	return New(gateway, store, notifier, nil, nil, time.Minute, slog.New(slog.DiscardHandler))
}

func TestPruneLocalWithoutRemote(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), arbPosition("KXGONE", 3)))

	notifier := &countingNotifier{}
	r := newTestReconciler(&fakePortfolio{}, store, notifier)

	diff, err := r.Once(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"KXGONE"}, diff.Pruned)
	_, err = store.Get(context.Background(), "KXGONE")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, notifier.alerts, 1, "exactly one discrepancy alert")
}

func TestAdoptRemoteWithoutLocal(t *testing.T) {
	store := newMemStore()
	gateway := &fakePortfolio{holdings: []domain.BrokerPosition{
		{Ticker: "KXSTRAY", Side: domain.SideNo, Count: 7, AvgPriceCents: 34},
	}}

	r := newTestReconciler(gateway, store, nil)
	diff, err := r.Once(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"KXSTRAY"}, diff.Adopted)
	pos, err := store.Get(context.Background(), "KXSTRAY")
	require.NoError(t, err)
	assert.Equal(t, domain.KindAdopted, pos.Kind)
	assert.Equal(t, domain.SideNo, pos.Side)
	assert.Equal(t, int64(7), pos.Contracts)
	assert.Equal(t, int64(34), pos.EntryPriceCents)
	assert.Equal(t, domain.StateHolding, pos.State)
}

func TestRepairCountMismatch(t *testing.T) {
	store := newMemStore()
	now := time.Now().UTC()
	require.NoError(t, store.Upsert(context.Background(), domain.Position{
		Ticker: "KXDRIFT", Kind: domain.KindImbalance, Side: domain.SideYes,
		EntryPriceCents: 40, Contracts: 10, State: domain.StateHolding,
		OpenedAt: now, UpdatedAt: now,
	}))

	gateway := &fakePortfolio{holdings: []domain.BrokerPosition{
		{Ticker: "KXDRIFT", Side: domain.SideYes, Count: 6, AvgPriceCents: 40},
	}}

	r := newTestReconciler(gateway, store, nil)
	diff, err := r.Once(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"KXDRIFT"}, diff.Repaired)
	pos, err := store.Get(context.Background(), "KXDRIFT")
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos.Contracts, "broker count wins")
}

func TestMissingArbLegMarksUnbalanced(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), arbPosition("KXLEG", 5)))

	gateway := &fakePortfolio{holdings: []domain.BrokerPosition{
		{Ticker: "KXLEG", Side: domain.SideYes, Count: 5, AvgPriceCents: 47},
	}}

	notifier := &countingNotifier{}
	r := newTestReconciler(gateway, store, notifier)
	diff, err := r.Once(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"KXLEG"}, diff.Unbalanced)
	pos, err := store.Get(context.Background(), "KXLEG")
	require.NoError(t, err)
	assert.Equal(t, domain.StateUnbalanced, pos.State)
	assert.Len(t, notifier.alerts, 1)
}

func TestReconcileIdempotence(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, arbPosition("KXGONE", 3)))
	require.NoError(t, store.Upsert(ctx, arbPosition("KXLEG", 5)))
	now := time.Now().UTC()
	require.NoError(t, store.Upsert(ctx, domain.Position{
		Ticker: "KXDRIFT", Kind: domain.KindMispricing, Side: domain.SideNo,
		EntryPriceCents: 20, Contracts: 9, State: domain.StateHolding,
		OpenedAt: now, UpdatedAt: now,
	}))

	gateway := &fakePortfolio{holdings: []domain.BrokerPosition{
		{Ticker: "KXLEG", Side: domain.SideYes, Count: 5, AvgPriceCents: 47},
		{Ticker: "KXDRIFT", Side: domain.SideNo, Count: 4, AvgPriceCents: 20},
		{Ticker: "KXSTRAY", Side: domain.SideYes, Count: 2, AvgPriceCents: 60},
	}}

	r := newTestReconciler(gateway, store, nil)

	first, err := r.Once(ctx)
	require.NoError(t, err)
	assert.False(t, first.Empty())

	second, err := r.Once(ctx)
	require.NoError(t, err)
	assert.True(t, second.Empty(), "second pass with no intervening fills must be a no-op: %+v", second)
}
