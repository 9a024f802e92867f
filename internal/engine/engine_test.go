package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
	"github.com/jason-bohan/ArbitrageBot/internal/executor"
	"github.com/jason-bohan/ArbitrageBot/internal/sizing"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type memStore struct {
	mu         sync.Mutex
	positions  map[string]domain.Position
	failWrites bool
}

func newMemStore() *memStore {
	return &memStore{positions: make(map[string]domain.Position)}
}

func (s *memStore) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return domain.ErrPersistence
	}
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

type memLedger struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
}

func (l *memLedger) Append(_ context.Context, entry domain.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memLedger) Totals(_ context.Context) ([]domain.LedgerTotals, error) {
	return nil, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	balance  int64
	snaps    map[string]domain.MarketSnapshot
	getCalls int
}

func (g *fakeGateway) ListOpenMarkets(context.Context, domain.MarketFilter) ([]domain.MarketSnapshot, error) {
	return nil, nil
}

func (g *fakeGateway) GetMarket(_ context.Context, ticker string) (domain.MarketSnapshot, error) {
	g.mu.Lock()
	g.getCalls++
	snap, ok := g.snaps[ticker]
	g.mu.Unlock()
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (g *fakeGateway) marketCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getCalls
}

func (g *fakeGateway) GetOrderbook(context.Context, string) (domain.OrderBook, error) {
	return domain.OrderBook{}, nil
}

func (g *fakeGateway) PlaceOrder(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{Status: domain.OrderStatusFilled, Success: true}, nil
}

func (g *fakeGateway) GetPortfolioPositions(context.Context) ([]domain.BrokerPosition, error) {
	return nil, nil
}

func (g *fakeGateway) GetBalance(context.Context) (int64, error) {
	return g.balance, nil
}

// failingExec refuses every order so transitions must hold their state.
type failingExec struct{}

func (failingExec) Enter(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{Status: domain.OrderStatusFailed}, domain.ErrTransient
}

func (failingExec) EnterPair(context.Context, domain.Opportunity, int64) (domain.OrderResult, domain.OrderResult, error) {
	return domain.OrderResult{}, domain.OrderResult{}, domain.ErrTransient
}

func (failingExec) Place(context.Context, domain.OrderRequest) (domain.OrderResult, error) {
	return domain.OrderResult{Status: domain.OrderStatusFailed}, domain.ErrTransient
}

func (failingExec) ClearEntry(string) {}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testEngine(t *testing.T, exec executor.Executor, store domain.PositionStore, params Params) (*Engine, *memLedger) {
	t.Helper()
	ledger := &memLedger{}
	e := New(
		&fakeGateway{balance: 100000},
		exec, store, ledger, nil, nil, nil,
		sizing.Params{KellyFraction: 0.25, BankrollPct: 0.02, MaxContracts: 100},
		params,
		slog.New(slog.DiscardHandler),
	)
	return e, ledger
}

func holdingPos(ticker string, side domain.Side, entry, contracts int64) *domain.Position {
	now := time.Now().UTC()
	return &domain.Position{
		Ticker:          ticker,
		Kind:            domain.KindImbalance,
		Side:            side,
		EntryPriceCents: entry,
		Contracts:       contracts,
		State:           domain.StateHolding,
		Confidence:      0.7,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
}

func openSnap(ticker string, yesBid, yesAsk, noBid, noAsk int64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Ticker:    ticker,
		YesBid:    yesBid,
		YesAsk:    yesAsk,
		NoBid:     noBid,
		NoAsk:     noAsk,
		CloseTime: time.Now().Add(10 * time.Minute),
		Volume:    1000,
	}
}

// ---------------------------------------------------------------------------
// Transition tests
// ---------------------------------------------------------------------------

func TestFlipDeterminism(t *testing.T) {
	store := newMemStore()
	params := Params{StopLossCents: 2, TakeProfitCents: 10, MaxFlips: 3}
	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, params)

	pos := holdingPos("KXFLIP", domain.SideYes, 50, 1)
	e.positions[pos.Ticker] = pos
	ctx := context.Background()
	now := time.Now().UTC()

	// Bid at 49: pnl = -1, above the stop, nothing happens.
	e.step(ctx, pos, openSnap("KXFLIP", 49, 51, 48, 50), now)
	assert.Equal(t, domain.StateHolding, pos.State)
	assert.Equal(t, int64(0), pos.FlipCount)
	assert.Equal(t, domain.SideYes, pos.Side)

	// Bid at 48: pnl = -2 hits the stop, exactly one flip.
	e.step(ctx, pos, openSnap("KXFLIP", 48, 50, 50, 52), now)
	assert.Equal(t, domain.StateHolding, pos.State)
	assert.Equal(t, int64(1), pos.FlipCount)
	assert.Equal(t, int64(2), pos.CumLossCents)
	assert.Equal(t, domain.SideNo, pos.Side)
	assert.Equal(t, int64(52), pos.EntryPriceCents, "entry tracks the opposite-side fill")

	stored, err := store.Get(ctx, "KXFLIP")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.FlipCount)
}

func TestFlipExhaustedStopsOut(t *testing.T) {
	store := newMemStore()
	params := Params{StopLossCents: 2, TakeProfitCents: 10, MaxFlips: 0}
	e, ledger := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, params)

	pos := holdingPos("KXSTOP", domain.SideYes, 50, 4)
	e.positions[pos.Ticker] = pos

	e.step(context.Background(), pos, openSnap("KXSTOP", 47, 49, 51, 53), time.Now().UTC())

	assert.Equal(t, domain.StateClosed, pos.State)
	require.Len(t, ledger.entries, 1)
	// Sold 4 contracts at 47 against a 50 entry.
	assert.Equal(t, int64(-12), ledger.entries[0].ProfitCents)
	assert.Equal(t, 0, e.OpenCount())
}

func TestTakeProfitTriggersExactlyAtThreshold(t *testing.T) {
	store := newMemStore()
	params := Params{StopLossCents: 5, TakeProfitCents: 10, MaxFlips: 0}
	e, ledger := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, params)

	pos := holdingPos("KXTP", domain.SideYes, 60, 2)
	e.positions[pos.Ticker] = pos
	ctx := context.Background()
	now := time.Now().UTC()

	for _, bid := range []int64{60, 62, 65} {
		e.step(ctx, pos, openSnap("KXTP", bid, bid+2, 100-bid-2, 100-bid), now)
		assert.Equal(t, domain.StateHolding, pos.State, "bid %d must not trigger", bid)
	}

	e.step(ctx, pos, openSnap("KXTP", 71, 73, 27, 29), now)
	assert.Equal(t, domain.StateClosed, pos.State)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, int64(22), ledger.entries[0].ProfitCents, "(71-60) x 2 contracts")
}

func TestFailedOrderLeavesStateUnchanged(t *testing.T) {
	store := newMemStore()
	params := Params{StopLossCents: 2, TakeProfitCents: 10, MaxFlips: 3}
	e, ledger := testEngine(t, failingExec{}, store, params)

	pos := holdingPos("KXFAIL", domain.SideYes, 50, 1)
	e.positions[pos.Ticker] = pos

	// Stop-loss breach with an executor that rejects everything.
	e.step(context.Background(), pos, openSnap("KXFAIL", 48, 50, 50, 52), time.Now().UTC())

	assert.Equal(t, domain.StateHolding, pos.State)
	assert.Equal(t, int64(0), pos.FlipCount)
	assert.Equal(t, int64(0), pos.CumLossCents)
	assert.Empty(t, ledger.entries)
	assert.Equal(t, 1, e.OpenCount())
}

func TestSwingModeHoldsLosersAndTakesWinners(t *testing.T) {
	store := newMemStore()
	params := Params{StopLossCents: 2, TakeProfitCents: 5, MaxFlips: 3, SwingMode: true, RiskThresholdCents: 33}
	e, ledger := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, params)

	pos := holdingPos("KXSWING", domain.SideYes, 30, 1)
	e.positions[pos.Ticker] = pos
	ctx := context.Background()
	now := time.Now().UTC()

	// Deep loss below the risk threshold: no sale.
	e.step(ctx, pos, openSnap("KXSWING", 20, 22, 78, 80), now)
	assert.Equal(t, domain.StateHolding, pos.State)

	// Profitable but still below the threshold: keep holding.
	e.step(ctx, pos, openSnap("KXSWING", 32, 34, 66, 68), now)
	assert.Equal(t, domain.StateHolding, pos.State)

	// Profitable and above the threshold: take it.
	e.step(ctx, pos, openSnap("KXSWING", 40, 42, 58, 60), now)
	assert.Equal(t, domain.StateClosed, pos.State)
	require.Len(t, ledger.entries, 1)
	assert.Equal(t, int64(10), ledger.entries[0].ProfitCents)
}

func TestArbitrageSettlesAtGuaranteedPayout(t *testing.T) {
	store := newMemStore()
	e, ledger := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, Params{})

	now := time.Now().UTC()
	pos := &domain.Position{
		Ticker:       "KXARB",
		Kind:         domain.KindArbitrage,
		Side:         domain.SideYes,
		Contracts:    3,
		State:        domain.StateHolding,
		YesCostCents: 141, // 3 x 47c
		NoCostCents:  141,
		OpenedAt:     now,
		UpdatedAt:    now,
	}
	e.positions[pos.Ticker] = pos

	// Pre-expiry ticks do nothing regardless of prices.
	e.step(context.Background(), pos, openSnap("KXARB", 30, 32, 66, 68), now)
	assert.Equal(t, domain.StateHolding, pos.State)

	expired := openSnap("KXARB", 99, 0, 1, 3)
	expired.CloseTime = now.Add(-time.Minute)
	e.step(context.Background(), pos, expired, now)

	assert.Equal(t, domain.StateClosed, pos.State)
	require.Len(t, ledger.entries, 1)
	// 3 x 100c payout minus 282c combined cost.
	assert.Equal(t, int64(18), ledger.entries[0].ProfitCents)
}

func TestUnbalancedUnwindSellsNakedLeg(t *testing.T) {
	store := newMemStore()
	params := Params{UnbalancedPolicy: UnbalancedUnwind}
	e, ledger := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, params)

	now := time.Now().UTC()
	pos := &domain.Position{
		Ticker:          "KXNAKED",
		Kind:            domain.KindArbitrage,
		Side:            domain.SideYes,
		EntryPriceCents: 47,
		Contracts:       2,
		State:           domain.StateUnbalanced,
		YesCostCents:    94,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	e.positions[pos.Ticker] = pos

	e.step(context.Background(), pos, openSnap("KXNAKED", 45, 47, 51, 53), now)

	assert.Equal(t, domain.StateClosed, pos.State)
	require.Len(t, ledger.entries, 1)
	// Sold 2 at 45c against 94c cost.
	assert.Equal(t, int64(-4), ledger.entries[0].ProfitCents)
}

func TestUnbalancedAlertPolicyHoldsToSettlement(t *testing.T) {
	store := newMemStore()
	params := Params{UnbalancedPolicy: UnbalancedAlert}
	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, params)

	now := time.Now().UTC()
	pos := &domain.Position{
		Ticker:          "KXHOLD",
		Kind:            domain.KindArbitrage,
		Side:            domain.SideYes,
		EntryPriceCents: 47,
		Contracts:       2,
		State:           domain.StateUnbalanced,
		YesCostCents:    94,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	e.positions[pos.Ticker] = pos

	e.step(context.Background(), pos, openSnap("KXHOLD", 45, 47, 51, 53), now)
	assert.Equal(t, domain.StateUnbalanced, pos.State, "alert policy never sells pre-settlement")
}

// ---------------------------------------------------------------------------
// Entry path tests
// ---------------------------------------------------------------------------

func arbOpportunity(ticker string) domain.Opportunity {
	return domain.Opportunity{
		Ticker:          ticker,
		Kind:            domain.KindArbitrage,
		Side:            domain.SideYes,
		EntryPriceCents: 47,
		YesAsk:          47,
		NoAsk:           47,
		NetEdgeCents:    5.9,
		Confidence:      1.0,
		DetectedAt:      time.Now().UTC(),
	}
}

func TestEnterCycleOpensAndPersists(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, Params{})

	e.EnterCycle(context.Background(), []domain.Opportunity{arbOpportunity("KXENTER")})

	assert.Equal(t, 1, e.OpenCount())
	stored, err := store.Get(context.Background(), "KXENTER")
	require.NoError(t, err)
	assert.Equal(t, domain.StateHolding, stored.State)
	assert.True(t, stored.Contracts > 0)
	assert.Equal(t, stored.YesCostCents, stored.NoCostCents)
}

func TestEnterCycleSkipsOpenTickers(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, Params{})

	pos := holdingPos("KXDUP", domain.SideYes, 40, 1)
	e.positions[pos.Ticker] = pos

	e.EnterCycle(context.Background(), []domain.Opportunity{arbOpportunity("KXDUP")})

	assert.Equal(t, 1, e.OpenCount())
	assert.Equal(t, int64(1), e.positions["KXDUP"].Contracts, "existing position untouched")
}

func TestEnterCycleRespectsMaxOpenPositions(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, Params{MaxOpenPositions: 1})

	e.EnterCycle(context.Background(), []domain.Opportunity{
		arbOpportunity("KXONE"),
		arbOpportunity("KXTWO"),
	})

	assert.Equal(t, 1, e.OpenCount())
}

func TestFailSafeSuspendsEntries(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, Params{})

	store.failWrites = true
	e.EnterCycle(context.Background(), []domain.Opportunity{arbOpportunity("KXFSA")})
	assert.True(t, e.failSafe.Load(), "failed persist latches the fail-safe")

	// With the latch set, the next cycle places nothing.
	e.EnterCycle(context.Background(), []domain.Opportunity{arbOpportunity("KXFSB")})
	_, err := store.Get(context.Background(), "KXFSB")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestStartRestoresOpenPositions(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), *holdingPos("KXRESTORE", domain.SideYes, 40, 2)))

	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, Params{TickInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.Start(ctx))
	assert.Equal(t, 1, e.OpenCount())

	cancel()
	require.NoError(t, e.Wait())
}

// ---------------------------------------------------------------------------
// Monitor loop tests
// ---------------------------------------------------------------------------

type memSnapCache struct {
	mu    sync.Mutex
	snaps map[string]domain.MarketSnapshot
}

func (c *memSnapCache) Set(_ context.Context, snap domain.MarketSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps[snap.Ticker] = snap
	return nil
}

func (c *memSnapCache) Get(_ context.Context, ticker string) (domain.MarketSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snaps[ticker]
	if !ok {
		return domain.MarketSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type fakeLease struct {
	mu        sync.Mutex
	refreshes int
	failAfter int
	released  bool
}

func (l *fakeLease) Refresh(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	if l.refreshes > l.failAfter {
		return domain.ErrLockHeld
	}
	return nil
}

func (l *fakeLease) Release() {
	l.mu.Lock()
	l.released = true
	l.mu.Unlock()
}

type fakeLocks struct {
	lease *fakeLease
}

func (f *fakeLocks) Acquire(context.Context, string, time.Duration) (domain.Lease, error) {
	return f.lease, nil
}

func TestRepairQueuesUntilNextTick(t *testing.T) {
	store := newMemStore()
	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, Params{})

	pos := holdingPos("KXFIX", domain.SideYes, 40, 1)
	e.positions[pos.Ticker] = pos

	e.Repair("KXFIX", 3, domain.StateUnbalanced)
	assert.Equal(t, int64(1), pos.Contracts, "repair waits for the monitor's tick")
	assert.Equal(t, domain.StateHolding, pos.State)

	got := e.loadForTick("KXFIX")
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.Contracts)
	assert.Equal(t, domain.StateUnbalanced, got.State)

	// Untracked tickers queue nothing.
	e.Repair("KXGHOST", 9, domain.StateHolding)
	e.mu.Lock()
	_, pending := e.repairs["KXGHOST"]
	e.mu.Unlock()
	assert.False(t, pending)
}

func TestRepairDuringMonitorTicks(t *testing.T) {
	store := newMemStore()
	params := Params{StopLossCents: 2, TakeProfitCents: 10, MaxFlips: 3}
	e, _ := testEngine(t, executor.NewPaper(1, slog.New(slog.DiscardHandler)), store, params)

	pos := holdingPos("KXRECON", domain.SideYes, 50, 1)
	e.positions[pos.Ticker] = pos

	// Flat quote: no exit rule fires, ticks only read the position.
	snap := openSnap("KXRECON", 50, 52, 48, 50)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			e.Repair("KXRECON", 2, domain.StateHolding)
		}
	}()
	for i := 0; i < 1000; i++ {
		if p := e.loadForTick("KXRECON"); p != nil {
			e.step(ctx, p, snap, time.Now().UTC())
		}
	}
	wg.Wait()

	got := e.loadForTick("KXRECON")
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Contracts)
	assert.Equal(t, domain.StateHolding, got.State)
}

func TestSnapshotPrefersFreshCache(t *testing.T) {
	gw := &fakeGateway{
		balance: 100000,
		snaps:   map[string]domain.MarketSnapshot{"KXQUOTE": openSnap("KXQUOTE", 44, 46, 52, 54)},
	}
	cached := openSnap("KXQUOTE", 61, 63, 35, 37)
	cached.FetchedAt = time.Now().UTC()
	cache := &memSnapCache{snaps: map[string]domain.MarketSnapshot{"KXQUOTE": cached}}

	e := New(
		gw, executor.NewPaper(1, slog.New(slog.DiscardHandler)), newMemStore(), &memLedger{},
		cache, nil, nil,
		sizing.Params{KellyFraction: 0.25, BankrollPct: 0.02, MaxContracts: 100},
		Params{},
		slog.New(slog.DiscardHandler),
	)

	snap, err := e.snapshotFor(context.Background(), "KXQUOTE", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(61), snap.YesBid, "fresh cache entry wins")
	assert.Equal(t, 0, gw.marketCalls())

	stale := cached
	stale.FetchedAt = time.Now().Add(-2 * time.Minute)
	cache.snaps["KXQUOTE"] = stale

	snap, err = e.snapshotFor(context.Background(), "KXQUOTE", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(44), snap.YesBid, "stale entry falls back to the exchange")
	assert.Equal(t, 1, gw.marketCalls())
}

func TestMonitorStopsWhenLeaseLost(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), *holdingPos("KXLEASE", domain.SideYes, 40, 1)))

	lease := &fakeLease{failAfter: 2}
	e := New(
		&fakeGateway{balance: 100000},
		executor.NewPaper(1, slog.New(slog.DiscardHandler)),
		store, &memLedger{}, nil, &fakeLocks{lease: lease}, nil,
		sizing.Params{KellyFraction: 0.25, BankrollPct: 0.02, MaxContracts: 100},
		Params{TickInterval: 2 * time.Millisecond},
		slog.New(slog.DiscardHandler),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.Wait())
	require.NoError(t, ctx.Err(), "monitor exits on its own, not via the deadline")

	lease.mu.Lock()
	defer lease.mu.Unlock()
	assert.Equal(t, 3, lease.refreshes, "refreshed every tick until the lock was lost")
	assert.True(t, lease.released)
}
