// Package engine owns the per-position lifecycle: entry, monitoring,
// flip/stop/take-profit exits, expiry settlement, and the persistence of
// every transition. The many strategy variants of the original trading
// scripts collapse here into one state machine parameterized by Params.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jason-bohan/ArbitrageBot/internal/config"
	"github.com/jason-bohan/ArbitrageBot/internal/domain"
	"github.com/jason-bohan/ArbitrageBot/internal/executor"
	"github.com/jason-bohan/ArbitrageBot/internal/sizing"
)

// UnbalancedPolicy selects what happens to a naked arbitrage leg.
const (
	UnbalancedAlert  = "alert"
	UnbalancedUnwind = "unwind"
)

// Params parameterizes the position state machine.
type Params struct {
	TickInterval       time.Duration
	StopLossCents      int64
	TakeProfitCents    int64
	MaxFlips           int64
	SwingMode          bool
	RiskThresholdCents int64
	UnbalancedPolicy   string
	MaxOpenPositions   int
	DryRun             bool
}

// ParamsFromConfig maps the engine configuration onto Params.
func ParamsFromConfig(cfg config.EngineConfig, dryRun bool) Params {
	return Params{
		TickInterval:       cfg.TickInterval.Duration,
		StopLossCents:      cfg.StopLossCents,
		TakeProfitCents:    cfg.TakeProfitCents,
		MaxFlips:           cfg.MaxFlips,
		SwingMode:          cfg.SwingMode,
		RiskThresholdCents: cfg.RiskThresholdCents,
		UnbalancedPolicy:   cfg.UnbalancedPolicy,
		MaxOpenPositions:   cfg.MaxOpenPositions,
		DryRun:             dryRun,
	}
}

// Engine drives every open position through its lifecycle.
type Engine struct {
	gateway  domain.Gateway
	exec     executor.Executor
	store    domain.PositionStore
	ledger   domain.LedgerStore
	cache    domain.SnapshotCache // optional
	locks    domain.LockManager   // optional
	notifier domain.Notifier      // optional
	sizer    sizing.Params
	params   Params
	logger   *slog.Logger

	// simulate draws a settlement outcome in dry-run mode.
	simulate func(confidence float64) bool

	mu        sync.Mutex
	positions map[string]*domain.Position
	// repairs holds reconciliation fixes awaiting pickup. Position fields
	// are only ever written by the position's own monitor goroutine, so
	// Repair queues here and the monitor applies at its next tick.
	repairs map[string]repairCmd

	// failSafe latches when persistence becomes unrecoverable: no new
	// entries, existing positions keep being monitored from the last
	// known-good state.
	failSafe atomic.Bool

	grp    *errgroup.Group
	grpCtx context.Context
}

// New builds an Engine. cache, locks, and notifier may be nil.
func New(
	gateway domain.Gateway,
	exec executor.Executor,
	store domain.PositionStore,
	ledger domain.LedgerStore,
	cache domain.SnapshotCache,
	locks domain.LockManager,
	notifier domain.Notifier,
	sizer sizing.Params,
	params Params,
	logger *slog.Logger,
) *Engine {
	e := &Engine{
		gateway:   gateway,
		exec:      exec,
		store:     store,
		ledger:    ledger,
		cache:     cache,
		locks:     locks,
		notifier:  notifier,
		sizer:     sizer,
		params:    params,
		logger:    logger.With(slog.String("component", "engine")),
		positions: make(map[string]*domain.Position),
		repairs:   make(map[string]repairCmd),
	}
	if paper, ok := exec.(*executor.Paper); ok {
		e.simulate = paper.SimulateWin
	}
	return e
}

// Start restores open positions from the store and begins monitoring them.
// Monitors run under one errgroup tied to ctx; Wait blocks until all of
// them stop.
func (e *Engine) Start(ctx context.Context) error {
	e.grp, e.grpCtx = errgroup.WithContext(ctx)

	open, err := e.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("engine: restore open positions: %w", err)
	}

	e.mu.Lock()
	for i := range open {
		pos := open[i]
		e.positions[pos.Ticker] = &pos
		e.spawnMonitor(pos.Ticker)
	}
	n := len(e.positions)
	e.mu.Unlock()

	if n > 0 {
		e.logger.Info("restored open positions", slog.Int("count", n))
	}
	return nil
}

// Wait blocks until all position monitors have exited.
func (e *Engine) Wait() error {
	if e.grp == nil {
		return nil
	}
	return e.grp.Wait()
}

// OpenCount returns the number of positions currently being monitored.
func (e *Engine) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}

// OpenTickers returns the tickers of all positions currently being
// monitored, in no particular order.
func (e *Engine) OpenTickers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.positions))
	for ticker := range e.positions {
		out = append(out, ticker)
	}
	return out
}

// EnterCycle sizes and enters ranked opportunities until bankroll or the
// open-position cap runs out. Opportunities for tickers that already have an
// open position are skipped; one failed entry never blocks the rest.
func (e *Engine) EnterCycle(ctx context.Context, opps []domain.Opportunity) {
	if len(opps) == 0 {
		return
	}
	if e.failSafe.Load() {
		e.logger.Warn("entries suspended, persistence degraded")
		return
	}

	bankroll, err := e.gateway.GetBalance(ctx)
	if err != nil {
		e.logger.Error("balance fetch failed, skipping entry cycle", slog.String("error", err.Error()))
		return
	}

	for _, opp := range opps {
		if ctx.Err() != nil {
			return
		}
		if !e.canOpen(opp.Ticker) {
			continue
		}

		contracts, err := sizing.Size(opp, bankroll, e.sizer)
		if err != nil {
			if !errors.Is(err, domain.ErrEdgeTooSmall) && !errors.Is(err, domain.ErrSizeZero) {
				e.logger.Warn("sizing failed", slog.String("ticker", opp.Ticker), slog.String("error", err.Error()))
			}
			continue
		}

		pos, err := e.enter(ctx, opp, contracts)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				continue
			}
			e.logger.Error("entry failed",
				slog.String("ticker", opp.Ticker),
				slog.String("kind", string(opp.Kind)),
				slog.String("error", err.Error()))
			continue
		}

		bankroll -= positionCost(pos)
		e.track(pos)
		e.notify(ctx, "entry", "Position opened",
			fmt.Sprintf("%s %s %s x%d @ %dc", pos.Kind, pos.Ticker, pos.Side, pos.Contracts, pos.EntryPriceCents))
	}
}

// canOpen checks the one-open-position-per-ticker invariant and the global
// open cap.
func (e *Engine) canOpen(ticker string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[ticker]; ok {
		return false
	}
	return e.params.MaxOpenPositions <= 0 || len(e.positions) < e.params.MaxOpenPositions
}

// enter places the order(s) for one opportunity and returns the persisted
// position. An arbitrage pair that fills only its yes leg comes back in the
// unbalanced state rather than as an error.
func (e *Engine) enter(ctx context.Context, opp domain.Opportunity, contracts int64) (*domain.Position, error) {
	now := time.Now().UTC()
	pos := &domain.Position{
		Ticker:          opp.Ticker,
		Kind:            opp.Kind,
		Side:            opp.Side,
		EntryPriceCents: opp.EntryPriceCents,
		Contracts:       contracts,
		State:           domain.StateEntering,
		Confidence:      opp.Confidence,
		OpenedAt:        now,
		UpdatedAt:       now,
	}

	if opp.Kind == domain.KindArbitrage {
		yes, no, err := e.exec.EnterPair(ctx, opp, contracts)
		switch {
		case err != nil && errors.Is(err, domain.ErrPartialFill):
			// Yes leg filled, no leg did not: naked exposure.
			pos.Side = domain.SideYes
			pos.EntryPriceCents = yes.FilledPriceCents
			pos.YesCostCents = yes.FilledPriceCents * contracts
			pos.State = domain.StateUnbalanced
			e.notify(ctx, "unbalanced", "Unbalanced arbitrage entry",
				fmt.Sprintf("%s filled yes leg only (%d contracts)", opp.Ticker, contracts))
		case err != nil:
			return nil, err
		default:
			pos.YesCostCents = yes.FilledPriceCents * contracts
			pos.NoCostCents = no.FilledPriceCents * contracts
			pos.State = domain.StateHolding
		}
	} else {
		res, err := e.exec.Enter(ctx, domain.OrderRequest{
			Ticker:     opp.Ticker,
			Side:       opp.Side,
			Action:     "buy",
			PriceCents: opp.EntryPriceCents,
			Count:      contracts,
		})
		if err != nil {
			return nil, err
		}
		pos.EntryPriceCents = res.FilledPriceCents
		pos.State = domain.StateHolding
	}

	pos.UpdatedAt = time.Now().UTC()
	e.persist(ctx, pos)
	return pos, nil
}

// track registers the position and spawns its monitor goroutine.
func (e *Engine) track(pos *domain.Position) {
	e.mu.Lock()
	e.positions[pos.Ticker] = pos
	e.mu.Unlock()
	e.spawnMonitor(pos.Ticker)
}

// Adopt registers a position created outside the entry path (an untracked
// fill found by reconciliation) and begins monitoring it.
func (e *Engine) Adopt(pos domain.Position) {
	e.mu.Lock()
	if _, ok := e.positions[pos.Ticker]; ok {
		e.mu.Unlock()
		return
	}
	e.positions[pos.Ticker] = &pos
	e.mu.Unlock()
	e.spawnMonitor(pos.Ticker)
}

// Drop stops monitoring a ticker whose record reconciliation pruned. The
// store side is already handled by the caller.
func (e *Engine) Drop(ticker string) {
	e.mu.Lock()
	delete(e.positions, ticker)
	delete(e.repairs, ticker)
	e.mu.Unlock()
	e.exec.ClearEntry(ticker)
}

// repairCmd is a reconciliation fix queued for the monitor goroutine.
type repairCmd struct {
	contracts int64
	state     domain.PositionState
}

// Repair queues a reconciliation fix for the ticker's monitor, which
// applies it at the start of its next tick. The monitor goroutine owns
// all writes to a tracked position, so Repair never touches the record
// directly.
func (e *Engine) Repair(ticker string, contracts int64, state domain.PositionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.positions[ticker]; !ok {
		return
	}
	e.repairs[ticker] = repairCmd{contracts: contracts, state: state}
}

// loadForTick hands the monitor its position, applying any repair queued
// since the last tick. Returns nil once the position is untracked.
func (e *Engine) loadForTick(ticker string) *domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[ticker]
	if !ok {
		return nil
	}
	if cmd, ok := e.repairs[ticker]; ok {
		delete(e.repairs, ticker)
		pos.Contracts = cmd.contracts
		pos.State = cmd.state
		pos.UpdatedAt = time.Now().UTC()
	}
	return pos
}

func positionCost(pos *domain.Position) int64 {
	if pos.IsArb() {
		return pos.YesCostCents + pos.NoCostCents
	}
	return pos.EntryPriceCents * pos.Contracts
}

// persist writes the position through; on failure it logs and latches the
// fail-safe so no new capital is committed on top of unknown state. A later
// successful write clears the latch.
func (e *Engine) persist(ctx context.Context, pos *domain.Position) {
	if err := e.store.Upsert(ctx, *pos); err != nil {
		e.failSafe.Store(true)
		e.logger.Error("position persist failed, suspending new entries",
			slog.String("ticker", pos.Ticker),
			slog.String("error", err.Error()))
		return
	}
	if e.failSafe.CompareAndSwap(true, false) {
		e.logger.Info("persistence recovered, entries resumed")
	}
}

// close finalizes a position: ledger append, store update, guard release.
func (e *Engine) close(ctx context.Context, pos *domain.Position, profitCents int64, reason string) {
	now := time.Now().UTC()
	pos.State = domain.StateClosed
	pos.RealizedPnLCents = profitCents
	pos.ClosedAt = &now
	pos.UpdatedAt = now
	e.persist(ctx, pos)

	if err := e.ledger.Append(ctx, domain.LedgerEntry{
		Ticker:      pos.Ticker,
		Kind:        pos.Kind,
		Side:        pos.Side,
		Contracts:   pos.Contracts,
		ProfitCents: profitCents,
		DryRun:      e.params.DryRun,
		RecordedAt:  now,
	}); err != nil {
		e.logger.Error("ledger append failed",
			slog.String("ticker", pos.Ticker),
			slog.String("error", err.Error()))
	}

	e.mu.Lock()
	delete(e.positions, pos.Ticker)
	delete(e.repairs, pos.Ticker)
	e.mu.Unlock()
	e.exec.ClearEntry(pos.Ticker)

	e.logger.Info("position closed",
		slog.String("ticker", pos.Ticker),
		slog.String("reason", reason),
		slog.Int64("profit_cents", profitCents),
		slog.Int64("flips", pos.FlipCount))
	e.notify(ctx, "exit", "Position closed",
		fmt.Sprintf("%s %s: %+dc (%s)", pos.Ticker, pos.Kind, profitCents, reason))
}

func (e *Engine) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	_ = e.notifier.Notify(ctx, event, title, message)
}
