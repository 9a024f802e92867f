// Package reconcile keeps local position records consistent with the
// exchange's authoritative portfolio. It runs on its own interval,
// independent of the trading loop, so a crash or missed fill never leaves
// the book permanently wrong.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// Tracker is the subset of the engine the reconciler pokes so in-memory
// monitors stay in agreement with repaired records. Nil-safe: a one-shot
// reconcile run has no engine.
type Tracker interface {
	Adopt(pos domain.Position)
	Drop(ticker string)
	Repair(ticker string, contracts int64, state domain.PositionState)
}

// Diff summarizes one reconciliation pass. An empty diff means local and
// remote agreed.
type Diff struct {
	Pruned     []string
	Adopted    []string
	Repaired   []string
	Unbalanced []string
}

// Empty reports whether the pass found no drift.
func (d Diff) Empty() bool {
	return len(d.Pruned) == 0 && len(d.Adopted) == 0 &&
		len(d.Repaired) == 0 && len(d.Unbalanced) == 0
}

// Reconciler diffs the store against exchange truth and repairs drift.
type Reconciler struct {
	gateway  domain.Gateway
	store    domain.PositionStore
	notifier domain.Notifier   // optional
	audit    domain.AuditStore // optional
	tracker  Tracker           // optional
	interval time.Duration
	logger   *slog.Logger
}

// New builds a Reconciler. notifier, audit, and tracker may all be nil.
func New(
	gateway domain.Gateway,
	store domain.PositionStore,
	notifier domain.Notifier,
	audit domain.AuditStore,
	tracker Tracker,
	interval time.Duration,
	logger *slog.Logger,
) *Reconciler {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Reconciler{
		gateway:  gateway,
		store:    store,
		notifier: notifier,
		audit:    audit,
		tracker:  tracker,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Run reconciles on the configured interval until ctx ends. The first pass
// runs immediately.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", slog.Duration("interval", r.interval))

	for {
		if diff, err := r.Once(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("reconcile pass failed", slog.String("error", err.Error()))
		} else if !diff.Empty() {
			r.logger.Warn("reconcile repaired drift",
				slog.Int("pruned", len(diff.Pruned)),
				slog.Int("adopted", len(diff.Adopted)),
				slog.Int("repaired", len(diff.Repaired)),
				slog.Int("unbalanced", len(diff.Unbalanced)))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Once performs a single reconciliation pass. Repairs are idempotent: an
// immediately repeated pass with no intervening fills returns an empty Diff.
func (r *Reconciler) Once(ctx context.Context) (Diff, error) {
	var diff Diff

	remote, err := r.gateway.GetPortfolioPositions(ctx)
	if err != nil {
		return diff, fmt.Errorf("reconcile: fetch portfolio: %w", err)
	}
	local, err := r.store.ListOpen(ctx)
	if err != nil {
		return diff, fmt.Errorf("reconcile: list local positions: %w", err)
	}

	remoteByTicker := make(map[string]domain.BrokerPosition, len(remote))
	for _, bp := range remote {
		remoteByTicker[bp.Ticker] = bp
	}
	localByTicker := make(map[string]domain.Position, len(local))
	for _, pos := range local {
		localByTicker[pos.Ticker] = pos
	}

	for _, pos := range local {
		bp, held := remoteByTicker[pos.Ticker]
		switch {
		case !held:
			if err := r.prune(ctx, pos); err != nil {
				return diff, err
			}
			diff.Pruned = append(diff.Pruned, pos.Ticker)

		case pos.IsArb() && pos.State != domain.StateUnbalanced:
			// Both legs of a pair net out at the exchange; a surviving
			// broker holding means only one leg is actually on.
			if err := r.markUnbalanced(ctx, pos, bp); err != nil {
				return diff, err
			}
			diff.Unbalanced = append(diff.Unbalanced, pos.Ticker)

		case bp.Count != pos.Contracts || bp.Side != pos.Side:
			if err := r.repair(ctx, pos, bp); err != nil {
				return diff, err
			}
			diff.Repaired = append(diff.Repaired, pos.Ticker)
		}
	}

	for _, bp := range remote {
		if _, tracked := localByTicker[bp.Ticker]; tracked {
			continue
		}
		if err := r.adopt(ctx, bp); err != nil {
			return diff, err
		}
		diff.Adopted = append(diff.Adopted, bp.Ticker)
	}

	return diff, nil
}

// prune deletes a local record the exchange no longer backs and emits
// exactly one discrepancy alert.
func (r *Reconciler) prune(ctx context.Context, pos domain.Position) error {
	if err := r.store.Delete(ctx, pos.Ticker); err != nil {
		return fmt.Errorf("reconcile: prune %s: %w", pos.Ticker, err)
	}
	if r.tracker != nil {
		r.tracker.Drop(pos.Ticker)
	}

	r.logger.Warn("pruned position without exchange backing",
		slog.String("ticker", pos.Ticker),
		slog.Int64("contracts", pos.Contracts))
	r.alert(ctx, "Position pruned",
		fmt.Sprintf("%s: local record (%d contracts) had no exchange holding", pos.Ticker, pos.Contracts))
	r.auditLog(ctx, "prune", map[string]any{
		"ticker": pos.Ticker, "contracts": pos.Contracts, "state": string(pos.State),
	})
	return nil
}

// adopt records an exchange holding that has no local record, so the fill
// is monitored instead of invisible.
func (r *Reconciler) adopt(ctx context.Context, bp domain.BrokerPosition) error {
	now := time.Now().UTC()
	pos := domain.Position{
		Ticker:          bp.Ticker,
		Kind:            domain.KindAdopted,
		Side:            bp.Side,
		EntryPriceCents: bp.AvgPriceCents,
		Contracts:       bp.Count,
		State:           domain.StateHolding,
		OpenedAt:        now,
		UpdatedAt:       now,
	}
	if err := r.store.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("reconcile: adopt %s: %w", bp.Ticker, err)
	}
	if r.tracker != nil {
		r.tracker.Adopt(pos)
	}

	r.logger.Warn("adopted untracked exchange holding",
		slog.String("ticker", bp.Ticker),
		slog.String("side", string(bp.Side)),
		slog.Int64("contracts", bp.Count))
	r.alert(ctx, "Untracked holding adopted",
		fmt.Sprintf("%s: %d %s contracts held at exchange with no local record", bp.Ticker, bp.Count, bp.Side))
	r.auditLog(ctx, "adopt", map[string]any{
		"ticker": bp.Ticker, "side": string(bp.Side), "contracts": bp.Count,
	})
	return nil
}

// repair resets a drifted record to the broker-reported count and side.
func (r *Reconciler) repair(ctx context.Context, pos domain.Position, bp domain.BrokerPosition) error {
	prevCount, prevSide := pos.Contracts, pos.Side
	pos.Contracts = bp.Count
	pos.Side = bp.Side
	pos.UpdatedAt = time.Now().UTC()
	if err := r.store.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("reconcile: repair %s: %w", pos.Ticker, err)
	}
	if r.tracker != nil {
		r.tracker.Repair(pos.Ticker, bp.Count, pos.State)
	}

	r.logger.Warn("repaired drifted position",
		slog.String("ticker", pos.Ticker),
		slog.Int64("local_contracts", prevCount),
		slog.Int64("broker_contracts", bp.Count))
	r.alert(ctx, "Position repaired",
		fmt.Sprintf("%s: local %d %s vs broker %d %s, broker wins",
			pos.Ticker, prevCount, prevSide, bp.Count, bp.Side))
	r.auditLog(ctx, "repair", map[string]any{
		"ticker": pos.Ticker, "from": prevCount, "to": bp.Count,
	})
	return nil
}

// markUnbalanced flags an arbitrage record whose pair lost a leg.
func (r *Reconciler) markUnbalanced(ctx context.Context, pos domain.Position, bp domain.BrokerPosition) error {
	pos.State = domain.StateUnbalanced
	pos.Side = bp.Side
	pos.Contracts = bp.Count
	pos.UpdatedAt = time.Now().UTC()
	if err := r.store.Upsert(ctx, pos); err != nil {
		return fmt.Errorf("reconcile: mark unbalanced %s: %w", pos.Ticker, err)
	}
	if r.tracker != nil {
		r.tracker.Repair(pos.Ticker, bp.Count, domain.StateUnbalanced)
	}

	r.logger.Warn("arbitrage pair missing a leg",
		slog.String("ticker", pos.Ticker),
		slog.String("held_side", string(bp.Side)),
		slog.Int64("contracts", bp.Count))
	r.alert(ctx, "Arbitrage leg missing",
		fmt.Sprintf("%s: only %d %s contracts at exchange for a recorded pair", pos.Ticker, bp.Count, bp.Side))
	r.auditLog(ctx, "unbalanced", map[string]any{
		"ticker": pos.Ticker, "side": string(bp.Side), "contracts": bp.Count,
	})
	return nil
}

func (r *Reconciler) alert(ctx context.Context, title, message string) {
	if r.notifier == nil {
		return
	}
	_ = r.notifier.Notify(ctx, "reconcile", title, message)
}

func (r *Reconciler) auditLog(ctx context.Context, event string, detail map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Log(ctx, event, detail); err != nil {
		r.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
