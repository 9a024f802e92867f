package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jason-bohan/ArbitrageBot/internal/detect"
	"github.com/jason-bohan/ArbitrageBot/internal/domain"
	"github.com/jason-bohan/ArbitrageBot/internal/engine"
	"github.com/jason-bohan/ArbitrageBot/internal/executor"
	"github.com/jason-bohan/ArbitrageBot/internal/feed"
	"github.com/jason-bohan/ArbitrageBot/internal/poller"
	"github.com/jason-bohan/ArbitrageBot/internal/reconcile"
	"github.com/jason-bohan/ArbitrageBot/internal/sizing"
)

// TradeMode runs the full trading loop: scan, detect, size, enter, monitor,
// and reconcile. Dry run swaps the live executor for the paper simulator and
// skips reconciliation, which has no meaning without real fills.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	return a.runTrading(ctx, deps, false)
}

// FullMode is TradeMode plus the real-time quote feed and the S3 archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.runTrading(ctx, deps, true)
}

func (a *App) runTrading(ctx context.Context, deps *Dependencies, full bool) error {
	a.logPnLSummary(ctx, deps)

	eng := a.buildEngine(deps)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("app: start engine: %w", err)
	}

	detector := detect.NewDetector(a.cfg.Detect, a.cfg.Fees.TotalPct)
	scan := poller.New(deps.Gateway, deps.Cache, a.cfg.Detect, a.logger)

	grp, grpCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return scan.Run(grpCtx, func(ctx context.Context, views []poller.MarketView) {
			all := collectOpportunities(detector, views, time.Now().UTC())
			if len(all) == 0 {
				return
			}
			detect.Rank(all)
			eng.EnterCycle(ctx, all)
		})
	})

	if !a.cfg.DryRun {
		rec := reconcile.New(
			deps.Gateway,
			deps.Positions,
			deps.Notifier,
			deps.Audit,
			eng,
			a.cfg.Reconcile.Interval.Duration,
			a.logger,
		)
		grp.Go(func() error { return rec.Run(grpCtx) })
	}

	if full {
		if deps.WS != nil && deps.Cache != nil {
			quotes := feed.New(deps.WS, deps.Cache, deps.Bus, eng, a.logger)
			grp.Go(func() error { return quotes.Run(grpCtx) })
		}
		if deps.Archiver != nil {
			grp.Go(func() error {
				return deps.Archiver.Run(grpCtx, a.cfg.S3.ArchiveEvery.Duration)
			})
		}
	}

	err := grp.Wait()
	if werr := eng.Wait(); werr != nil && err == nil {
		err = werr
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ScanMode detects and reports opportunities without trading. Useful for
// threshold tuning against live markets.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	detector := detect.NewDetector(a.cfg.Detect, a.cfg.Fees.TotalPct)
	scan := poller.New(deps.Gateway, deps.Cache, a.cfg.Detect, a.logger)

	err := scan.Run(ctx, func(ctx context.Context, views []poller.MarketView) {
		opps := collectOpportunities(detector, views, time.Now().UTC())
		detect.Rank(opps)
		for _, opp := range opps {
			a.logger.InfoContext(ctx, "opportunity",
				slog.String("ticker", opp.Ticker),
				slog.String("kind", string(opp.Kind)),
				slog.String("side", string(opp.Side)),
				slog.Int64("entry_cents", opp.EntryPriceCents),
				slog.Float64("net_edge_cents", opp.NetEdgeCents),
				slog.Float64("confidence", opp.Confidence),
				slog.String("reason", opp.Reason),
			)
			_ = deps.Notifier.Notify(ctx, "opportunity",
				fmt.Sprintf("%s %s", opp.Kind, opp.Ticker),
				fmt.Sprintf("%s, net edge %.1fc", opp.Reason, opp.NetEdgeCents))
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ReconcileMode runs a single reconciliation pass and exits. Intended for
// recovery after a crash or manual intervention on the exchange.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	rec := reconcile.New(
		deps.Gateway,
		deps.Positions,
		deps.Notifier,
		deps.Audit,
		nil,
		a.cfg.Reconcile.Interval.Duration,
		a.logger,
	)
	diff, err := rec.Once(ctx)
	if err != nil {
		return fmt.Errorf("app: reconcile: %w", err)
	}
	if diff.Empty() {
		a.logger.InfoContext(ctx, "book matches exchange, nothing to repair")
		return nil
	}
	a.logger.InfoContext(ctx, "reconciliation complete",
		slog.Any("pruned", diff.Pruned),
		slog.Any("adopted", diff.Adopted),
		slog.Any("repaired", diff.Repaired),
		slog.Any("unbalanced", diff.Unbalanced),
	)
	return nil
}

// collectOpportunities evaluates every scanned market and flattens the hits.
func collectOpportunities(d *detect.Detector, views []poller.MarketView, now time.Time) []domain.Opportunity {
	var all []domain.Opportunity
	for _, view := range views {
		all = append(all, d.Evaluate(view.Snapshot, view.Book, now)...)
	}
	return all
}

// buildEngine assembles the executor and state machine for the configured
// trading mode.
func (a *App) buildEngine(deps *Dependencies) *engine.Engine {
	var exec executor.Executor
	if a.cfg.DryRun {
		exec = executor.NewPaper(time.Now().UnixNano(), a.logger)
	} else {
		exec = executor.NewLive(deps.Gateway, deps.Multi, a.logger)
	}
	return engine.New(
		deps.Gateway,
		exec,
		deps.Positions,
		deps.Ledger,
		deps.Cache,
		deps.Locks,
		deps.Notifier,
		sizing.FromConfig(a.cfg.Sizing),
		engine.ParamsFromConfig(a.cfg.Engine, a.cfg.DryRun),
		a.logger,
	)
}

// logPnLSummary writes one startup line summarizing realized performance:
// the local ledger totals plus, in live mode, the exchange's recent
// settlements as the authoritative record.
func (a *App) logPnLSummary(ctx context.Context, deps *Dependencies) {
	totals, err := deps.Ledger.Totals(ctx)
	if err != nil {
		a.logger.Warn("ledger totals unavailable", slog.String("error", err.Error()))
		return
	}
	var trades, wins, losses, profit int64
	for _, t := range totals {
		trades += t.Trades
		wins += t.Wins
		losses += t.Losses
		profit += t.ProfitCents
	}
	attrs := []any{
		slog.Int64("trades", trades),
		slog.Int64("wins", wins),
		slog.Int64("losses", losses),
		slog.Int64("profit_cents", profit),
	}

	if !a.cfg.DryRun {
		settlements, err := deps.Kalshi.GetSettlements(ctx, 100)
		if err != nil {
			a.logger.Warn("settlements unavailable", slog.String("error", err.Error()))
		} else {
			var settled, revenue, cost int64
			for _, s := range settlements {
				settled++
				revenue += s.Revenue
				cost += s.YesTotalCost + s.NoTotalCost
			}
			attrs = append(attrs,
				slog.Int64("settled_markets", settled),
				slog.Int64("settlement_pnl_cents", revenue-cost),
			)
		}
	}

	a.logger.InfoContext(ctx, "realized performance", attrs...)
}
