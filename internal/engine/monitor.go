package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

const defaultTickInterval = 4 * time.Second

// spawnMonitor starts the monitor goroutine for a tracked ticker. No-op
// before Start, which lets tests drive transitions directly.
func (e *Engine) spawnMonitor(ticker string) {
	if e.grp == nil {
		return
	}
	e.grp.Go(func() error {
		e.monitor(e.grpCtx, ticker)
		return nil
	})
}

// monitor ticks one position until it closes or the context ends. When a
// lock manager is wired, holding the per-ticker lock ensures only one
// process monitors a given position.
func (e *Engine) monitor(ctx context.Context, ticker string) {
	interval := e.params.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}

	lockTTL := 5 * interval
	var lease domain.Lease
	if e.locks != nil {
		var err error
		lease, err = e.locks.Acquire(ctx, "monitor:"+ticker, lockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				e.logger.Debug("monitor lock held elsewhere", slog.String("ticker", ticker))
				return
			}
			e.logger.Warn("monitor lock acquire failed, proceeding unlocked",
				slog.String("ticker", ticker), slog.String("error", err.Error()))
			lease = nil
		} else {
			defer lease.Release()
		}
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if lease != nil {
			if err := lease.Refresh(ctx, lockTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				// Another process may hold the lock now; stepping here
				// would double-manage the position.
				e.logger.Warn("monitor lock lost, stopping",
					slog.String("ticker", ticker), slog.String("error", err.Error()))
				return
			}
		}

		pos := e.loadForTick(ticker)
		if pos == nil {
			return
		}

		snap, err := e.snapshotFor(ctx, ticker, interval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Warn("snapshot fetch failed, holding state",
				slog.String("ticker", ticker), slog.String("error", err.Error()))
			continue
		}

		e.step(ctx, pos, snap, time.Now().UTC())
	}
}

// snapshotFor serves the monitor a quote no older than maxAge, preferring
// the feed-populated cache over a REST round trip.
func (e *Engine) snapshotFor(ctx context.Context, ticker string, maxAge time.Duration) (domain.MarketSnapshot, error) {
	if e.cache != nil {
		snap, err := e.cache.Get(ctx, ticker)
		if err == nil && !snap.FetchedAt.IsZero() && time.Since(snap.FetchedAt) <= maxAge {
			return snap, nil
		}
	}
	return e.gateway.GetMarket(ctx, ticker)
}

// step evaluates one monitoring tick. Any failed order placement leaves the
// position state untouched; the same rule fires again next tick.
func (e *Engine) step(ctx context.Context, pos *domain.Position, snap domain.MarketSnapshot, now time.Time) {
	if pos.State == domain.StateUnbalanced {
		e.stepUnbalanced(ctx, pos, snap, now)
		return
	}

	if !snap.CloseTime.IsZero() && snap.SecsLeft(now) <= 0 {
		e.settle(ctx, pos, snap)
		return
	}

	// A full arbitrage pair pays out at settlement whatever the outcome;
	// there is nothing to manage in between.
	if pos.IsArb() {
		return
	}

	bid := snap.Bid(pos.Side)
	if bid <= 0 {
		return
	}
	pnl := pos.PnLCents(bid)

	if e.params.SwingMode {
		// Below the risk threshold nothing sells: losers ride to
		// settlement. Above it, any profit is taken immediately.
		if pnl > 0 && bid > e.params.RiskThresholdCents {
			e.sellAll(ctx, pos, bid, domain.StateTakingProfit, "swing exit")
		}
		return
	}

	if e.params.TakeProfitCents > 0 && pnl >= e.params.TakeProfitCents {
		e.sellAll(ctx, pos, bid, domain.StateTakingProfit, "take profit")
		return
	}

	if e.params.StopLossCents > 0 && pnl <= -e.params.StopLossCents {
		if pos.FlipCount < e.params.MaxFlips {
			e.flip(ctx, pos, snap, bid)
		} else {
			e.sellAll(ctx, pos, bid, domain.StateStoppingOut, "stop loss")
		}
	}
}

// sellAll exits the whole position at bid and closes it through exitState.
func (e *Engine) sellAll(ctx context.Context, pos *domain.Position, bid int64, exitState domain.PositionState, reason string) {
	res, err := e.exec.Place(ctx, domain.OrderRequest{
		Ticker:     pos.Ticker,
		Side:       pos.Side,
		Action:     "sell",
		PriceCents: bid,
		Count:      pos.Contracts,
	})
	if err != nil || !res.Success {
		e.logger.Warn("exit order failed, retrying next tick",
			slog.String("ticker", pos.Ticker),
			slog.String("reason", reason),
			slog.Any("error", err))
		return
	}

	pos.State = exitState
	pos.UpdatedAt = time.Now().UTC()
	e.persist(ctx, pos)

	profit := (res.FilledPriceCents-pos.EntryPriceCents)*pos.Contracts - pos.CumLossCents*pos.Contracts
	e.close(ctx, pos, profit, reason)
}

// flip realizes the stop-loss on the current side and immediately re-enters
// on the opposite side at its ask. The realized per-contract loss
// accumulates in CumLossCents and FlipCount increments exactly once.
func (e *Engine) flip(ctx context.Context, pos *domain.Position, snap domain.MarketSnapshot, bid int64) {
	opposite := pos.Side.Opposite()
	oppAsk := snap.Ask(opposite)
	if oppAsk <= 0 || oppAsk >= 100 {
		// No viable opposite quote; hold and re-evaluate next tick.
		return
	}

	sellRes, err := e.exec.Place(ctx, domain.OrderRequest{
		Ticker:     pos.Ticker,
		Side:       pos.Side,
		Action:     "sell",
		PriceCents: bid,
		Count:      pos.Contracts,
	})
	if err != nil || !sellRes.Success {
		e.logger.Warn("flip sell failed, retrying next tick",
			slog.String("ticker", pos.Ticker), slog.Any("error", err))
		return
	}

	loss := pos.EntryPriceCents - sellRes.FilledPriceCents
	pos.CumLossCents += loss
	pos.State = domain.StateFlipping
	pos.UpdatedAt = time.Now().UTC()
	e.persist(ctx, pos)

	buyRes, err := e.exec.Place(ctx, domain.OrderRequest{
		Ticker:     pos.Ticker,
		Side:       opposite,
		Action:     "buy",
		PriceCents: oppAsk,
		Count:      pos.Contracts,
	})
	if err != nil || !buyRes.Success {
		// Sold but could not re-enter: the position is flat, close it
		// with the realized loss rather than carry a phantom leg.
		e.logger.Error("flip rebuy failed, closing flat",
			slog.String("ticker", pos.Ticker), slog.Any("error", err))
		e.close(ctx, pos, -pos.CumLossCents*pos.Contracts, "flip rebuy failed")
		return
	}

	pos.Side = opposite
	pos.EntryPriceCents = buyRes.FilledPriceCents
	pos.FlipCount++
	pos.State = domain.StateHolding
	pos.UpdatedAt = time.Now().UTC()
	e.persist(ctx, pos)

	e.logger.Info("position flipped",
		slog.String("ticker", pos.Ticker),
		slog.String("new_side", string(opposite)),
		slog.Int64("entry_cents", pos.EntryPriceCents),
		slog.Int64("flip_count", pos.FlipCount),
		slog.Int64("cum_loss_cents", pos.CumLossCents))
	e.notify(ctx, "flip", "Position flipped",
		fmt.Sprintf("%s now %s @ %dc (flip %d, cum loss %dc)",
			pos.Ticker, opposite, pos.EntryPriceCents, pos.FlipCount, pos.CumLossCents))
}

// settle resolves a position whose market has closed. A full pair pays the
// guaranteed 100c per contract; directional positions win or lose whole. In
// dry-run mode the outcome is drawn from the position's confidence;
// otherwise the last observed quote decides, with the settlements summary
// as the authoritative record.
func (e *Engine) settle(ctx context.Context, pos *domain.Position, snap domain.MarketSnapshot) {
	pos.State = domain.StateExpiringHeld
	pos.UpdatedAt = time.Now().UTC()
	e.persist(ctx, pos)

	var profit int64
	if pos.IsArb() && pos.NoCostCents > 0 {
		profit = 100*pos.Contracts - (pos.YesCostCents + pos.NoCostCents)
	} else {
		won := false
		if e.params.DryRun && e.simulate != nil {
			won = e.simulate(pos.Confidence)
		} else {
			won = snap.Bid(pos.Side) >= 50
		}
		if won {
			profit = (100 - pos.EntryPriceCents) * pos.Contracts
		} else {
			profit = -pos.EntryPriceCents * pos.Contracts
		}
		profit -= pos.CumLossCents * pos.Contracts
	}

	e.close(ctx, pos, profit, "settlement")
}

// stepUnbalanced manages a naked arbitrage leg per the configured policy:
// unwind sells it at the next available bid, alert holds it to settlement.
func (e *Engine) stepUnbalanced(ctx context.Context, pos *domain.Position, snap domain.MarketSnapshot, now time.Time) {
	if e.params.UnbalancedPolicy == UnbalancedUnwind {
		bid := snap.Bid(pos.Side)
		if bid <= 0 {
			return
		}
		res, err := e.exec.Place(ctx, domain.OrderRequest{
			Ticker:     pos.Ticker,
			Side:       pos.Side,
			Action:     "sell",
			PriceCents: bid,
			Count:      pos.Contracts,
		})
		if err != nil || !res.Success {
			e.logger.Warn("unwind sell failed, retrying next tick",
				slog.String("ticker", pos.Ticker), slog.Any("error", err))
			return
		}
		profit := res.FilledPriceCents*pos.Contracts - pos.YesCostCents
		e.close(ctx, pos, profit, "unwound naked leg")
		return
	}

	// Alert-only policy: hold the leg like a directional position until
	// the market settles.
	if !snap.CloseTime.IsZero() && snap.SecsLeft(now) <= 0 {
		e.settle(ctx, pos, snap)
	}
}
