// Package poller fetches the market universe from the exchange on a fixed
// interval, applies the closing-soon window and series filters, and hands
// fresh snapshots plus orderbooks to the detection layer.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/config"
	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// MarketView bundles the two reads the detectors need for one market.
type MarketView struct {
	Snapshot domain.MarketSnapshot
	Book     domain.OrderBook
}

// Poller drives periodic market scans against the exchange gateway.
type Poller struct {
	gateway domain.Gateway
	cache   domain.SnapshotCache
	cfg     config.DetectConfig
	logger  *slog.Logger
}

// New creates a Poller. cache may be nil; snapshots then stay in-process.
func New(gateway domain.Gateway, cache domain.SnapshotCache, cfg config.DetectConfig, logger *slog.Logger) *Poller {
	return &Poller{
		gateway: gateway,
		cache:   cache,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "poller")),
	}
}

// Scan performs one full pass: list the closing-soon open markets, drop
// decided ones, and fetch an orderbook per survivor. A failed orderbook
// fetch skips that market only; a failed listing fails the whole scan.
func (p *Poller) Scan(ctx context.Context) ([]MarketView, error) {
	now := time.Now().UTC()
	filter := domain.MarketFilter{
		Status:     "open",
		MinCloseTs: now,
		SeriesIn:   p.cfg.Series,
	}
	if p.cfg.MaxCloseIn.Duration > 0 {
		filter.MaxCloseTs = now.Add(p.cfg.MaxCloseIn.Duration)
	}

	snaps, err := p.gateway.ListOpenMarkets(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]MarketView, 0, len(snaps))
	skipped := 0
	for _, snap := range snaps {
		if snap.Decided() {
			skipped++
			continue
		}
		if snap.CloseTime.IsZero() {
			skipped++
			continue
		}

		book, err := p.gateway.GetOrderbook(ctx, snap.Ticker)
		if err != nil {
			if ctx.Err() != nil {
				return views, ctx.Err()
			}
			p.logger.Warn("orderbook fetch failed, skipping market",
				slog.String("ticker", snap.Ticker),
				slog.String("error", err.Error()))
			skipped++
			continue
		}

		if p.cache != nil {
			if err := p.cache.Set(ctx, snap); err != nil {
				p.logger.Warn("snapshot cache write failed",
					slog.String("ticker", snap.Ticker),
					slog.String("error", err.Error()))
			}
		}

		views = append(views, MarketView{Snapshot: snap, Book: book})
	}

	p.logger.Debug("scan complete",
		slog.Int("markets", len(views)),
		slog.Int("skipped", skipped))
	return views, nil
}

// Run scans on the configured interval until the context is cancelled,
// invoking handle with each scan's results. Scan failures are logged and
// the loop continues; only context cancellation stops it.
func (p *Poller) Run(ctx context.Context, handle func(context.Context, []MarketView)) error {
	interval := p.cfg.PollInterval.Duration
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.logger.Info("poller started", slog.Duration("interval", interval))

	for {
		views, err := p.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("market scan failed", slog.String("error", err.Error()))
		} else {
			handle(ctx, views)
		}

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
