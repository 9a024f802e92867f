// Package feed keeps the snapshot cache fresh from the exchange WebSocket.
// Position monitors poll REST on a fixed interval; between polls the feed
// overlays real-time top-of-book prices so exits trigger on current quotes
// rather than quotes up to one tick stale.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
	"github.com/jason-bohan/ArbitrageBot/internal/platform/kalshi"
)

// TickerSource reports which market tickers currently need live quotes.
type TickerSource interface {
	OpenTickers() []string
}

// defaultResync is how often subscriptions are reconciled against the source.
const defaultResync = 15 * time.Second

// QuoteFeed subscribes to the ticker channel for every open position and
// writes each update into the snapshot cache. Updates are also published to
// the "quotes" stream when a bus is configured.
type QuoteFeed struct {
	ws     *kalshi.WSClient
	cache  domain.SnapshotCache
	bus    domain.EventBus // optional
	source TickerSource
	resync time.Duration
	logger *slog.Logger

	subscribed map[string]struct{}
}

// New creates a QuoteFeed. bus may be nil.
func New(ws *kalshi.WSClient, cache domain.SnapshotCache, bus domain.EventBus, source TickerSource, logger *slog.Logger) *QuoteFeed {
	return &QuoteFeed{
		ws:         ws,
		cache:      cache,
		bus:        bus,
		source:     source,
		resync:     defaultResync,
		logger:     logger.With(slog.String("component", "quote_feed")),
		subscribed: make(map[string]struct{}),
	}
}

// Run connects, registers the update handler, and reconciles subscriptions
// with the ticker source until ctx ends.
func (f *QuoteFeed) Run(ctx context.Context) error {
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	defer f.ws.Close()

	f.ws.OnTicker(func(t kalshi.WSTicker) {
		f.apply(ctx, t)
	})

	f.logger.Info("quote feed started")
	defer f.logger.Info("quote feed stopped")

	ticker := time.NewTicker(f.resync)
	defer ticker.Stop()

	for {
		if err := f.syncSubscriptions(ctx); err != nil {
			f.logger.Warn("subscription sync failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// syncSubscriptions subscribes to any open-position ticker not yet covered.
// Settled tickers are left subscribed; their traffic is negligible and the
// exchange drops the channel when the market closes.
func (f *QuoteFeed) syncSubscriptions(ctx context.Context) error {
	want := f.source.OpenTickers()
	sort.Strings(want)

	var missing []string
	for _, t := range want {
		if _, ok := f.subscribed[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := f.ws.Subscribe(ctx, missing); err != nil {
		return err
	}
	for _, t := range missing {
		f.subscribed[t] = struct{}{}
	}
	f.logger.Debug("subscribed", slog.Int("tickers", len(missing)))
	return nil
}

// apply merges a ticker update over the cached snapshot. Fields the ticker
// channel does not carry, like close time, survive from the last REST poll.
func (f *QuoteFeed) apply(ctx context.Context, t kalshi.WSTicker) {
	if t.Ticker == "" {
		return
	}

	snap, err := f.cache.Get(ctx, t.Ticker)
	if err != nil {
		snap = domain.MarketSnapshot{Ticker: t.Ticker}
	}
	snap.YesBid = t.YesBid
	snap.YesAsk = t.YesAsk
	snap.NoBid = t.NoBid
	snap.NoAsk = t.NoAsk
	if t.Volume > 0 {
		snap.Volume = t.Volume
	}
	snap.FetchedAt = time.Now()

	if err := f.cache.Set(ctx, snap); err != nil {
		f.logger.Debug("cache write failed",
			slog.String("ticker", t.Ticker),
			slog.String("error", err.Error()))
	}

	if f.bus != nil {
		payload, err := json.Marshal(snap)
		if err == nil {
			_ = f.bus.Publish(ctx, "quotes", payload)
		}
	}
}
