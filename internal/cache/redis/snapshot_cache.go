package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// SnapshotCache implements domain.SnapshotCache: the latest MarketSnapshot
// per ticker with a TTL, so position monitors across processes can read a
// fresher quote than their own poll interval provides.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewSnapshotCache creates a SnapshotCache with the given entry TTL.
func NewSnapshotCache(c *Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotCache{rdb: c.Underlying(), ttl: ttl}
}

func snapshotKey(ticker string) string {
	return "snapshot:" + ticker
}

// Set stores the snapshot under its ticker, refreshing the TTL.
func (sc *SnapshotCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Ticker, err)
	}
	if err := sc.rdb.Set(ctx, snapshotKey(snap.Ticker), data, sc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Ticker, err)
	}
	return nil
}

// Get returns the cached snapshot for ticker, or ErrNotFound when missing
// or expired.
func (sc *SnapshotCache) Get(ctx context.Context, ticker string) (domain.MarketSnapshot, error) {
	data, err := sc.rdb.Get(ctx, snapshotKey(ticker)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, fmt.Errorf("snapshot %s: %w", ticker, domain.ErrNotFound)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", ticker, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", ticker, err)
	}
	return snap, nil
}

var _ domain.SnapshotCache = (*SnapshotCache)(nil)
