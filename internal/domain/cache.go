package domain

import (
	"context"
	"time"
)

// SnapshotCache holds the latest MarketSnapshot per ticker so position
// monitors can read fresher bids than the poll interval provides.
type SnapshotCache interface {
	Set(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context, ticker string) (MarketSnapshot, error)
}

// Lease is a held distributed lock. Long-lived holders must Refresh before
// the TTL lapses or another process may take the lock over.
type Lease interface {
	// Refresh extends the lease by ttl. Returns ErrLockHeld when the lock
	// has been lost to another holder.
	Refresh(ctx context.Context, ttl time.Duration) error
	// Release gives the lock up. Idempotent.
	Release()
}

// LockManager provides per-ticker leases so only one monitor writes a
// position record at a time across processes.
type LockManager interface {
	// Acquire takes the lock for key, returning ErrLockHeld when another
	// holder exists.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// RateLimiter bounds how often a keyed action may run.
type RateLimiter interface {
	// Allow reports whether another event for key fits within limit per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// EventBus publishes lifecycle events ("positions" stream) for external
// consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Gateway is the exchange collaborator. Request signing is handled entirely
// inside implementations and is out of core scope.
type Gateway interface {
	ListOpenMarkets(ctx context.Context, filter MarketFilter) ([]MarketSnapshot, error)
	GetMarket(ctx context.Context, ticker string) (MarketSnapshot, error)
	GetOrderbook(ctx context.Context, ticker string) (OrderBook, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetPortfolioPositions(ctx context.Context) ([]BrokerPosition, error)
	GetBalance(ctx context.Context) (int64, error)
}

// Notifier delivers best-effort alerts. Failures are logged and swallowed by
// implementations; callers never branch on delivery errors.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}
