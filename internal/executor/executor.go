// Package executor places orders through the exchange gateway. The paper
// implementation simulates fills so dry-run mode exercises the exact same
// engine paths as live trading.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// Executor is the order-placement surface the engine drives.
type Executor interface {
	// Enter opens a new directional position. A second Enter on the same
	// ticker before ClearEntry fails with ErrAlreadyExists.
	Enter(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	// EnterPair buys both legs of an arbitrage pair, guarded like Enter.
	// A failed no leg after a filled yes leg returns both results and an
	// error wrapping ErrPartialFill; the caller owns the unbalanced
	// exposure.
	EnterPair(ctx context.Context, opp domain.Opportunity, contracts int64) (yes, no domain.OrderResult, err error)
	// Place submits an unguarded order for exits and flips on a position
	// the engine already owns.
	Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
	// ClearEntry releases the per-ticker entry guard once the position
	// for that ticker has fully closed.
	ClearEntry(ticker string)
}

// dedup refuses a second entry on the same ticker until the first one is
// cleared. Exit and flip orders bypass it.
type dedup struct {
	mu      sync.Mutex
	entered map[string]struct{}
}

func newDedup() *dedup {
	return &dedup{entered: make(map[string]struct{})}
}

// acquire claims the ticker for entry, reporting false if already claimed.
func (d *dedup) acquire(ticker string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.entered[ticker]; ok {
		return false
	}
	d.entered[ticker] = struct{}{}
	return true
}

func (d *dedup) release(ticker string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entered, ticker)
}

func (d *dedup) guardEntry(ticker string) error {
	if !d.acquire(ticker) {
		return fmt.Errorf("entry already placed for %s: %w", ticker, domain.ErrAlreadyExists)
	}
	return nil
}
