package domain

import "context"

// PositionStore persists position records keyed by ticker.
type PositionStore interface {
	// Upsert writes the record for pos.Ticker, replacing any previous one.
	Upsert(ctx context.Context, pos Position) error
	// Get returns the record for ticker, or ErrNotFound.
	Get(ctx context.Context, ticker string) (Position, error)
	// Delete removes the record for ticker. Deleting a missing record is not
	// an error (reconciliation prunes must be idempotent).
	Delete(ctx context.Context, ticker string) error
	// ListOpen returns every record whose state is not closed.
	ListOpen(ctx context.Context) ([]Position, error)
}

// LedgerStore appends trade outcomes and aggregates them per kind.
type LedgerStore interface {
	Append(ctx context.Context, entry LedgerEntry) error
	Totals(ctx context.Context) ([]LedgerTotals, error)
}

// AuditStore records an append-only audit trail of decisions and repairs.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}
