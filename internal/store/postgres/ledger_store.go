package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Entries are
// append-only; the totals view aggregates at read time.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Append inserts one trade outcome.
func (s *LedgerStore) Append(ctx context.Context, entry domain.LedgerEntry) error {
	const query = `
		INSERT INTO ledger_entries (ticker, kind, side, contracts, profit_cents, dry_run, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		entry.Ticker, string(entry.Kind), string(entry.Side),
		entry.Contracts, entry.ProfitCents, entry.DryRun, entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry %s: %v: %w", entry.Ticker, err, domain.ErrPersistence)
	}
	return nil
}

// Totals aggregates trades, wins, losses, and profit per opportunity kind.
func (s *LedgerStore) Totals(ctx context.Context) ([]domain.LedgerTotals, error) {
	const query = `
		SELECT kind,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE profit_cents > 0),
		       COUNT(*) FILTER (WHERE profit_cents < 0),
		       COALESCE(SUM(profit_cents), 0)
		FROM ledger_entries
		GROUP BY kind
		ORDER BY kind`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %v: %w", err, domain.ErrPersistence)
	}
	defer rows.Close()

	var totals []domain.LedgerTotals
	for rows.Next() {
		var t domain.LedgerTotals
		var kind string
		if err := rows.Scan(&kind, &t.Trades, &t.Wins, &t.Losses, &t.ProfitCents); err != nil {
			return nil, fmt.Errorf("scan ledger totals: %v: %w", err, domain.ErrPersistence)
		}
		t.Kind = domain.OpportunityKind(kind)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
