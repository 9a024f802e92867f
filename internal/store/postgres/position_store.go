package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Records
// are keyed by ticker, matching the one-open-position-per-ticker invariant.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `ticker, kind, side, entry_price_cents, contracts, state,
	cum_loss_cents, flip_count, yes_cost_cents, no_cost_cents, confidence,
	realized_pnl_cents, opened_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var kind, side, state string

	err := row.Scan(
		&p.Ticker, &kind, &side, &p.EntryPriceCents, &p.Contracts, &state,
		&p.CumLossCents, &p.FlipCount, &p.YesCostCents, &p.NoCostCents,
		&p.Confidence, &p.RealizedPnLCents, &p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Kind = domain.OpportunityKind(kind)
	p.Side = domain.Side(side)
	p.State = domain.PositionState(state)
	return p, nil
}

// Upsert writes the record for pos.Ticker, replacing any previous one.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			ticker, kind, side, entry_price_cents, contracts, state,
			cum_loss_cents, flip_count, yes_cost_cents, no_cost_cents,
			confidence, realized_pnl_cents, opened_at, updated_at, closed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
		ON CONFLICT (ticker) DO UPDATE SET
			kind = EXCLUDED.kind,
			side = EXCLUDED.side,
			entry_price_cents = EXCLUDED.entry_price_cents,
			contracts = EXCLUDED.contracts,
			state = EXCLUDED.state,
			cum_loss_cents = EXCLUDED.cum_loss_cents,
			flip_count = EXCLUDED.flip_count,
			yes_cost_cents = EXCLUDED.yes_cost_cents,
			no_cost_cents = EXCLUDED.no_cost_cents,
			confidence = EXCLUDED.confidence,
			realized_pnl_cents = EXCLUDED.realized_pnl_cents,
			updated_at = EXCLUDED.updated_at,
			closed_at = EXCLUDED.closed_at`

	_, err := s.pool.Exec(ctx, query,
		p.Ticker, string(p.Kind), string(p.Side), p.EntryPriceCents, p.Contracts,
		string(p.State), p.CumLossCents, p.FlipCount, p.YesCostCents, p.NoCostCents,
		p.Confidence, p.RealizedPnLCents, p.OpenedAt, p.UpdatedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %v: %w", p.Ticker, err, domain.ErrPersistence)
	}
	return nil
}

// Get returns the record for ticker, or ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, ticker string) (domain.Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE ticker = $1`, positionCols)

	p, err := scanPosition(s.pool.QueryRow(ctx, query, ticker))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("position %s: %w", ticker, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("get position %s: %v: %w", ticker, err, domain.ErrPersistence)
	}
	return p, nil
}

// Delete removes the record for ticker. Deleting a missing record is not an
// error.
func (s *PositionStore) Delete(ctx context.Context, ticker string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE ticker = $1`, ticker)
	if err != nil {
		return fmt.Errorf("delete position %s: %v: %w", ticker, err, domain.ErrPersistence)
	}
	return nil
}

// ListOpen returns every record whose state is not closed.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := fmt.Sprintf(`SELECT %s FROM positions WHERE state <> $1 ORDER BY opened_at`, positionCols)

	rows, err := s.pool.Query(ctx, query, string(domain.StateClosed))
	if err != nil {
		return nil, fmt.Errorf("list open positions: %v: %w", err, domain.ErrPersistence)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %v: %w", err, domain.ErrPersistence)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
