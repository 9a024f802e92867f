// Package file is a single-file JSON store for positions and the
// performance ledger, used in dry-run and local setups where PostgreSQL is
// not worth running. Writes go to a temp file first and rename into place
// so a crash mid-write never corrupts the document.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

type document struct {
	Positions map[string]domain.Position `json:"positions"`
	Ledger    []domain.LedgerEntry       `json:"ledger"`
	Audit     []auditEntry               `json:"audit"`
}

type auditEntry struct {
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// Store implements domain.PositionStore, domain.LedgerStore, and
// domain.AuditStore against one JSON document.
type Store struct {
	path string

	mu  sync.Mutex
	doc document
}

// Open loads (or initializes) the store at path.
func Open(path string) (*Store, error) {
	s := &Store{
		path: path,
		doc:  document{Positions: make(map[string]domain.Position)},
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("file store: read %s: %w", path, err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("file store: parse %s: %w", path, err)
		}
	}
	if s.doc.Positions == nil {
		s.doc.Positions = make(map[string]domain.Position)
	}
	return s, nil
}

// save writes the document atomically. Caller must hold s.mu.
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("file store: marshal: %v: %w", err, domain.ErrPersistence)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("file store: mkdir %s: %v: %w", dir, err, domain.ErrPersistence)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("file store: create temp: %v: %w", err, domain.ErrPersistence)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: write temp: %v: %w", err, domain.ErrPersistence)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file store: sync temp: %v: %w", err, domain.ErrPersistence)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: close temp: %v: %w", err, domain.ErrPersistence)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file store: rename: %v: %w", err, domain.ErrPersistence)
	}
	return nil
}

// Upsert writes the record for pos.Ticker, replacing any previous one.
func (s *Store) Upsert(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.doc.Positions[pos.Ticker]
	s.doc.Positions[pos.Ticker] = pos
	if err := s.save(); err != nil {
		// Roll the in-memory copy back so memory matches disk.
		if had {
			s.doc.Positions[pos.Ticker] = prev
		} else {
			delete(s.doc.Positions, pos.Ticker)
		}
		return err
	}
	return nil
}

// Get returns the record for ticker, or ErrNotFound.
func (s *Store) Get(_ context.Context, ticker string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.doc.Positions[ticker]
	if !ok {
		return domain.Position{}, fmt.Errorf("position %s: %w", ticker, domain.ErrNotFound)
	}
	return pos, nil
}

// Delete removes the record for ticker; removing a missing record is a no-op.
func (s *Store) Delete(_ context.Context, ticker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Positions[ticker]; !ok {
		return nil
	}
	prev := s.doc.Positions[ticker]
	delete(s.doc.Positions, ticker)
	if err := s.save(); err != nil {
		s.doc.Positions[ticker] = prev
		return err
	}
	return nil
}

// ListOpen returns every record whose state is not closed, ordered by
// open time.
func (s *Store) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.doc.Positions {
		if pos.State.Open() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out, nil
}

// Append adds one ledger entry.
func (s *Store) Append(_ context.Context, entry domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Ledger = append(s.doc.Ledger, entry)
	if err := s.save(); err != nil {
		s.doc.Ledger = s.doc.Ledger[:len(s.doc.Ledger)-1]
		return err
	}
	return nil
}

// Totals aggregates the ledger per opportunity kind.
func (s *Store) Totals(_ context.Context) ([]domain.LedgerTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKind := make(map[domain.OpportunityKind]*domain.LedgerTotals)
	for _, e := range s.doc.Ledger {
		t, ok := byKind[e.Kind]
		if !ok {
			t = &domain.LedgerTotals{Kind: e.Kind}
			byKind[e.Kind] = t
		}
		t.Trades++
		switch {
		case e.ProfitCents > 0:
			t.Wins++
		case e.ProfitCents < 0:
			t.Losses++
		}
		t.ProfitCents += e.ProfitCents
	}

	out := make([]domain.LedgerTotals, 0, len(byKind))
	for _, t := range byKind {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

// Log appends an audit entry.
func (s *Store) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Audit = append(s.doc.Audit, auditEntry{
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	if err := s.save(); err != nil {
		s.doc.Audit = s.doc.Audit[:len(s.doc.Audit)-1]
		return err
	}
	return nil
}
