package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jason-bohan/ArbitrageBot/internal/domain"
)

// Archiver periodically exports the position book and the per-kind ledger
// totals to object storage as JSONL/JSON snapshots, so performance history
// survives store rotation and is queryable outside the database.
type Archiver struct {
	writer    *Writer
	positions domain.PositionStore
	ledger    domain.LedgerStore
	audit     domain.AuditStore // optional
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer *Writer, positions domain.PositionStore, ledger domain.LedgerStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		positions: positions,
		ledger:    ledger,
		audit:     audit,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run exports on the given interval until ctx ends.
func (a *Archiver) Run(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := a.Once(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Error("archive pass failed", slog.String("error", err.Error()))
		}
	}
}

// Once uploads one book snapshot and one ledger-totals snapshot.
func (a *Archiver) Once(ctx context.Context) error {
	now := time.Now().UTC()
	stamp := now.Format("2006-01-02T15-04-05")

	open, err := a.positions.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("s3blob: archive book query: %w", err)
	}
	if len(open) > 0 {
		buf, err := marshalJSONL(open)
		if err != nil {
			return fmt.Errorf("s3blob: archive book marshal: %w", err)
		}
		path := fmt.Sprintf("archive/book/%s.jsonl", stamp)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return fmt.Errorf("s3blob: archive book upload: %w", err)
		}
		a.auditLog(ctx, "archive.book", map[string]any{"path": path, "count": len(open)})
	}

	totals, err := a.ledger.Totals(ctx)
	if err != nil {
		return fmt.Errorf("s3blob: archive totals query: %w", err)
	}
	if len(totals) > 0 {
		data, err := json.Marshal(totals)
		if err != nil {
			return fmt.Errorf("s3blob: archive totals marshal: %w", err)
		}
		path := fmt.Sprintf("archive/ledger/%s.json", stamp)
		if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
			return fmt.Errorf("s3blob: archive totals upload: %w", err)
		}
		a.auditLog(ctx, "archive.ledger", map[string]any{"path": path, "kinds": len(totals)})
	}

	a.logger.Debug("archive pass complete",
		slog.Int("open_positions", len(open)),
		slog.Int("ledger_kinds", len(totals)))
	return nil
}

func (a *Archiver) auditLog(ctx context.Context, event string, detail map[string]any) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		a.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// marshalJSONL serializes a slice to newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
