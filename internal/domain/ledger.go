package domain

import "time"

// LedgerEntry is one appended trade outcome. The ledger is append/aggregate
// only; rows are never rewritten.
type LedgerEntry struct {
	Ticker      string
	Kind        OpportunityKind
	Side        Side
	Contracts   int64
	ProfitCents int64
	DryRun      bool
	RecordedAt  time.Time
}

// LedgerTotals is the per-kind aggregate view.
type LedgerTotals struct {
	Kind        OpportunityKind
	Trades      int64
	Wins        int64
	Losses      int64
	ProfitCents int64
}
