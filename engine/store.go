/*
store.go - Persistence interface for calculation results

PURPOSE:
  Defines the boundary between the engine and durable storage. The engine
  never stores anything itself; callers hand a finished CalculationResult
  to a Store, which assigns the identifier.

KEY TYPES:
  Record:     A stored calculation (input, result, owner, timestamps)
  ListFilter: Scope of history queries ("mine" vs "all")
  Summary:    Aggregate figures for a dashboard

APPEND-ONLY CONTRACT:
  Records are immutable once saved. There is no Update. A recalculation
  is a new record with a new ID.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - engine/store/memory.go: In-memory for testing

SEE ALSO:
  - api/handlers.go: Saves records after Calculate
  - report: Renders a Record read-only
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one persisted calculation.
type Record struct {
	ID        string // assigned by the store
	OwnerID   string // empty for anonymous calculations
	Input     CalculationInput
	Result    CalculationResult
	CreatedAt time.Time // assigned by the store
}

// ListFilter narrows history queries. Zero value lists everything.
type ListFilter struct {
	OwnerID string // empty = all owners
	Limit   int    // 0 = no limit
}

// Summary aggregates stored records.
type Summary struct {
	Count                int
	TotalBaseValue       decimal.Decimal
	TotalCorrectedValue  decimal.Decimal
	TotalIndemnification decimal.Decimal
}

// Store persists calculation records.
type Store interface {
	// Save persists rec with its details atomically and returns the new ID.
	Save(ctx context.Context, rec Record) (string, error)

	// Get returns the record with details ordered by month.
	// Returns ErrCalculationNotFound for unknown IDs.
	Get(ctx context.Context, id string) (Record, error)

	// List returns records newest first. Details are not loaded.
	List(ctx context.Context, filter ListFilter) ([]Record, error)

	// Summarize aggregates the records matching filter (Limit is ignored).
	Summarize(ctx context.Context, filter ListFilter) (Summary, error)
}

// Accumulate adds a result to the summary.
func (s Summary) Accumulate(r CalculationResult) Summary {
	s.Count++
	s.TotalBaseValue = s.TotalBaseValue.Add(r.TotalBaseValue)
	s.TotalCorrectedValue = s.TotalCorrectedValue.Add(r.TotalCorrectedValue)
	s.TotalIndemnification = s.TotalIndemnification.Add(r.FinalIndemnification)
	return s
}
