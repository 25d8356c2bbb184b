// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/icms-refund/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	records map[string]engine.Record
	order   []string // insertion order, oldest first

	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]engine.Record),
		now:     time.Now,
	}
}

// Save stores a copy of rec under a fresh ID.
func (m *Memory) Save(_ context.Context, rec engine.Record) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec.ID = uuid.New().String()
	rec.CreatedAt = m.now().UTC()
	rec.Result.Details = append([]engine.MonthlyDetail(nil), rec.Result.Details...)

	m.records[rec.ID] = rec
	m.order = append(m.order, rec.ID)
	return rec.ID, nil
}

func (m *Memory) Get(_ context.Context, id string) (engine.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return engine.Record{}, engine.ErrCalculationNotFound
	}
	rec.Result.Details = append([]engine.MonthlyDetail{}, rec.Result.Details...)
	sort.Slice(rec.Result.Details, func(i, j int) bool {
		return rec.Result.Details[i].MonthYear.Before(rec.Result.Details[j].MonthYear)
	})
	return rec, nil
}

// List returns newest first, without details.
func (m *Memory) List(_ context.Context, filter engine.ListFilter) ([]engine.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Record
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if filter.OwnerID != "" && rec.OwnerID != filter.OwnerID {
			continue
		}
		rec.Result.Details = nil
		result = append(result, rec)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

func (m *Memory) Summarize(_ context.Context, filter engine.ListFilter) (engine.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s engine.Summary
	for _, id := range m.order {
		rec := m.records[id]
		if filter.OwnerID != "" && rec.OwnerID != filter.OwnerID {
			continue
		}
		s = s.Accumulate(rec.Result)
	}
	return s, nil
}

var _ engine.Store = (*Memory)(nil)
