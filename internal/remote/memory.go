package remote

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/domain/medication"
)

// Memory is an in-process Store. It assigns identifiers and timestamps the
// way the hosted backend does, and can be told to fail for testing error
// handling in callers.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string][]medication.Record // kind -> owner -> records
	now     func() time.Time

	// For testing error scenarios
	shouldFailOn map[string]error
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:      make(map[string]map[string][]medication.Record),
		now:          time.Now,
		shouldFailOn: make(map[string]error),
	}
}

// SetError makes the given operation fail with err until cleared with a nil err.
func (m *Memory) SetError(operation string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.shouldFailOn, operation)
		return
	}
	m.shouldFailOn[operation] = err
}

// SetClock replaces the server clock.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// ListByOwner implements Store.
func (m *Memory) ListByOwner(ctx context.Context, kind, ownerID string) ([]medication.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.shouldFailOn[OpListByOwner]; err != nil {
		return nil, err
	}

	stored := m.records[kind][ownerID]
	out := make([]medication.Record, len(stored))
	copy(out, stored)
	medication.SortByCreatedAt(out)
	return out, nil
}

// Insert implements Store.
func (m *Memory) Insert(ctx context.Context, kind, ownerID string, fields medication.Fields) (medication.Record, error) {
	if err := ctx.Err(); err != nil {
		return medication.Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.shouldFailOn[OpInsert]; err != nil {
		return medication.Record{}, err
	}

	rec := medication.Record{
		ID:        uuid.NewString(),
		CreatedAt: m.now(),
		OwnerID:   ownerID,
		Fields:    fields,
	}
	if m.records[kind] == nil {
		m.records[kind] = make(map[string][]medication.Record)
	}
	m.records[kind][ownerID] = append(m.records[kind][ownerID], rec)
	return rec, nil
}
