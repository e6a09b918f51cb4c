// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.EntityStore and generic.AuditLog.
type Memory struct {
	mu       sync.RWMutex
	entities map[generic.EntityID]*generic.Entity
	audit    []generic.AuditEntry
}

func NewMemory() *Memory {
	return &Memory{
		entities: make(map[generic.EntityID]*generic.Entity),
	}
}

// Insert stores a copy of e.
func (m *Memory) Insert(_ context.Context, e *generic.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entities[e.ID]; exists {
		return &generic.ConflictError{Kind: e.Kind, Rule: "primary_key", Field: "id", Value: string(e.ID), ExistingID: e.ID}
	}
	m.entities[e.ID] = e.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id generic.EntityID) (*generic.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[id]
	if !ok {
		return nil, generic.NotFound("entity", id)
	}
	return e.Clone(), nil
}

// Update replaces the stored entity if its version still equals expectedVersion.
func (m *Memory) Update(_ context.Context, e *generic.Entity, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entities[e.ID]
	if !ok {
		return generic.NotFound("entity", e.ID)
	}
	if stored.Version != expectedVersion {
		return &generic.StaleStateError{EntityID: e.ID, Expected: expectedVersion, Actual: stored.Version}
	}
	m.entities[e.ID] = e.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, id generic.EntityID, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.entities[id]
	if !ok {
		return generic.NotFound("entity", id)
	}
	if stored.Version != expectedVersion {
		return &generic.StaleStateError{EntityID: id, Expected: expectedVersion, Actual: stored.Version}
	}
	delete(m.entities, id)
	return nil
}

func (m *Memory) List(_ context.Context, filter generic.EntityFilter) ([]*generic.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*generic.Entity
	for _, e := range m.entities {
		if filter.Matches(e) {
			result = append(result, e.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// Append adds an entry. Append-only.
func (m *Memory) Append(_ context.Context, entry generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *Memory) Query(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.AuditEntry
	for _, e := range m.audit {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].At.Before(result[j].At) })
	return result, nil
}

// Reset drops all entities and audit entries.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = make(map[generic.EntityID]*generic.Entity)
	m.audit = nil
	return nil
}
