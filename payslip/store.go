package payslip

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payroll-engine/generic"
)

// Store persists payslips.
type Store interface {
	// SavePayslip inserts or overwrites a payslip by id. Overwriting a locked
	// or paid payslip fails with *LockedError. The stored version becomes the
	// previous version + 1 and is written back to p.
	SavePayslip(ctx context.Context, p *Payslip) error

	GetPayslip(ctx context.Context, id string) (*Payslip, error)

	// UpdatePayslip replaces the payslip if its stored version equals
	// expectedVersion, otherwise *generic.StaleStateError.
	UpdatePayslip(ctx context.Context, p *Payslip, expectedVersion int64) error

	ListPayslips(ctx context.Context, filter Filter) ([]*Payslip, error)
}

// MemoryStore is an in-memory Store (for testing/dev).
type MemoryStore struct {
	mu       sync.RWMutex
	payslips map[string]*Payslip
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payslips: make(map[string]*Payslip)}
}

func (m *MemoryStore) SavePayslip(_ context.Context, p *Payslip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := int64(1)
	if stored, ok := m.payslips[p.ID]; ok {
		if stored.Status.Frozen() {
			return &LockedError{ID: p.ID, Status: stored.Status}
		}
		version = stored.Version + 1
	}
	p.Version = version
	m.payslips[p.ID] = p.Clone()
	return nil
}

func (m *MemoryStore) GetPayslip(_ context.Context, id string) (*Payslip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.payslips[id]
	if !ok {
		return nil, generic.NotFound("payslip", id)
	}
	return p.Clone(), nil
}

func (m *MemoryStore) UpdatePayslip(_ context.Context, p *Payslip, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.payslips[p.ID]
	if !ok {
		return generic.NotFound("payslip", p.ID)
	}
	if stored.Version != expectedVersion {
		return &generic.StaleStateError{EntityID: generic.EntityID(p.ID), Expected: expectedVersion, Actual: stored.Version}
	}
	m.payslips[p.ID] = p.Clone()
	return nil
}

// ListPayslips orders by cycle, then employee.
func (m *MemoryStore) ListPayslips(_ context.Context, filter Filter) ([]*Payslip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Payslip
	for _, p := range m.payslips {
		if filter.Matches(p) {
			result = append(result, p.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Period.CycleID != result[j].Period.CycleID {
			return result[i].Period.CycleID < result[j].Period.CycleID
		}
		return result[i].EmployeeID < result[j].EmployeeID
	})
	return result, nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payslips = make(map[string]*Payslip)
	return nil
}
