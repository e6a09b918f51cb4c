/*
kind.go - Configuration kind registration and optional capabilities

PURPOSE:
  Provides a registry for domain packages to register their configuration
  kinds. The Controller looks kinds up by id and discovers what each one
  can do through small optional interfaces, so one lifecycle implementation
  serves every kind instead of one copy per kind.

HOW IT WORKS:
  1. Domain packages implement Kind (id + payload validation)
  2. Kinds opt into extra behaviour by implementing capability interfaces
  3. The Controller type-asserts for a capability before using it

CAPABILITIES:
  ConflictChecker  - uniqueness/overlap against existing same-kind entities
  Preparer         - derive fields (e.g. revision numbers) on create
  AmountTracker    - the amount whose post-review edits need a history entry
  Disbursable      - the kind can be marked PAID
  PaymentGuard     - extra precondition before payment
  RolePolicy       - which roles may perform which actions

USAGE:
  reg := generic.NewRegistry()
  reg.Register(payroll.PayGradeKind{Rules: rules})
  kind, err := reg.Lookup("pay_grade")

SEE ALSO:
  - lifecycle.go: consumes the capabilities
  - payroll/payroll.go: the payroll kinds
*/
package generic

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// KIND
// =============================================================================

// Kind describes one configuration kind.
type Kind interface {
	ID() KindID

	// Validate checks the payload on its own. It returns a *ValidationError
	// naming the violated rule.
	Validate(p Payload) error
}

// ConflictChecker checks a candidate against the other entities of its kind.
// existing never contains the candidate itself.
type ConflictChecker interface {
	CheckConflicts(candidate *Entity, existing []*Entity) error
}

// Preparer derives fields of a new payload from the existing entities.
type Preparer interface {
	Prepare(p Payload, existing []*Entity) (Payload, error)
}

// EditPreparer normalises an edited payload against the stored one. It may
// refuse changes to fields that are fixed after creation.
type EditPreparer interface {
	PrepareEdit(current, next Payload) (Payload, error)
}

// AmountTracker exposes the amount whose edits are recorded in EditHistory.
type AmountTracker interface {
	TrackedAmount(p Payload) decimal.Decimal
}

// Disbursable marks kinds that can reach the paid status.
type Disbursable interface {
	Disbursable()
}

// PaymentGuard adds a precondition to MarkPaid beyond "approved".
type PaymentGuard interface {
	CanPay(e *Entity) error
}

// RolePolicy restricts actions to roles.
type RolePolicy interface {
	Permits(action Action, role Role) bool
}

// ApprovalChecker runs cross-entity checks at approval time.
type ApprovalChecker interface {
	CheckApproval(candidate *Entity, existing []*Entity) error
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry maps kind ids to kinds. Kinds carry configuration (minimum wage,
// allowed currencies), so registries are built per process rather than in init().
type Registry struct {
	mu    sync.RWMutex
	kinds map[KindID]Kind
}

func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[KindID]Kind)}
	for _, k := range kinds {
		r.Register(k)
	}
	return r
}

// Register adds or replaces a kind.
func (r *Registry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.ID()] = k
}

// Lookup finds a registered kind by id.
func (r *Registry) Lookup(id KindID) (Kind, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[id]
	if !ok {
		return nil, &unknownKindError{id: id}
	}
	return k, nil
}

// IDs returns the registered kind ids in sorted order.
func (r *Registry) IDs() []KindID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]KindID, 0, len(r.kinds))
	for id := range r.kinds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type unknownKindError struct{ id KindID }

func (e *unknownKindError) Error() string { return "unknown configuration kind: " + string(e.id) }
func (e *unknownKindError) Unwrap() error { return ErrUnknownKind }
