/*
Package generic provides the configuration lifecycle engine.

PURPOSE:
  This package contains domain-agnostic types and algorithms for records
  that must be drafted, reviewed and approved before anything downstream is
  allowed to read them. Pay grades, tax tables and signing bonuses all follow
  the same rules; only their payloads and validation differ.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entity: one configuration record (id, kind, payload, decision, version)
  - Decision: Pending | Approved | Rejected, a closed sum type
  - Status: derived from Decision and Payment, never stored on its own
  - EditRecord: one append-only entry of the amount edit history
  - Actor: who performs an operation, with the role used for authorization

DESIGN PRINCIPLES:
  1. Unrepresentable states: approval and rejection cannot both be set
  2. Precision: money is decimal.Decimal
  3. Type Safety: EntityID and KindID are distinct string types
  4. Auditability: every mutation bumps Version and lands in the AuditLog

USAGE:
  e, err := ctrl.Create(ctx, payroll.KindPayGrade, payroll.PayGrade{...}, actor)
  e, err = ctrl.Approve(ctx, e.ID, manager, generic.IfVersion(e.Version))

SEE ALSO:
  - kind.go: Kind interface and optional capabilities
  - lifecycle.go: Controller enforcing the state machine
  - store.go: persistence and audit interfaces
*/
package generic

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string

// KindID names a configuration kind, e.g. "pay_grade".
type KindID string

// Role is an actor's organisational role. Domain packages define the values.
type Role string

// Actor performs lifecycle operations.
type Actor struct {
	ID   string
	Role Role
}

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDraft    Status = "draft"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusPaid     Status = "paid"
)

// ParseStatus accepts the lowercase names used on the wire.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusDraft, StatusApproved, StatusRejected, StatusPaid:
		return st, true
	}
	return "", false
}

// =============================================================================
// DECISION - Pending | Approved | Rejected
// =============================================================================

// Decision is the approval outcome of an entity. The set of implementations
// is closed: Pending, Approved and Rejected.
type Decision interface {
	decision()
}

type Pending struct{}

type Approved struct {
	By string
	At time.Time
}

type Rejected struct {
	By     string
	At     time.Time
	Reason string
}

func (Pending) decision()  {}
func (Approved) decision() {}
func (Rejected) decision() {}

// Review records who started reviewing a draft and when.
type Review struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

// Payment records the disbursement of an approved entity.
type Payment struct {
	CycleID string    `json:"cycleId"`
	PaidBy  string    `json:"paidBy"`
	PaidAt  time.Time `json:"paidAt"`
}

// EditRecord is one entry of the amount edit history. PreviousValue always
// equals the NewValue of the record before it.
type EditRecord struct {
	EditedBy      string          `json:"editedBy"`
	EditedAt      time.Time       `json:"editedAt"`
	PreviousValue decimal.Decimal `json:"previousValue"`
	NewValue      decimal.Decimal `json:"newValue"`
	Reason        string          `json:"reason"`
}

// =============================================================================
// ENTITY
// =============================================================================

// Payload is the kind-specific content of an entity. Payloads are values:
// the engine never mutates one in place, edits produce a new payload.
type Payload interface {
	Kind() KindID
}

type Entity struct {
	ID          EntityID
	Kind        KindID
	Payload     Payload
	Decision    Decision
	Review      *Review
	Payment     *Payment
	EditHistory []EditRecord
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// Status derives the lifecycle state from the decision and payment.
func (e *Entity) Status() Status {
	switch e.Decision.(type) {
	case Approved:
		if e.Payment != nil {
			return StatusPaid
		}
		return StatusApproved
	case Rejected:
		return StatusRejected
	default:
		return StatusDraft
	}
}

// Approval returns the approval decision if the entity was approved.
func (e *Entity) Approval() (Approved, bool) {
	a, ok := e.Decision.(Approved)
	return a, ok
}

// Rejection returns the rejection decision if the entity was rejected.
func (e *Entity) Rejection() (Rejected, bool) {
	r, ok := e.Decision.(Rejected)
	return r, ok
}

// IsUsable reports whether downstream consumers may read the entity.
func (e *Entity) IsUsable() bool {
	s := e.Status()
	return s == StatusApproved || s == StatusPaid
}

// Clone copies the entity so callers cannot alias store state.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Decision == nil {
		c.Decision = Pending{}
	}
	if e.Review != nil {
		r := *e.Review
		c.Review = &r
	}
	if e.Payment != nil {
		p := *e.Payment
		c.Payment = &p
	}
	if e.EditHistory != nil {
		c.EditHistory = append([]EditRecord(nil), e.EditHistory...)
	}
	return &c
}

type entityJSON struct {
	ID          EntityID     `json:"id"`
	Kind        KindID       `json:"kind"`
	Status      Status       `json:"status"`
	Payload     Payload      `json:"payload"`
	ApprovedBy  string       `json:"approvedBy,omitempty"`
	ApprovedAt  *time.Time   `json:"approvedAt,omitempty"`
	RejectedBy  string       `json:"rejectedBy,omitempty"`
	RejectedAt  *time.Time   `json:"rejectedAt,omitempty"`
	Reason      string       `json:"rejectionReason,omitempty"`
	Review      *Review      `json:"review,omitempty"`
	Payment     *Payment     `json:"payment,omitempty"`
	EditHistory []EditRecord `json:"editHistory,omitempty"`
	CreatedBy   string       `json:"createdBy"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Version     int64        `json:"version"`
}

// MarshalJSON flattens the decision into approval/rejection fields. At most
// one of the two groups is ever present.
func (e *Entity) MarshalJSON() ([]byte, error) {
	out := entityJSON{
		ID:          e.ID,
		Kind:        e.Kind,
		Status:      e.Status(),
		Payload:     e.Payload,
		Review:      e.Review,
		Payment:     e.Payment,
		EditHistory: e.EditHistory,
		CreatedBy:   e.CreatedBy,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		Version:     e.Version,
	}
	switch d := e.Decision.(type) {
	case Approved:
		at := d.At
		out.ApprovedBy, out.ApprovedAt = d.By, &at
	case Rejected:
		at := d.At
		out.RejectedBy, out.RejectedAt, out.Reason = d.By, &at, d.Reason
	}
	return json.Marshal(out)
}
