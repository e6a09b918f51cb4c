/*
store.go - Persistence interfaces for entities and the audit trail

PURPOSE:
  Defines the interface between the lifecycle engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  EntityStore: configuration records with optimistic concurrency
  AuditLog:    append-only record of every action

OPTIMISTIC CONCURRENCY:
  Update and Delete take the version the caller read. If the stored version
  differs the write is refused with a *StaleStateError and nothing changes.
  Two approvers racing on the same draft: exactly one wins.

APPEND-ONLY AUDIT:
  AuditLog has Append and Query. There is no Update or Delete. Ever.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - lifecycle.go: the only writer of entities and audit entries
*/
package generic

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// ENTITY STORE
// =============================================================================

type EntityStore interface {
	// Insert persists a new entity. Returns ErrConflict if the id exists.
	Insert(ctx context.Context, e *Entity) error

	// Get returns a copy of the entity or an error wrapping ErrNotFound.
	Get(ctx context.Context, id EntityID) (*Entity, error)

	// Update replaces the entity if the stored version equals expectedVersion.
	Update(ctx context.Context, e *Entity, expectedVersion int64) error

	// Delete removes the entity if the stored version equals expectedVersion.
	Delete(ctx context.Context, id EntityID, expectedVersion int64) error

	// List returns entities matching the filter ordered by CreatedAt, then ID.
	List(ctx context.Context, filter EntityFilter) ([]*Entity, error)
}

// EntityFilter narrows List. Zero fields match everything.
type EntityFilter struct {
	Kind      KindID
	Statuses  []Status
	CreatedBy string
}

// Matches applies the filter to one entity.
func (f EntityFilter) Matches(e *Entity) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.CreatedBy != "" && e.CreatedBy != f.CreatedBy {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	st := e.Status()
	for _, s := range f.Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// Action is a lifecycle operation.
type Action string

const (
	ActionCreate   Action = "create"
	ActionEdit     Action = "edit"
	ActionReview   Action = "review"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionDelete   Action = "delete"
	ActionMarkPaid Action = "mark_paid"
)

// AuditEntry records one action on one entity. Before is empty for create,
// After is empty for delete.
type AuditEntry struct {
	ID        string          `json:"id"`
	At        time.Time       `json:"at"`
	ActorID   string          `json:"actorId"`
	ActorRole Role            `json:"actorRole"`
	Action    Action          `json:"action"`
	EntityID  EntityID        `json:"entityId"`
	Kind      KindID          `json:"kind"`
	Reason    string          `json:"reason,omitempty"`
	Before    json.RawMessage `json:"before,omitempty"`
	After     json.RawMessage `json:"after,omitempty"`
}

// AuditLog is append-only.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter narrows Query. Results are ordered by At, then ID.
type AuditFilter struct {
	EntityID EntityID
	ActorID  string
	Kind     KindID
	Actions  []Action
	From     *time.Time
	To       *time.Time
}

// Matches applies the filter to one entry.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.From != nil && e.At.Before(*f.From) {
		return false
	}
	if f.To != nil && e.At.After(*f.To) {
		return false
	}
	if len(f.Actions) == 0 {
		return true
	}
	for _, a := range f.Actions {
		if a == e.Action {
			return true
		}
	}
	return false
}

// =============================================================================
// PAYLOAD CODEC
// =============================================================================

// PayloadCodec turns stored payload bytes back into typed payloads.
// Persistent stores need one; see factory.Codec.
type PayloadCodec interface {
	Encode(p Payload) ([]byte, error)
	Decode(kind KindID, raw []byte) (Payload, error)
}

// ReferenceResolver reports who still references an entity. Deletion is
// refused while the list is non-empty.
type ReferenceResolver interface {
	ReferencesTo(ctx context.Context, e *Entity) ([]string, error)
}
