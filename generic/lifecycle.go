/*
lifecycle.go - Configuration entity lifecycle

PURPOSE:
  One state machine for every configuration kind:

    create ──▶ DRAFT ──approve──▶ APPROVED ──markPaid──▶ PAID
                 │                                  (disbursable kinds only)
                 ├──reject──▶ REJECTED
                 └──delete──▶ (removed)

  DRAFT is the only mutable status. Edit, Delete, Approve, Reject and
  BeginReview all require it. APPROVED, REJECTED and PAID are immutable
  except for the APPROVED → PAID step.

WRITE PATH:
  Every mutation follows the same steps:
  1. Load the entity, check the IfVersion precondition
  2. Check the actor's role against the kind's RolePolicy
  3. Check the status precondition
  4. Apply the change to a clone, bump Version
  5. Persist with compare-and-swap on the loaded version
  6. Append the audit entry (same transaction when the store supports it)

  Creates and edits of the same kind are serialized by a per-kind mutex so
  uniqueness checks cannot race each other within a process. Across
  processes the version compare-and-swap catches the loser.

SEE ALSO:
  - kind.go: capabilities consulted along the write path
  - store.go: EntityStore, AuditLog, TxStore
*/
package generic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMinReasonLength is the minimum trimmed length of a rejection reason.
const DefaultMinReasonLength = 10

// Observer is notified after every successful transition.
type Observer interface {
	Transitioned(kind KindID, action Action)
}

// TxStore is implemented by stores that can write an entity and its audit
// entry atomically.
type TxStore interface {
	WithTx(ctx context.Context, fn func(entities EntityStore, audit AuditLog) error) error
}

// Controller is the LifecycleController.
type Controller struct {
	kinds    *Registry
	store    EntityStore
	audit    AuditLog
	refs     ReferenceResolver
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	minReason int

	kindMu sync.Mutex
	locks  map[KindID]*sync.Mutex
}

type ControllerOption func(*Controller)

func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) { c.now = now }
}

func WithIDGenerator(gen func() string) ControllerOption {
	return func(c *Controller) { c.newID = gen }
}

func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observer = o }
}

func WithReferenceResolver(r ReferenceResolver) ControllerOption {
	return func(c *Controller) { c.refs = r }
}

func WithMinReasonLength(n int) ControllerOption {
	return func(c *Controller) { c.minReason = n }
}

func NewController(kinds *Registry, store EntityStore, audit AuditLog, opts ...ControllerOption) *Controller {
	c := &Controller{
		kinds:     kinds,
		store:     store,
		audit:     audit,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		minReason: DefaultMinReasonLength,
		locks:     make(map[KindID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Kinds exposes the registry the controller was built with.
func (c *Controller) Kinds() *Registry { return c.kinds }

// =============================================================================
// OPERATION OPTIONS
// =============================================================================

type opConfig struct {
	ifVersion *int64
	reason    string
}

type OpOption func(*opConfig)

// IfVersion makes the operation fail with *StaleStateError unless the
// stored version equals v.
func IfVersion(v int64) OpOption {
	return func(o *opConfig) { o.ifVersion = &v }
}

// WithReason attaches a reason to an edit. Required when the tracked amount
// changes after review has begun.
func WithReason(reason string) OpOption {
	return func(o *opConfig) { o.reason = reason }
}

func buildOps(opts []OpOption) opConfig {
	var cfg opConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// ExpectedVersion reports the version requested with IfVersion, if any.
func ExpectedVersion(opts ...OpOption) (int64, bool) {
	cfg := buildOps(opts)
	if cfg.ifVersion == nil {
		return 0, false
	}
	return *cfg.ifVersion, true
}

// Patch maps the current payload to the edited one.
type Patch func(current Payload) (Payload, error)

// =============================================================================
// READS
// =============================================================================

func (c *Controller) Get(ctx context.Context, id EntityID) (*Entity, error) {
	return c.store.Get(ctx, id)
}

func (c *Controller) List(ctx context.Context, filter EntityFilter) ([]*Entity, error) {
	return c.store.List(ctx, filter)
}

// History returns the audit entries of one entity.
func (c *Controller) History(ctx context.Context, id EntityID) ([]AuditEntry, error) {
	return c.audit.Query(ctx, AuditFilter{EntityID: id})
}

// =============================================================================
// CREATE / EDIT
// =============================================================================

// Create validates the payload and stores it as a new DRAFT.
func (c *Controller) Create(ctx context.Context, kindID KindID, p Payload, actor Actor) (*Entity, error) {
	kind, err := c.kinds.Lookup(kindID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Kind() != kindID {
		return nil, &ValidationError{Kind: kindID, Rule: "payload_kind", Message: "payload does not belong to this kind"}
	}
	if err := c.authorize(kind, actor, ActionCreate); err != nil {
		return nil, err
	}

	unlock := c.lockKind(kindID)
	defer unlock()

	existing, err := c.store.List(ctx, EntityFilter{Kind: kindID})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s entities: %w", kindID, err)
	}
	if prep, ok := kind.(Preparer); ok {
		if p, err = prep.Prepare(p, existing); err != nil {
			return nil, err
		}
	}
	if err := kind.Validate(p); err != nil {
		return nil, err
	}

	now := c.now()
	e := &Entity{
		ID:        EntityID(c.newID()),
		Kind:      kindID,
		Payload:   p,
		Decision:  Pending{},
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	if cc, ok := kind.(ConflictChecker); ok {
		if err := cc.CheckConflicts(e, existing); err != nil {
			return nil, err
		}
	}

	entry, err := c.auditEntry(actor, ActionCreate, "", nil, e)
	if err != nil {
		return nil, err
	}
	err = c.commit(ctx, func(entities EntityStore, audit AuditLog) error {
		if err := entities.Insert(ctx, e); err != nil {
			return err
		}
		return audit.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	c.transitioned(e, actor, ActionCreate)
	return e.Clone(), nil
}

// Edit applies patch to a DRAFT entity, lets the kind normalise the result
// and re-runs validation and conflict checks on it.
func (c *Controller) Edit(ctx context.Context, id EntityID, actor Actor, patch Patch, opts ...OpOption) (*Entity, error) {
	cfg := buildOps(opts)
	current, kind, err := c.load(ctx, id, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(kind, actor, ActionEdit); err != nil {
		return nil, err
	}

	unlock := c.lockKind(current.Kind)
	defer unlock()

	// Re-read under the kind lock so the conflict check sees the latest state.
	if current, _, err = c.load(ctx, id, cfg); err != nil {
		return nil, err
	}
	if err := c.requireDraft(current, ActionEdit); err != nil {
		return nil, err
	}

	next, err := patch(current.Payload)
	if err != nil {
		return nil, err
	}
	if next == nil || next.Kind() != current.Kind {
		return nil, &ValidationError{Kind: current.Kind, Rule: "payload_kind", Message: "patch changed the payload kind"}
	}
	if prep, ok := kind.(EditPreparer); ok {
		if next, err = prep.PrepareEdit(current.Payload, next); err != nil {
			return nil, err
		}
	}
	if err := kind.Validate(next); err != nil {
		return nil, err
	}

	updated := current.Clone()
	updated.Payload = next
	if cc, ok := kind.(ConflictChecker); ok {
		existing, err := c.others(ctx, current)
		if err != nil {
			return nil, err
		}
		if err := cc.CheckConflicts(updated, existing); err != nil {
			return nil, err
		}
	}

	now := c.now()
	if tracker, ok := kind.(AmountTracker); ok && current.Review != nil {
		prev, curr := tracker.TrackedAmount(current.Payload), tracker.TrackedAmount(next)
		if !prev.Equal(curr) {
			if strings.TrimSpace(cfg.reason) == "" {
				return nil, &ValidationError{Kind: current.Kind, Rule: "edit_reason_required", Field: "reason",
					Message: "amount changes after review require a reason"}
			}
			if n := len(current.EditHistory); n > 0 && !current.EditHistory[n-1].NewValue.Equal(prev) {
				return nil, &ValidationError{Kind: current.Kind, Rule: "edit_history_chain", Field: "amount",
					Message: fmt.Sprintf("stored amount %s does not continue edit history (last %s)",
						prev, current.EditHistory[n-1].NewValue)}
			}
			updated.EditHistory = append(updated.EditHistory, EditRecord{
				EditedBy:      actor.ID,
				EditedAt:      now,
				PreviousValue: prev,
				NewValue:      curr,
				Reason:        cfg.reason,
			})
		}
	}

	return c.write(ctx, current, updated, actor, ActionEdit, cfg.reason, now)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// BeginReview stamps the reviewer on a DRAFT. From then on amount edits are
// recorded in the edit history.
func (c *Controller) BeginReview(ctx context.Context, id EntityID, reviewer Actor, opts ...OpOption) (*Entity, error) {
	cfg := buildOps(opts)
	current, kind, err := c.load(ctx, id, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(kind, reviewer, ActionReview); err != nil {
		return nil, err
	}
	if err := c.requireDraft(current, ActionReview); err != nil {
		return nil, err
	}
	if current.Review != nil {
		return nil, &InvalidStateError{EntityID: id, Status: StatusDraft, Action: ActionReview,
			Detail: "review already started by " + current.Review.By}
	}

	now := c.now()
	updated := current.Clone()
	updated.Review = &Review{By: reviewer.ID, At: now}
	return c.write(ctx, current, updated, reviewer, ActionReview, "", now)
}

// Approve moves a DRAFT to APPROVED.
func (c *Controller) Approve(ctx context.Context, id EntityID, approver Actor, opts ...OpOption) (*Entity, error) {
	cfg := buildOps(opts)
	current, kind, err := c.load(ctx, id, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(kind, approver, ActionApprove); err != nil {
		return nil, err
	}
	if err := c.requireDraft(current, ActionApprove); err != nil {
		return nil, err
	}

	if ac, ok := kind.(ApprovalChecker); ok {
		unlock := c.lockKind(current.Kind)
		defer unlock()
		existing, err := c.others(ctx, current)
		if err != nil {
			return nil, err
		}
		if err := ac.CheckApproval(current, existing); err != nil {
			return nil, err
		}
	}

	now := c.now()
	updated := current.Clone()
	updated.Decision = Approved{By: approver.ID, At: now}
	return c.write(ctx, current, updated, approver, ActionApprove, "", now)
}

// Reject moves a DRAFT to REJECTED. The reason is mandatory.
func (c *Controller) Reject(ctx context.Context, id EntityID, rejecter Actor, reason string, opts ...OpOption) (*Entity, error) {
	cfg := buildOps(opts)
	current, kind, err := c.load(ctx, id, cfg)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(kind, rejecter, ActionReject); err != nil {
		return nil, err
	}
	if err := c.requireDraft(current, ActionReject); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < c.minReason {
		return nil, &ValidationError{Kind: current.Kind, Rule: "rejection_reason_length", Field: "reason",
			Message: fmt.Sprintf("reason must be at least %d characters", c.minReason)}
	}

	now := c.now()
	updated := current.Clone()
	updated.Decision = Rejected{By: rejecter.ID, At: now, Reason: reason}
	return c.write(ctx, current, updated, rejecter, ActionReject, reason, now)
}

// Delete removes a DRAFT that nothing references.
func (c *Controller) Delete(ctx context.Context, id EntityID, actor Actor, opts ...OpOption) error {
	cfg := buildOps(opts)
	current, kind, err := c.load(ctx, id, cfg)
	if err != nil {
		return err
	}
	if err := c.authorize(kind, actor, ActionDelete); err != nil {
		return err
	}
	if err := c.requireDraft(current, ActionDelete); err != nil {
		return err
	}
	if c.refs != nil {
		refs, err := c.refs.ReferencesTo(ctx, current)
		if err != nil {
			return fmt.Errorf("failed to resolve references to %s: %w", id, err)
		}
		if len(refs) > 0 {
			return &ReferenceInUseError{EntityID: id, References: refs}
		}
	}

	entry, err := c.auditEntry(actor, ActionDelete, "", current, nil)
	if err != nil {
		return err
	}
	err = c.commit(ctx, func(entities EntityStore, audit AuditLog) error {
		if err := entities.Delete(ctx, id, current.Version); err != nil {
			return err
		}
		return audit.Append(ctx, entry)
	})
	if err != nil {
		return err
	}
	c.transitioned(current, actor, ActionDelete)
	return nil
}

// MarkPaid records the disbursement of an APPROVED entity of a disbursable kind.
func (c *Controller) MarkPaid(ctx context.Context, id EntityID, cycleID string, actor Actor, opts ...OpOption) (*Entity, error) {
	cfg := buildOps(opts)
	current, kind, err := c.load(ctx, id, cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := kind.(Disbursable); !ok {
		return nil, &InvalidStateError{EntityID: id, Status: current.Status(), Action: ActionMarkPaid,
			Detail: string(current.Kind) + " is not disbursable"}
	}
	if err := c.authorize(kind, actor, ActionMarkPaid); err != nil {
		return nil, err
	}
	switch current.Status() {
	case StatusPaid:
		return nil, &AlreadyPaidError{EntityID: id, CycleID: current.Payment.CycleID, PaidAt: current.Payment.PaidAt}
	case StatusApproved:
	default:
		return nil, &InvalidStateError{EntityID: id, Status: current.Status(), Action: ActionMarkPaid}
	}
	if guard, ok := kind.(PaymentGuard); ok {
		if err := guard.CanPay(current); err != nil {
			return nil, &InvalidStateError{EntityID: id, Status: current.Status(), Action: ActionMarkPaid, Detail: err.Error()}
		}
	}

	now := c.now()
	updated := current.Clone()
	updated.Payment = &Payment{CycleID: cycleID, PaidBy: actor.ID, PaidAt: now}
	return c.write(ctx, current, updated, actor, ActionMarkPaid, "", now)
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Controller) load(ctx context.Context, id EntityID, cfg opConfig) (*Entity, Kind, error) {
	e, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if cfg.ifVersion != nil && *cfg.ifVersion != e.Version {
		return nil, nil, &StaleStateError{EntityID: id, Expected: *cfg.ifVersion, Actual: e.Version}
	}
	kind, err := c.kinds.Lookup(e.Kind)
	if err != nil {
		return nil, nil, err
	}
	return e, kind, nil
}

func (c *Controller) others(ctx context.Context, e *Entity) ([]*Entity, error) {
	all, err := c.store.List(ctx, EntityFilter{Kind: e.Kind})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s entities: %w", e.Kind, err)
	}
	out := all[:0]
	for _, other := range all {
		if other.ID != e.ID {
			out = append(out, other)
		}
	}
	return out, nil
}

func (c *Controller) requireDraft(e *Entity, action Action) error {
	if st := e.Status(); st != StatusDraft {
		return &InvalidStateError{EntityID: e.ID, Status: st, Action: action}
	}
	return nil
}

func (c *Controller) authorize(kind Kind, actor Actor, action Action) error {
	if policy, ok := kind.(RolePolicy); ok && !policy.Permits(action, actor.Role) {
		return &ForbiddenError{Actor: actor, Kind: kind.ID(), Action: action}
	}
	return nil
}

func (c *Controller) lockKind(kind KindID) func() {
	c.kindMu.Lock()
	mu, ok := c.locks[kind]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[kind] = mu
	}
	c.kindMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (c *Controller) write(ctx context.Context, before, after *Entity, actor Actor, action Action, reason string, now time.Time) (*Entity, error) {
	after.Version = before.Version + 1
	after.UpdatedAt = now

	entry, err := c.auditEntry(actor, action, reason, before, after)
	if err != nil {
		return nil, err
	}
	err = c.commit(ctx, func(entities EntityStore, audit AuditLog) error {
		if err := entities.Update(ctx, after, before.Version); err != nil {
			return err
		}
		return audit.Append(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	c.transitioned(after, actor, action)
	return after.Clone(), nil
}

func (c *Controller) commit(ctx context.Context, fn func(EntityStore, AuditLog) error) error {
	if tx, ok := c.store.(TxStore); ok {
		return tx.WithTx(ctx, fn)
	}
	return fn(c.store, c.audit)
}

func (c *Controller) auditEntry(actor Actor, action Action, reason string, before, after *Entity) (AuditEntry, error) {
	entry := AuditEntry{
		ID:        c.newID(),
		At:        c.now(),
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Reason:    reason,
	}
	var err error
	if before != nil {
		entry.EntityID, entry.Kind = before.ID, before.Kind
		if entry.Before, err = json.Marshal(before); err != nil {
			return AuditEntry{}, fmt.Errorf("failed to snapshot %s: %w", before.ID, err)
		}
	}
	if after != nil {
		entry.EntityID, entry.Kind = after.ID, after.Kind
		if entry.After, err = json.Marshal(after); err != nil {
			return AuditEntry{}, fmt.Errorf("failed to snapshot %s: %w", after.ID, err)
		}
	}
	return entry, nil
}

func (c *Controller) transitioned(e *Entity, actor Actor, action Action) {
	c.logger.Info("configuration transition",
		slog.String("kind", string(e.Kind)),
		slog.String("id", string(e.ID)),
		slog.String("action", string(action)),
		slog.String("status", string(e.Status())),
		slog.String("actor", actor.ID),
		slog.Int64("version", e.Version),
	)
	if c.observer != nil {
		c.observer.Transitioned(e.Kind, action)
	}
}
