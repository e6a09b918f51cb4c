package generic_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// CREATE
// =============================================================================

func TestController_Create_StoresDraftAndAudits(t *testing.T) {
	// GIVEN: an empty store
	h := newHarness(t)
	ctx := context.Background()

	// WHEN: a clerk creates a widget
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)

	// THEN: it is a version-1 draft with one create audit entry
	require.NoError(t, err)
	assert.Equal(t, generic.StatusDraft, e.Status())
	assert.Equal(t, int64(1), e.Version)
	assert.Equal(t, "u-clerk", e.CreatedBy)

	history, err := h.ctrl.History(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, generic.ActionCreate, history[0].Action)
	assert.Nil(t, history[0].Before)
	assert.NotNil(t, history[0].After)
	assert.Equal(t, []string{"widget:create"}, h.observer.events)
}

func TestController_Create_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.Create(ctx, kindWidget, w("taken", 1), clerk)
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    generic.KindID
		payload generic.Payload
		actor   generic.Actor
		target  error
	}{
		{"unknown kind", "nope", w("x", 1), clerk, generic.ErrUnknownKind},
		{"payload of another kind", kindWidget, gadget{Label: "g"}, clerk, generic.ErrValidation},
		{"invalid payload", kindWidget, w("", 1), clerk, generic.ErrValidation},
		{"forbidden role", kindWidget, w("beta", 1), manager, generic.ErrForbidden},
		{"duplicate name", kindWidget, w("taken", 5), clerk, generic.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ctrl.Create(ctx, tt.kind, tt.payload, tt.actor)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	all, err := h.ctrl.List(ctx, generic.EntityFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1, "failed creates must not store anything")
}

func TestController_Create_KindWithoutRolePolicyAllowsAnyone(t *testing.T) {
	h := newHarness(t)
	e, err := h.ctrl.Create(context.Background(), "gadget", gadget{Label: "g"}, generic.Actor{ID: "x", Role: "visitor"})
	require.NoError(t, err)
	assert.Equal(t, generic.KindID("gadget"), e.Kind)
}

// =============================================================================
// APPROVE / REJECT
// =============================================================================

func TestController_Approve_FromDraft(t *testing.T) {
	// GIVEN: a draft widget
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)

	// WHEN: a manager approves it without a prior review
	approved, err := h.ctrl.Approve(ctx, e.ID, manager, generic.IfVersion(1))

	// THEN: it is approved at version 2 and usable
	require.NoError(t, err)
	assert.Equal(t, generic.StatusApproved, approved.Status())
	assert.Equal(t, int64(2), approved.Version)
	assert.True(t, approved.IsUsable())
	decision, ok := approved.Approval()
	require.True(t, ok)
	assert.Equal(t, "u-manager", decision.By)

	// AND: approving again is an invalid state
	_, err = h.ctrl.Approve(ctx, e.ID, manager)
	var stateErr *generic.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, generic.StatusApproved, stateErr.Status)
}

func TestController_Approve_ClerkForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)

	_, err = h.ctrl.Approve(ctx, e.ID, clerk)

	var forbidden *generic.ForbiddenError
	require.ErrorAs(t, err, &forbidden)
	assert.Equal(t, generic.ActionApprove, forbidden.Action)

	stored, err := h.ctrl.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusDraft, stored.Status())
}

func TestController_Reject_RequiresReason(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)

	// WHEN: the reason is shorter than the minimum
	_, err = h.ctrl.Reject(ctx, e.ID, manager, "  too short ")
	// THEN: the error names the kind and the draft is untouched
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "rejection_reason_length", ve.Rule)
	assert.Equal(t, kindWidget, ve.Kind)
	stored, err := h.ctrl.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusDraft, stored.Status())
	assert.Equal(t, e.Version, stored.Version)

	// WHEN: the reason is long enough
	rejected, err := h.ctrl.Reject(ctx, e.ID, manager, "amount exceeds the approved budget")
	require.NoError(t, err)
	assert.Equal(t, generic.StatusRejected, rejected.Status())
	r, ok := rejected.Rejection()
	require.True(t, ok)
	assert.Equal(t, "amount exceeds the approved budget", r.Reason)
	assert.False(t, rejected.IsUsable())

	history, err := h.ctrl.History(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "amount exceeds the approved budget", history[1].Reason)
}

func TestController_Reject_CustomMinimumLength(t *testing.T) {
	h := newHarness(t, generic.WithMinReasonLength(3))
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)

	_, err = h.ctrl.Reject(ctx, e.ID, manager, "dup")
	assert.NoError(t, err)
}

func TestController_RejectedNameCanBeReused(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)
	_, err = h.ctrl.Reject(ctx, e.ID, manager, "wrong cost centre entirely")
	require.NoError(t, err)

	_, err = h.ctrl.Create(ctx, kindWidget, w("alpha", 200), clerk)
	assert.NoError(t, err)
}

// =============================================================================
// EDIT
// =============================================================================

func TestController_Edit_DraftOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)

	edited, err := h.ctrl.Edit(ctx, e.ID, clerk, setAmount(150))
	require.NoError(t, err)
	assert.Equal(t, "150", edited.Payload.(widget).Amount.String())
	assert.Equal(t, int64(2), edited.Version)
	assert.Empty(t, edited.EditHistory, "no history before review")

	_, err = h.ctrl.Approve(ctx, e.ID, manager)
	require.NoError(t, err)

	_, err = h.ctrl.Edit(ctx, e.ID, clerk, setAmount(175))
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestController_Edit_AfterReviewNeedsReasonAndRecordsHistory(t *testing.T) {
	// GIVEN: a widget under review
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)
	reviewed, err := h.ctrl.BeginReview(ctx, e.ID, clerk)
	require.NoError(t, err)
	require.NotNil(t, reviewed.Review)

	// WHEN: the amount changes without a reason
	_, err = h.ctrl.Edit(ctx, e.ID, clerk, setAmount(120))
	// THEN: refused
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "edit_reason_required", ve.Rule)

	// WHEN: edited twice with reasons
	_, err = h.ctrl.Edit(ctx, e.ID, clerk, setAmount(120), generic.WithReason("market adjustment"))
	require.NoError(t, err)
	final, err := h.ctrl.Edit(ctx, e.ID, clerk, setAmount(130), generic.WithReason("second correction"))
	require.NoError(t, err)

	// THEN: the history chains old to new values
	require.Len(t, final.EditHistory, 2)
	assert.True(t, final.EditHistory[0].PreviousValue.Equal(decimal.NewFromInt(100)))
	assert.True(t, final.EditHistory[0].NewValue.Equal(decimal.NewFromInt(120)))
	assert.True(t, final.EditHistory[1].PreviousValue.Equal(decimal.NewFromInt(120)))
	assert.True(t, final.EditHistory[1].NewValue.Equal(decimal.NewFromInt(130)))
	assert.Equal(t, "second correction", final.EditHistory[1].Reason)

	// AND: a rename that keeps the amount needs no reason
	_, err = h.ctrl.Edit(ctx, e.ID, clerk, func(p generic.Payload) (generic.Payload, error) {
		v := p.(widget)
		v.Name = "alpha-renamed"
		return v, nil
	})
	assert.NoError(t, err)
}

func TestController_BeginReview_Twice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)
	_, err = h.ctrl.BeginReview(ctx, e.ID, clerk)
	require.NoError(t, err)

	_, err = h.ctrl.BeginReview(ctx, e.ID, clerk)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestController_Edit_ConflictsWithOthers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 1), clerk)
	require.NoError(t, err)
	b, err := h.ctrl.Create(ctx, kindWidget, w("beta", 1), clerk)
	require.NoError(t, err)

	_, err = h.ctrl.Edit(ctx, b.ID, clerk, func(p generic.Payload) (generic.Payload, error) {
		v := p.(widget)
		v.Name = "alpha"
		return v, nil
	})
	assert.ErrorIs(t, err, generic.ErrConflict)

	// Editing an entity must not conflict with itself.
	_, err = h.ctrl.Edit(ctx, b.ID, clerk, setAmount(2))
	assert.NoError(t, err)
}

// =============================================================================
// OPTIMISTIC CONCURRENCY
// =============================================================================

func TestController_IfVersion_Stale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)
	_, err = h.ctrl.Edit(ctx, e.ID, clerk, setAmount(101))
	require.NoError(t, err)

	_, err = h.ctrl.Approve(ctx, e.ID, manager, generic.IfVersion(1))

	var stale *generic.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, int64(1), stale.Expected)
	assert.Equal(t, int64(2), stale.Actual)
	assert.True(t, generic.IsRetryable(err))
}

func TestController_ConcurrentApproveAndReject_ExactlyOneWins(t *testing.T) {
	// GIVEN: one draft
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)

	// WHEN: an approval and a rejection race on version 1
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = h.ctrl.Approve(ctx, e.ID, manager, generic.IfVersion(1))
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = h.ctrl.Reject(ctx, e.ID, manager, "duplicate of another widget", generic.IfVersion(1))
	}()
	wg.Wait()

	// THEN: exactly one succeeds, the other sees stale or invalid state
	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.Is(err, generic.ErrStaleState) || errors.Is(err, generic.ErrInvalidState), "unexpected error %v", err)
	}
	assert.Equal(t, 1, succeeded)

	stored, err := h.ctrl.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
	history, err := h.ctrl.History(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

// =============================================================================
// DELETE
// =============================================================================

func TestController_Delete(t *testing.T) {
	t.Run("draft without references", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 1), clerk)
		require.NoError(t, err)

		require.NoError(t, h.ctrl.Delete(ctx, e.ID, clerk))

		_, err = h.ctrl.Get(ctx, e.ID)
		assert.ErrorIs(t, err, generic.ErrNotFound)
		history, err := h.ctrl.History(ctx, e.ID)
		require.NoError(t, err)
		require.Len(t, history, 2, "the audit trail outlives the entity")
		assert.Equal(t, generic.ActionDelete, history[1].Action)
	})

	t.Run("approved entity", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 1), clerk)
		require.NoError(t, err)
		_, err = h.ctrl.Approve(ctx, e.ID, manager)
		require.NoError(t, err)

		assert.ErrorIs(t, h.ctrl.Delete(ctx, e.ID, admin), generic.ErrInvalidState)
	})

	t.Run("referenced draft", func(t *testing.T) {
		refs := staticRefs{"id-001": {"employee emp-1"}}
		h := newHarness(t, generic.WithReferenceResolver(refs))
		ctx := context.Background()
		e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 1), clerk)
		require.NoError(t, err)
		require.Equal(t, generic.EntityID("id-001"), e.ID)

		err = h.ctrl.Delete(ctx, e.ID, clerk)

		var inUse *generic.ReferenceInUseError
		require.ErrorAs(t, err, &inUse)
		assert.Equal(t, []string{"employee emp-1"}, inUse.References)
	})
}

// =============================================================================
// MARK PAID
// =============================================================================

func TestController_MarkPaid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)

	// Draft cannot be paid.
	_, err = h.ctrl.MarkPaid(ctx, e.ID, "2025-03", manager)
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	_, err = h.ctrl.Approve(ctx, e.ID, manager)
	require.NoError(t, err)

	paid, err := h.ctrl.MarkPaid(ctx, e.ID, "2025-03", manager)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPaid, paid.Status())
	assert.True(t, paid.IsUsable())
	require.NotNil(t, paid.Payment)
	assert.Equal(t, "2025-03", paid.Payment.CycleID)

	_, err = h.ctrl.MarkPaid(ctx, e.ID, "2025-04", manager)
	var already *generic.AlreadyPaidError
	require.ErrorAs(t, err, &already)
	assert.Equal(t, "2025-03", already.CycleID)
}

func TestController_MarkPaid_GuardAndKind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	blocked := w("blocked", 10)
	blocked.Blocked = true
	e, err := h.ctrl.Create(ctx, kindWidget, blocked, clerk)
	require.NoError(t, err)
	_, err = h.ctrl.Approve(ctx, e.ID, manager)
	require.NoError(t, err)

	_, err = h.ctrl.MarkPaid(ctx, e.ID, "2025-03", manager)
	var stateErr *generic.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Detail, "blocked")

	g, err := h.ctrl.Create(ctx, "gadget", gadget{Label: "g"}, admin)
	require.NoError(t, err)
	_, err = h.ctrl.Approve(ctx, g.ID, admin)
	require.NoError(t, err)
	_, err = h.ctrl.MarkPaid(ctx, g.ID, "2025-03", admin)
	require.ErrorAs(t, err, &stateErr)
	assert.Contains(t, stateErr.Detail, "not disbursable")
}

// =============================================================================
// SERIALIZATION
// =============================================================================

func TestEntity_MarshalJSON_DerivesStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	e, err := h.ctrl.Create(ctx, kindWidget, w("alpha", 100), clerk)
	require.NoError(t, err)
	rejected, err := h.ctrl.Reject(ctx, e.ID, manager, "not needed this quarter")
	require.NoError(t, err)

	raw, err := json.Marshal(rejected)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "rejected", out["status"])
	assert.Equal(t, "not needed this quarter", out["rejectionReason"])
	assert.Equal(t, "u-manager", out["rejectedBy"])
	assert.NotContains(t, out, "approvedBy")
}

func TestExpectedVersion(t *testing.T) {
	_, ok := generic.ExpectedVersion()
	assert.False(t, ok)

	v, ok := generic.ExpectedVersion(generic.WithReason("x"), generic.IfVersion(7))
	assert.True(t, ok)
	assert.Equal(t, int64(7), v)
}

func setAmount(n int64) generic.Patch {
	return func(p generic.Payload) (generic.Payload, error) {
		v := p.(widget)
		v.Amount = decimal.NewFromInt(n)
		return v, nil
	}
}
