package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
)

type note struct{ Text string }

func (note) Kind() generic.KindID { return "note" }

func newNote(id string, at time.Time) *generic.Entity {
	return &generic.Entity{
		ID:        generic.EntityID(id),
		Kind:      "note",
		Payload:   note{Text: id},
		Decision:  generic.Pending{},
		CreatedBy: "u-1",
		CreatedAt: at,
		UpdatedAt: at,
		Version:   1,
	}
}

func TestMemory_CompareAndSwap(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Insert(ctx, newNote("n-1", at)))
	assert.ErrorIs(t, m.Insert(ctx, newNote("n-1", at)), generic.ErrConflict)

	next := newNote("n-1", at)
	next.Version = 2
	require.NoError(t, m.Update(ctx, next, 1))

	// A writer still holding version 1 loses.
	var stale *generic.StaleStateError
	require.ErrorAs(t, m.Update(ctx, next, 1), &stale)
	assert.Equal(t, int64(2), stale.Actual)

	require.ErrorAs(t, m.Delete(ctx, "n-1", 1), &stale)
	require.NoError(t, m.Delete(ctx, "n-1", 2))

	_, err := m.Get(ctx, "n-1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	assert.ErrorIs(t, m.Update(ctx, next, 2), generic.ErrNotFound)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	e := newNote("n-1", time.Now())
	require.NoError(t, m.Insert(ctx, e))

	e.Version = 99
	got, err := m.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	got.Payment = &generic.Payment{CycleID: "x"}
	again, err := m.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Nil(t, again.Payment)
}

func TestMemory_ListFiltersAndOrders(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.Insert(ctx, newNote("b", t0)))
	require.NoError(t, m.Insert(ctx, newNote("a", t0)))
	approved := newNote("c", t0.Add(time.Hour))
	approved.Decision = generic.Approved{By: "u-2", At: t0}
	require.NoError(t, m.Insert(ctx, approved))

	all, err := m.List(ctx, generic.EntityFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []generic.EntityID{"a", "b", "c"}, []generic.EntityID{all[0].ID, all[1].ID, all[2].ID})

	drafts, err := m.List(ctx, generic.EntityFilter{Statuses: []generic.Status{generic.StatusDraft}})
	require.NoError(t, err)
	assert.Len(t, drafts, 2)

	none, err := m.List(ctx, generic.EntityFilter{Kind: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemory_AuditQuery(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	entries := []generic.AuditEntry{
		{ID: "a3", At: t0.Add(2 * time.Hour), ActorID: "u-2", Action: generic.ActionApprove, EntityID: "n-1", Kind: "note"},
		{ID: "a1", At: t0, ActorID: "u-1", Action: generic.ActionCreate, EntityID: "n-1", Kind: "note"},
		{ID: "a2", At: t0.Add(time.Hour), ActorID: "u-1", Action: generic.ActionCreate, EntityID: "n-2", Kind: "note"},
	}
	for _, e := range entries {
		require.NoError(t, m.Append(ctx, e))
	}

	got, err := m.Query(ctx, generic.AuditFilter{EntityID: "n-1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a1", got[0].ID)
	assert.Equal(t, "a3", got[1].ID)

	from := t0.Add(30 * time.Minute)
	got, err = m.Query(ctx, generic.AuditFilter{ActorID: "u-1", From: &from})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a2", got[0].ID)

	got, err = m.Query(ctx, generic.AuditFilter{Actions: []generic.Action{generic.ActionApprove}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, m.Reset(ctx))
	got, err = m.Query(ctx, generic.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
