package generic_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/generic/store"
)

// =============================================================================
// TEST KIND
// =============================================================================
// widget is a minimal configuration kind exercising every capability the
// controller knows about.

const kindWidget generic.KindID = "widget"

const (
	roleClerk   generic.Role = "clerk"
	roleManager generic.Role = "manager"
	roleAdmin   generic.Role = "admin"
)

var (
	clerk   = generic.Actor{ID: "u-clerk", Role: roleClerk}
	manager = generic.Actor{ID: "u-manager", Role: roleManager}
	admin   = generic.Actor{ID: "u-admin", Role: roleAdmin}
)

type widget struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	// Blocked makes CanPay fail.
	Blocked bool `json:"blocked,omitempty"`
}

func (widget) Kind() generic.KindID { return kindWidget }

type widgetKind struct{}

func (widgetKind) ID() generic.KindID { return kindWidget }

func (widgetKind) Validate(p generic.Payload) error {
	w := p.(widget)
	if strings.TrimSpace(w.Name) == "" {
		return &generic.ValidationError{Kind: kindWidget, Rule: "required", Field: "name", Message: "name is required"}
	}
	if w.Amount.IsNegative() {
		return &generic.ValidationError{Kind: kindWidget, Rule: "non_negative", Field: "amount"}
	}
	return nil
}

func (widgetKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	name := candidate.Payload.(widget).Name
	for _, e := range existing {
		if e.Status() != generic.StatusRejected && e.Payload.(widget).Name == name {
			return &generic.ConflictError{Kind: kindWidget, Rule: "unique_name", Field: "name", Value: name, ExistingID: e.ID}
		}
	}
	return nil
}

func (widgetKind) TrackedAmount(p generic.Payload) decimal.Decimal { return p.(widget).Amount }
func (widgetKind) Disbursable()                                    {}

func (widgetKind) CanPay(e *generic.Entity) error {
	if e.Payload.(widget).Blocked {
		return errors.New("widget is blocked")
	}
	return nil
}

func (widgetKind) Permits(a generic.Action, r generic.Role) bool {
	if r == roleAdmin {
		return true
	}
	switch a {
	case generic.ActionCreate, generic.ActionEdit, generic.ActionDelete, generic.ActionReview:
		return r == roleClerk
	default:
		return r == roleManager
	}
}

// gadget is a kind with no optional capabilities.
type gadget struct {
	Label string `json:"label"`
}

func (gadget) Kind() generic.KindID { return "gadget" }

type gadgetKind struct{}

func (gadgetKind) ID() generic.KindID               { return "gadget" }
func (gadgetKind) Validate(p generic.Payload) error { return nil }

// =============================================================================
// TEST SETUP
// =============================================================================

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) Transitioned(kind generic.KindID, action generic.Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, string(kind)+":"+string(action))
}

type staticRefs map[generic.EntityID][]string

func (r staticRefs) ReferencesTo(_ context.Context, e *generic.Entity) ([]string, error) {
	return r[e.ID], nil
}

type harness struct {
	ctrl     *generic.Controller
	store    *store.Memory
	observer *recordingObserver
}

func newHarness(t *testing.T, opts ...generic.ControllerOption) *harness {
	t.Helper()
	mem := store.NewMemory()
	obs := &recordingObserver{}
	clock := &fixedClock{now: time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)}
	var (
		idMu sync.Mutex
		seq  int
	)
	base := []generic.ControllerOption{
		generic.WithClock(clock.Now),
		generic.WithIDGenerator(func() string {
			idMu.Lock()
			defer idMu.Unlock()
			seq++
			return fmt.Sprintf("id-%03d", seq)
		}),
		generic.WithObserver(obs),
	}
	reg := generic.NewRegistry(widgetKind{}, gadgetKind{})
	ctrl := generic.NewController(reg, mem, mem, append(base, opts...)...)
	return &harness{ctrl: ctrl, store: mem, observer: obs}
}

func w(name string, amount int64) widget {
	return widget{Name: name, Amount: decimal.NewFromInt(amount)}
}

// widgetCodec is a JSON PayloadCodec for the test kinds.
type widgetCodec struct{}

func (widgetCodec) Encode(p generic.Payload) ([]byte, error) { return json.Marshal(p) }

func (widgetCodec) Decode(kind generic.KindID, raw []byte) (generic.Payload, error) {
	switch kind {
	case kindWidget:
		var v widget
		err := json.Unmarshal(raw, &v)
		return v, err
	case "gadget":
		var v gadget
		err := json.Unmarshal(raw, &v)
		return v, err
	}
	return nil, fmt.Errorf("%w: %s", generic.ErrUnknownKind, kind)
}
