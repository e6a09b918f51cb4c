package payslip

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// AuditKind tags payslip entries in the shared audit log.
const AuditKind generic.KindID = "payslip"

// Action is a payslip lifecycle operation.
type Action string

const (
	ActionGenerate Action = "generate"
	ActionSubmit   Action = "submit"
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionLock     Action = "lock"
	ActionPay      Action = "pay"
)

type transition struct {
	from  Status
	to    Status
	roles []generic.Role
}

var transitions = map[Action]transition{
	ActionSubmit:  {from: StatusDraft, to: StatusUnderReview, roles: []generic.Role{payroll.RolePayrollSpecialist}},
	ActionApprove: {from: StatusUnderReview, to: StatusApproved, roles: []generic.Role{payroll.RolePayrollManager}},
	ActionReject:  {from: StatusUnderReview, to: StatusRejected, roles: []generic.Role{payroll.RolePayrollManager}},
	ActionLock:    {from: StatusApproved, to: StatusLocked, roles: []generic.Role{payroll.RolePayrollManager, payroll.RoleFinanceStaff}},
	ActionPay:     {from: StatusLocked, to: StatusPaid, roles: []generic.Role{payroll.RoleFinanceStaff}},
}

var generateRoles = []generic.Role{payroll.RolePayrollSpecialist, payroll.RolePayrollManager}

func permitted(role generic.Role, roles []generic.Role) bool {
	if role == payroll.RoleSystemAdmin {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Observer is notified about generated payslips and transitions.
type Observer interface {
	PayslipGenerated(p *Payslip, took time.Duration)
	PayslipTransitioned(action string)
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	entities  generic.EntityStore
	store     Store
	directory Directory
	audit     generic.AuditLog
	publisher Publisher
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time

	BaseURL          string
	BatchConcurrency int
	MinReasonLength  int
}

type ServiceOption func(*Service)

func WithAudit(a generic.AuditLog) ServiceOption  { return func(s *Service) { s.audit = a } }
func WithPublisher(p Publisher) ServiceOption     { return func(s *Service) { s.publisher = p } }
func WithObserver(o Observer) ServiceOption       { return func(s *Service) { s.observer = o } }
func WithLogger(l *slog.Logger) ServiceOption     { return func(s *Service) { s.logger = l } }
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

func NewService(entities generic.EntityStore, store Store, directory Directory, opts ...ServiceOption) *Service {
	s := &Service{
		entities:         entities,
		store:            store,
		directory:        directory,
		logger:           slog.Default(),
		now:              func() time.Time { return time.Now().UTC() },
		BatchConcurrency: 4,
		MinReasonLength:  generic.DefaultMinReasonLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate builds and stores the draft payslip of one employee. Regenerating
// replaces the previous draft until the payslip is locked.
func (s *Service) Generate(ctx context.Context, employeeID string, period generic.PayPeriod, actor generic.Actor) (*Payslip, error) {
	if !permitted(actor.Role, generateRoles) {
		return nil, &generic.ForbiddenError{Actor: actor, Kind: AuditKind, Action: generic.Action(ActionGenerate)}
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	emp, err := s.directory.Employee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	in := Input{Employee: emp, Period: period}
	if in.Config, err = LoadSnapshot(ctx, s.entities, emp); err != nil {
		return nil, err
	}
	if in.Attendance, err = s.directory.Attendance(ctx, emp.ID, period); err != nil {
		return nil, fmt.Errorf("failed to read attendance for %s: %w", emp.ID, err)
	}
	if in.Leave, err = s.directory.Leave(ctx, emp.ID, period); err != nil {
		return nil, fmt.Errorf("failed to read leave for %s: %w", emp.ID, err)
	}
	if in.Offboarding, err = s.directory.Offboarding(ctx, emp.ID); err != nil {
		return nil, fmt.Errorf("failed to read offboarding for %s: %w", emp.ID, err)
	}

	p, err := Generate(in)
	if err != nil {
		return nil, err
	}
	now := s.now()
	p.GeneratedBy = actor.ID
	p.GeneratedAt = now
	p.UpdatedAt = now
	if s.BaseURL != "" {
		p.DownloadURL = strings.TrimRight(s.BaseURL, "/") + "/api/payslips/" + p.ID + "/pdf"
	}
	if err := s.store.SavePayslip(ctx, p); err != nil {
		return nil, err
	}
	s.record(ctx, actor, ActionGenerate, p, "")

	if s.observer != nil {
		s.observer.PayslipGenerated(p, time.Since(start))
	}
	s.logger.InfoContext(ctx, "payslip generated",
		slog.String("payslip_id", p.ID),
		slog.String("employee_id", p.EmployeeID),
		slog.String("cycle", p.Period.CycleID),
		slog.String("net", p.Breakdown.NetSalary.StringFixed(2)),
		slog.Bool("manual_review", p.ManualReview),
	)
	return p, nil
}

// BatchResult is the outcome of GenerateBatch. Failures are keyed by employee.
type BatchResult struct {
	Payslips []*Payslip       `json:"payslips"`
	Failures map[string]string `json:"failures,omitempty"`
}

// GenerateBatch generates payslips for the given employees (all active
// employees when empty) with bounded concurrency. A failing employee does
// not stop the others; cancellation of ctx does.
func (s *Service) GenerateBatch(ctx context.Context, employeeIDs []string, period generic.PayPeriod, actor generic.Actor) (*BatchResult, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if len(employeeIDs) == 0 {
		all, err := s.directory.Employees(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list employees: %w", err)
		}
		for _, e := range all {
			if e.Active() {
				employeeIDs = append(employeeIDs, e.ID)
			}
		}
	}

	slips := make([]*Payslip, len(employeeIDs))
	errs := make([]error, len(employeeIDs))

	g, gctx := errgroup.WithContext(ctx)
	limit := s.BatchConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, id := range employeeIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slips[i], errs[i] = s.Generate(gctx, id, period, actor)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &BatchResult{}
	for i, id := range employeeIDs {
		if errs[i] != nil {
			if res.Failures == nil {
				res.Failures = make(map[string]string)
			}
			res.Failures[id] = errs[i].Error()
			continue
		}
		res.Payslips = append(res.Payslips, slips[i])
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Payslip, error) {
	return s.store.GetPayslip(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) ([]*Payslip, error) {
	return s.store.ListPayslips(ctx, filter)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

func (s *Service) Submit(ctx context.Context, id string, actor generic.Actor, opts ...generic.OpOption) (*Payslip, error) {
	return s.transition(ctx, id, actor, ActionSubmit, "", opts)
}

func (s *Service) Approve(ctx context.Context, id string, actor generic.Actor, opts ...generic.OpOption) (*Payslip, error) {
	return s.transition(ctx, id, actor, ActionApprove, "", opts)
}

// Reject needs a reason of at least MinReasonLength characters.
func (s *Service) Reject(ctx context.Context, id string, actor generic.Actor, reason string, opts ...generic.OpOption) (*Payslip, error) {
	reason = strings.TrimSpace(reason)
	if len([]rune(reason)) < s.MinReasonLength {
		return nil, &generic.ValidationError{Kind: AuditKind, Rule: "rejection_reason_length", Field: "reason",
			Message: fmt.Sprintf("reason must be at least %d characters", s.MinReasonLength)}
	}
	return s.transition(ctx, id, actor, ActionReject, reason, opts)
}

func (s *Service) Lock(ctx context.Context, id string, actor generic.Actor, opts ...generic.OpOption) (*Payslip, error) {
	return s.transition(ctx, id, actor, ActionLock, "", opts)
}

func (s *Service) MarkPaid(ctx context.Context, id string, actor generic.Actor, opts ...generic.OpOption) (*Payslip, error) {
	return s.transition(ctx, id, actor, ActionPay, "", opts)
}

func (s *Service) transition(ctx context.Context, id string, actor generic.Actor, action Action, reason string, opts []generic.OpOption) (*Payslip, error) {
	t := transitions[action]
	if !permitted(actor.Role, t.roles) {
		return nil, &generic.ForbiddenError{Actor: actor, Kind: AuditKind, Action: generic.Action(action)}
	}
	current, err := s.store.GetPayslip(ctx, id)
	if err != nil {
		return nil, err
	}
	if v, ok := generic.ExpectedVersion(opts...); ok && v != current.Version {
		return nil, &generic.StaleStateError{EntityID: generic.EntityID(id), Expected: v, Actual: current.Version}
	}
	if current.Status != t.from {
		if action == ActionPay && current.Status == StatusPaid {
			return nil, &generic.AlreadyPaidError{EntityID: generic.EntityID(id), CycleID: current.Period.CycleID, PaidAt: current.UpdatedAt}
		}
		return nil, &generic.InvalidStateError{EntityID: generic.EntityID(id), Status: generic.Status(current.Status),
			Action: generic.Action(action), Detail: "expected " + string(t.from)}
	}

	updated := current.Clone()
	updated.Status = t.to
	updated.UpdatedAt = s.now()
	updated.Version = current.Version + 1
	switch action {
	case ActionApprove:
		updated.DecidedBy = actor.ID
	case ActionReject:
		updated.DecidedBy = actor.ID
		updated.RejectionReason = reason
	}
	if err := s.store.UpdatePayslip(ctx, updated, current.Version); err != nil {
		return nil, err
	}
	s.record(ctx, actor, action, updated, reason)
	if s.observer != nil {
		s.observer.PayslipTransitioned(string(action))
	}
	s.logger.InfoContext(ctx, "payslip transition",
		slog.String("payslip_id", id),
		slog.String("action", string(action)),
		slog.String("status", string(updated.Status)),
		slog.String("actor", actor.ID),
	)

	if s.publisher != nil && (updated.Status == StatusApproved || updated.Status == StatusPaid) {
		if err := s.publisher.Publish(ctx, Summarize(updated)); err != nil {
			s.logger.WarnContext(ctx, "failed to publish payslip summary",
				slog.String("payslip_id", id), slog.Any("error", err))
		}
	}
	return updated, nil
}

// record appends to the audit log. Payslips are regenerable, so a failed
// audit write is logged rather than undoing the payslip write.
func (s *Service) record(ctx context.Context, actor generic.Actor, action Action, p *Payslip, reason string) {
	if s.audit == nil {
		return
	}
	after, err := json.Marshal(p)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to snapshot payslip", slog.String("payslip_id", p.ID), slog.Any("error", err))
		return
	}
	entry := generic.AuditEntry{
		ID:        uuid.NewString(),
		At:        s.now(),
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    generic.Action(action),
		EntityID:  generic.EntityID(p.ID),
		Kind:      AuditKind,
		Reason:    reason,
		After:     after,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "failed to append payslip audit entry", slog.String("payslip_id", p.ID), slog.Any("error", err))
	}
}
