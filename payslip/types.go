/*
Package payslip turns approved payroll configuration into payslips.

PURPOSE:
  Aggregates the approved configuration that applies to one employee and one
  pay period into a gross-to-net breakdown, then tracks the payslip through
  its own review lifecycle:

    draft ──submit──▶ under_review ──approve──▶ approved ──lock──▶ locked ──pay──▶ paid
                            │
                            └──reject──▶ rejected

  A payslip owns copies of every number it was built from. Editing a tax
  rule after the payslip was generated never changes it; regenerating does.

KEY COMPONENTS:
  Generate:  pure aggregation (aggregator.go)
  Snapshot:  approved configuration for one employee (snapshot.go)
  Service:   generation, batch runs and lifecycle transitions (service.go)
  Store:     persistence contract (store.go), with an in-memory implementation
  Publisher: outbound portal summaries (publish.go)
  RenderPDF: printable payslip (pdf.go)

SEE ALSO:
  - payroll/: the configuration kinds consumed here
  - store/sqlite, store/postgres: persistent Store implementations
*/
package payslip

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusDraft       Status = "draft"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusLocked      Status = "locked"
	StatusPaid        Status = "paid"
	StatusRejected    Status = "rejected"
)

// Frozen reports whether the payslip may no longer be overwritten.
func (s Status) Frozen() bool {
	return s == StatusLocked || s == StatusPaid
}

func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusDraft, StatusUnderReview, StatusApproved, StatusLocked, StatusPaid, StatusRejected:
		return st, true
	}
	return "", false
}

// ErrPayslipLocked is returned when a locked or paid payslip would be overwritten.
var ErrPayslipLocked = fmt.Errorf("payslip is locked: %w", generic.ErrInvalidState)

// LockedError names the payslip that refused the write.
type LockedError struct {
	ID     string
	Status Status
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("payslip %s is %s and can no longer be regenerated", e.ID, e.Status)
}

func (e *LockedError) Unwrap() error { return ErrPayslipLocked }

// IsLocked reports whether err came from writing a frozen payslip.
func IsLocked(err error) bool { return errors.Is(err, ErrPayslipLocked) }

// =============================================================================
// BREAKDOWN
// =============================================================================

// Breakdown is the auditable gross-to-net computation.
type Breakdown struct {
	BaseSalary         decimal.Decimal `json:"baseSalary"`
	TotalAllowances    decimal.Decimal `json:"totalAllowances"`
	GrossSalary        decimal.Decimal `json:"grossSalary"`
	TotalBonuses       decimal.Decimal `json:"totalBonuses"`
	LeaveCompensation  decimal.Decimal `json:"leaveCompensation"`
	TotalBenefits      decimal.Decimal `json:"totalBenefits"`
	TotalEarnings      decimal.Decimal `json:"totalEarnings"`
	TaxDeduction       decimal.Decimal `json:"taxDeduction"`
	InsuranceDeduction decimal.Decimal `json:"insuranceDeduction"`
	OtherDeductions    decimal.Decimal `json:"otherDeductions"`
	TotalPenalties     decimal.Decimal `json:"totalPenalties"`
	TotalDeductions    decimal.Decimal `json:"totalDeductions"`
	NetSalary          decimal.Decimal `json:"netSalary"`
}

// Totals fills TotalEarnings, TotalDeductions and NetSalary from the
// components. NetSalary may come out negative; Generate clamps it.
func Totals(b Breakdown) Breakdown {
	b.TotalEarnings = b.GrossSalary.Add(b.TotalBonuses).Add(b.LeaveCompensation).Add(b.TotalBenefits)
	b.TotalDeductions = b.TaxDeduction.Add(b.InsuranceDeduction).Add(b.OtherDeductions).Add(b.TotalPenalties)
	b.NetSalary = b.TotalEarnings.Sub(b.TotalDeductions)
	return b
}

// Penalties are supplied by attendance and disciplinary feeds.
type Penalties struct {
	UnpaidDays   decimal.Decimal `json:"unpaidDays"`
	MissingHours decimal.Decimal `json:"missingHours"`
	Misconduct   decimal.Decimal `json:"misconduct"`
	Total        decimal.Decimal `json:"total"`
}

// Ref points at the configuration version a payslip was computed from.
type Ref struct {
	Kind    generic.KindID   `json:"kind"`
	ID      generic.EntityID `json:"id"`
	Version int64            `json:"version"`
	Amount  decimal.Decimal  `json:"amount"`
	Detail  string           `json:"detail,omitempty"`
}

// =============================================================================
// WARNINGS
// =============================================================================

const (
	WarningNegativeNet       = "negative_net_salary"
	WarningNoTaxRule         = "no_tax_rule"
	WarningNoTaxBracket      = "no_tax_bracket"
	WarningBenefitNotCleared = "termination_benefit_not_cleared"
	WarningNoSettings        = "no_company_settings"
)

// Warning flags something a reviewer should look at. Warnings never stop
// a payslip from being produced.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NegativeNetSalaryWarning is raised when deductions exceed earnings. The
// payslip is kept with net salary clamped to zero and marked for manual review.
func NegativeNetSalaryWarning(computed decimal.Decimal) Warning {
	return Warning{
		Code:    WarningNegativeNet,
		Message: fmt.Sprintf("computed net salary %s is negative; clamped to 0 pending manual review", computed.StringFixed(2)),
	}
}

// =============================================================================
// PAYSLIP
// =============================================================================

type Payslip struct {
	ID              string             `json:"id"`
	EmployeeID      string             `json:"employeeId"`
	Period          generic.PayPeriod  `json:"period"`
	Currency        string             `json:"currency,omitempty"`
	PayDate         *generic.TimePoint `json:"payDate,omitempty"`
	Breakdown       Breakdown          `json:"breakdown"`
	Penalties       Penalties          `json:"penalties"`
	Refs            []Ref              `json:"refs"`
	Warnings        []Warning          `json:"warnings,omitempty"`
	ManualReview    bool               `json:"manualReview"`
	Status          Status             `json:"status"`
	RejectionReason string             `json:"rejectionReason,omitempty"`
	DecidedBy       string             `json:"decidedBy,omitempty"`
	GeneratedBy     string             `json:"generatedBy,omitempty"`
	GeneratedAt     time.Time          `json:"generatedAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
	Version         int64              `json:"version"`
	DownloadURL     string             `json:"downloadUrl,omitempty"`
}

// Clone copies the payslip including its slices.
func (p *Payslip) Clone() *Payslip {
	c := *p
	c.Refs = append([]Ref(nil), p.Refs...)
	c.Warnings = append([]Warning(nil), p.Warnings...)
	if p.PayDate != nil {
		d := *p.PayDate
		c.PayDate = &d
	}
	return &c
}

// HasWarning reports whether the payslip carries a warning with code.
func (p *Payslip) HasWarning(code string) bool {
	for _, w := range p.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Filter narrows payslip listings. Zero fields match everything.
type Filter struct {
	EmployeeID string
	CycleID    string
	Status     Status
}

func (f Filter) Matches(p *Payslip) bool {
	return (f.EmployeeID == "" || p.EmployeeID == f.EmployeeID) &&
		(f.CycleID == "" || p.Period.CycleID == f.CycleID) &&
		(f.Status == "" || p.Status == f.Status)
}
