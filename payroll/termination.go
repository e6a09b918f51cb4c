package payroll

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

type TerminationType string

const (
	TerminationVoluntary   TerminationType = "voluntary_resignation"
	TerminationInvoluntary TerminationType = "involuntary_termination"
	TerminationMutual      TerminationType = "mutual_agreement"
	TerminationEndContract TerminationType = "end_of_contract"
)

type ClearanceStatus string

const (
	ClearancePending ClearanceStatus = "pending"
	ClearanceCleared ClearanceStatus = "cleared"
	ClearanceBlocked ClearanceStatus = "blocked"
)

// ClearanceLookup returns the HR clearance recorded by offboarding.
type ClearanceLookup interface {
	ClearanceStatus(offboardingID string) (ClearanceStatus, bool)
}

// BenefitComponents break the total down. When any component is set the
// total must equal their sum.
type BenefitComponents struct {
	SeverancePay          decimal.Decimal `json:"severancePay"`
	EndOfServiceGratuity  decimal.Decimal `json:"endOfServiceGratuity"`
	PendingAllowances     decimal.Decimal `json:"pendingAllowances"`
	UnusedLeaveEncashment decimal.Decimal `json:"unusedLeaveEncashment"`
	NoticePeriodPay       decimal.Decimal `json:"noticePeriodPay"`
}

func (c BenefitComponents) Sum() decimal.Decimal {
	return c.SeverancePay.Add(c.EndOfServiceGratuity).Add(c.PendingAllowances).
		Add(c.UnusedLeaveEncashment).Add(c.NoticePeriodPay)
}

// TerminationBenefit is paid after offboarding once HR has cleared it.
type TerminationBenefit struct {
	Name            string             `json:"name"`
	EmployeeID      string             `json:"employeeId,omitempty"`
	OffboardingID   string             `json:"offboardingId,omitempty"`
	TerminationType TerminationType    `json:"terminationType,omitempty"`
	TerminationDate *generic.TimePoint `json:"terminationDate,omitempty"`
	YearsOfService  decimal.Decimal    `json:"yearsOfService"`
	Amount          decimal.Decimal    `json:"amount"`
	Components      *BenefitComponents `json:"components,omitempty"`
	HRClearance     ClearanceStatus    `json:"hrClearanceStatus,omitempty"`
	Terms           string             `json:"terms,omitempty"`
}

func (TerminationBenefit) Kind() generic.KindID { return KindTerminationBenefit }

func (r Rules) ValidateTerminationBenefit(b TerminationBenefit) error {
	if err := required(KindTerminationBenefit, "name", b.Name); err != nil {
		return err
	}
	switch b.TerminationType {
	case "", TerminationVoluntary, TerminationInvoluntary, TerminationMutual, TerminationEndContract:
	default:
		return invalid(KindTerminationBenefit, "termination_type", "terminationType", "unrecognised termination type %q", b.TerminationType)
	}
	switch b.HRClearance {
	case "", ClearancePending, ClearanceCleared, ClearanceBlocked:
	default:
		return invalid(KindTerminationBenefit, "clearance_status", "hrClearanceStatus", "unrecognised clearance status %q", b.HRClearance)
	}
	if err := nonNegative(KindTerminationBenefit, "yearsOfService", b.YearsOfService); err != nil {
		return err
	}
	if err := nonNegative(KindTerminationBenefit, "amount", b.Amount); err != nil {
		return err
	}
	if b.Components != nil {
		c := b.Components
		for _, v := range []decimal.Decimal{c.SeverancePay, c.EndOfServiceGratuity, c.PendingAllowances, c.UnusedLeaveEncashment, c.NoticePeriodPay} {
			if err := nonNegative(KindTerminationBenefit, "components", v); err != nil {
				return err
			}
		}
		if sum := c.Sum(); !sum.Equal(b.Amount) {
			return invalid(KindTerminationBenefit, "benefit_total", "amount",
				"amount %s must equal the sum of its components %s", b.Amount, sum)
		}
	}
	return nil
}

type TerminationBenefitKind struct {
	Rules     Rules
	Clearance ClearanceLookup
}

func (TerminationBenefitKind) ID() generic.KindID { return KindTerminationBenefit }
func (TerminationBenefitKind) Disbursable()       {}

func (k TerminationBenefitKind) Validate(p generic.Payload) error {
	b, err := payloadAs[TerminationBenefit](KindTerminationBenefit, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidateTerminationBenefit(b)
}

// CheckConflicts: one live benefit per offboarding case.
func (TerminationBenefitKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	return uniqueBy(KindTerminationBenefit, "offboardingId", candidate.Payload.(TerminationBenefit), existing,
		func(b TerminationBenefit) string { return b.OffboardingID })
}

// ClearanceOf resolves the HR clearance, preferring the offboarding record.
func (k TerminationBenefitKind) ClearanceOf(b TerminationBenefit) ClearanceStatus {
	if k.Clearance != nil && b.OffboardingID != "" {
		if st, ok := k.Clearance.ClearanceStatus(b.OffboardingID); ok {
			return st
		}
	}
	if b.HRClearance == "" {
		return ClearancePending
	}
	return b.HRClearance
}

// CanPay requires HR clearance.
func (k TerminationBenefitKind) CanPay(e *generic.Entity) error {
	b := e.Payload.(TerminationBenefit)
	if st := k.ClearanceOf(b); st != ClearanceCleared {
		return fmt.Errorf("HR clearance is %s, must be %s before payment", st, ClearanceCleared)
	}
	return nil
}

func (TerminationBenefitKind) TrackedAmount(p generic.Payload) decimal.Decimal {
	return p.(TerminationBenefit).Amount
}

func (TerminationBenefitKind) Permits(a generic.Action, r generic.Role) bool {
	return standardAccess.Permits(a, r)
}
