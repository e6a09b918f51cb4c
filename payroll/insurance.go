package payroll

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

type InsuranceType string

const (
	InsuranceHealth       InsuranceType = "health"
	InsuranceSocial       InsuranceType = "social"
	InsurancePension      InsuranceType = "pension"
	InsuranceUnemployment InsuranceType = "unemployment"
)

func (t InsuranceType) valid() bool {
	switch t {
	case InsuranceHealth, InsuranceSocial, InsurancePension, InsuranceUnemployment:
		return true
	}
	return false
}

// InsuranceBracket applies contribution rates to salaries in [MinSalary, MaxSalary).
type InsuranceBracket struct {
	Name          string             `json:"name"`
	InsuranceType InsuranceType      `json:"insuranceType"`
	MinSalary     decimal.Decimal    `json:"minSalary"`
	MaxSalary     *decimal.Decimal   `json:"maxSalary,omitempty"`
	EmployeeRate  decimal.Decimal    `json:"employeeRate"`
	EmployerRate  decimal.Decimal    `json:"employerRate"`
	EffectiveFrom generic.TimePoint  `json:"effectiveFrom"`
	EffectiveTo   *generic.TimePoint `json:"effectiveTo,omitempty"`
}

func (InsuranceBracket) Kind() generic.KindID { return KindInsuranceBracket }

func (b InsuranceBracket) Effective() generic.EffectiveRange {
	return generic.EffectiveRange{From: b.EffectiveFrom, To: b.EffectiveTo}
}

// Covers reports whether salary falls in the bracket.
func (b InsuranceBracket) Covers(salary decimal.Decimal) bool {
	return Bracket{MinIncome: b.MinSalary, MaxIncome: b.MaxSalary}.Contains(salary)
}

// EmployeeContribution is salary × EmployeeRate / 100, rounded to cents.
func (b InsuranceBracket) EmployeeContribution(salary decimal.Decimal) decimal.Decimal {
	return salary.Mul(b.EmployeeRate).Div(hundred).Round(2)
}

// EmployerContribution is salary × EmployerRate / 100, rounded to cents.
func (b InsuranceBracket) EmployerContribution(salary decimal.Decimal) decimal.Decimal {
	return salary.Mul(b.EmployerRate).Div(hundred).Round(2)
}

func (r Rules) ValidateInsuranceBracket(b InsuranceBracket) error {
	if err := required(KindInsuranceBracket, "name", b.Name); err != nil {
		return err
	}
	if !b.InsuranceType.valid() {
		return invalid(KindInsuranceBracket, "insurance_type", "insuranceType", "unrecognised insurance type %q", b.InsuranceType)
	}
	if err := nonNegative(KindInsuranceBracket, "minSalary", b.MinSalary); err != nil {
		return err
	}
	if b.MaxSalary != nil && !b.MaxSalary.GreaterThan(b.MinSalary) {
		return invalid(KindInsuranceBracket, "bracket_range", "maxSalary",
			"maxSalary %s must exceed minSalary %s", b.MaxSalary, b.MinSalary)
	}
	if err := percentage(KindInsuranceBracket, "employeeRate", b.EmployeeRate); err != nil {
		return err
	}
	if err := percentage(KindInsuranceBracket, "employerRate", b.EmployerRate); err != nil {
		return err
	}
	return effectiveRange(KindInsuranceBracket, b.EffectiveFrom, b.EffectiveTo)
}

type InsuranceBracketKind struct{ Rules Rules }

func (InsuranceBracketKind) ID() generic.KindID { return KindInsuranceBracket }

func (k InsuranceBracketKind) Validate(p generic.Payload) error {
	b, err := payloadAs[InsuranceBracket](KindInsuranceBracket, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidateInsuranceBracket(b)
}

// CheckConflicts enforces unique names and that live brackets of the same
// insurance type never cover the same salary during the same window.
func (InsuranceBracketKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	b := candidate.Payload.(InsuranceBracket)
	if err := uniqueBy(KindInsuranceBracket, "name", b, existing, func(p InsuranceBracket) string { return p.Name }); err != nil {
		return err
	}
	for _, other := range live[InsuranceBracket](existing) {
		o := other.Payload
		if o.InsuranceType != b.InsuranceType {
			continue
		}
		if !windowsOverlap(b.EffectiveFrom, b.EffectiveTo, o.EffectiveFrom, o.EffectiveTo) {
			continue
		}
		if rangesOverlap(b.MinSalary, b.MaxSalary, o.MinSalary, o.MaxSalary) {
			return &generic.ConflictError{
				Kind:       KindInsuranceBracket,
				Rule:       "range_overlap",
				Field:      "salaryRange",
				Value:      string(b.InsuranceType) + " " + b.MinSalary.String(),
				ExistingID: other.ID,
			}
		}
	}
	return nil
}

func (InsuranceBracketKind) Permits(a generic.Action, r generic.Role) bool {
	return insuranceAccess.Permits(a, r)
}
