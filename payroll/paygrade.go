package payroll

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// PayGrade is a salary band. Base salary feeds the payslip; gross is the
// advertised package used for the band check.
type PayGrade struct {
	Grade        string          `json:"grade"`
	BaseSalary   decimal.Decimal `json:"baseSalary"`
	GrossSalary  decimal.Decimal `json:"grossSalary"`
	PositionID   string          `json:"positionId,omitempty"`
	DepartmentID string          `json:"departmentId,omitempty"`
}

func (PayGrade) Kind() generic.KindID { return KindPayGrade }

// ValidatePayGrade enforces the minimum wage on both salaries, gross >= base
// and gross <= base × GrossMultiplierCap.
func (r Rules) ValidatePayGrade(g PayGrade) error {
	if err := required(KindPayGrade, "grade", g.Grade); err != nil {
		return err
	}
	if g.BaseSalary.LessThan(r.MinimumWage) {
		return invalid(KindPayGrade, "minimum_wage", "baseSalary",
			"base salary %s is below the minimum wage %s", g.BaseSalary, r.MinimumWage)
	}
	if g.GrossSalary.LessThan(r.MinimumWage) {
		return invalid(KindPayGrade, "minimum_wage", "grossSalary",
			"gross salary %s is below the minimum wage %s", g.GrossSalary, r.MinimumWage)
	}
	if g.GrossSalary.LessThan(g.BaseSalary) {
		return invalid(KindPayGrade, "gross_below_base", "grossSalary",
			"gross salary %s must be at least the base salary %s", g.GrossSalary, g.BaseSalary)
	}
	if limit := g.BaseSalary.Mul(r.GrossMultiplierCap); g.GrossSalary.GreaterThan(limit) {
		return invalid(KindPayGrade, "gross_multiplier_cap", "grossSalary",
			"gross salary %s exceeds %s× base salary (%s)", g.GrossSalary, r.GrossMultiplierCap, limit)
	}
	return nil
}

type PayGradeKind struct{ Rules Rules }

func (PayGradeKind) ID() generic.KindID { return KindPayGrade }

func (k PayGradeKind) Validate(p generic.Payload) error {
	g, err := payloadAs[PayGrade](KindPayGrade, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidatePayGrade(g)
}

func (PayGradeKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	return uniqueBy(KindPayGrade, "grade", candidate.Payload.(PayGrade), existing, func(p PayGrade) string { return p.Grade })
}

func (PayGradeKind) Permits(a generic.Action, r generic.Role) bool { return standardAccess.Permits(a, r) }
