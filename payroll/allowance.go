package payroll

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// Allowance is a fixed monthly amount added to gross salary. An empty
// EmployeeID makes it a template attached per employee by the caller.
type Allowance struct {
	Name       string          `json:"name"`
	Amount     decimal.Decimal `json:"amount"`
	EmployeeID string          `json:"employeeId,omitempty"`
}

func (Allowance) Kind() generic.KindID { return KindAllowance }

func (r Rules) ValidateAllowance(a Allowance) error {
	if err := required(KindAllowance, "name", a.Name); err != nil {
		return err
	}
	return nonNegative(KindAllowance, "amount", a.Amount)
}

type AllowanceKind struct{ Rules Rules }

func (AllowanceKind) ID() generic.KindID { return KindAllowance }

func (k AllowanceKind) Validate(p generic.Payload) error {
	a, err := payloadAs[Allowance](KindAllowance, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidateAllowance(a)
}

// CheckConflicts: names are unique per employee.
func (AllowanceKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	return uniqueBy(KindAllowance, "name", candidate.Payload.(Allowance), existing, func(a Allowance) string {
		return a.EmployeeID + "/" + a.Name
	})
}

func (AllowanceKind) TrackedAmount(p generic.Payload) decimal.Decimal { return p.(Allowance).Amount }

func (AllowanceKind) Permits(a generic.Action, r generic.Role) bool { return standardAccess.Permits(a, r) }
