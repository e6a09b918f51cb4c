/*
Package payroll implements the payroll configuration kinds on top of the
generic lifecycle engine.

PURPOSE:
  Every parameter that drives a payroll run is a configuration entity:
  pay types, pay grades, tax rules, insurance brackets, allowances, signing
  bonuses, termination benefits, company settings and payroll policies.
  This package owns their payloads, the validation rules for each, the
  cross-entity conflict rules and which roles may do what.

KINDS:
  pay_type            hourly/daily/weekly/monthly/contract-based pay
  pay_grade           base and gross salary band
  tax_rule            progressive bracket table
  insurance_bracket   salary range with employee/employer rates
  allowance           fixed allowance
  signing_bonus       one-off bonus, disbursable
  termination_benefit end-of-service benefit, disbursable after HR clearance
  company_settings    pay date, time zone, currency (revisioned)
  payroll_policy      deduction/benefit rule applied to an audience

USAGE:
  reg := payroll.NewRegistry(payroll.DefaultRules(), nil)
  ctrl := generic.NewController(reg, store, store)

SEE ALSO:
  - rules.go: Rules and the shared validation helpers
  - brackets.go: bracket tables and progressive tax evaluation
*/
package payroll

import (
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// KIND IDS
// =============================================================================

const (
	KindPayType            generic.KindID = "pay_type"
	KindPayGrade           generic.KindID = "pay_grade"
	KindTaxRule            generic.KindID = "tax_rule"
	KindInsuranceBracket   generic.KindID = "insurance_bracket"
	KindAllowance          generic.KindID = "allowance"
	KindSigningBonus       generic.KindID = "signing_bonus"
	KindTerminationBenefit generic.KindID = "termination_benefit"
	KindCompanySettings    generic.KindID = "company_settings"
	KindPayrollPolicy      generic.KindID = "payroll_policy"
)

// NewRegistry registers every payroll kind. clearance may be nil, in which
// case termination benefits are checked against their own payload.
func NewRegistry(rules Rules, clearance ClearanceLookup) *generic.Registry {
	return generic.NewRegistry(
		PayTypeKind{Rules: rules},
		PayGradeKind{Rules: rules},
		TaxRuleKind{Rules: rules},
		InsuranceBracketKind{Rules: rules},
		AllowanceKind{Rules: rules},
		SigningBonusKind{Rules: rules},
		TerminationBenefitKind{Rules: rules, Clearance: clearance},
		CompanySettingsKind{Rules: rules},
		PayrollPolicyKind{Rules: rules},
	)
}

// =============================================================================
// ROLES
// =============================================================================

const (
	RolePayrollSpecialist generic.Role = "payroll_specialist"
	RolePayrollManager    generic.Role = "payroll_manager"
	RoleHRManager         generic.Role = "hr_manager"
	RoleLegalAdmin        generic.Role = "legal_admin"
	RoleFinanceStaff      generic.Role = "finance_staff"
	RoleSystemAdmin       generic.Role = "system_admin"
)

// ParseRole accepts the role names carried in tokens.
func ParseRole(s string) (generic.Role, bool) {
	switch r := generic.Role(s); r {
	case RolePayrollSpecialist, RolePayrollManager, RoleHRManager,
		RoleLegalAdmin, RoleFinanceStaff, RoleSystemAdmin:
		return r, true
	}
	return "", false
}

// access maps actions to the roles allowed to perform them. System admins
// may do everything.
type access map[generic.Action][]generic.Role

func (a access) Permits(action generic.Action, role generic.Role) bool {
	if role == RoleSystemAdmin {
		return true
	}
	for _, r := range a[action] {
		if r == role {
			return true
		}
	}
	return false
}

func (a access) with(action generic.Action, roles ...generic.Role) access {
	out := make(access, len(a))
	for k, v := range a {
		out[k] = v
	}
	out[action] = roles
	return out
}

// Specialists draft, managers decide, finance pays.
var standardAccess = access{
	generic.ActionCreate:   {RolePayrollSpecialist},
	generic.ActionEdit:     {RolePayrollSpecialist},
	generic.ActionDelete:   {RolePayrollSpecialist},
	generic.ActionReview:   {RolePayrollSpecialist, RolePayrollManager},
	generic.ActionApprove:  {RolePayrollManager},
	generic.ActionReject:   {RolePayrollManager},
	generic.ActionMarkPaid: {RolePayrollManager, RoleFinanceStaff},
}

// Tax rules are drafted by legal admins as well as specialists.
var taxAccess = standardAccess.
	with(generic.ActionCreate, RoleLegalAdmin, RolePayrollSpecialist).
	with(generic.ActionEdit, RoleLegalAdmin, RolePayrollSpecialist).
	with(generic.ActionDelete, RoleLegalAdmin, RolePayrollSpecialist)

// Insurance brackets are signed off by HR.
var insuranceAccess = standardAccess.
	with(generic.ActionApprove, RoleHRManager).
	with(generic.ActionReject, RoleHRManager)

// Company settings belong to system admins, who are handled by Permits.
var settingsAccess = access{
	generic.ActionApprove: {RolePayrollManager},
	generic.ActionReject:  {RolePayrollManager},
}
