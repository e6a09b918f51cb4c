package payroll

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

type PolicyType string

const (
	PolicyDeduction  PolicyType = "deduction"
	PolicyAllowance  PolicyType = "allowance"
	PolicyBenefit    PolicyType = "benefit"
	PolicyMisconduct PolicyType = "misconduct"
	PolicyLeave      PolicyType = "leave"
)

type Applicability string

const (
	ApplyAll         Applicability = "all"
	ApplyFullTime    Applicability = "full_time"
	ApplyPartTime    Applicability = "part_time"
	ApplyContractors Applicability = "contractors"
)

// Contract types carried by employee records.
const (
	ContractFullTime = "full_time"
	ContractPartTime = "part_time"
	ContractContract = "contract"
)

// Applies reports whether the audience includes an employee with the given
// contract type.
func (a Applicability) Applies(contractType string) bool {
	ct := strings.ReplaceAll(strings.ToLower(contractType), "-", "_")
	switch a {
	case ApplyAll:
		return true
	case ApplyFullTime:
		return ct == ContractFullTime
	case ApplyPartTime:
		return ct == ContractPartTime
	case ApplyContractors:
		return ct == ContractContract
	}
	return false
}

// RuleDefinition holds the policy's numbers. At least one is set.
type RuleDefinition struct {
	Percentage  *decimal.Decimal `json:"percentage,omitempty"`
	FixedAmount *decimal.Decimal `json:"fixedAmount,omitempty"`
	Threshold   *decimal.Decimal `json:"threshold,omitempty"`
}

// PayrollPolicy is an organisation rule applied to an audience of employees.
type PayrollPolicy struct {
	PolicyName    string            `json:"policyName"`
	PolicyType    PolicyType        `json:"policyType"`
	Description   string            `json:"description"`
	EffectiveDate generic.TimePoint `json:"effectiveDate"`
	Rule          RuleDefinition    `json:"ruleDefinition"`
	Applicability Applicability     `json:"applicability"`
}

func (PayrollPolicy) Kind() generic.KindID { return KindPayrollPolicy }

// IsDeduction reports whether the policy reduces net pay.
func (p PayrollPolicy) IsDeduction() bool {
	return p.PolicyType == PolicyDeduction || p.PolicyType == PolicyMisconduct
}

// Amount is FixedAmount + Percentage% × base, or zero when base is below
// the threshold.
func (p PayrollPolicy) Amount(base decimal.Decimal) decimal.Decimal {
	if p.Rule.Threshold != nil && base.LessThan(*p.Rule.Threshold) {
		return decimal.Zero
	}
	total := decimal.Zero
	if p.Rule.FixedAmount != nil {
		total = total.Add(*p.Rule.FixedAmount)
	}
	if p.Rule.Percentage != nil {
		total = total.Add(base.Mul(*p.Rule.Percentage).Div(hundred))
	}
	return total.Round(2)
}

func (r Rules) ValidatePayrollPolicy(p PayrollPolicy) error {
	if len(strings.TrimSpace(p.PolicyName)) < 3 {
		return invalid(KindPayrollPolicy, "policy_name_length", "policyName", "policy name must be at least 3 characters")
	}
	switch p.PolicyType {
	case PolicyDeduction, PolicyAllowance, PolicyBenefit, PolicyMisconduct, PolicyLeave:
	default:
		return invalid(KindPayrollPolicy, "policy_type", "policyType", "unrecognised policy type %q", p.PolicyType)
	}
	if err := required(KindPayrollPolicy, "description", p.Description); err != nil {
		return err
	}
	switch p.Applicability {
	case ApplyAll, ApplyFullTime, ApplyPartTime, ApplyContractors:
	default:
		return invalid(KindPayrollPolicy, "applicability", "applicability", "unrecognised applicability %q", p.Applicability)
	}
	if p.EffectiveDate.IsZero() {
		return invalid(KindPayrollPolicy, "required", "effectiveDate", "effectiveDate is required")
	}
	today := generic.DateOf(r.now())
	if earliest := today.AddYears(-r.PolicyPastYears); p.EffectiveDate.Before(earliest) {
		return invalid(KindPayrollPolicy, "effective_date_window", "effectiveDate",
			"effective date %s is more than %d year(s) in the past", p.EffectiveDate, r.PolicyPastYears)
	}
	if latest := today.AddYears(r.PolicyFutureYears); p.EffectiveDate.After(latest) {
		return invalid(KindPayrollPolicy, "effective_date_window", "effectiveDate",
			"effective date %s is more than %d year(s) in the future", p.EffectiveDate, r.PolicyFutureYears)
	}

	rule := p.Rule
	if rule.Percentage == nil && rule.FixedAmount == nil && rule.Threshold == nil {
		return invalid(KindPayrollPolicy, "rule_definition_required", "ruleDefinition",
			"at least one of percentage, fixedAmount or threshold is required")
	}
	if rule.Percentage != nil {
		if err := percentage(KindPayrollPolicy, "ruleDefinition.percentage", *rule.Percentage); err != nil {
			return err
		}
	}
	if rule.FixedAmount != nil {
		if err := nonNegative(KindPayrollPolicy, "ruleDefinition.fixedAmount", *rule.FixedAmount); err != nil {
			return err
		}
	}
	if rule.Threshold != nil {
		if err := nonNegative(KindPayrollPolicy, "ruleDefinition.threshold", *rule.Threshold); err != nil {
			return err
		}
	}
	return nil
}

type PayrollPolicyKind struct{ Rules Rules }

func (PayrollPolicyKind) ID() generic.KindID { return KindPayrollPolicy }

func (k PayrollPolicyKind) Validate(p generic.Payload) error {
	pol, err := payloadAs[PayrollPolicy](KindPayrollPolicy, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidatePayrollPolicy(pol)
}

// CheckConflicts: name + type is unique.
func (PayrollPolicyKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	return uniqueBy(KindPayrollPolicy, "policyName", candidate.Payload.(PayrollPolicy), existing, func(p PayrollPolicy) string {
		return string(p.PolicyType) + "/" + strings.TrimSpace(p.PolicyName)
	})
}

func (PayrollPolicyKind) Permits(a generic.Action, r generic.Role) bool { return standardAccess.Permits(a, r) }
