package payroll

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

type TaxType string

const (
	TaxIncome          TaxType = "income_tax"
	TaxSocialInsurance TaxType = "social_insurance"
	TaxStampDuty       TaxType = "stamp_duty"
	TaxHealthInsurance TaxType = "health_insurance"
)

func (t TaxType) valid() bool {
	switch t {
	case TaxIncome, TaxSocialInsurance, TaxStampDuty, TaxHealthInsurance:
		return true
	}
	return false
}

// DefaultTaxCountry is assumed when a rule names no country.
const DefaultTaxCountry = "Egypt"

// TaxRule is a progressive tax table with its exemptions.
type TaxRule struct {
	Name              string             `json:"name"`
	Description       string             `json:"description,omitempty"`
	TaxType           TaxType            `json:"taxType"`
	Country           string             `json:"country,omitempty"`
	TaxYear           int                `json:"taxYear,omitempty"`
	EffectiveFrom     generic.TimePoint  `json:"effectiveFrom"`
	EffectiveTo       *generic.TimePoint `json:"effectiveTo,omitempty"`
	Brackets          BracketTable       `json:"brackets"`
	PersonalExemption decimal.Decimal    `json:"personalExemption"`
	StandardDeduction decimal.Decimal    `json:"standardDeduction"`
	MinTaxableIncome  decimal.Decimal    `json:"minTaxableIncome"`
}

func (TaxRule) Kind() generic.KindID { return KindTaxRule }

// Effective returns the rule's validity window.
func (t TaxRule) Effective() generic.EffectiveRange {
	return generic.EffectiveRange{From: t.EffectiveFrom, To: t.EffectiveTo}
}

// TaxableIncome is gross minus exemptions, floored at zero. Incomes below
// MinTaxableIncome are not taxed at all.
func (t TaxRule) TaxableIncome(gross decimal.Decimal) decimal.Decimal {
	if gross.LessThan(t.MinTaxableIncome) {
		return decimal.Zero
	}
	taxable := gross.Sub(t.PersonalExemption).Sub(t.StandardDeduction)
	if taxable.IsNegative() {
		return decimal.Zero
	}
	return taxable
}

// Evaluate computes the tax due on gross. ok is false when no bracket covers
// the taxable income.
func (t TaxRule) Evaluate(gross decimal.Decimal) (tax decimal.Decimal, bracket int, ok bool) {
	taxable := t.TaxableIncome(gross)
	i, b, found := t.Brackets.Find(taxable)
	if !found {
		return decimal.Zero, -1, false
	}
	return b.Tax(taxable), i, true
}

// ValidateTaxRule checks the tax type, the validity window, the bracket table
// and that exemptions are non-negative. Brackets are required for income tax
// and checked for other types when present.
func (r Rules) ValidateTaxRule(t TaxRule) error {
	if err := required(KindTaxRule, "name", t.Name); err != nil {
		return err
	}
	if !t.TaxType.valid() {
		return invalid(KindTaxRule, "tax_type", "taxType", "unrecognised tax type %q", t.TaxType)
	}
	if t.TaxYear != 0 && (t.TaxYear < 2000 || t.TaxYear > 2100) {
		return invalid(KindTaxRule, "tax_year", "taxYear", "tax year %d out of range", t.TaxYear)
	}
	if err := effectiveRange(KindTaxRule, t.EffectiveFrom, t.EffectiveTo); err != nil {
		return err
	}
	if err := nonNegative(KindTaxRule, "personalExemption", t.PersonalExemption); err != nil {
		return err
	}
	if err := nonNegative(KindTaxRule, "standardDeduction", t.StandardDeduction); err != nil {
		return err
	}
	if err := nonNegative(KindTaxRule, "minTaxableIncome", t.MinTaxableIncome); err != nil {
		return err
	}
	// Only income tax is evaluated against brackets; other types may omit them.
	if t.TaxType != TaxIncome && len(t.Brackets) == 0 {
		return nil
	}
	return t.Brackets.Validate(KindTaxRule)
}

type TaxRuleKind struct{ Rules Rules }

func (TaxRuleKind) ID() generic.KindID { return KindTaxRule }

func (k TaxRuleKind) Validate(p generic.Payload) error {
	t, err := payloadAs[TaxRule](KindTaxRule, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidateTaxRule(t)
}

// Prepare fills the default country.
func (TaxRuleKind) Prepare(p generic.Payload, _ []*generic.Entity) (generic.Payload, error) {
	t, err := payloadAs[TaxRule](KindTaxRule, p)
	if err != nil {
		return nil, err
	}
	if t.Country == "" {
		t.Country = DefaultTaxCountry
	}
	return t, nil
}

func (TaxRuleKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	return uniqueBy(KindTaxRule, "name", candidate.Payload.(TaxRule), existing, func(t TaxRule) string { return t.Name })
}

func (TaxRuleKind) Permits(a generic.Action, r generic.Role) bool { return taxAccess.Permits(a, r) }
