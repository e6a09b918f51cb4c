package payroll_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

func fixedRules() payroll.Rules {
	r := payroll.DefaultRules()
	r.Now = func() time.Time { return time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC) }
	return r
}

func ruleOf(t *testing.T, err error) string {
	t.Helper()
	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	return ve.Rule
}

func TestValidatePayGrade(t *testing.T) {
	r := fixedRules()
	tests := []struct {
		name string
		g    payroll.PayGrade
		rule string
	}{
		{"valid", payroll.PayGrade{Grade: "G1", BaseSalary: d("6000"), GrossSalary: d("9000")}, ""},
		{"missing grade", payroll.PayGrade{BaseSalary: d("8000"), GrossSalary: d("9000")}, "required"},
		{"base below minimum wage", payroll.PayGrade{Grade: "G1", BaseSalary: d("5999.99"), GrossSalary: d("9000")}, "minimum_wage"},
		{"gross below base", payroll.PayGrade{Grade: "G1", BaseSalary: d("9000"), GrossSalary: d("8000")}, "gross_below_base"},
		{"gross at the cap", payroll.PayGrade{Grade: "G1", BaseSalary: d("6000"), GrossSalary: d("60000")}, ""},
		{"gross above the cap", payroll.PayGrade{Grade: "G1", BaseSalary: d("6000"), GrossSalary: d("60000.01")}, "gross_multiplier_cap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidatePayGrade(tt.g)
			if tt.rule == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.rule, ruleOf(t, err))
		})
	}
}

func TestValidatePayType(t *testing.T) {
	r := fixedRules()
	start := generic.MustParseDate("2025-01-01")
	end := generic.MustParseDate("2025-12-31")

	tests := []struct {
		name string
		p    payroll.PayType
		rule string
	}{
		{"monthly", payroll.PayType{Name: "Monthly", Type: payroll.PayMonthly, Amount: d("10000")}, ""},
		{"unknown type", payroll.PayType{Name: "Weird", Type: "fortnightly"}, "pay_type_category"},
		{"short description", payroll.PayType{Name: "Hourly", Type: payroll.PayHourly, Description: "short"}, "description_length"},
		{"contract without dates", payroll.PayType{Name: "Contract", Type: payroll.PayContractBased}, "contract_dates_required"},
		{"contract with reversed dates", payroll.PayType{Name: "Contract", Type: payroll.PayContractBased, ContractStartDate: &end, ContractEndDate: &start}, "contract_date_order"},
		{"contract with dates", payroll.PayType{Name: "Contract", Type: payroll.PayContractBased, ContractStartDate: &start, ContractEndDate: &end}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidatePayType(tt.p)
			if tt.rule == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.rule, ruleOf(t, err))
		})
	}
}

func TestValidatePayrollPolicy(t *testing.T) {
	r := fixedRules()
	valid := func() payroll.PayrollPolicy {
		return payroll.PayrollPolicy{
			PolicyName:    "Late arrival",
			PolicyType:    payroll.PolicyMisconduct,
			Description:   "Deduct for repeated late arrival",
			EffectiveDate: generic.MustParseDate("2025-07-01"),
			Rule:          payroll.RuleDefinition{FixedAmount: dp("250")},
			Applicability: payroll.ApplyAll,
		}
	}
	require.NoError(t, r.ValidatePayrollPolicy(valid()))

	tests := []struct {
		name   string
		mutate func(*payroll.PayrollPolicy)
		rule   string
	}{
		{"short name", func(p *payroll.PayrollPolicy) { p.PolicyName = "ab" }, "policy_name_length"},
		{"unknown type", func(p *payroll.PayrollPolicy) { p.PolicyType = "bonus" }, "policy_type"},
		{"no description", func(p *payroll.PayrollPolicy) { p.Description = " " }, "required"},
		{"unknown audience", func(p *payroll.PayrollPolicy) { p.Applicability = "interns" }, "applicability"},
		{"too far in the past", func(p *payroll.PayrollPolicy) { p.EffectiveDate = generic.MustParseDate("2024-06-14") }, "effective_date_window"},
		{"too far in the future", func(p *payroll.PayrollPolicy) { p.EffectiveDate = generic.MustParseDate("2030-06-16") }, "effective_date_window"},
		{"empty rule", func(p *payroll.PayrollPolicy) { p.Rule = payroll.RuleDefinition{} }, "rule_definition_required"},
		{"percentage above 100", func(p *payroll.PayrollPolicy) { p.Rule.Percentage = dp("120") }, "percentage_range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(&p)
			assert.Equal(t, tt.rule, ruleOf(t, r.ValidatePayrollPolicy(p)))
		})
	}

	// The window edges are inclusive.
	edge := valid()
	edge.EffectiveDate = generic.MustParseDate("2024-06-15")
	assert.NoError(t, r.ValidatePayrollPolicy(edge))
	edge.EffectiveDate = generic.MustParseDate("2030-06-15")
	assert.NoError(t, r.ValidatePayrollPolicy(edge))
}

func TestPayrollPolicy_Amount(t *testing.T) {
	p := payroll.PayrollPolicy{Rule: payroll.RuleDefinition{Percentage: dp("2.5"), FixedAmount: dp("100"), Threshold: dp("10000")}}

	assert.True(t, p.Amount(d("9999")).IsZero(), "below threshold")
	assert.True(t, p.Amount(d("20000")).Equal(d("600")))

	assert.True(t, payroll.PayrollPolicy{PolicyType: payroll.PolicyMisconduct}.IsDeduction())
	assert.True(t, payroll.PayrollPolicy{PolicyType: payroll.PolicyDeduction}.IsDeduction())
	assert.False(t, payroll.PayrollPolicy{PolicyType: payroll.PolicyBenefit}.IsDeduction())
}

func TestApplicability_Applies(t *testing.T) {
	assert.True(t, payroll.ApplyAll.Applies("anything"))
	assert.True(t, payroll.ApplyFullTime.Applies("Full-Time"))
	assert.False(t, payroll.ApplyFullTime.Applies("part_time"))
	assert.True(t, payroll.ApplyContractors.Applies("contract"))
	assert.False(t, payroll.Applicability("nobody").Applies("full_time"))
}

func TestValidateTerminationBenefit(t *testing.T) {
	r := fixedRules()
	b := payroll.TerminationBenefit{
		Name:   "End of service",
		Amount: d("40000"),
		Components: &payroll.BenefitComponents{
			SeverancePay:          d("32000"),
			UnusedLeaveEncashment: d("8000"),
		},
	}
	require.NoError(t, r.ValidateTerminationBenefit(b))

	b.Amount = d("39999")
	assert.Equal(t, "benefit_total", ruleOf(t, r.ValidateTerminationBenefit(b)))

	b.Amount = d("40000")
	b.HRClearance = "approved"
	assert.Equal(t, "clearance_status", ruleOf(t, r.ValidateTerminationBenefit(b)))
}

func TestValidateTaxRule(t *testing.T) {
	r := fixedRules()
	from := generic.MustParseDate("2025-01-01")
	overlapping := payroll.BracketTable{
		{MinIncome: d("0"), MaxIncome: dp("200"), Rate: d("0")},
		{MinIncome: d("150"), Rate: d("10")},
	}

	tests := []struct {
		name string
		rule payroll.TaxRule
		want string
	}{
		{"stamp duty without brackets", payroll.TaxRule{Name: "Stamp duty", TaxType: payroll.TaxStampDuty, TaxYear: 2025, EffectiveFrom: from}, ""},
		{"social insurance without brackets", payroll.TaxRule{Name: "Insurance", TaxType: payroll.TaxSocialInsurance, EffectiveFrom: from}, ""},
		{"income tax without brackets", payroll.TaxRule{Name: "Income tax", TaxType: payroll.TaxIncome, TaxYear: 2025, EffectiveFrom: from}, "brackets_required"},
		{"income tax with brackets", payroll.TaxRule{Name: "Income tax", TaxType: payroll.TaxIncome, EffectiveFrom: from, Brackets: egyptianTable()}, ""},
		{"stamp duty with overlapping brackets", payroll.TaxRule{Name: "Stamp duty", TaxType: payroll.TaxStampDuty, EffectiveFrom: from, Brackets: overlapping}, "bracket_overlap"},
		{"unknown tax type", payroll.TaxRule{Name: "Levy", TaxType: "levy", EffectiveFrom: from}, "tax_type"},
		{"tax year out of range", payroll.TaxRule{Name: "Stamp duty", TaxType: payroll.TaxStampDuty, TaxYear: 1999, EffectiveFrom: from}, "tax_year"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateTaxRule(tt.rule)
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, ruleOf(t, err))
		})
	}
}

func TestValidateCompanySettings(t *testing.T) {
	r := fixedRules()
	s := payroll.CompanySettings{PayDate: generic.MustParseDate("2025-06-25"), TimeZone: "Africa/Cairo", Currency: "EGP", Revision: 1}
	require.NoError(t, r.ValidateCompanySettings(s))

	bad := s
	bad.TimeZone = "Mars/Olympus"
	assert.Equal(t, "time_zone", ruleOf(t, r.ValidateCompanySettings(bad)))

	bad = s
	bad.Currency = "USD"
	assert.Equal(t, "currency_allowed", ruleOf(t, r.ValidateCompanySettings(bad)))

	bad = s
	bad.PayDate = generic.TimePoint{}
	assert.Equal(t, "required", ruleOf(t, r.ValidateCompanySettings(bad)))
}
