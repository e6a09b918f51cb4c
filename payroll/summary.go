package payroll

import "github.com/warp/payroll-engine/generic"

// ExecutionSummary counts the configuration a payroll run can use: records
// that are approved or already paid.
type ExecutionSummary struct {
	PayTypes            int `json:"payTypes"`
	PayGrades           int `json:"payGrades"`
	TaxRules            int `json:"taxRules"`
	InsuranceBrackets   int `json:"insuranceBrackets"`
	Allowances          int `json:"allowances"`
	SigningBonuses      int `json:"signingBonuses"`
	TerminationBenefits int `json:"terminationBenefits"`
	PayrollPolicies     int `json:"payrollPolicies"`
	SettingsRevision    int `json:"settingsRevision"`
}

// Summarize builds the summary from any mix of entities.
func Summarize(entities []*generic.Entity) ExecutionSummary {
	var s ExecutionSummary
	for _, e := range entities {
		if !e.IsUsable() {
			continue
		}
		switch e.Kind {
		case KindPayType:
			s.PayTypes++
		case KindPayGrade:
			s.PayGrades++
		case KindTaxRule:
			s.TaxRules++
		case KindInsuranceBracket:
			s.InsuranceBrackets++
		case KindAllowance:
			s.Allowances++
		case KindSigningBonus:
			s.SigningBonuses++
		case KindTerminationBenefit:
			s.TerminationBenefits++
		case KindPayrollPolicy:
			s.PayrollPolicies++
		}
	}
	if _, settings, ok := ActiveSettings(entities); ok {
		s.SettingsRevision = settings.Revision
	}
	return s
}
