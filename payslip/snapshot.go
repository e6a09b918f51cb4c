package payslip

import (
	"context"
	"fmt"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// LoadSnapshot reads the usable configuration that applies to emp. Only
// APPROVED and PAID entities are ever returned.
func LoadSnapshot(ctx context.Context, entities generic.EntityStore, emp Employee) (Snapshot, error) {
	all, err := entities.List(ctx, generic.EntityFilter{
		Statuses: []generic.Status{generic.StatusApproved, generic.StatusPaid},
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load approved configuration: %w", err)
	}

	attached := make(map[string]bool, len(emp.AllowanceIDs))
	for _, id := range emp.AllowanceIDs {
		attached[id] = true
	}

	var snap Snapshot
	var settings []*generic.Entity
	for _, e := range all {
		switch e.Kind {
		case payroll.KindPayGrade:
			if string(e.ID) == emp.PayGradeID {
				snap.PayGrade = e
			}
		case payroll.KindPayType:
			if string(e.ID) == emp.PayTypeID {
				snap.PayType = e
			}
		case payroll.KindTaxRule:
			snap.TaxRules = append(snap.TaxRules, e)
		case payroll.KindInsuranceBracket:
			snap.InsuranceBrackets = append(snap.InsuranceBrackets, e)
		case payroll.KindAllowance:
			al := e.Payload.(payroll.Allowance)
			if attached[string(e.ID)] || (al.EmployeeID != "" && al.EmployeeID == emp.ID) {
				snap.Allowances = append(snap.Allowances, e)
			}
		case payroll.KindSigningBonus:
			if e.Payload.(payroll.SigningBonus).EmployeeID == emp.ID {
				snap.SigningBonuses = append(snap.SigningBonuses, e)
			}
		case payroll.KindTerminationBenefit:
			if e.Payload.(payroll.TerminationBenefit).EmployeeID == emp.ID {
				snap.TerminationBenefits = append(snap.TerminationBenefits, e)
			}
		case payroll.KindPayrollPolicy:
			snap.Policies = append(snap.Policies, e)
		case payroll.KindCompanySettings:
			settings = append(settings, e)
		}
	}
	if active, _, ok := payroll.ActiveSettings(settings); ok {
		snap.Settings = active
	}
	return snap, nil
}
