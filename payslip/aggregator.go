package payslip

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// =============================================================================
// PAYSLIP AGGREGATOR
// =============================================================================
//
// Generate is pure: it reads only its input, never the clock, and orders
// everything it iterates, so the same input always yields the same payslip.
//
//   gross      = base (pay grade) + allowances
//   earnings   = gross + bonuses + leave compensation + benefits
//   deductions = tax + insurance + other (policies) + penalties
//   net        = max(earnings − deductions, 0)

// Snapshot is the approved configuration that applies to one employee.
type Snapshot struct {
	PayGrade            *generic.Entity
	PayType             *generic.Entity
	TaxRules            []*generic.Entity
	InsuranceBrackets   []*generic.Entity
	Allowances          []*generic.Entity
	SigningBonuses      []*generic.Entity
	TerminationBenefits []*generic.Entity
	Policies            []*generic.Entity
	Settings            *generic.Entity
}

// Input is everything Generate needs.
type Input struct {
	Employee    Employee
	Period      generic.PayPeriod
	Config      Snapshot
	Attendance  AttendanceFeed
	Leave       LeaveFeed
	Offboarding *OffboardingPacket
}

var payslipNamespace = uuid.MustParse("6f1d2c3e-8a47-4b8e-9a51-2f7c0d5e9b14")

// PayslipID is stable per employee and cycle so regeneration overwrites.
func PayslipID(employeeID, cycleID string) string {
	return uuid.NewSHA1(payslipNamespace, []byte(employeeID+"|"+cycleID)).String()
}

// Generate builds the draft payslip for in.
func Generate(in Input) (*Payslip, error) {
	if strings.TrimSpace(in.Employee.ID) == "" {
		return nil, &generic.ValidationError{Rule: "employee_required", Field: "employeeId", Message: "employee id is required"}
	}
	if err := in.Period.Validate(); err != nil {
		return nil, err
	}
	grade := in.Config.PayGrade
	if grade == nil || !grade.IsUsable() {
		return nil, &generic.ValidationError{Rule: "pay_grade_required", Field: "payGradeId",
			Message: fmt.Sprintf("employee %s has no approved pay grade", in.Employee.ID)}
	}
	pg, ok := grade.Payload.(payroll.PayGrade)
	if !ok {
		return nil, &generic.ValidationError{Rule: "pay_grade_required", Field: "payGradeId",
			Message: fmt.Sprintf("%s is a %s, not a pay grade", grade.ID, grade.Kind)}
	}

	a := &aggregation{in: in}
	a.ref(grade, pg.BaseSalary, "")

	b := Breakdown{BaseSalary: pg.BaseSalary}
	if in.Config.PayType != nil && in.Config.PayType.IsUsable() {
		if pt, ok := in.Config.PayType.Payload.(payroll.PayType); ok {
			a.ref(in.Config.PayType, pt.Amount, string(pt.Type))
		}
	}
	b.TotalAllowances = a.allowances()
	b.GrossSalary = b.BaseSalary.Add(b.TotalAllowances)
	b.TotalBonuses = a.signingBonuses()
	b.TotalBenefits = a.terminationBenefits()
	if in.Leave.EncashmentEligible {
		b.LeaveCompensation = in.Leave.EncashmentAmount
	}

	b.TaxDeduction = a.tax(b.GrossSalary)
	b.InsuranceDeduction = a.insurance(b.GrossSalary)
	b.OtherDeductions = a.policyDeductions(b.BaseSalary)

	pen := Penalties{
		UnpaidDays:   in.Attendance.UnpaidDaysAmount,
		MissingHours: in.Attendance.MissingHoursAmount,
		Misconduct:   in.Attendance.MisconductAmount,
	}
	pen.Total = pen.UnpaidDays.Add(pen.MissingHours).Add(pen.Misconduct)
	b.TotalPenalties = pen.Total

	b = Totals(b)
	manual := false
	if b.NetSalary.IsNegative() {
		a.warn(NegativeNetSalaryWarning(b.NetSalary))
		b.NetSalary = decimal.Zero
		manual = true
	}

	p := &Payslip{
		ID:           PayslipID(in.Employee.ID, in.Period.CycleID),
		EmployeeID:   in.Employee.ID,
		Period:       in.Period,
		Breakdown:    b,
		Penalties:    pen,
		Refs:         a.sortedRefs(),
		Warnings:     a.warnings,
		ManualReview: manual,
		Status:       StatusDraft,
	}
	a.applySettings(p)
	return p, nil
}

type aggregation struct {
	in       Input
	refs     []Ref
	warnings []Warning
}

func (a *aggregation) ref(e *generic.Entity, amount decimal.Decimal, detail string) {
	a.refs = append(a.refs, Ref{Kind: e.Kind, ID: e.ID, Version: e.Version, Amount: amount, Detail: detail})
}

func (a *aggregation) warn(w Warning) { a.warnings = append(a.warnings, w) }

func (a *aggregation) sortedRefs() []Ref {
	refs := append([]Ref(nil), a.refs...)
	sort.SliceStable(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
	return refs
}

// usable filters to approved/paid entities and orders them by id.
func usable(entities []*generic.Entity) []*generic.Entity {
	out := make([]*generic.Entity, 0, len(entities))
	for _, e := range entities {
		if e != nil && e.IsUsable() {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// forEmployee accepts records addressed to the employee or to nobody.
func (a *aggregation) forEmployee(employeeID string) bool {
	return employeeID == "" || employeeID == a.in.Employee.ID
}

// payableNow: approved, or already paid in this very cycle so regenerating
// the cycle's payslip keeps it.
func (a *aggregation) payableNow(e *generic.Entity) bool {
	switch e.Status() {
	case generic.StatusApproved:
		return true
	case generic.StatusPaid:
		return e.Payment != nil && e.Payment.CycleID == a.in.Period.CycleID
	}
	return false
}

func (a *aggregation) allowances() decimal.Decimal {
	total := decimal.Zero
	for _, e := range usable(a.in.Config.Allowances) {
		al, ok := e.Payload.(payroll.Allowance)
		if !ok || !a.forEmployee(al.EmployeeID) {
			continue
		}
		total = total.Add(al.Amount)
		a.ref(e, al.Amount, al.Name)
	}
	return total
}

func (a *aggregation) signingBonuses() decimal.Decimal {
	total := decimal.Zero
	for _, e := range usable(a.in.Config.SigningBonuses) {
		sb, ok := e.Payload.(payroll.SigningBonus)
		if !ok || sb.EmployeeID != a.in.Employee.ID || !a.payableNow(e) {
			continue
		}
		total = total.Add(sb.Amount)
		a.ref(e, sb.Amount, sb.PositionName)
	}
	return total
}

func (a *aggregation) terminationBenefits() decimal.Decimal {
	total := decimal.Zero
	for _, e := range usable(a.in.Config.TerminationBenefits) {
		tb, ok := e.Payload.(payroll.TerminationBenefit)
		if !ok || tb.EmployeeID != a.in.Employee.ID || !a.payableNow(e) {
			continue
		}
		clearance := tb.HRClearance
		if off := a.in.Offboarding; off != nil && (tb.OffboardingID == "" || off.OffboardingID == tb.OffboardingID) {
			clearance = off.HRClearance
		}
		if clearance != payroll.ClearanceCleared {
			a.warn(Warning{Code: WarningBenefitNotCleared,
				Message: fmt.Sprintf("termination benefit %s withheld: HR clearance is %q", e.ID, clearance)})
			continue
		}
		total = total.Add(tb.Amount)
		a.ref(e, tb.Amount, tb.Name)
	}
	return total
}

// tax uses the most recently effective income tax rule in force during the
// period whose table covers the taxable income.
func (a *aggregation) tax(gross decimal.Decimal) decimal.Decimal {
	var rules []*generic.Entity
	for _, e := range usable(a.in.Config.TaxRules) {
		tr, ok := e.Payload.(payroll.TaxRule)
		if ok && tr.TaxType == payroll.TaxIncome && tr.Effective().Overlaps(a.in.Period.Period) {
			rules = append(rules, e)
		}
	}
	if len(rules) == 0 {
		a.warn(Warning{Code: WarningNoTaxRule, Message: "no approved income tax rule in force for " + a.in.Period.Label()})
		return decimal.Zero
	}
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Payload.(payroll.TaxRule).EffectiveFrom.After(rules[j].Payload.(payroll.TaxRule).EffectiveFrom)
	})
	for _, e := range rules {
		tr := e.Payload.(payroll.TaxRule)
		if tax, idx, ok := tr.Evaluate(gross); ok {
			a.ref(e, tax, fmt.Sprintf("bracket %d", idx))
			return tax
		}
	}
	a.warn(Warning{Code: WarningNoTaxBracket, Message: fmt.Sprintf("no tax bracket covers gross salary %s", gross.StringFixed(2))})
	return decimal.Zero
}

// insurance sums, per insurance type, the employee contribution of the
// first bracket covering gross.
func (a *aggregation) insurance(gross decimal.Decimal) decimal.Decimal {
	byType := map[payroll.InsuranceType][]*generic.Entity{}
	for _, e := range usable(a.in.Config.InsuranceBrackets) {
		ib, ok := e.Payload.(payroll.InsuranceBracket)
		if ok && ib.Effective().Overlaps(a.in.Period.Period) {
			byType[ib.InsuranceType] = append(byType[ib.InsuranceType], e)
		}
	}
	types := make([]payroll.InsuranceType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	total := decimal.Zero
	for _, t := range types {
		brackets := byType[t]
		sort.SliceStable(brackets, func(i, j int) bool {
			return brackets[i].Payload.(payroll.InsuranceBracket).MinSalary.LessThan(brackets[j].Payload.(payroll.InsuranceBracket).MinSalary)
		})
		for _, e := range brackets {
			ib := e.Payload.(payroll.InsuranceBracket)
			if ib.Covers(gross) {
				c := ib.EmployeeContribution(gross)
				total = total.Add(c)
				a.ref(e, c, string(t))
				break
			}
		}
	}
	return total
}

// policyDeductions applies approved deduction and misconduct policies that
// target the employee's contract type and are already effective.
func (a *aggregation) policyDeductions(base decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, e := range usable(a.in.Config.Policies) {
		pol, ok := e.Payload.(payroll.PayrollPolicy)
		if !ok || !pol.IsDeduction() || !pol.Applicability.Applies(a.in.Employee.ContractType) {
			continue
		}
		if pol.EffectiveDate.After(a.in.Period.End) {
			continue
		}
		amount := pol.Amount(base)
		if amount.IsZero() {
			continue
		}
		total = total.Add(amount)
		a.ref(e, amount, pol.PolicyName)
	}
	return total
}

func (a *aggregation) applySettings(p *Payslip) {
	e := a.in.Config.Settings
	if e == nil || !e.IsUsable() {
		p.Warnings = append(p.Warnings, Warning{Code: WarningNoSettings, Message: "no approved company settings; currency and pay date unset"})
		return
	}
	s, ok := e.Payload.(payroll.CompanySettings)
	if !ok {
		return
	}
	p.Currency = s.Currency
	// The configured pay date recurs on the same day of every month.
	day := s.PayDate.Day()
	if last := a.in.Period.End.Day(); day > last {
		day = last
	}
	payDate := generic.NewTimePoint(a.in.Period.End.Year(), a.in.Period.End.Month(), day)
	p.PayDate = &payDate
	p.Refs = append(p.Refs, Ref{Kind: e.Kind, ID: e.ID, Version: e.Version, Detail: fmt.Sprintf("revision %d", s.Revision)})
	sort.SliceStable(p.Refs, func(i, j int) bool {
		if p.Refs[i].Kind != p.Refs[j].Kind {
			return p.Refs[i].Kind < p.Refs[j].Kind
		}
		return p.Refs[i].ID < p.Refs[j].ID
	})
}
