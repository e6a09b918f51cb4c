/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the stores with realistic
	payroll configuration for demos. Each scenario creates approved
	configuration through the lifecycle controller and registers employees
	and feeds with the in-memory directory.

AVAILABLE SCENARIOS:

	standard-month:      One full-time employee with a complete, approved setup
	termination-blocked: Leaver whose termination benefit is withheld by HR
	negative-net:        Penalties exceed earnings, payslip needs manual review

HOW SCENARIOS WORK:
 1. Reset stores and the directory
 2. Create configuration drafts as a system admin
 3. Approve them
 4. Register employees pointing at the approved entities
 5. Add attendance, leave and offboarding feeds for the current month

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "standard-month"}

	then
	POST /api/payslips {"employeeId": "emp-001", "year": ..., "month": ...}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset all data. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler and Resetter
  - payslip/feeds.go: MemoryDirectory
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httplog/v3"
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payslip"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "standard-month",
		Name:        "Standard Month",
		Description: "Full-time employee with pay grade, allowance, tax table, social insurance, a deduction policy and a signing bonus",
	},
	{
		ID:          "termination-blocked",
		Name:        "Termination Blocked",
		Description: "Leaver with an approved termination benefit that HR clearance still blocks",
	},
	{
		ID:          "negative-net",
		Name:        "Negative Net Salary",
		Description: "Attendance penalties exceed earnings; the payslip is flagged for manual review",
	},
}

// scenarioActor seeds configuration; system admins may perform every action.
var scenarioActor = generic.Actor{ID: "scenario-loader", Role: payroll.RoleSystemAdmin}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	current := h.currentScenario
	h.scenarioMu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets all data and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "standard-month":
		load = h.loadStandardMonthScenario
	case "termination-blocked":
		load = h.loadTerminationBlockedScenario
	case "negative-net":
		load = h.loadNegativeNetScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario "+req.ScenarioID, nil)
		return
	}

	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		httplog.SetError(ctx, err)
		writeError(w, http.StatusInternalServerError, "Failed to reset data", nil)
		return
	}
	h.currentScenario = ""

	if err := load(ctx); err != nil {
		httplog.SetError(ctx, err)
		writeError(w, http.StatusInternalServerError, "Failed to load scenario "+req.ScenarioID, nil)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetData clears every store without loading a scenario.
func (h *Handler) ResetData(w http.ResponseWriter, r *http.Request) {
	h.scenarioMu.Lock()
	defer h.scenarioMu.Unlock()

	if err := h.reset(r.Context()); err != nil {
		httplog.SetError(r.Context(), err)
		writeError(w, http.StatusInternalServerError, "Failed to reset data", nil)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	if h.Store != nil {
		if err := h.Store.Reset(ctx); err != nil {
			return err
		}
	}
	if h.Directory != nil {
		h.Directory.Reset()
	}
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadStandardMonthScenario(ctx context.Context) error {
	period := currentPeriod()

	if err := h.loadBaseConfiguration(ctx); err != nil {
		return err
	}
	grade, err := h.seed(ctx, payroll.KindPayGrade, payroll.PayGrade{
		Grade:       "G7 Senior Engineer",
		BaseSalary:  decimal.NewFromInt(30000),
		GrossSalary: decimal.NewFromInt(60000),
	})
	if err != nil {
		return err
	}
	housing, err := h.seed(ctx, payroll.KindAllowance, payroll.Allowance{
		Name:   "Housing",
		Amount: decimal.NewFromInt(5000),
	})
	if err != nil {
		return err
	}
	if _, err := h.seed(ctx, payroll.KindSigningBonus, payroll.SigningBonus{
		PositionName: "Senior Engineer",
		EmployeeID:   "emp-001",
		ContractID:   "ctr-001",
		Amount:       decimal.NewFromInt(50000),
		BonusType:    payroll.BonusOneTime,
	}); err != nil {
		return err
	}

	hired := period.Start.AddMonths(-1)
	h.Directory.PutEmployee(payslip.Employee{
		ID:           "emp-001",
		Name:         "Mona Adel",
		ContractType: payroll.ContractFullTime,
		DepartmentID: "dep-eng",
		PayGradeID:   string(grade.ID),
		AllowanceIDs: []string{string(housing.ID)},
		BaseSalary:   decimal.NewFromInt(30000),
		HireDate:     &hired,
		Status:       "active",
	})
	h.Directory.PutLeave("emp-001", period.CycleID, payslip.LeaveFeed{
		UnusedLeaveDays:    decimal.NewFromInt(5),
		EncashmentEligible: true,
		EncashmentAmount:   decimal.NewFromInt(5000),
	})
	return nil
}

func (h *Handler) loadTerminationBlockedScenario(ctx context.Context) error {
	period := currentPeriod()

	if err := h.loadBaseConfiguration(ctx); err != nil {
		return err
	}
	grade, err := h.seed(ctx, payroll.KindPayGrade, payroll.PayGrade{
		Grade:       "G5 Analyst",
		BaseSalary:  decimal.NewFromInt(20000),
		GrossSalary: decimal.NewFromInt(30000),
	})
	if err != nil {
		return err
	}
	termDate := period.Start.AddDays(14)
	if _, err := h.seed(ctx, payroll.KindTerminationBenefit, payroll.TerminationBenefit{
		Name:            "End of service - emp-002",
		EmployeeID:      "emp-002",
		OffboardingID:   "off-002",
		TerminationType: payroll.TerminationVoluntary,
		TerminationDate: &termDate,
		YearsOfService:  decimal.NewFromInt(4),
		Amount:          decimal.NewFromInt(40000),
		Components: &payroll.BenefitComponents{
			EndOfServiceGratuity:  decimal.NewFromInt(32000),
			UnusedLeaveEncashment: decimal.NewFromInt(8000),
		},
		HRClearance: payroll.ClearancePending,
	}); err != nil {
		return err
	}

	h.Directory.PutEmployee(payslip.Employee{
		ID:           "emp-002",
		Name:         "Karim Hassan",
		ContractType: payroll.ContractFullTime,
		PayGradeID:   string(grade.ID),
		BaseSalary:   decimal.NewFromInt(20000),
		Status:       "active",
	})
	h.Directory.PutOffboarding(payslip.OffboardingPacket{
		OffboardingID:   "off-002",
		EmployeeID:      "emp-002",
		TerminationType: payroll.TerminationVoluntary,
		TerminationDate: termDate,
		YearsOfService:  decimal.NewFromInt(4),
		HRClearance:     payroll.ClearanceBlocked,
	})
	return nil
}

func (h *Handler) loadNegativeNetScenario(ctx context.Context) error {
	period := currentPeriod()

	if err := h.loadBaseConfiguration(ctx); err != nil {
		return err
	}
	grade, err := h.seed(ctx, payroll.KindPayGrade, payroll.PayGrade{
		Grade:       "G1 Trainee",
		BaseSalary:  decimal.NewFromInt(7000),
		GrossSalary: decimal.NewFromInt(7000),
	})
	if err != nil {
		return err
	}

	h.Directory.PutEmployee(payslip.Employee{
		ID:           "emp-003",
		Name:         "Salma Fathy",
		ContractType: payroll.ContractPartTime,
		PayGradeID:   string(grade.ID),
		BaseSalary:   decimal.NewFromInt(7000),
		Status:       "active",
	})
	h.Directory.PutAttendance("emp-003", period.CycleID, payslip.AttendanceFeed{
		AbsentDays:         12,
		LateDays:           6,
		UnpaidDaysAmount:   decimal.NewFromInt(4500),
		MissingHoursAmount: decimal.NewFromInt(1500),
		MisconductAmount:   decimal.NewFromInt(2000),
	})
	return nil
}

// =============================================================================
// SHARED CONFIGURATION
// =============================================================================

// loadBaseConfiguration seeds the company-wide configuration every scenario
// shares: a two-band income tax table, social insurance, a fixed deduction
// for full-time staff and company settings.
func (h *Handler) loadBaseConfiguration(ctx context.Context) error {
	band := decimal.NewFromInt(30000)
	fixed := decimal.NewFromInt(2000)
	since := generic.NewTimePoint(2020, time.January, 1)

	seeds := []struct {
		kind    generic.KindID
		payload generic.Payload
	}{
		{payroll.KindTaxRule, payroll.TaxRule{
			Name:          "Income tax",
			TaxType:       payroll.TaxIncome,
			EffectiveFrom: since,
			Brackets: payroll.BracketTable{
				{MinIncome: decimal.Zero, MaxIncome: &band, Rate: decimal.Zero},
				{MinIncome: band, Rate: decimal.NewFromInt(10)},
			},
		}},
		{payroll.KindInsuranceBracket, payroll.InsuranceBracket{
			Name:          "Social insurance",
			InsuranceType: payroll.InsuranceSocial,
			MinSalary:     decimal.Zero,
			EmployeeRate:  decimal.NewFromInt(11),
			EmployerRate:  decimal.RequireFromString("18.75"),
			EffectiveFrom: since,
		}},
		{payroll.KindPayrollPolicy, payroll.PayrollPolicy{
			PolicyName:    "Transport recovery",
			PolicyType:    payroll.PolicyDeduction,
			Description:   "Company transport deducted monthly from full-time staff",
			EffectiveDate: currentPeriod().Start,
			Rule:          payroll.RuleDefinition{FixedAmount: &fixed},
			Applicability: payroll.ApplyFullTime,
		}},
		{payroll.KindCompanySettings, payroll.CompanySettings{
			PayDate:  generic.NewTimePoint(2020, time.January, 25),
			TimeZone: "Africa/Cairo",
			Currency: "EGP",
		}},
	}
	for _, s := range seeds {
		if _, err := h.seed(ctx, s.kind, s.payload); err != nil {
			return err
		}
	}
	return nil
}

// seed creates a draft and approves it.
func (h *Handler) seed(ctx context.Context, kind generic.KindID, p generic.Payload) (*generic.Entity, error) {
	e, err := h.Controller.Create(ctx, kind, p, scenarioActor)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", kind, err)
	}
	approved, err := h.Controller.Approve(ctx, e.ID, scenarioActor)
	if err != nil {
		return nil, fmt.Errorf("approve %s %s: %w", kind, e.ID, err)
	}
	return approved, nil
}

func currentPeriod() generic.PayPeriod {
	now := time.Now()
	return generic.MonthlyPayPeriod(now.Year(), now.Month())
}
