/*
scenarios_test.go - End-to-end tests through the demo scenarios

PURPOSE:
	Loads each scenario over HTTP, then drives payslip generation and the
	payslip lifecycle the way the frontend does:
	- Standard month nets out as expected and walks to PAID
	- Blocked termination benefits are withheld with a warning
	- Negative net salary is clamped and flagged for review
*/
package api

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payslip"
)

var finance = generic.Actor{ID: "u-fin", Role: payroll.RoleFinanceStaff}

// payslipView is the subset of the payslip JSON the tests read.
type payslipView struct {
	ID           string            `json:"id"`
	EmployeeID   string            `json:"employeeId"`
	Status       string            `json:"status"`
	ManualReview bool              `json:"manualReview"`
	Breakdown    payslip.Breakdown `json:"breakdown"`
	Warnings     []payslip.Warning `json:"warnings"`
	DownloadURL  string            `json:"downloadUrl"`
	Version      int64             `json:"version"`
}

func (s *testServer) loadScenario(t *testing.T, id string) {
	t.Helper()
	rec := s.do(t, request{method: http.MethodPost, path: "/api/scenarios/load", actor: &specialist,
		body: fmt.Sprintf(`{"scenario_id":%q}`, id)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (s *testServer) generate(t *testing.T, employeeID string) payslipView {
	t.Helper()
	now := time.Now()
	rec := s.do(t, request{method: http.MethodPost, path: "/api/payslips", actor: &specialist,
		body: fmt.Sprintf(`{"employeeId":%q,"year":%d,"month":%d}`, employeeID, now.Year(), int(now.Month()))})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[payslipView](t, rec)
}

func TestScenario_StandardMonth(t *testing.T) {
	s := setupTestServer(t, nil)

	// GIVEN the standard month scenario
	s.loadScenario(t, "standard-month")

	// WHEN emp-001's payslip for the current month is generated
	p := s.generate(t, "emp-001")

	// THEN gross-to-net matches the seeded configuration
	assert.Equal(t, "draft", p.Status)
	assert.False(t, p.ManualReview)
	assert.Equal(t, "35000", p.Breakdown.GrossSalary.String())
	assert.Equal(t, "90000", p.Breakdown.TotalEarnings.String())
	assert.Equal(t, "6350", p.Breakdown.TotalDeductions.String())
	assert.Equal(t, "83650", p.Breakdown.NetSalary.String())
	assert.Equal(t, "http://payroll.test/api/payslips/"+p.ID+"/pdf", p.DownloadURL)

	// AND the payslip walks through review to payment
	base := "/api/payslips/" + p.ID
	steps := []struct {
		action string
		actor  generic.Actor
		want   string
	}{
		{"submit", specialist, "under_review"},
		{"approve", manager, "approved"},
		{"lock", manager, "locked"},
		{"pay", finance, "paid"},
	}
	for _, step := range steps {
		rec := s.do(t, request{method: http.MethodPost, path: base + "/" + step.action, actor: &step.actor})
		require.Equal(t, http.StatusOK, rec.Code, "%s: %s", step.action, rec.Body.String())
		assert.Equal(t, step.want, decodeBody[payslipView](t, rec).Status)
	}
	assert.Len(t, s.outbox.Published(), 2, "approval and payment are published")

	// Locked and paid payslips cannot be regenerated.
	now := time.Now()
	rec := s.do(t, request{method: http.MethodPost, path: "/api/payslips", actor: &specialist,
		body: fmt.Sprintf(`{"employeeId":"emp-001","year":%d,"month":%d}`, now.Year(), int(now.Month()))})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "payslip_locked", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, request{method: http.MethodGet, path: base + "/pdf", actor: &finance})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF-"))

	rec = s.do(t, request{method: http.MethodGet, path: "/api/payslips?status=paid", actor: &finance})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[PayslipListResponse](t, rec).Count)

	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/summary", actor: &specialist})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/settings/active", actor: &specialist})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "EGP", decodeBody[SettingsDTO](t, rec).Settings.Currency)
}

func TestScenario_TerminationBlocked(t *testing.T) {
	s := setupTestServer(t, nil)
	s.loadScenario(t, "termination-blocked")

	p := s.generate(t, "emp-002")

	assert.True(t, p.Breakdown.TotalBenefits.IsZero())
	assert.NotEmpty(t, p.Warnings)

	// The benefit cannot be paid out either while HR blocks the clearance.
	rec := s.do(t, request{method: http.MethodGet, path: "/api/config/termination_benefit?status=approved", actor: &finance})
	require.Equal(t, http.StatusOK, rec.Code)
	benefits := decodeBody[[]entityView](t, rec)
	require.Len(t, benefits, 1)

	rec = s.do(t, request{method: http.MethodPost, path: "/api/config/termination_benefit/" + benefits[0].ID + "/pay",
		actor: &finance, body: `{"cycleId":"2025-03"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody[ErrorResponse](t, rec).Code)
}

func TestScenario_NegativeNet(t *testing.T) {
	s := setupTestServer(t, nil)
	s.loadScenario(t, "negative-net")

	p := s.generate(t, "emp-003")

	assert.True(t, p.ManualReview)
	assert.True(t, p.Breakdown.NetSalary.IsZero())
	assert.Equal(t, "8000", p.Breakdown.TotalPenalties.String())
	require.NotEmpty(t, p.Warnings)
	assert.Equal(t, "negative_net_salary", p.Warnings[0].Code)
}

func TestScenario_BatchAndReset(t *testing.T) {
	s := setupTestServer(t, nil)
	s.loadScenario(t, "standard-month")

	now := time.Now()
	rec := s.do(t, request{method: http.MethodPost, path: "/api/payslips/batch", actor: &manager,
		body: fmt.Sprintf(`{"employeeIds":[],"year":%d,"month":%d}`, now.Year(), int(now.Month()))})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decodeBody[payslip.BatchResult](t, rec)
	assert.Len(t, batch.Payslips, 1)
	assert.Empty(t, batch.Failures)

	rec = s.do(t, request{method: http.MethodGet, path: "/api/scenarios/current", actor: &specialist})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "standard-month", decodeBody[ScenarioDTO](t, rec).ID)

	rec = s.do(t, request{method: http.MethodPost, path: "/api/scenarios/reset", actor: &specialist})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, request{method: http.MethodGet, path: "/api/scenarios/current", actor: &specialist})
	assert.Equal(t, "null", strings.TrimSpace(rec.Body.String()))
	rec = s.do(t, request{method: http.MethodGet, path: "/api/payslips", actor: &specialist})
	assert.Equal(t, 0, decodeBody[PayslipListResponse](t, rec).Count)
	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/pay_grade", actor: &specialist})
	assert.Empty(t, decodeBody[[]entityView](t, rec))
}

func TestScenario_Unknown(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, request{method: http.MethodGet, path: "/api/scenarios", actor: &specialist})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ScenarioDTO](t, rec), 3)

	rec = s.do(t, request{method: http.MethodPost, path: "/api/scenarios/load", actor: &specialist,
		body: `{"scenario_id":"year-end"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, request{method: http.MethodPost, path: "/api/payslips", actor: &specialist,
		body: `{"employeeId":"emp-001","year":2025,"month":13}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
