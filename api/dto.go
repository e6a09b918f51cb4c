/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication that are not domain
  types themselves. Configuration payloads are decoded straight into their
  payroll types by factory.Codec; everything else passes through here.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO / *Response: Response types returned to clients

VALIDATION:
  Request types carry go-playground/validator tags and are checked by
  decodeRequest before any handler logic runs. Domain rules are enforced
  again by the engine itself.

SEE ALSO:
  - handlers.go, payslips.go: Use these types
  - factory/payload.go: Payload decoding
*/
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payslip"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeRequest decodes a JSON body into dst and validates its tags.
func decodeRequest(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &generic.ValidationError{Rule: "malformed_body", Message: err.Error()}
	}
	return validate.Struct(dst)
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// MarkPaidRequest names the payroll cycle that disbursed the entity.
type MarkPaidRequest struct {
	CycleID string `json:"cycleId" validate:"required"`
}

// EditReasonHeader carries the reason for amount edits after review began.
const EditReasonHeader = "X-Edit-Reason"

// KindDTO describes one configuration kind.
type KindDTO struct {
	ID generic.KindID `json:"id"`
}

// SettingsDTO is the active company settings revision.
type SettingsDTO struct {
	EntityID generic.EntityID        `json:"entityId"`
	Settings payroll.CompanySettings `json:"settings"`
	Version  int64                   `json:"version"`
}

// =============================================================================
// PAYSLIPS
// =============================================================================

// PeriodRequest selects a monthly pay period.
type PeriodRequest struct {
	Year  int `json:"year" validate:"required,gte=2000,lte=2100"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

func (p PeriodRequest) PayPeriod() generic.PayPeriod {
	return generic.MonthlyPayPeriod(p.Year, time.Month(p.Month))
}

// GeneratePayslipRequest generates one employee's payslip.
type GeneratePayslipRequest struct {
	EmployeeID string `json:"employeeId" validate:"required"`
	PeriodRequest
}

// BatchRequest generates payslips for many employees. Empty EmployeeIDs
// means every active employee.
type BatchRequest struct {
	EmployeeIDs []string `json:"employeeIds" validate:"omitempty,dive,required"`
	PeriodRequest
}

// PayslipRejectRequest carries the payslip rejection reason.
type PayslipRejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// PayslipListResponse wraps a payslip listing.
type PayslipListResponse struct {
	Payslips []*payslip.Payslip `json:"payslips"`
	Count    int                `json:"count"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// parseIfMatch reads an If-Match header of the form `"3"` or `3`.
func parseIfMatch(r *http.Request) ([]generic.OpOption, error) {
	h := r.Header.Get("If-Match")
	if h == "" {
		return nil, nil
	}
	if len(h) >= 2 && h[0] == '"' && h[len(h)-1] == '"' {
		h = h[1 : len(h)-1]
	}
	var v int64
	if _, err := fmt.Sscanf(h, "%d", &v); err != nil || v < 1 {
		return nil, &generic.ValidationError{Rule: "if_match", Field: "If-Match", Message: "If-Match must be a positive version number"}
	}
	return []generic.OpOption{generic.IfVersion(v)}, nil
}
