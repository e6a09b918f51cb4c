package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/httplog/v3"
	"github.com/go-playground/validator/v10"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payslip"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors onto HTTP statuses:
//
//	validation, malformed input      400
//	forbidden                        403
//	not found, unknown kind          404
//	conflict, invalid state, locked  409
//	stale version                    412
//	other client errors              400
//	anything else                    500
//
// Internal errors are attached to the request log; the client only sees a
// generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var (
		ve  *generic.ValidationError
		ce  *generic.ConflictError
		fe  *generic.ForbiddenError
		vev validator.ValidationErrors
	)
	switch {
	case errors.As(err, &ve):
		status, resp.Code, resp.Rule, resp.Field = http.StatusBadRequest, "validation_failed", ve.Rule, ve.Field
	case errors.As(err, &vev):
		status, resp.Code = http.StatusBadRequest, "validation_failed"
		if len(vev) > 0 {
			resp.Rule, resp.Field = vev[0].Tag(), vev[0].Field()
		}
	case errors.Is(err, generic.ErrInvalidPeriod):
		status, resp.Code = http.StatusBadRequest, "invalid_period"
	case errors.As(err, &fe):
		status, resp.Code = http.StatusForbidden, "forbidden"
	case generic.IsNotFound(err), errors.Is(err, generic.ErrUnknownKind):
		status, resp.Code = http.StatusNotFound, "not_found"
	case errors.As(err, &ce):
		status, resp.Code, resp.Rule, resp.Field = http.StatusConflict, "conflict", ce.Rule, ce.Field
	case errors.Is(err, generic.ErrStaleState):
		status, resp.Code = http.StatusPreconditionFailed, "stale_state"
	case errors.Is(err, generic.ErrAlreadyPaid):
		status, resp.Code = http.StatusConflict, "already_paid"
	case errors.Is(err, generic.ErrReferenceInUse):
		status, resp.Code = http.StatusConflict, "reference_in_use"
	case payslip.IsLocked(err):
		status, resp.Code = http.StatusConflict, "payslip_locked"
	case errors.Is(err, generic.ErrInvalidState):
		status, resp.Code = http.StatusConflict, "invalid_state"
	case generic.IsClientError(err):
		status, resp.Code = http.StatusBadRequest, "bad_request"
	default:
		httplog.SetError(r.Context(), err)
		resp = ErrorResponse{Error: "Internal error", Code: "internal_error"}
	}
	writeJSON(w, status, resp)
}
