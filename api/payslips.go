package api

import (
	"bytes"
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payslip"
)

// =============================================================================
// PAYSLIP HANDLERS
// =============================================================================
//
//   POST /api/payslips                  Generate one payslip
//   POST /api/payslips/batch            Generate for many employees
//   GET  /api/payslips                  List (?employeeId=&cycleId=&status=)
//   GET  /api/payslips/{id}             Get one payslip
//   GET  /api/payslips/{id}/summary     Employee portal summary
//   GET  /api/payslips/{id}/pdf         Download as PDF
//   POST /api/payslips/{id}/submit|approve|reject|lock|pay

func (h *Handler) GeneratePayslip(w http.ResponseWriter, r *http.Request) {
	var req GeneratePayslipRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())

	p, err := h.Payslips.Generate(r.Context(), req.EmployeeID, req.PayPeriod(), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writePayslip(w, http.StatusCreated, p)
}

func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	actor, _ := ActorFrom(r.Context())

	res, err := h.Payslips.GenerateBatch(r.Context(), req.EmployeeIDs, req.PayPeriod(), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if res.Payslips == nil {
		res.Payslips = []*payslip.Payslip{}
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListPayslips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := payslip.Filter{EmployeeID: q.Get("employeeId"), CycleID: q.Get("cycleId")}
	if raw := q.Get("status"); raw != "" {
		st, ok := payslip.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "Unknown payslip status "+raw, nil)
			return
		}
		filter.Status = st
	}
	list, err := h.Payslips.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if list == nil {
		list = []*payslip.Payslip{}
	}
	writeJSON(w, http.StatusOK, PayslipListResponse{Payslips: list, Count: len(list)})
}

func (h *Handler) GetPayslip(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payslips.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writePayslip(w, http.StatusOK, p)
}

func (h *Handler) GetPayslipSummary(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payslips.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payslip.Summarize(p))
}

// GetPayslipPDF renders into a buffer first so a rendering failure still
// produces a JSON error instead of a truncated PDF.
func (h *Handler) GetPayslipPDF(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payslips.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var name string
	if h.Directory != nil {
		if emp, err := h.Directory.Employee(r.Context(), p.EmployeeID); err == nil {
			name = emp.Name
		}
	}

	var buf bytes.Buffer
	if err := payslip.RenderPDF(&buf, p, name); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="payslip-`+p.EmployeeID+`-`+p.Period.CycleID+`.pdf"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

type payslipTransitionFunc func(ctx context.Context, id string, actor generic.Actor, opts []generic.OpOption) (*payslip.Payslip, error)

func (h *Handler) payslipTransition(fn payslipTransitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := ActorFrom(r.Context())
		opts, err := parseIfMatch(r)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		p, err := fn(r.Context(), chi.URLParam(r, "id"), actor, opts)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writePayslip(w, http.StatusOK, p)
	}
}

func (h *Handler) SubmitPayslip(w http.ResponseWriter, r *http.Request) {
	h.payslipTransition(func(ctx context.Context, id string, actor generic.Actor, opts []generic.OpOption) (*payslip.Payslip, error) {
		return h.Payslips.Submit(ctx, id, actor, opts...)
	})(w, r)
}

func (h *Handler) ApprovePayslip(w http.ResponseWriter, r *http.Request) {
	h.payslipTransition(func(ctx context.Context, id string, actor generic.Actor, opts []generic.OpOption) (*payslip.Payslip, error) {
		return h.Payslips.Approve(ctx, id, actor, opts...)
	})(w, r)
}

func (h *Handler) RejectPayslip(w http.ResponseWriter, r *http.Request) {
	var req PayslipRejectRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.payslipTransition(func(ctx context.Context, id string, actor generic.Actor, opts []generic.OpOption) (*payslip.Payslip, error) {
		return h.Payslips.Reject(ctx, id, actor, req.Reason, opts...)
	})(w, r)
}

func (h *Handler) LockPayslip(w http.ResponseWriter, r *http.Request) {
	h.payslipTransition(func(ctx context.Context, id string, actor generic.Actor, opts []generic.OpOption) (*payslip.Payslip, error) {
		return h.Payslips.Lock(ctx, id, actor, opts...)
	})(w, r)
}

func (h *Handler) PayPayslip(w http.ResponseWriter, r *http.Request) {
	h.payslipTransition(func(ctx context.Context, id string, actor generic.Actor, opts []generic.OpOption) (*payslip.Payslip, error) {
		return h.Payslips.MarkPaid(ctx, id, actor, opts...)
	})(w, r)
}

func writePayslip(w http.ResponseWriter, status int, p *payslip.Payslip) {
	w.Header().Set("ETag", `"`+strconv.FormatInt(p.Version, 10)+`"`)
	writeJSON(w, status, p)
}
