/*
handlers.go - HTTP API handlers for payroll configuration

PURPOSE:
  Exposes the configuration lifecycle (generic.Controller) via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to the
  engine. Payslip endpoints live in payslips.go.

ENDPOINTS:
  Configuration (kind is one of payroll.Kind*):
    GET    /api/config/kinds                   List configuration kinds
    GET    /api/config/summary                 Counts of usable configuration
    GET    /api/config/settings/active         Active company settings
    GET    /api/config/{kind}                  List entities (?status=&createdBy=)
    POST   /api/config/{kind}                  Create DRAFT from payload JSON
    GET    /api/config/{kind}/{id}             Get one entity
    PATCH  /api/config/{kind}/{id}             Merge-patch a DRAFT
    DELETE /api/config/{kind}/{id}             Delete a DRAFT
    POST   /api/config/{kind}/{id}/review      Begin review
    POST   /api/config/{kind}/{id}/approve     Approve
    POST   /api/config/{kind}/{id}/reject      Reject with reason
    POST   /api/config/{kind}/{id}/pay         Mark paid (disbursable kinds)
    GET    /api/config/{kind}/{id}/audit       Audit trail of one entity

  Mutations accept If-Match: "<version>" for optimistic locking.

REQUEST FLOW:
  1. Resolve actor (JWT claims or dev headers)
  2. Parse and validate input
  3. Call the controller
  4. Serialize response
  5. Map errors (see errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: Error to status mapping
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payslip"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears persistent state for demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Resetters resets several stores in order.
type Resetters []Resetter

func (rs Resetters) Reset(ctx context.Context) error {
	for _, r := range rs {
		if err := r.Reset(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Controller *generic.Controller
	Codec      *factory.Codec
	Payslips   *payslip.Service
	Directory  *payslip.MemoryDirectory
	Store      Resetter
	Logger     *slog.Logger

	// Track currently loaded scenario
	scenarioMu      sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler.
func NewHandler(ctrl *generic.Controller, codec *factory.Codec, payslips *payslip.Service, directory *payslip.MemoryDirectory, store Resetter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Controller: ctrl,
		Codec:      codec,
		Payslips:   payslips,
		Directory:  directory,
		Store:      store,
		Logger:     logger,
	}
}

// =============================================================================
// CONFIGURATION HANDLERS
// =============================================================================

// ListKinds returns the registered configuration kinds.
func (h *Handler) ListKinds(w http.ResponseWriter, r *http.Request) {
	ids := h.Controller.Kinds().IDs()
	dtos := make([]KindDTO, len(ids))
	for i, id := range ids {
		dtos[i] = KindDTO{ID: id}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListEntities lists one kind, optionally filtered by status and creator.
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	filter := generic.EntityFilter{Kind: kind, CreatedBy: r.URL.Query().Get("createdBy")}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st, ok := generic.ParseStatus(strings.TrimSpace(s))
			if !ok {
				writeError(w, http.StatusBadRequest, "Unknown status "+s, nil)
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	entities, err := h.Controller.List(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if entities == nil {
		entities = []*generic.Entity{}
	}
	writeJSON(w, http.StatusOK, entities)
}

// CreateEntity decodes the body as the kind's payload and stores a DRAFT.
func (h *Handler) CreateEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	payload, err := h.Codec.Decode(kind, body)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	e, err := h.Controller.Create(r.Context(), kind, payload, actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeEntity(w, http.StatusCreated, e)
}

// GetEntity returns one entity of the kind in the path.
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	writeEntity(w, http.StatusOK, e)
}

// EditEntity merge-patches the payload of a DRAFT entity.
func (h *Handler) EditEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	opts, err := parseIfMatch(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if reason := r.Header.Get(EditReasonHeader); reason != "" {
		opts = append(opts, generic.WithReason(reason))
	}

	patch, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}
	updated, err := h.Controller.Edit(r.Context(), e.ID, actor, h.Codec.Patch(patch), opts...)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeEntity(w, http.StatusOK, updated)
}

// DeleteEntity removes a DRAFT that nothing references.
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	opts, err := parseIfMatch(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if err := h.Controller.Delete(r.Context(), e.ID, actor, opts...); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ReviewEntity(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id generic.EntityID, actor generic.Actor, opts []generic.OpOption) (*generic.Entity, error) {
		return h.Controller.BeginReview(ctx, id, actor, opts...)
	})
}

func (h *Handler) ApproveEntity(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, id generic.EntityID, actor generic.Actor, opts []generic.OpOption) (*generic.Entity, error) {
		return h.Controller.Approve(ctx, id, actor, opts...)
	})
}

func (h *Handler) RejectEntity(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, id generic.EntityID, actor generic.Actor, opts []generic.OpOption) (*generic.Entity, error) {
		return h.Controller.Reject(ctx, id, actor, req.Reason, opts...)
	})
}

func (h *Handler) PayEntity(w http.ResponseWriter, r *http.Request) {
	var req MarkPaidRequest
	if err := decodeRequest(r, &req); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.transition(w, r, func(ctx context.Context, id generic.EntityID, actor generic.Actor, opts []generic.OpOption) (*generic.Entity, error) {
		return h.Controller.MarkPaid(ctx, id, req.CycleID, actor, opts...)
	})
}

// GetAudit returns the audit trail of one entity, oldest first.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	e, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	entries, err := h.Controller.History(r.Context(), e.ID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []generic.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetSummary counts usable configuration per kind.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	entities, err := h.Controller.List(r.Context(), generic.EntityFilter{
		Statuses: []generic.Status{generic.StatusApproved, generic.StatusPaid},
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payroll.Summarize(entities))
}

// GetActiveSettings returns the highest approved company settings revision.
func (h *Handler) GetActiveSettings(w http.ResponseWriter, r *http.Request) {
	entities, err := h.Controller.List(r.Context(), generic.EntityFilter{Kind: payroll.KindCompanySettings})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	e, settings, ok := payroll.ActiveSettings(entities)
	if !ok {
		writeError(w, http.StatusNotFound, "No approved company settings", nil)
		return
	}
	writeJSON(w, http.StatusOK, SettingsDTO{EntityID: e.ID, Settings: settings, Version: e.Version})
}

// =============================================================================
// HELPERS
// =============================================================================

type transitionFunc func(ctx context.Context, id generic.EntityID, actor generic.Actor, opts []generic.OpOption) (*generic.Entity, error)

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	e, ok := h.entityParam(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	opts, err := parseIfMatch(r)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	updated, err := fn(r.Context(), e.ID, actor, opts)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeEntity(w, http.StatusOK, updated)
}

func (h *Handler) kindParam(w http.ResponseWriter, r *http.Request) (generic.KindID, bool) {
	kind := generic.KindID(chi.URLParam(r, "kind"))
	if _, err := h.Controller.Kinds().Lookup(kind); err != nil {
		writeDomainError(w, r, err)
		return "", false
	}
	return kind, true
}

// entityParam loads {id} and checks it belongs to {kind}.
func (h *Handler) entityParam(w http.ResponseWriter, r *http.Request) (*generic.Entity, bool) {
	kind, ok := h.kindParam(w, r)
	if !ok {
		return nil, false
	}
	id := generic.EntityID(chi.URLParam(r, "id"))
	e, err := h.Controller.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	if e.Kind != kind {
		writeDomainError(w, r, generic.NotFound(string(kind), id))
		return nil, false
	}
	return e, true
}

// writeEntity also exposes the version as an ETag for If-Match.
func writeEntity(w http.ResponseWriter, status int, e *generic.Entity) {
	w.Header().Set("ETag", `"`+strconv.FormatInt(e.Version, 10)+`"`)
	writeJSON(w, status, e)
}
