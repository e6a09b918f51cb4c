/*
handlers_test.go - HTTP tests for the configuration API

Tests for:
- Configuration lifecycle over HTTP (create, patch, approve, audit)
- Optimistic locking via If-Match
- Actor resolution from dev headers and JWTs
- Error to status mapping
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/metrics"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/payslip"
	"github.com/warp/payroll-engine/store/sqlite"
)

var (
	specialist = generic.Actor{ID: "u-spec", Role: payroll.RolePayrollSpecialist}
	manager    = generic.Actor{ID: "u-mgr", Role: payroll.RolePayrollManager}
)

type testServer struct {
	*Handler
	router http.Handler
	outbox *payslip.Outbox
}

// setupTestServer wires the full stack on an in-memory SQLite database.
// A nil tokenAuth runs the server in header mode.
func setupTestServer(t *testing.T, tokenAuth *jwtauth.JWTAuth) *testServer {
	t.Helper()
	codec := factory.NewCodec()
	store, err := sqlite.New(":memory:", codec)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	directory := payslip.NewMemoryDirectory()
	ctrl := generic.NewController(payroll.NewRegistry(payroll.DefaultRules(), directory), store, store,
		generic.WithObserver(m),
		generic.WithReferenceResolver(directory),
	)
	outbox := &payslip.Outbox{}
	payslips := payslip.NewService(store, store, directory,
		payslip.WithAudit(store),
		payslip.WithPublisher(outbox),
		payslip.WithObserver(m),
	)
	payslips.BaseURL = "http://payroll.test"

	h := NewHandler(ctrl, codec, payslips, directory, store, nil)
	router := NewRouter(h, RouterOptions{
		TokenAuth: tokenAuth,
		Logger:    NewRequestLogger(100), // above every level: silent
		Metrics:   m,
		Health:    store.Ping,
	})
	return &testServer{Handler: h, router: router, outbox: outbox}
}

type request struct {
	method  string
	path    string
	body    string
	actor   *generic.Actor
	headers map[string]string
}

func (s *testServer) do(t *testing.T, req request) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if req.body != "" {
		body = bytes.NewBufferString(req.body)
	}
	r := httptest.NewRequest(req.method, req.path, body)
	r.Header.Set("Content-Type", "application/json")
	if req.actor != nil {
		r.Header.Set(HeaderActorID, req.actor.ID)
		r.Header.Set(HeaderActorRole, string(req.actor.Role))
	}
	for k, v := range req.headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// entityView is the subset of the flattened entity JSON the tests read.
type entityView struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	ApprovedBy string          `json:"approvedBy"`
	Payload    json.RawMessage `json:"payload"`
	Version    int64           `json:"version"`
}

func TestConfigLifecycle_HTTP(t *testing.T) {
	s := setupTestServer(t, nil)

	// GIVEN a pay grade drafted by a specialist
	rec := s.do(t, request{method: http.MethodPost, path: "/api/config/pay_grade", actor: &specialist,
		body: `{"grade":"G7","baseSalary":"30000","grossSalary":"60000"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))
	created := decodeBody[entityView](t, rec)
	assert.Equal(t, "draft", created.Status)
	base := "/api/config/pay_grade/" + created.ID

	// WHEN the specialist tries to approve it
	rec = s.do(t, request{method: http.MethodPost, path: base + "/approve", actor: &specialist})
	// THEN the role check refuses
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// WHEN the draft is patched at the current version
	rec = s.do(t, request{method: http.MethodPatch, path: base, actor: &specialist,
		body: `{"grossSalary":"65000"}`, headers: map[string]string{"If-Match": `"1"`}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))
	assert.Contains(t, string(decodeBody[entityView](t, rec).Payload), `"grossSalary":"65000"`)

	// THEN a manager holding the old version is told the entity moved on
	rec = s.do(t, request{method: http.MethodPost, path: base + "/approve", actor: &manager,
		headers: map[string]string{"If-Match": `"1"`}})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "stale_state", decodeBody[ErrorResponse](t, rec).Code)

	// AND the current version approves
	rec = s.do(t, request{method: http.MethodPost, path: base + "/approve", actor: &manager,
		headers: map[string]string{"If-Match": `"2"`}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	approved := decodeBody[entityView](t, rec)
	assert.Equal(t, "approved", approved.Status)
	assert.Equal(t, "u-mgr", approved.ApprovedBy)

	// Approved entities are no longer editable or deletable.
	rec = s.do(t, request{method: http.MethodPatch, path: base, actor: &specialist, body: `{"grade":"G8"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(t, request{method: http.MethodDelete, path: base, actor: &specialist})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody[ErrorResponse](t, rec).Code)

	rec = s.do(t, request{method: http.MethodGet, path: base + "/audit", actor: &specialist})
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decodeBody[[]generic.AuditEntry](t, rec)
	require.Len(t, audit, 3)
	assert.Equal(t, generic.ActionCreate, audit[0].Action)
	assert.Equal(t, generic.ActionApprove, audit[2].Action)

	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/pay_grade?status=approved", actor: &specialist})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]entityView](t, rec), 1)

	// The entity is only reachable under its own kind.
	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/allowance/" + created.ID, actor: &specialist})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRejectAndDelete_HTTP(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, request{method: http.MethodPost, path: "/api/config/allowance", actor: &specialist,
		body: `{"name":"Phone","amount":"300"}`})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	base := "/api/config/allowance/" + decodeBody[entityView](t, rec).ID

	rec = s.do(t, request{method: http.MethodPost, path: base + "/reject", actor: &manager, body: `{}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "required", decodeBody[ErrorResponse](t, rec).Rule)

	rec = s.do(t, request{method: http.MethodPost, path: base + "/reject", actor: &manager, body: `{"reason":"no"}`})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, request{method: http.MethodPost, path: base + "/reject", actor: &manager,
		body: `{"reason":"duplicates the phone stipend"}`})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "rejected", decodeBody[entityView](t, rec).Status)

	// A fresh draft can be deleted outright.
	rec = s.do(t, request{method: http.MethodPost, path: "/api/config/allowance", actor: &specialist,
		body: `{"name":"Gym","amount":"250"}`})
	require.Equal(t, http.StatusCreated, rec.Code)
	draft := "/api/config/allowance/" + decodeBody[entityView](t, rec).ID
	rec = s.do(t, request{method: http.MethodDelete, path: draft, actor: &specialist})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, request{method: http.MethodGet, path: draft, actor: &specialist})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreate_InputErrors(t *testing.T) {
	s := setupTestServer(t, nil)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantRule   string
	}{
		{"below minimum wage", "/api/config/pay_grade", `{"grade":"G0","baseSalary":"100","grossSalary":"200"}`, http.StatusBadRequest, "minimum_wage"},
		{"unknown field", "/api/config/allowance", `{"name":"Housing","amout":"1"}`, http.StatusBadRequest, "malformed_payload"},
		{"unknown kind", "/api/config/gym_membership", `{}`, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, request{method: http.MethodPost, path: tt.path, actor: &specialist, body: tt.body})
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantRule, decodeBody[ErrorResponse](t, rec).Rule)
		})
	}

	rec := s.do(t, request{method: http.MethodPost, path: "/api/config/allowance", actor: &specialist,
		body: `{"name":"Housing","amount":"1000"}`, headers: map[string]string{"If-Match": "abc"}})
	assert.Equal(t, http.StatusCreated, rec.Code, "If-Match is ignored on create")

	rec = s.do(t, request{method: http.MethodPost, path: "/api/config/allowance", actor: &specialist,
		body: `{"name":"Housing","amount":"1000"}`})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody[ErrorResponse](t, rec).Code)
}

func TestAuth_Headers(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, request{method: http.MethodGet, path: "/api/config/kinds"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/kinds", actor: &generic.Actor{ID: "u-1", Role: "janitor"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/kinds", actor: &specialist})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]KindDTO](t, rec), 9)
}

func TestAuth_JWT(t *testing.T) {
	ja := NewTokenAuth("test-secret")
	s := setupTestServer(t, ja)

	// Headers are ignored once tokens are required.
	rec := s.do(t, request{method: http.MethodGet, path: "/api/config/kinds", actor: &manager})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := IssueToken(ja, manager, time.Hour)
	require.NoError(t, err)
	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/kinds",
		headers: map[string]string{"Authorization": "Bearer " + token}})
	assert.Equal(t, http.StatusOK, rec.Code)

	bogus, err := IssueToken(ja, generic.Actor{ID: "u-x", Role: "janitor"}, time.Hour)
	require.NoError(t, err)
	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/kinds",
		headers: map[string]string{"Authorization": "Bearer " + bogus}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other, err := IssueToken(NewTokenAuth("another-secret"), manager, time.Hour)
	require.NoError(t, err)
	rec = s.do(t, request{method: http.MethodGet, path: "/api/config/kinds",
		headers: map[string]string{"Authorization": "Bearer " + other}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := setupTestServer(t, nil)

	rec := s.do(t, request{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.do(t, request{method: http.MethodGet, path: "/api/config/kinds", actor: &specialist})
	rec = s.do(t, request{method: http.MethodGet, path: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `path="/api/config/kinds"`)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{&generic.ValidationError{Rule: "required", Field: "name"}, http.StatusBadRequest, "validation_failed"},
		{fmt.Errorf("bad period: %w", generic.ErrInvalidPeriod), http.StatusBadRequest, "invalid_period"},
		{&generic.ForbiddenError{Actor: specialist, Action: generic.ActionApprove}, http.StatusForbidden, "forbidden"},
		{generic.NotFound("pay_grade", "pg-1"), http.StatusNotFound, "not_found"},
		{generic.ErrUnknownKind, http.StatusNotFound, "not_found"},
		{&generic.ConflictError{Rule: "unique_grade", Field: "grade"}, http.StatusConflict, "conflict"},
		{&generic.StaleStateError{EntityID: "pg-1", Expected: 1, Actual: 2}, http.StatusPreconditionFailed, "stale_state"},
		{generic.ErrAlreadyPaid, http.StatusConflict, "already_paid"},
		{&generic.ReferenceInUseError{EntityID: "pg-1", References: []string{"emp-1"}}, http.StatusConflict, "reference_in_use"},
		{&generic.InvalidStateError{EntityID: "pg-1", Status: generic.StatusApproved, Action: generic.ActionEdit}, http.StatusConflict, "invalid_state"},
		{fmt.Errorf("bad filter: %w", generic.ErrValidation), http.StatusBadRequest, "bad_request"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.wantStatus, tt.wantCode), func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCode, decodeBody[ErrorResponse](t, rec).Code)
		})
	}
}

func TestWriteDomainError_InternalErrorsStayInTheLog(t *testing.T) {
	var logs bytes.Buffer
	r := chi.NewRouter()
	r.Use(httplog.RequestLogger(slog.New(slog.NewJSONHandler(&logs, nil)), &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))
	r.Get("/api/payslips", func(w http.ResponseWriter, r *http.Request) {
		writeDomainError(w, r, errors.New("failed to list payslips: dial tcp 10.0.0.5:5432: connection refused"))
	})

	// WHEN a store failure reaches the handler
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/payslips", nil))

	// THEN the client gets a generic body
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "10.0.0.5")
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "Internal error", resp.Error)
	assert.Empty(t, resp.Details)

	// AND the cause is on the request log line
	assert.Contains(t, logs.String(), "connection refused")
}

func TestResetters(t *testing.T) {
	var calls []string
	rs := Resetters{
		resetFunc(func(context.Context) error { calls = append(calls, "a"); return nil }),
		resetFunc(func(context.Context) error { return errors.New("boom") }),
		resetFunc(func(context.Context) error { calls = append(calls, "c"); return nil }),
	}
	assert.EqualError(t, rs.Reset(context.Background()), "boom")
	assert.Equal(t, []string{"a"}, calls)
}

type resetFunc func(context.Context) error

func (f resetFunc) Reset(ctx context.Context) error { return f(ctx) }
