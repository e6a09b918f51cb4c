/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (httplog, ECS schema)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CleanPath:  Collapse duplicate slashes
  5. CORS:       Cross-origin requests for frontend
  6. Metrics:    Prometheus request counters and latencies

AUTHENTICATION:
  With a token verifier configured, every /api route requires a bearer
  JWT carrying "sub" and "role". Without one the server trusts the
  X-Actor-ID and X-Actor-Role headers. That mode is for development only;
  config.Validate refuses to start production without a secret.

ROUTE GROUPS:
  /healthz              Liveness and database ping
  /metrics              Prometheus scrape endpoint
  /api/config/*         Configuration lifecycle (handlers.go)
  /api/payslips/*       Payslip generation and review (payslips.go)
  /api/scenarios/*      Demo scenarios (scenarios.go)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Actor resolution
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v3"
	"github.com/go-chi/jwtauth/v5"

	"github.com/warp/payroll-engine/metrics"
)

// RouterOptions configures NewRouter. Zero values are usable.
type RouterOptions struct {
	CORSOrigins []string

	// TokenAuth enables JWT authentication when set.
	TokenAuth *jwtauth.JWTAuth

	// Logger receives request logs. Defaults to an ECS JSON logger on stdout.
	Logger *slog.Logger

	Metrics *metrics.Metrics

	// Health is called by /healthz, typically the store's Ping.
	Health func(ctx context.Context) error
}

// NewRequestLogger returns a JSON slog logger whose attributes follow the
// Elastic Common Schema, matching what httplog emits per request.
func NewRequestLogger(level slog.Level) *slog.Logger {
	logFormat := httplog.SchemaECS.Concise(false)
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: logFormat.ReplaceAttr,
	}))
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	logger := opts.Logger
	if logger == nil {
		logger = NewRequestLogger(slog.LevelInfo)
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(httplog.RequestLogger(logger, &httplog.Options{
		Level:  slog.LevelInfo,
		Schema: httplog.SchemaECS,
	}))
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match", EditReasonHeader, HeaderActorID, HeaderActorRole},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		if opts.TokenAuth != nil {
			r.Use(jwtauth.Verifier(opts.TokenAuth))
			r.Use(ActorFromClaims)
		} else {
			r.Use(ActorFromHeaders)
		}

		// Configuration routes. Static paths are registered before {kind}.
		r.Route("/config", func(r chi.Router) {
			r.Get("/kinds", h.ListKinds)
			r.Get("/summary", h.GetSummary)
			r.Get("/settings/active", h.GetActiveSettings)

			r.Route("/{kind}", func(r chi.Router) {
				r.Get("/", h.ListEntities)
				r.Post("/", h.CreateEntity)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetEntity)
					r.Patch("/", h.EditEntity)
					r.Delete("/", h.DeleteEntity)
					r.Post("/review", h.ReviewEntity)
					r.Post("/approve", h.ApproveEntity)
					r.Post("/reject", h.RejectEntity)
					r.Post("/pay", h.PayEntity)
					r.Get("/audit", h.GetAudit)
				})
			})
		})

		// Payslip routes
		r.Route("/payslips", func(r chi.Router) {
			r.Get("/", h.ListPayslips)
			r.Post("/", h.GeneratePayslip)
			r.Post("/batch", h.GenerateBatch)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetPayslip)
				r.Get("/summary", h.GetPayslipSummary)
				r.Get("/pdf", h.GetPayslipPDF)
				r.Post("/submit", h.SubmitPayslip)
				r.Post("/approve", h.ApprovePayslip)
				r.Post("/reject", h.RejectPayslip)
				r.Post("/lock", h.LockPayslip)
				r.Post("/pay", h.PayPayslip)
			})
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetData)
		})
	})

	return r
}
