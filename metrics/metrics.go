// Package metrics exposes Prometheus counters for configuration lifecycle
// transitions, payslip generation and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payslip"
)

// Metrics implements generic.Observer and payslip.Observer.
type Metrics struct {
	registry *prometheus.Registry

	Transitions         *prometheus.CounterVec
	PayslipsGenerated   *prometheus.CounterVec
	PayslipWarnings     *prometheus.CounterVec
	PayslipTransitions  *prometheus.CounterVec
	GenerationDuration  prometheus.Histogram
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New builds the collectors on a private registry so several instances can
// coexist (tests build one per server).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payroll_config_transitions_total",
				Help: "Configuration lifecycle transitions by kind and action",
			},
			[]string{"kind", "action"},
		),
		PayslipsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payroll_payslips_generated_total",
				Help: "Payslips generated, labelled by whether manual review is required",
			},
			[]string{"manual_review"},
		),
		PayslipWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payroll_payslip_warnings_total",
				Help: "Warnings attached to generated payslips",
			},
			[]string{"code"},
		),
		PayslipTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payroll_payslip_transitions_total",
				Help: "Payslip lifecycle transitions by action",
			},
			[]string{"action"},
		),
		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "payroll_payslip_generation_seconds",
				Help:    "Time to load configuration and compute one payslip",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latency",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.Transitions,
		m.PayslipsGenerated,
		m.PayslipWarnings,
		m.PayslipTransitions,
		m.GenerationDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Transitioned(kind generic.KindID, action generic.Action) {
	m.Transitions.WithLabelValues(string(kind), string(action)).Inc()
}

func (m *Metrics) PayslipGenerated(p *payslip.Payslip, took time.Duration) {
	m.PayslipsGenerated.WithLabelValues(strconv.FormatBool(p.ManualReview)).Inc()
	for _, w := range p.Warnings {
		m.PayslipWarnings.WithLabelValues(w.Code).Inc()
	}
	m.GenerationDuration.Observe(took.Seconds())
}

func (m *Metrics) PayslipTransitioned(action string) {
	m.PayslipTransitions.WithLabelValues(action).Inc()
}

// Middleware records request count and latency labelled by the chi route
// pattern, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
