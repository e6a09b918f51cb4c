package payslip

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// PortalSummary is the record the employee portal consumes.
type PortalSummary struct {
	EmployeeID  string          `json:"employeeId"`
	Period      string          `json:"period"`
	Gross       decimal.Decimal `json:"grossSalary"`
	Net         decimal.Decimal `json:"netSalary"`
	Currency    string          `json:"currency,omitempty"`
	Status      Status          `json:"status"`
	DownloadURL string          `json:"downloadUrl,omitempty"`
}

// Summarize projects a payslip onto the portal record. Gross on the portal
// is total earnings.
func Summarize(p *Payslip) PortalSummary {
	return PortalSummary{
		EmployeeID:  p.EmployeeID,
		Period:      p.Period.Label(),
		Gross:       p.Breakdown.TotalEarnings,
		Net:         p.Breakdown.NetSalary,
		Currency:    p.Currency,
		Status:      p.Status,
		DownloadURL: p.DownloadURL,
	}
}

// Publisher delivers portal summaries.
type Publisher interface {
	Publish(ctx context.Context, s PortalSummary) error
}

// LogPublisher writes summaries to a structured logger.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, s PortalSummary) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "payslip published",
		slog.String("employee_id", s.EmployeeID),
		slog.String("period", s.Period),
		slog.String("status", string(s.Status)),
		slog.String("net", s.Net.StringFixed(2)),
	)
	return nil
}

// Outbox keeps published summaries in memory.
type Outbox struct {
	mu        sync.Mutex
	summaries []PortalSummary
}

func (o *Outbox) Publish(_ context.Context, s PortalSummary) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summaries = append(o.summaries, s)
	return nil
}

// Published returns a copy of everything published so far.
func (o *Outbox) Published() []PortalSummary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]PortalSummary(nil), o.summaries...)
}
