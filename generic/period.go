package generic

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - Date ranges and pay periods
// =============================================================================

// Period is the closed date range [Start, End].
type Period struct {
	Start TimePoint `json:"start"`
	End   TimePoint `json:"end"`
}

// Validate rejects periods whose end lies before their start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// EffectiveRange is a validity window; a nil To means open-ended.
type EffectiveRange struct {
	From TimePoint
	To   *TimePoint
}

// Overlaps reports whether the window intersects the period.
func (r EffectiveRange) Overlaps(p Period) bool {
	if r.From.After(p.End) {
		return false
	}
	return r.To == nil || !r.To.Before(p.Start)
}

// PayPeriod is the period a payslip covers. CycleID names the payroll run
// that disburses it.
type PayPeriod struct {
	Period
	Month   time.Month `json:"month"`
	Year    int        `json:"year"`
	CycleID string     `json:"cycleId"`
}

// MonthlyPayPeriod returns the calendar month as a pay period. The cycle id
// defaults to "YYYY-MM".
func MonthlyPayPeriod(year int, month time.Month) PayPeriod {
	return PayPeriod{
		Period:  Period{Start: StartOfMonth(year, month), End: EndOfMonth(year, month)},
		Month:   month,
		Year:    year,
		CycleID: fmt.Sprintf("%04d-%02d", year, int(month)),
	}
}

// Validate checks the date range and that the period is addressable: a cycle
// id is required and Month/Year must name the month the period starts in.
func (p PayPeriod) Validate() error {
	if err := p.Period.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(p.CycleID) == "" {
		return fmt.Errorf("%w: %s has no cycle id", ErrInvalidPeriod, p.Period)
	}
	if p.Month != p.Start.Month() || p.Year != p.Start.Year() {
		return fmt.Errorf("%w: month %04d-%02d does not match start %s", ErrInvalidPeriod, p.Year, int(p.Month), p.Start)
	}
	return nil
}

// Label renders the period the way the employee portal shows it, e.g. "Jan-2025".
func (p PayPeriod) Label() string {
	return fmt.Sprintf("%s-%d", p.Month.String()[:3], p.Year)
}
