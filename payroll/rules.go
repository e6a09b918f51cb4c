package payroll

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// RULES - Tunable parameters of the validation rules
// =============================================================================

// Rules holds the thresholds the validation rules check against.
type Rules struct {
	// MinimumWage is the lowest allowed base and gross salary of a pay grade.
	MinimumWage decimal.Decimal

	// GrossMultiplierCap bounds gross salary to base × cap.
	GrossMultiplierCap decimal.Decimal

	// Currencies lists the ISO codes company settings may use.
	Currencies []string

	// PolicyPastYears and PolicyFutureYears bound a policy's effective date
	// relative to Now.
	PolicyPastYears   int
	PolicyFutureYears int

	Now func() time.Time
}

// DefaultRules returns the thresholds used in production.
func DefaultRules() Rules {
	return Rules{
		MinimumWage:        decimal.NewFromInt(6000),
		GrossMultiplierCap: decimal.NewFromInt(10),
		Currencies:         []string{"EGP"},
		PolicyPastYears:    1,
		PolicyFutureYears:  5,
		Now:                time.Now,
	}
}

func (r Rules) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r Rules) currencyAllowed(code string) bool {
	for _, c := range r.Currencies {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

// =============================================================================
// HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

func invalid(kind generic.KindID, rule, field, format string, args ...any) *generic.ValidationError {
	return &generic.ValidationError{Kind: kind, Rule: rule, Field: field, Message: fmt.Sprintf(format, args...)}
}

func payloadAs[P generic.Payload](kind generic.KindID, p generic.Payload) (P, error) {
	v, ok := p.(P)
	if !ok {
		var zero P
		return zero, invalid(kind, "payload_kind", "", "unexpected payload type %T", p)
	}
	return v, nil
}

func required(kind generic.KindID, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(kind, "required", field, "%s is required", field)
	}
	return nil
}

func nonNegative(kind generic.KindID, field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return invalid(kind, "non_negative", field, "%s must not be negative, got %s", field, v)
	}
	return nil
}

func percentage(kind generic.KindID, field string, v decimal.Decimal) error {
	if v.IsNegative() || v.GreaterThan(hundred) {
		return invalid(kind, "percentage_range", field, "%s must be between 0 and 100, got %s", field, v)
	}
	return nil
}

func effectiveRange(kind generic.KindID, from generic.TimePoint, to *generic.TimePoint) error {
	if from.IsZero() {
		return invalid(kind, "required", "effectiveFrom", "effectiveFrom is required")
	}
	if to != nil && !to.After(from) {
		return invalid(kind, "effective_range", "effectiveTo", "effectiveTo %s must be after effectiveFrom %s", to, from)
	}
	return nil
}

// live returns the payloads of existing entities that still count for
// uniqueness: everything except rejected records.
func live[P generic.Payload](existing []*generic.Entity) []entityPayload[P] {
	var out []entityPayload[P]
	for _, e := range existing {
		if e.Status() == generic.StatusRejected {
			continue
		}
		if p, ok := e.Payload.(P); ok {
			out = append(out, entityPayload[P]{ID: e.ID, Payload: p})
		}
	}
	return out
}

type entityPayload[P generic.Payload] struct {
	ID      generic.EntityID
	Payload P
}

// uniqueBy rejects a candidate whose key equals the key of a live entity.
func uniqueBy[P generic.Payload](kind generic.KindID, field string, candidate P, existing []*generic.Entity, key func(P) string) error {
	want := key(candidate)
	if want == "" {
		return nil
	}
	for _, other := range live[P](existing) {
		if strings.EqualFold(key(other.Payload), want) {
			return &generic.ConflictError{Kind: kind, Rule: "unique_" + field, Field: field, Value: want, ExistingID: other.ID}
		}
	}
	return nil
}
