package payroll

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// BRACKET TABLES - Progressive tax evaluation
// =============================================================================

// Bracket is one row of a progressive table. Rate is a percentage applied to
// the income above MinIncome; FixedAmount is the tax accumulated by the
// brackets below. A nil MaxIncome marks the open top bracket.
type Bracket struct {
	MinIncome   decimal.Decimal  `json:"minIncome"`
	MaxIncome   *decimal.Decimal `json:"maxIncome,omitempty"`
	Rate        decimal.Decimal  `json:"rate"`
	FixedAmount decimal.Decimal  `json:"fixedAmount"`
}

// Contains reports MinIncome <= income < MaxIncome. An income exactly on a
// boundary therefore belongs to the higher bracket.
func (b Bracket) Contains(income decimal.Decimal) bool {
	if income.LessThan(b.MinIncome) {
		return false
	}
	return b.MaxIncome == nil || income.LessThan(*b.MaxIncome)
}

// Tax is FixedAmount + Rate% × (income − MinIncome), rounded to cents.
func (b Bracket) Tax(income decimal.Decimal) decimal.Decimal {
	above := income.Sub(b.MinIncome)
	if above.IsNegative() {
		above = decimal.Zero
	}
	return b.FixedAmount.Add(above.Mul(b.Rate).Div(hundred)).Round(2)
}

// BracketTable is sorted ascending by MinIncome with no overlaps.
type BracketTable []Bracket

// Validate checks ordering, overlap and value ranges.
func (t BracketTable) Validate(kind generic.KindID) error {
	if len(t) == 0 {
		return invalid(kind, "brackets_required", "brackets", "at least one bracket is required")
	}
	for i, b := range t {
		if err := nonNegative(kind, "brackets.minIncome", b.MinIncome); err != nil {
			return err
		}
		if err := nonNegative(kind, "brackets.fixedAmount", b.FixedAmount); err != nil {
			return err
		}
		if err := percentage(kind, "brackets.rate", b.Rate); err != nil {
			return err
		}
		if b.MaxIncome == nil {
			if i != len(t)-1 {
				return invalid(kind, "open_bracket_last", "brackets.maxIncome",
					"only the last bracket may be open-ended (bracket %d)", i)
			}
			continue
		}
		if !b.MaxIncome.GreaterThan(b.MinIncome) {
			return invalid(kind, "bracket_range", "brackets.maxIncome",
				"bracket %d: maxIncome %s must exceed minIncome %s", i, b.MaxIncome, b.MinIncome)
		}
		if i+1 < len(t) {
			next := t[i+1]
			if next.MinIncome.LessThan(b.MinIncome) {
				return invalid(kind, "bracket_order", "brackets.minIncome",
					"brackets must be sorted ascending by minIncome (bracket %d)", i+1)
			}
			if b.MaxIncome.GreaterThan(next.MinIncome) {
				return invalid(kind, "bracket_overlap", "brackets",
					"bracket %d [%s, %s) overlaps bracket %d starting at %s", i, b.MinIncome, b.MaxIncome, i+1, next.MinIncome)
			}
		}
	}
	return nil
}

// Find returns the bracket containing income.
func (t BracketTable) Find(income decimal.Decimal) (int, Bracket, bool) {
	for i, b := range t {
		if b.Contains(income) {
			return i, b, true
		}
	}
	return -1, Bracket{}, false
}

// rangesOverlap reports whether [aMin, aMax) and [bMin, bMax) intersect;
// nil max is unbounded.
func rangesOverlap(aMin decimal.Decimal, aMax *decimal.Decimal, bMin decimal.Decimal, bMax *decimal.Decimal) bool {
	if aMax != nil && !aMax.GreaterThan(bMin) {
		return false
	}
	if bMax != nil && !bMax.GreaterThan(aMin) {
		return false
	}
	return true
}

func windowsOverlap(aFrom generic.TimePoint, aTo *generic.TimePoint, bFrom generic.TimePoint, bTo *generic.TimePoint) bool {
	if aTo != nil && aTo.Before(bFrom) {
		return false
	}
	if bTo != nil && bTo.Before(aFrom) {
		return false
	}
	return true
}
