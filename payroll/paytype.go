package payroll

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

type PayTypeCategory string

const (
	PayHourly        PayTypeCategory = "hourly"
	PayDaily         PayTypeCategory = "daily"
	PayWeekly        PayTypeCategory = "weekly"
	PayMonthly       PayTypeCategory = "monthly"
	PayContractBased PayTypeCategory = "contract_based"
)

func (c PayTypeCategory) valid() bool {
	switch c {
	case PayHourly, PayDaily, PayWeekly, PayMonthly, PayContractBased:
		return true
	}
	return false
}

// PayType describes how an employee is paid.
type PayType struct {
	Name              string             `json:"name"`
	Type              PayTypeCategory    `json:"type"`
	Amount            decimal.Decimal    `json:"amount"`
	Description       string             `json:"description,omitempty"`
	ContractStartDate *generic.TimePoint `json:"contractStartDate,omitempty"`
	ContractEndDate   *generic.TimePoint `json:"contractEndDate,omitempty"`
}

func (PayType) Kind() generic.KindID { return KindPayType }

// ValidatePayType: recognised type, contract-based pay needs both contract
// dates with end after start.
func (r Rules) ValidatePayType(p PayType) error {
	if err := required(KindPayType, "name", p.Name); err != nil {
		return err
	}
	if !p.Type.valid() {
		return invalid(KindPayType, "pay_type_category", "type", "unrecognised pay type %q", p.Type)
	}
	if err := nonNegative(KindPayType, "amount", p.Amount); err != nil {
		return err
	}
	if d := strings.TrimSpace(p.Description); d != "" && len(d) < 10 {
		return invalid(KindPayType, "description_length", "description", "description must be at least 10 characters")
	}
	if p.Type != PayContractBased {
		return nil
	}
	if p.ContractStartDate == nil || p.ContractStartDate.IsZero() {
		return invalid(KindPayType, "contract_dates_required", "contractStartDate", "contract-based pay types need a contract start date")
	}
	if p.ContractEndDate == nil || p.ContractEndDate.IsZero() {
		return invalid(KindPayType, "contract_dates_required", "contractEndDate", "contract-based pay types need a contract end date")
	}
	if !p.ContractEndDate.After(*p.ContractStartDate) {
		return invalid(KindPayType, "contract_date_order", "contractEndDate",
			"contract end %s must be after start %s", p.ContractEndDate, p.ContractStartDate)
	}
	return nil
}

// PayTypeKind registers PayType with the engine.
type PayTypeKind struct{ Rules Rules }

func (PayTypeKind) ID() generic.KindID { return KindPayType }

func (k PayTypeKind) Validate(p generic.Payload) error {
	pt, err := payloadAs[PayType](KindPayType, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidatePayType(pt)
}

func (PayTypeKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	return uniqueBy(KindPayType, "name", candidate.Payload.(PayType), existing, func(p PayType) string { return p.Name })
}

func (PayTypeKind) TrackedAmount(p generic.Payload) decimal.Decimal { return p.(PayType).Amount }

func (PayTypeKind) Permits(a generic.Action, r generic.Role) bool { return standardAccess.Permits(a, r) }
