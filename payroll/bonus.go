package payroll

import (
	"github.com/shopspring/decimal"

	"github.com/warp/payroll-engine/generic"
)

type BonusType string

const (
	BonusOneTime BonusType = "one_time"
	BonusSplit   BonusType = "split"
)

// SigningBonus is paid once, in the first payroll cycle after approval.
type SigningBonus struct {
	PositionName string          `json:"positionName"`
	EmployeeID   string          `json:"employeeId,omitempty"`
	ContractID   string          `json:"contractId,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	BonusType    BonusType       `json:"bonusType,omitempty"`
	PaymentTerms string          `json:"paymentTerms,omitempty"`
}

func (SigningBonus) Kind() generic.KindID { return KindSigningBonus }

func (r Rules) ValidateSigningBonus(b SigningBonus) error {
	if err := required(KindSigningBonus, "positionName", b.PositionName); err != nil {
		return err
	}
	switch b.BonusType {
	case "", BonusOneTime, BonusSplit:
	default:
		return invalid(KindSigningBonus, "bonus_type", "bonusType", "unrecognised bonus type %q", b.BonusType)
	}
	return nonNegative(KindSigningBonus, "amount", b.Amount)
}

type SigningBonusKind struct{ Rules Rules }

func (SigningBonusKind) ID() generic.KindID { return KindSigningBonus }
func (SigningBonusKind) Disbursable()       {}

func (k SigningBonusKind) Validate(p generic.Payload) error {
	b, err := payloadAs[SigningBonus](KindSigningBonus, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidateSigningBonus(b)
}

// CheckConflicts: one live bonus per contract.
func (SigningBonusKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	return uniqueBy(KindSigningBonus, "contractId", candidate.Payload.(SigningBonus), existing, func(b SigningBonus) string {
		return b.ContractID
	})
}

func (SigningBonusKind) TrackedAmount(p generic.Payload) decimal.Decimal { return p.(SigningBonus).Amount }

func (SigningBonusKind) Permits(a generic.Action, r generic.Role) bool { return standardAccess.Permits(a, r) }
