package factory_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

func TestCodec_DecodePayGrade(t *testing.T) {
	codec := factory.NewCodec()

	p, err := codec.Decode(payroll.KindPayGrade, []byte(`{
		"grade": "G5",
		"baseSalary": "12000",
		"grossSalary": "18000",
		"positionId": "pos-eng"
	}`))
	require.NoError(t, err)

	g, ok := p.(payroll.PayGrade)
	require.True(t, ok)
	assert.Equal(t, "G5", g.Grade)
	assert.True(t, g.BaseSalary.Equal(decimal.NewFromInt(12000)))
	assert.Equal(t, "pos-eng", g.PositionID)
}

func TestCodec_DecodeRejectsUnknownFields(t *testing.T) {
	codec := factory.NewCodec()

	_, err := codec.Decode(payroll.KindAllowance, []byte(`{"name": "Housing", "amout": "1500"}`))

	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "malformed_payload", ve.Rule)
	assert.Equal(t, payroll.KindAllowance, ve.Kind)
	assert.Contains(t, ve.Message, "amout")
}

func TestCodec_DecodeUnknownKind(t *testing.T) {
	_, err := factory.NewCodec().Decode("gym_membership", []byte(`{}`))
	assert.ErrorIs(t, err, generic.ErrUnknownKind)
}

func TestCodec_MergeKeepsAbsentFields(t *testing.T) {
	codec := factory.NewCodec()
	current := payroll.Allowance{Name: "Housing", Amount: decimal.NewFromInt(1500), EmployeeID: "emp-1"}

	edited, err := codec.Merge(current, []byte(`{"amount": "1750"}`))
	require.NoError(t, err)

	a := edited.(payroll.Allowance)
	assert.Equal(t, "Housing", a.Name)
	assert.Equal(t, "emp-1", a.EmployeeID)
	assert.True(t, a.Amount.Equal(decimal.NewFromInt(1750)))

	// The original value is untouched.
	assert.True(t, current.Amount.Equal(decimal.NewFromInt(1500)))
}

func TestCodec_MergeNullClearsPointer(t *testing.T) {
	codec := factory.NewCodec()
	to := generic.MustParseDate("2025-12-31")
	current := payroll.InsuranceBracket{
		Name:          "Social",
		InsuranceType: payroll.InsuranceSocial,
		EffectiveFrom: generic.MustParseDate("2025-01-01"),
		EffectiveTo:   &to,
	}

	edited, err := codec.Merge(current, []byte(`{"effectiveTo": null}`))
	require.NoError(t, err)
	assert.Nil(t, edited.(payroll.InsuranceBracket).EffectiveTo)
	assert.NotNil(t, current.EffectiveTo)
}

func TestCodec_PatchReplacesArrays(t *testing.T) {
	codec := factory.NewCodec()
	maxIncome := decimal.NewFromInt(30000)
	current := payroll.TaxRule{
		Name:    "Income tax",
		TaxType: payroll.TaxIncome,
		Brackets: payroll.BracketTable{
			{MinIncome: decimal.Zero, MaxIncome: &maxIncome, Rate: decimal.Zero},
			{MinIncome: maxIncome, Rate: decimal.NewFromInt(10)},
		},
	}

	edited, err := codec.Patch([]byte(`{"brackets": [{"minIncome": "0", "rate": "5", "fixedAmount": "0"}]}`))(current)
	require.NoError(t, err)

	rule := edited.(payroll.TaxRule)
	require.Len(t, rule.Brackets, 1)
	assert.Nil(t, rule.Brackets[0].MaxIncome)
	assert.True(t, rule.Brackets[0].Rate.Equal(decimal.NewFromInt(5)))
	assert.Len(t, current.Brackets, 2)
}

func TestCodec_EncodeDecodeEveryKind(t *testing.T) {
	codec := factory.NewCodec()
	assert.ElementsMatch(t, payroll.NewRegistry(payroll.DefaultRules(), nil).IDs(), codec.Kinds())

	p := payroll.SigningBonus{PositionName: "Engineer", ContractID: "ctr-1", Amount: decimal.NewFromInt(50000)}
	raw, err := codec.Encode(p)
	require.NoError(t, err)

	back, err := codec.Decode(payroll.KindSigningBonus, raw)
	require.NoError(t, err)
	assert.Equal(t, "ctr-1", back.(payroll.SigningBonus).ContractID)

	_, err = codec.Encode(nil)
	assert.Error(t, err)
}
