/*
Package factory provides JSON to Go payload conversion.

PURPOSE:
  Converts JSON configuration payloads into the typed payloads of the
  payroll package and back. The API decodes request bodies with it, the
  persistent stores decode stored rows with it, and edits are applied as
  JSON merge patches on top of the current payload.

JSON SCHEMA (pay grade):
  {
    "grade": "G5",
    "baseSalary": "12000",
    "grossSalary": "18000",
    "positionId": "pos-eng"
  }

MERGE PATCH:
  Fields present in the patch replace the current value, absent fields are
  kept, null clears pointer fields, arrays are replaced wholesale:

    current: {"name": "Housing", "amount": "1500"}
    patch:   {"amount": "1750"}
    result:  {"name": "Housing", "amount": "1750"}

USAGE:
  codec := factory.NewCodec()
  payload, err := codec.Decode(payroll.KindPayGrade, body)
  edited, err := codec.Merge(entity.Payload, patchBody)

SEE ALSO:
  - generic/store.go: PayloadCodec interface
  - payroll/: payload types
*/
package factory

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

type decodeFunc func(base, patch []byte) (generic.Payload, error)

// Codec implements generic.PayloadCodec for the payroll kinds.
type Codec struct {
	decoders map[generic.KindID]decodeFunc
}

func NewCodec() *Codec {
	return &Codec{decoders: map[generic.KindID]decodeFunc{
		payroll.KindPayType:            decodeAs[payroll.PayType],
		payroll.KindPayGrade:           decodeAs[payroll.PayGrade],
		payroll.KindTaxRule:            decodeAs[payroll.TaxRule],
		payroll.KindInsuranceBracket:   decodeAs[payroll.InsuranceBracket],
		payroll.KindAllowance:          decodeAs[payroll.Allowance],
		payroll.KindSigningBonus:       decodeAs[payroll.SigningBonus],
		payroll.KindTerminationBenefit: decodeAs[payroll.TerminationBenefit],
		payroll.KindCompanySettings:    decodeAs[payroll.CompanySettings],
		payroll.KindPayrollPolicy:      decodeAs[payroll.PayrollPolicy],
	}}
}

// Encode serializes a payload.
func (c *Codec) Encode(p generic.Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("cannot encode nil payload")
	}
	return json.Marshal(p)
}

// Decode parses raw JSON as a payload of the given kind. Unknown fields are
// rejected so typos surface as validation errors rather than silent defaults.
func (c *Codec) Decode(kind generic.KindID, raw []byte) (generic.Payload, error) {
	dec, ok := c.decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrUnknownKind, kind)
	}
	return dec(nil, raw)
}

// Merge applies a JSON merge patch to a copy of current.
func (c *Codec) Merge(current generic.Payload, patch []byte) (generic.Payload, error) {
	dec, ok := c.decoders[current.Kind()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", generic.ErrUnknownKind, current.Kind())
	}
	base, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("failed to encode current payload: %w", err)
	}
	return dec(base, patch)
}

// Patch adapts Merge to the controller's Patch signature.
func (c *Codec) Patch(patch []byte) generic.Patch {
	return func(current generic.Payload) (generic.Payload, error) {
		return c.Merge(current, patch)
	}
}

// Kinds lists the kinds the codec understands.
func (c *Codec) Kinds() []generic.KindID {
	ids := make([]generic.KindID, 0, len(c.decoders))
	for id := range c.decoders {
		ids = append(ids, id)
	}
	return ids
}

// decodeAs merges patch onto base (a trusted stored payload) as a JSON merge
// patch and decodes the result strictly into a fresh P, so the result never
// shares pointers or slices with the current payload.
func decodeAs[P generic.Payload](base, patch []byte) (generic.Payload, error) {
	var p P
	doc := patch
	if base != nil {
		merged, err := mergeJSON(base, patch)
		if err != nil {
			return nil, &generic.ValidationError{Kind: p.Kind(), Rule: "malformed_payload", Message: err.Error()}
		}
		doc = merged
	}
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, &generic.ValidationError{
			Kind:    p.Kind(),
			Rule:    "malformed_payload",
			Message: err.Error(),
		}
	}
	return p, nil
}

func mergeJSON(base, patch []byte) ([]byte, error) {
	var target, change any
	if err := unmarshalNumbers(base, &target); err != nil {
		return nil, fmt.Errorf("failed to decode stored payload: %w", err)
	}
	if err := unmarshalNumbers(patch, &change); err != nil {
		return nil, err
	}
	if _, ok := change.(map[string]any); !ok {
		return nil, fmt.Errorf("patch must be a JSON object")
	}
	return json.Marshal(mergePatch(target, change))
}

// mergePatch follows RFC 7386: objects merge key by key, null deletes,
// anything else replaces the target.
func mergePatch(target, patch any) any {
	pm, ok := patch.(map[string]any)
	if !ok {
		return patch
	}
	tm, ok := target.(map[string]any)
	if !ok {
		tm = map[string]any{}
	}
	for k, v := range pm {
		if v == nil {
			delete(tm, k)
			continue
		}
		tm[k] = mergePatch(tm[k], v)
	}
	return tm
}

func unmarshalNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}
