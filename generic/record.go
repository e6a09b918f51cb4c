package generic

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the flat, column-oriented form of an Entity used by SQL stores.
// The decision is folded into Status plus the DecidedBy/DecidedAt/Reason
// columns and rebuilt on the way back.
type Record struct {
	ID              EntityID
	Kind            KindID
	Status          Status
	Payload         []byte
	DecidedBy       string
	DecidedAt       *time.Time
	RejectionReason string
	Review          []byte // JSON, nil when absent
	Payment         []byte // JSON, nil when absent
	PaymentCycle    string
	EditHistory     []byte // JSON array, nil when empty
	CreatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int64
}

// ToRecord flattens e for storage.
func ToRecord(e *Entity, codec PayloadCodec) (Record, error) {
	payload, err := codec.Encode(e.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode %s payload: %w", e.Kind, err)
	}
	r := Record{
		ID:        e.ID,
		Kind:      e.Kind,
		Status:    e.Status(),
		Payload:   payload,
		CreatedBy: e.CreatedBy,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		Version:   e.Version,
	}
	switch d := e.Decision.(type) {
	case Approved:
		at := d.At
		r.DecidedBy, r.DecidedAt = d.By, &at
	case Rejected:
		at := d.At
		r.DecidedBy, r.DecidedAt, r.RejectionReason = d.By, &at, d.Reason
	}
	if e.Review != nil {
		if r.Review, err = json.Marshal(e.Review); err != nil {
			return Record{}, err
		}
	}
	if e.Payment != nil {
		if r.Payment, err = json.Marshal(e.Payment); err != nil {
			return Record{}, err
		}
		r.PaymentCycle = e.Payment.CycleID
	}
	if len(e.EditHistory) > 0 {
		if r.EditHistory, err = json.Marshal(e.EditHistory); err != nil {
			return Record{}, err
		}
	}
	return r, nil
}

// Entity rebuilds the domain entity from a stored row.
func (r Record) Entity(codec PayloadCodec) (*Entity, error) {
	payload, err := codec.Decode(r.Kind, r.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", r.Kind, r.ID, err)
	}
	e := &Entity{
		ID:        r.ID,
		Kind:      r.Kind,
		Payload:   payload,
		Decision:  Pending{},
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Version:   r.Version,
	}

	var at time.Time
	if r.DecidedAt != nil {
		at = *r.DecidedAt
	}
	switch r.Status {
	case StatusApproved, StatusPaid:
		e.Decision = Approved{By: r.DecidedBy, At: at}
	case StatusRejected:
		e.Decision = Rejected{By: r.DecidedBy, At: at, Reason: r.RejectionReason}
	case StatusDraft:
	default:
		return nil, fmt.Errorf("entity %s has unknown status %q", r.ID, r.Status)
	}

	if len(r.Review) > 0 {
		e.Review = &Review{}
		if err := json.Unmarshal(r.Review, e.Review); err != nil {
			return nil, fmt.Errorf("failed to decode review of %s: %w", r.ID, err)
		}
	}
	if len(r.Payment) > 0 {
		e.Payment = &Payment{}
		if err := json.Unmarshal(r.Payment, e.Payment); err != nil {
			return nil, fmt.Errorf("failed to decode payment of %s: %w", r.ID, err)
		}
	}
	if len(r.EditHistory) > 0 {
		if err := json.Unmarshal(r.EditHistory, &e.EditHistory); err != nil {
			return nil, fmt.Errorf("failed to decode edit history of %s: %w", r.ID, err)
		}
	}
	if e.Status() != r.Status {
		return nil, fmt.Errorf("entity %s: stored status %s disagrees with decision (%s)", r.ID, r.Status, e.Status())
	}
	return e, nil
}
