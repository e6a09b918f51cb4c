package payroll

import (
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/warp/payroll-engine/generic"
)

// CompanySettings is one revision of the company-wide payroll settings.
// The active settings are the usable revision with the highest number.
type CompanySettings struct {
	PayDate  generic.TimePoint `json:"payDate"`
	TimeZone string            `json:"timeZone"`
	Currency string            `json:"currency"`
	Revision int               `json:"revision"`
}

func (CompanySettings) Kind() generic.KindID { return KindCompanySettings }

// Location loads the configured time zone.
func (s CompanySettings) Location() (*time.Location, error) {
	return time.LoadLocation(s.TimeZone)
}

func (r Rules) ValidateCompanySettings(s CompanySettings) error {
	if s.PayDate.IsZero() {
		return invalid(KindCompanySettings, "required", "payDate", "payDate is required")
	}
	if err := required(KindCompanySettings, "timeZone", s.TimeZone); err != nil {
		return err
	}
	if _, err := s.Location(); err != nil {
		return invalid(KindCompanySettings, "time_zone", "timeZone", "unknown time zone %q", s.TimeZone)
	}
	if !r.currencyAllowed(s.Currency) {
		return invalid(KindCompanySettings, "currency_allowed", "currency",
			"currency %q is not allowed (allowed: %s)", s.Currency, strings.Join(r.Currencies, ", "))
	}
	if s.Revision < 1 {
		return invalid(KindCompanySettings, "revision", "revision", "revision must be positive")
	}
	return nil
}

type CompanySettingsKind struct{ Rules Rules }

func (CompanySettingsKind) ID() generic.KindID { return KindCompanySettings }

func (k CompanySettingsKind) Validate(p generic.Payload) error {
	s, err := payloadAs[CompanySettings](KindCompanySettings, p)
	if err != nil {
		return err
	}
	return k.Rules.ValidateCompanySettings(s)
}

// Prepare assigns the next revision number and normalises the currency code.
func (CompanySettingsKind) Prepare(p generic.Payload, existing []*generic.Entity) (generic.Payload, error) {
	s, err := payloadAs[CompanySettings](KindCompanySettings, p)
	if err != nil {
		return nil, err
	}
	maxRev := 0
	for _, e := range existing {
		if o, ok := e.Payload.(CompanySettings); ok && o.Revision > maxRev {
			maxRev = o.Revision
		}
	}
	s.Revision = maxRev + 1
	s.Currency = normaliseCurrency(s.Currency)
	return s, nil
}

// PrepareEdit keeps the revision number fixed once assigned and normalises
// the currency code.
func (CompanySettingsKind) PrepareEdit(current, next generic.Payload) (generic.Payload, error) {
	prev, err := payloadAs[CompanySettings](KindCompanySettings, current)
	if err != nil {
		return nil, err
	}
	s, err := payloadAs[CompanySettings](KindCompanySettings, next)
	if err != nil {
		return nil, err
	}
	if s.Revision != prev.Revision {
		return nil, invalid(KindCompanySettings, "revision_immutable", "revision",
			"revision %d cannot be changed to %d", prev.Revision, s.Revision)
	}
	s.Currency = normaliseCurrency(s.Currency)
	return s, nil
}

func normaliseCurrency(code string) string { return strings.ToUpper(strings.TrimSpace(code)) }

// CheckConflicts allows a single draft revision at a time and keeps revision
// numbers unique.
func (CompanySettingsKind) CheckConflicts(candidate *generic.Entity, existing []*generic.Entity) error {
	s := candidate.Payload.(CompanySettings)
	for _, e := range existing {
		o, ok := e.Payload.(CompanySettings)
		if !ok {
			continue
		}
		if e.Status() == generic.StatusDraft {
			return &generic.ConflictError{Kind: KindCompanySettings, Rule: "single_draft", Field: "revision",
				Value: strconv.Itoa(s.Revision), ExistingID: e.ID}
		}
		if o.Revision == s.Revision {
			return &generic.ConflictError{Kind: KindCompanySettings, Rule: "unique_revision", Field: "revision",
				Value: strconv.Itoa(s.Revision), ExistingID: e.ID}
		}
	}
	return nil
}

// CheckApproval refuses to approve a revision older than the active one.
func (CompanySettingsKind) CheckApproval(candidate *generic.Entity, existing []*generic.Entity) error {
	s := candidate.Payload.(CompanySettings)
	if active, current, ok := ActiveSettings(existing); ok && current.Revision > s.Revision {
		return &generic.ConflictError{Kind: KindCompanySettings, Rule: "stale_revision", Field: "revision",
			Value: strconv.Itoa(s.Revision), ExistingID: active.ID}
	}
	return nil
}

func (CompanySettingsKind) Permits(a generic.Action, r generic.Role) bool {
	return settingsAccess.Permits(a, r)
}

// ActiveSettings returns the usable revision with the highest number.
func ActiveSettings(entities []*generic.Entity) (*generic.Entity, CompanySettings, bool) {
	var (
		best     *generic.Entity
		settings CompanySettings
	)
	for _, e := range entities {
		s, ok := e.Payload.(CompanySettings)
		if !ok || !e.IsUsable() {
			continue
		}
		if best == nil || s.Revision > settings.Revision {
			best, settings = e, s
		}
	}
	return best, settings, best != nil
}
