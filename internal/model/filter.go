package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	appErrors "github.com/kipmyk/broadcast-service/internal/errors"
)

// Filter is the audience predicate attached to a campaign. All set clauses
// are ANDed together; zero values mean "any". It is validated once when the
// campaign is saved, never re-parsed at resolution time.
type Filter struct {
	DefaultTimezoneOnly       bool     `json:"default_timezone_only,omitempty"`
	FormalAddress             *bool    `json:"formal_address,omitempty"`
	Languages                 []string `json:"languages,omitempty"`
	OnboardingCompleted       bool     `json:"onboarding_completed,omitempty"`
	NotificationsEnabled      bool     `json:"notifications_enabled,omitempty"`
	NotificationIntervalHours *int     `json:"notification_interval_hours,omitempty"`
	InactiveDays              *int     `json:"inactive_days,omitempty"`

	// ExcludeBlocked defaults to true and is applied even when false at the
	// send step (the executor re-checks block status).
	ExcludeBlocked *bool `json:"exclude_blocked,omitempty"`
}

// BlockedExcluded resolves the ExcludeBlocked default.
func (f *Filter) BlockedExcluded() bool {
	return f.ExcludeBlocked == nil || *f.ExcludeBlocked
}

// Validate checks the filter once, at campaign-save time.
func (f *Filter) Validate() error {
	for _, lang := range f.Languages {
		if !validLanguageCode(lang) {
			return appErrors.NewInvalidFilter("languages", fmt.Sprintf("%q is not a two-letter language code", lang))
		}
	}
	if f.InactiveDays != nil && *f.InactiveDays < 0 {
		return appErrors.NewInvalidFilter("inactive_days", "must not be negative")
	}
	if f.NotificationIntervalHours != nil && *f.NotificationIntervalHours < 0 {
		return appErrors.NewInvalidFilter("notification_interval_hours", "must not be negative")
	}
	return nil
}

// ISO 639-1 style: exactly two lowercase ASCII letters.
func validLanguageCode(code string) bool {
	if len(code) != 2 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'a' || code[i] > 'z' {
			return false
		}
	}
	return true
}

// Value / Scan store the filter as jsonb.

func (f Filter) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *Filter) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, f)
	case string:
		return json.Unmarshal([]byte(v), f)
	case nil:
		*f = Filter{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into Filter", src)
}
