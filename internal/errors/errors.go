package appErrors

import (
	"errors"
	"fmt"
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrTargetNotFound reports a missing target row.
type ErrTargetNotFound struct {
	TargetID int
}

func (e *ErrTargetNotFound) Error() string {
	return fmt.Sprintf("target with ID %d not found", e.TargetID)
}

func NewTargetNotFound(id int) error {
	return &ErrTargetNotFound{TargetID: id}
}

// ErrInvalidFilter is returned when a campaign's audience filter fails
// validation at save time.
type ErrInvalidFilter struct {
	Field  string
	Reason string
}

func (e *ErrInvalidFilter) Error() string {
	return fmt.Sprintf("invalid filter: %s: %s", e.Field, e.Reason)
}

func NewInvalidFilter(field, reason string) error {
	return &ErrInvalidFilter{Field: field, Reason: reason}
}

// ErrUnsupportedLanguage is returned by the renderer when no phrasing
// template exists for a target's language.
type ErrUnsupportedLanguage struct {
	Language string
}

func (e *ErrUnsupportedLanguage) Error() string {
	return fmt.Sprintf("no template for language %q", e.Language)
}

func NewUnsupportedLanguage(lang string) error {
	return &ErrUnsupportedLanguage{Language: lang}
}

// ErrInvalidTransition is returned when a campaign is asked to move to a
// status its current status does not allow.
type ErrInvalidTransition struct {
	From string
	To   string
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("campaign cannot move from %s to %s", e.From, e.To)
}

func NewInvalidTransition(from, to string) error {
	return &ErrInvalidTransition{From: from, To: to}
}

// IsNotFound reports whether err wraps one of the not-found sentinels.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var t *ErrTargetNotFound
	return errors.As(err, &c) || errors.As(err, &t)
}
