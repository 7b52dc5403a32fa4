package model

import "time"

// Campaign statuses. Forward-only: draft -> preview -> scheduled -> sending
// -> done; cancelled may be entered from any non-terminal status.
const (
	CampaignDraft     = "draft"
	CampaignPreview   = "preview"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignDone      = "done"
	CampaignCancelled = "cancelled"
)

// Tones supported by the phrasing templates.
const (
	ToneShort    = "short"
	ToneFriendly = "friendly"
	ToneFormal   = "formal"
)

type Campaign struct {
	ID        int    `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	DraftText string `db:"draft_text" json:"draft_text"`
	Topic     string `db:"topic" json:"topic,omitempty"`
	Tone      string `db:"tone" json:"tone"`
	Filter    Filter `db:"filter" json:"filter"`

	// Delivery parameters
	TestMode    bool       `db:"test_mode" json:"test_mode"`
	WithinHours int        `db:"within_hours" json:"within_hours"`
	NotAfter    *time.Time `db:"not_after" json:"not_after,omitempty"`

	Status string `db:"status" json:"status"`

	// Aggregate counters, maintained by the executor. sent + failed never
	// exceeds total.
	TotalTargets int `db:"total_targets" json:"total_targets"`
	SentCount    int `db:"sent_count" json:"sent_count"`
	FailedCount  int `db:"failed_count" json:"failed_count"`

	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt   *time.Time `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Terminal reports whether the campaign can no longer change.
func (c *Campaign) Terminal() bool {
	return c.Status == CampaignDone || c.Status == CampaignCancelled
}

// ValidTone reports whether t is one of the known tones.
func ValidTone(t string) bool {
	switch t {
	case ToneShort, ToneFriendly, ToneFormal:
		return true
	}
	return false
}
