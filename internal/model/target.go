package model

import "time"

// Target statuses. pending -> rendered -> sending -> sent|failed; skipped may
// be entered from pending, rendered or sending. "sending" is the in-flight
// claim state taken by exactly one executor worker.
const (
	TargetPending  = "pending"
	TargetRendered = "rendered"
	TargetSending  = "sending"
	TargetSent     = "sent"
	TargetFailed   = "failed"
	TargetSkipped  = "skipped"
)

// Skip causes recorded in last_error for skipped targets.
const (
	SkipDeadlineExceeded  = "deadline exceeded"
	SkipRecipientBlocked  = "recipient blocked"
	SkipNotificationsOff  = "notifications disabled"
	SkipCampaignCancelled = "campaign cancelled"
)

// Target is one (campaign, recipient) delivery unit. Recipient attributes
// needed for rendering and scheduling are snapshotted at resolution time so
// later directory changes do not alter already-planned renders.
type Target struct {
	ID          int `db:"id" json:"id"`
	CampaignID  int `db:"campaign_id" json:"campaign_id"`
	RecipientID int `db:"recipient_id" json:"recipient_id"`

	// Snapshot
	Language         string `db:"language" json:"language"`
	FormalAddress    bool   `db:"formal_address" json:"formal_address"`
	Timezone         string `db:"timezone" json:"timezone"`
	ActiveHoursStart int    `db:"active_hours_start" json:"active_hours_start"`
	ActiveHoursEnd   int    `db:"active_hours_end" json:"active_hours_end"`

	PlannedSendAt *time.Time `db:"planned_send_at" json:"planned_send_at,omitempty"`
	RenderedText  string     `db:"rendered_text" json:"rendered_text,omitempty"`
	Status        string     `db:"status" json:"status"`
	LastError     string     `db:"last_error" json:"last_error,omitempty"`
	RetryCount    int        `db:"retry_count" json:"retry_count"`
	SentAt        *time.Time `db:"sent_at" json:"sent_at,omitempty"`

	// Activity-trigger bookkeeping
	LastActivityTriggeredAt *time.Time `db:"last_activity_triggered_at" json:"last_activity_triggered_at,omitempty"`
	ActivitySendCount       int        `db:"activity_send_count" json:"activity_send_count"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Terminal reports whether the target reached a final status.
func (t *Target) Terminal() bool {
	return t.Status == TargetSent || t.Status == TargetFailed || t.Status == TargetSkipped
}
