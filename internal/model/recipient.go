package model

import "time"

// DefaultTimezone is the directory default for recipients that never set one.
const DefaultTimezone = "UTC"

// Recipient is a row in the recipient directory. The directory is owned by
// the surrounding system; the engine only reads it.
type Recipient struct {
	ID                        int        `db:"id" json:"id"`
	ChatHandle                string     `db:"chat_handle" json:"chat_handle"`
	Language                  string     `db:"language" json:"language"`
	FormalAddress             bool       `db:"formal_address" json:"formal_address"`
	Timezone                  string     `db:"timezone" json:"timezone"`
	ActiveHoursStart          int        `db:"active_hours_start" json:"active_hours_start"`
	ActiveHoursEnd            int        `db:"active_hours_end" json:"active_hours_end"`
	NotificationsEnabled      bool       `db:"notifications_enabled" json:"notifications_enabled"`
	OnboardingCompleted       bool       `db:"onboarding_completed" json:"onboarding_completed"`
	NotificationIntervalHours int        `db:"notification_interval_hours" json:"notification_interval_hours"`
	LastActiveAt              *time.Time `db:"last_active_at" json:"last_active_at,omitempty"`
	IsBlocked                 bool       `db:"is_blocked" json:"is_blocked"`
	CreatedAt                 time.Time  `db:"created_at" json:"created_at"`
}
