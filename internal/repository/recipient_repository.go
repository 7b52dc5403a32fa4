package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kipmyk/broadcast-service/internal/model"
)

// RecipientRepositoryInterface defines the directory reads the engine needs.
type RecipientRepositoryInterface interface {
	FindEligible(filter model.Filter) ([]model.Recipient, error)
	GetByID(id int) (*model.Recipient, error)
	ListAll(offset, limit int) ([]model.Recipient, int, error)
	TouchActivity(id int, at time.Time) error
}

// RecipientRepository is the concrete implementation over the directory table.
type RecipientRepository struct {
	DB *sql.DB
}

const recipientColumns = `id, chat_handle, language, formal_address, timezone,
        active_hours_start, active_hours_end, notifications_enabled,
        onboarding_completed, notification_interval_hours, last_active_at,
        is_blocked, created_at`

// FindEligible evaluates the typed filter against the directory. All clauses
// are ANDed; unset clauses match everyone.
func (r *RecipientRepository) FindEligible(filter model.Filter) ([]model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.DefaultTimezoneOnly {
		query += fmt.Sprintf(" AND timezone=$%d", argPos)
		args = append(args, model.DefaultTimezone)
		argPos++
	}
	if filter.FormalAddress != nil {
		query += fmt.Sprintf(" AND formal_address=$%d", argPos)
		args = append(args, *filter.FormalAddress)
		argPos++
	}
	if len(filter.Languages) > 0 {
		query += fmt.Sprintf(" AND language = ANY($%d)", argPos)
		args = append(args, pq.Array(filter.Languages))
		argPos++
	}
	if filter.OnboardingCompleted {
		query += " AND onboarding_completed = TRUE"
	}
	if filter.NotificationsEnabled {
		query += " AND notifications_enabled = TRUE"
	}
	if filter.NotificationIntervalHours != nil {
		query += fmt.Sprintf(" AND notification_interval_hours=$%d", argPos)
		args = append(args, *filter.NotificationIntervalHours)
		argPos++
	}
	if filter.InactiveDays != nil {
		cutoff := time.Now().AddDate(0, 0, -*filter.InactiveDays)
		query += fmt.Sprintf(" AND (last_active_at IS NULL OR last_active_at <= $%d)", argPos)
		args = append(args, cutoff)
		argPos++
	}
	if filter.BlockedExcluded() {
		query += " AND is_blocked = FALSE"
	}

	query += " ORDER BY id"

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, *rec)
	}
	return recipients, rows.Err()
}

// GetByID fetches a recipient by ID, nil when not found.
func (r *RecipientRepository) GetByID(id int) (*model.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id=$1`
	rec, err := scanRecipient(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListAll fetches recipients with pagination plus a total count.
func (r *RecipientRepository) ListAll(offset, limit int) ([]model.Recipient, int, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients ORDER BY id LIMIT $1 OFFSET $2`
	rows, err := r.DB.Query(query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	recipients := []model.Recipient{}
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, 0, err
		}
		recipients = append(recipients, *rec)
	}

	var total int
	if err := r.DB.QueryRow(`SELECT COUNT(*) FROM recipients`).Scan(&total); err != nil {
		return nil, 0, err
	}
	return recipients, total, nil
}

// TouchActivity records a qualifying recipient activity.
func (r *RecipientRepository) TouchActivity(id int, at time.Time) error {
	_, err := r.DB.Exec(`UPDATE recipients SET last_active_at=$1 WHERE id=$2`, at, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var rec model.Recipient
	err := row.Scan(
		&rec.ID, &rec.ChatHandle, &rec.Language, &rec.FormalAddress,
		&rec.Timezone, &rec.ActiveHoursStart, &rec.ActiveHoursEnd,
		&rec.NotificationsEnabled, &rec.OnboardingCompleted,
		&rec.NotificationIntervalHours, &rec.LastActiveAt,
		&rec.IsBlocked, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

var _ RecipientRepositoryInterface = (*RecipientRepository)(nil)
