package repository

import (
	"database/sql"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/kipmyk/broadcast-service/internal/errors"
	"github.com/kipmyk/broadcast-service/internal/model"
)

// TargetRepositoryInterface defines target persistence. Every status change
// carries a WHERE guard on the current status so transitions stay forward-only
// even under concurrent workers.
type TargetRepositoryInterface interface {
	CreateFromRecipient(campaignID int, rec model.Recipient) (bool, error)
	GetByID(id int) (*model.Target, error)
	CountByCampaign(campaignID int) (int, error)
	CountNonTerminal(campaignID int) (int, error)
	ListByCampaign(campaignID, offset, limit int) ([]model.Target, int, error)
	ListByCampaignStatus(campaignID int, statuses ...string) ([]model.Target, error)
	ListActiveByRecipient(recipientID int) ([]model.Target, error)
	ListDue(now time.Time, limit int) ([]model.Target, error)

	SetRendered(id int, text string) (bool, error)
	SetPlannedSendAt(id int, at time.Time) error
	Claim(id int) (bool, error)
	ReleaseClaim(id int) error
	ReleaseStale(cutoff time.Time) (int, error)
	IncrementRetry(id int) error
	MarkSent(id int, at time.Time) (bool, error)
	MarkFailed(id int, cause string) (bool, error)
	MarkSkipped(id int, cause string) (bool, error)
	SkipRemaining(campaignID int, cause string) (int, error)
	SkipOverdue(now time.Time, grace time.Duration) (int, error)
	RecordActivityPull(id int, triggeredAt, plannedAt time.Time, maxActivitySends int) (bool, error)
}

type TargetRepository struct {
	DB *sql.DB
}

const targetColumns = `id, campaign_id, recipient_id, language, formal_address,
        timezone, active_hours_start, active_hours_end, planned_send_at,
        rendered_text, status, last_error, retry_count, sent_at,
        last_activity_triggered_at, activity_send_count, created_at, updated_at`

// CreateFromRecipient inserts a pending target snapshotting the recipient
// attributes. The unique (campaign_id, recipient_id) index makes re-resolution
// a no-op; returns whether a new row was created.
func (r *TargetRepository) CreateFromRecipient(campaignID int, rec model.Recipient) (bool, error) {
	query := `
        INSERT INTO targets (campaign_id, recipient_id, language, formal_address,
            timezone, active_hours_start, active_hours_end, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', NOW(), NOW())
        ON CONFLICT (campaign_id, recipient_id) DO NOTHING
    `
	res, err := r.DB.Exec(query,
		campaignID, rec.ID, rec.Language, rec.FormalAddress,
		rec.Timezone, rec.ActiveHoursStart, rec.ActiveHoursEnd,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *TargetRepository) GetByID(id int) (*model.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE id=$1`
	t, err := scanTarget(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewTargetNotFound(id)
		}
		return nil, err
	}
	return t, nil
}

func (r *TargetRepository) CountByCampaign(campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRow(`SELECT COUNT(*) FROM targets WHERE campaign_id=$1`, campaignID).Scan(&n)
	return n, err
}

func (r *TargetRepository) CountNonTerminal(campaignID int) (int, error) {
	var n int
	err := r.DB.QueryRow(
		`SELECT COUNT(*) FROM targets WHERE campaign_id=$1 AND status NOT IN ('sent','failed','skipped')`,
		campaignID,
	).Scan(&n)
	return n, err
}

func (r *TargetRepository) ListByCampaign(campaignID, offset, limit int) ([]model.Target, int, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE campaign_id=$1 ORDER BY id LIMIT $2 OFFSET $3`
	rows, err := r.DB.Query(query, campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	targets, err := collectTargets(rows)
	if err != nil {
		return nil, 0, err
	}

	total, err := r.CountByCampaign(campaignID)
	if err != nil {
		return nil, 0, err
	}
	return targets, total, nil
}

func (r *TargetRepository) ListByCampaignStatus(campaignID int, statuses ...string) ([]model.Target, error) {
	query := `SELECT ` + targetColumns + ` FROM targets WHERE campaign_id=$1 AND status = ANY($2) ORDER BY id`
	rows, err := r.DB.Query(query, campaignID, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargets(rows)
}

// ListActiveByRecipient finds the recipient's not-yet-sent targets in
// campaigns whose delivery window is open. Feeds activity replanning.
func (r *TargetRepository) ListActiveByRecipient(recipientID int) ([]model.Target, error) {
	query := `
        SELECT ` + targetPrefixedColumns + `
        FROM targets t
        JOIN campaigns c ON c.id = t.campaign_id
        WHERE t.recipient_id=$1
          AND t.status IN ('pending','rendered')
          AND c.status IN ('scheduled','sending')
        ORDER BY t.id
    `
	rows, err := r.DB.Query(query, recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargets(rows)
}

const targetPrefixedColumns = `t.id, t.campaign_id, t.recipient_id, t.language,
        t.formal_address, t.timezone, t.active_hours_start, t.active_hours_end,
        t.planned_send_at, t.rendered_text, t.status, t.last_error,
        t.retry_count, t.sent_at, t.last_activity_triggered_at,
        t.activity_send_count, t.created_at, t.updated_at`

// ListDue fetches rendered targets that are due in campaigns currently
// sending. Order is best-effort by planned time.
func (r *TargetRepository) ListDue(now time.Time, limit int) ([]model.Target, error) {
	query := `
        SELECT ` + targetPrefixedColumns + `
        FROM targets t
        JOIN campaigns c ON c.id = t.campaign_id
        WHERE t.status='rendered'
          AND t.planned_send_at IS NOT NULL
          AND t.planned_send_at <= $1
          AND c.status='sending'
        ORDER BY t.planned_send_at
        LIMIT $2
    `
	rows, err := r.DB.Query(query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTargets(rows)
}

// SetRendered stores the rendered text, advancing pending -> rendered.
func (r *TargetRepository) SetRendered(id int, text string) (bool, error) {
	return r.guardedExec(
		`UPDATE targets SET rendered_text=$1, status='rendered', updated_at=NOW() WHERE id=$2 AND status='pending'`,
		text, id,
	)
}

func (r *TargetRepository) SetPlannedSendAt(id int, at time.Time) error {
	_, err := r.DB.Exec(`UPDATE targets SET planned_send_at=$1, updated_at=NOW() WHERE id=$2`, at, id)
	return err
}

// Claim atomically takes a target for delivery: rendered -> sending, and only
// while the campaign itself is sending, so a claim can never land after a
// cancellation. At most one worker wins; the rest see zero rows affected.
func (r *TargetRepository) Claim(id int) (bool, error) {
	return r.guardedExec(`
        UPDATE targets t SET status='sending', updated_at=NOW()
        FROM campaigns c
        WHERE t.id=$1 AND t.status='rendered' AND c.id=t.campaign_id AND c.status='sending'
    `, id)
}

// ReleaseClaim puts a claimed target back to rendered, e.g. when its campaign
// stopped sending between claim and dispatch.
func (r *TargetRepository) ReleaseClaim(id int) error {
	_, err := r.DB.Exec(
		`UPDATE targets SET status='rendered', updated_at=NOW() WHERE id=$1 AND status='sending'`,
		id,
	)
	return err
}

// ReleaseStale returns abandoned claims to rendered. A worker that died after
// claiming leaves the target in sending; without this sweep it would never
// terminate and its campaign could never finalize.
func (r *TargetRepository) ReleaseStale(cutoff time.Time) (int, error) {
	res, err := r.DB.Exec(
		`UPDATE targets SET status='rendered', updated_at=NOW() WHERE status='sending' AND updated_at <= $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *TargetRepository) IncrementRetry(id int) error {
	_, err := r.DB.Exec(`UPDATE targets SET retry_count=retry_count+1, updated_at=NOW() WHERE id=$1`, id)
	return err
}

func (r *TargetRepository) MarkSent(id int, at time.Time) (bool, error) {
	return r.guardedExec(
		`UPDATE targets SET status='sent', sent_at=$1, last_error='', updated_at=NOW() WHERE id=$2 AND status='sending'`,
		at, id,
	)
}

func (r *TargetRepository) MarkFailed(id int, cause string) (bool, error) {
	return r.guardedExec(
		`UPDATE targets SET status='failed', last_error=$1, updated_at=NOW() WHERE id=$2 AND status='sending'`,
		cause, id,
	)
}

func (r *TargetRepository) MarkSkipped(id int, cause string) (bool, error) {
	return r.guardedExec(
		`UPDATE targets SET status='skipped', last_error=$1, updated_at=NOW() WHERE id=$2 AND status IN ('pending','rendered','sending')`,
		cause, id,
	)
}

// SkipRemaining skips every pending/rendered target of a campaign. In-flight
// sends are left to finish and record their own outcome.
func (r *TargetRepository) SkipRemaining(campaignID int, cause string) (int, error) {
	res, err := r.DB.Exec(
		`UPDATE targets SET status='skipped', last_error=$1, updated_at=NOW() WHERE campaign_id=$2 AND status IN ('pending','rendered')`,
		cause, campaignID,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SkipOverdue skips targets whose campaign deadline has passed, plus targets
// stuck unsent longer than grace past their planned time.
func (r *TargetRepository) SkipOverdue(now time.Time, grace time.Duration) (int, error) {
	res, err := r.DB.Exec(`
        UPDATE targets t SET status='skipped', last_error=$1, updated_at=NOW()
        FROM campaigns c
        WHERE c.id = t.campaign_id
          AND t.status IN ('pending','rendered')
          AND c.status IN ('scheduled','sending')
          AND (
                (c.not_after IS NOT NULL AND c.not_after <= $2)
             OR (c.not_after IS NOT NULL AND t.planned_send_at IS NOT NULL AND t.planned_send_at > c.not_after)
             OR (t.planned_send_at IS NOT NULL AND t.planned_send_at <= $3)
          )
    `, model.SkipDeadlineExceeded, now, now.Add(-grace))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RecordActivityPull moves planned_send_at forward for an activity trigger.
// The guards keep the pull bounded and forward-only: the target must still be
// undelivered, under the activity-send cap, and the new instant must be
// earlier than the current plan.
func (r *TargetRepository) RecordActivityPull(id int, triggeredAt, plannedAt time.Time, maxActivitySends int) (bool, error) {
	return r.guardedExec(`
        UPDATE targets
        SET planned_send_at=$1, last_activity_triggered_at=$2,
            activity_send_count=activity_send_count+1, updated_at=NOW()
        WHERE id=$3
          AND status IN ('pending','rendered')
          AND activity_send_count < $4
          AND (planned_send_at IS NULL OR planned_send_at > $1)
    `, plannedAt, triggeredAt, id, maxActivitySends)
}

func (r *TargetRepository) guardedExec(query string, args ...interface{}) (bool, error) {
	res, err := r.DB.Exec(query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func collectTargets(rows *sql.Rows) ([]model.Target, error) {
	targets := []model.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, *t)
	}
	return targets, rows.Err()
}

func scanTarget(row rowScanner) (*model.Target, error) {
	var t model.Target
	err := row.Scan(
		&t.ID, &t.CampaignID, &t.RecipientID, &t.Language, &t.FormalAddress,
		&t.Timezone, &t.ActiveHoursStart, &t.ActiveHoursEnd,
		&t.PlannedSendAt, &t.RenderedText, &t.Status, &t.LastError,
		&t.RetryCount, &t.SentAt, &t.LastActivityTriggeredAt,
		&t.ActivitySendCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var _ TargetRepositoryInterface = (*TargetRepository)(nil)
