package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/kipmyk/broadcast-service/internal/errors"
	"github.com/kipmyk/broadcast-service/internal/model"
)

// CampaignRepositoryInterface defines the campaign persistence used by the
// services.
type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	Update(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	ListCampaigns(offset, limit int, status, tone string) ([]*model.Campaign, int, error)
	ListByStatus(statuses ...string) ([]*model.Campaign, error)
	Delete(id int) error

	// State machine support
	TransitionStatus(campaignID int, from, to string) (bool, error)
	SetTotalTargets(campaignID, total int) error
	IncrementSent(campaignID int) error
	IncrementFailed(campaignID int) error
	GetStats(campaignID int) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, draft_text, topic, tone, filter, test_mode,
        within_hours, not_after, status, total_targets, sent_count,
        failed_count, scheduled_at, started_at, completed_at, created_at,
        updated_at`

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	query := `
        INSERT INTO campaigns (name, draft_text, topic, tone, filter, test_mode, within_hours, not_after, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id
    `
	return r.DB.QueryRow(query,
		c.Name, c.DraftText, c.Topic, c.Tone, c.Filter,
		c.TestMode, c.WithinHours, c.NotAfter, c.Status, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) Update(c *model.Campaign) error {
	query := `
        UPDATE campaigns
        SET name=$1, draft_text=$2, topic=$3, tone=$4, filter=$5, test_mode=$6,
            within_hours=$7, not_after=$8, updated_at=NOW()
        WHERE id=$9
    `
	_, err := r.DB.Exec(query,
		c.Name, c.DraftText, c.Topic, c.Tone, c.Filter,
		c.TestMode, c.WithinHours, c.NotAfter, c.ID,
	)
	return err
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) ListCampaigns(offset, limit int, status, tone string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	if tone != "" {
		query += fmt.Sprintf(" AND tone=$%d", argPos)
		args = append(args, tone)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	argPosCount := 1
	if status != "" {
		countQuery += fmt.Sprintf(" AND status=$%d", argPosCount)
		argsCount = append(argsCount, status)
		argPosCount++
	}
	if tone != "" {
		countQuery += fmt.Sprintf(" AND tone=$%d", argPosCount)
		argsCount = append(argsCount, tone)
	}

	var total int
	if err := r.DB.QueryRow(countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListByStatus fetches campaigns in any of the given statuses. Used by the
// dispatcher sweeps.
func (r *CampaignRepository) ListByStatus(statuses ...string) ([]*model.Campaign, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status = ANY($1) ORDER BY id`

	rows, err := r.DB.Query(query, pq.Array(statuses))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Delete removes a campaign; targets go with it via the cascade constraint.
func (r *CampaignRepository) Delete(id int) error {
	res, err := r.DB.Exec(`DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

// TransitionStatus moves a campaign from one status to another with a
// compare-and-set guard, stamping the lifecycle timestamp that belongs to the
// new status. Returns false when the campaign was not in the expected status.
func (r *CampaignRepository) TransitionStatus(campaignID int, from, to string) (bool, error) {
	set := "status=$1, updated_at=NOW()"
	switch to {
	case model.CampaignScheduled:
		set += ", scheduled_at=NOW()"
	case model.CampaignSending:
		set += ", started_at=NOW()"
	case model.CampaignDone, model.CampaignCancelled:
		set += ", completed_at=NOW()"
	}

	query := fmt.Sprintf(`UPDATE campaigns SET %s WHERE id=$2 AND status=$3`, set)
	res, err := r.DB.Exec(query, to, campaignID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) SetTotalTargets(campaignID, total int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET total_targets=$1, updated_at=NOW() WHERE id=$2`, total, campaignID)
	return err
}

// IncrementSent bumps the sent counter atomically in SQL; concurrent workers
// never read-modify-write.
func (r *CampaignRepository) IncrementSent(campaignID int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET sent_count=sent_count+1, updated_at=NOW() WHERE id=$1`, campaignID)
	return err
}

func (r *CampaignRepository) IncrementFailed(campaignID int) error {
	_, err := r.DB.Exec(`UPDATE campaigns SET failed_count=failed_count+1, updated_at=NOW() WHERE id=$1`, campaignID)
	return err
}

// GetStats returns target counts grouped by status.
func (r *CampaignRepository) GetStats(campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM targets WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{
		model.TargetPending:  0,
		model.TargetRendered: 0,
		model.TargetSending:  0,
		model.TargetSent:     0,
		model.TargetFailed:   0,
		model.TargetSkipped:  0,
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.DraftText, &c.Topic, &c.Tone, &c.Filter,
		&c.TestMode, &c.WithinHours, &c.NotAfter, &c.Status,
		&c.TotalTargets, &c.SentCount, &c.FailedCount,
		&c.ScheduledAt, &c.StartedAt, &c.CompletedAt,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
