package service

import (
	"errors"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/kipmyk/broadcast-service/internal/errors"
	"github.com/kipmyk/broadcast-service/internal/model"
	"github.com/kipmyk/broadcast-service/internal/repository"
)

// CampaignService owns the campaign state machine and the target resolver.
type CampaignService struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	TargetRepo    repository.TargetRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Templates     *TemplateService
	Scheduler     *SchedulerService
	Logger        *zap.Logger
}

// CreateCampaignInput carries the admin payload for a new campaign.
type CreateCampaignInput struct {
	Name        string       `json:"name"`
	DraftText   string       `json:"draft_text"`
	Topic       string       `json:"topic"`
	Tone        string       `json:"tone"`
	Filter      model.Filter `json:"filter"`
	TestMode    bool         `json:"test_mode"`
	WithinHours int          `json:"within_hours"`
	NotAfter    *string      `json:"not_after"`
}

// ResolveResult reports what a resolver run did.
type ResolveResult struct {
	CampaignID   int `json:"campaign_id"`
	Matched      int `json:"matched"`
	Created      int `json:"created"`
	TotalTargets int `json:"total_targets"`
}

// CampaignDetails is a campaign plus its live target stats.
type CampaignDetails struct {
	Campaign *model.Campaign `json:"campaign"`
	Stats    map[string]int  `json:"stats"`
	// Remaining counts pending + rendered + sending targets.
	Remaining int `json:"remaining"`
}

// CreateCampaign validates and stores a draft campaign. The filter is
// validated once here, never re-parsed at resolution time.
func (s *CampaignService) CreateCampaign(in CreateCampaignInput) (*model.Campaign, error) {
	if in.Tone == "" {
		in.Tone = model.ToneFriendly
	}
	if !model.ValidTone(in.Tone) {
		return nil, appErrors.NewInvalidFilter("tone", "unknown tone "+in.Tone)
	}
	if err := in.Filter.Validate(); err != nil {
		return nil, err
	}
	if in.WithinHours <= 0 {
		in.WithinHours = DefaultWithinHours
	}

	c := &model.Campaign{
		Name:        in.Name,
		DraftText:   in.DraftText,
		Topic:       in.Topic,
		Tone:        in.Tone,
		Filter:      in.Filter,
		TestMode:    in.TestMode,
		WithinHours: in.WithinHours,
		Status:      model.CampaignDraft,
	}

	if in.NotAfter != nil && *in.NotAfter != "" {
		t, err := time.Parse(time.RFC3339, *in.NotAfter)
		if err != nil {
			return nil, err
		}
		c.NotAfter = &t
	}

	if err := s.CampaignRepo.Create(c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateDraft edits a campaign that has not left draft yet.
func (s *CampaignService) UpdateDraft(c *model.Campaign) error {
	current, err := s.CampaignRepo.GetByID(c.ID)
	if err != nil {
		return err
	}
	if current.Status != model.CampaignDraft {
		return appErrors.NewInvalidTransition(current.Status, model.CampaignDraft)
	}
	if !model.ValidTone(c.Tone) {
		return appErrors.NewInvalidFilter("tone", "unknown tone "+c.Tone)
	}
	if err := c.Filter.Validate(); err != nil {
		return err
	}
	return s.CampaignRepo.Update(c)
}

// ResolveTargets evaluates the campaign filter against the recipient
// directory and creates pending targets with snapshotted attributes.
// Idempotent: re-running adds only newly-matching recipients.
func (s *CampaignService) ResolveTargets(campaignID int) (*ResolveResult, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignDraft && campaign.Status != model.CampaignPreview {
		return nil, appErrors.NewInvalidTransition(campaign.Status, model.CampaignPreview)
	}
	// The filter was validated at save time; validate again in case the row
	// predates a rule change.
	if err := campaign.Filter.Validate(); err != nil {
		return nil, err
	}

	recipients, err := s.RecipientRepo.FindEligible(campaign.Filter)
	if err != nil {
		return nil, err
	}

	created := 0
	for _, rec := range recipients {
		inserted, err := s.TargetRepo.CreateFromRecipient(campaign.ID, rec)
		if err != nil {
			return nil, err
		}
		if inserted {
			created++
		}
	}

	total, err := s.TargetRepo.CountByCampaign(campaign.ID)
	if err != nil {
		return nil, err
	}
	if err := s.CampaignRepo.SetTotalTargets(campaign.ID, total); err != nil {
		return nil, err
	}

	// A re-resolve during preview runs after the bulk render; newly created
	// targets must be rendered here or planning would never see them.
	if campaign.Status == model.CampaignPreview {
		if err := s.renderPending(campaign); err != nil {
			return nil, err
		}
	}

	s.Logger.Info("targets resolved",
		zap.Int("campaign_id", campaign.ID),
		zap.Int("matched", len(recipients)),
		zap.Int("created", created),
		zap.Int("total", total),
	)

	return &ResolveResult{
		CampaignID:   campaign.ID,
		Matched:      len(recipients),
		Created:      created,
		TotalTargets: total,
	}, nil
}

// Preview resolves targets (idempotent) and bulk-renders every pending one,
// then moves the campaign draft -> preview. No sends happen here.
//
// Unsupported-language policy: fall back to the default language templates;
// only when even those are missing is the target skipped.
func (s *CampaignService) Preview(campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignDraft {
		return nil, appErrors.NewInvalidTransition(campaign.Status, model.CampaignPreview)
	}

	if _, err := s.ResolveTargets(campaignID); err != nil {
		return nil, err
	}

	if err := s.renderPending(campaign); err != nil {
		return nil, err
	}

	if ok, err := s.CampaignRepo.TransitionStatus(campaignID, model.CampaignDraft, model.CampaignPreview); err != nil {
		return nil, err
	} else if !ok {
		return nil, appErrors.NewInvalidTransition(campaign.Status, model.CampaignPreview)
	}

	return s.GetCampaignDetailsWithStats(campaignID)
}

// renderPending renders every pending target of the campaign, with the
// default-language fallback for unsupported languages.
func (s *CampaignService) renderPending(campaign *model.Campaign) error {
	pending, err := s.TargetRepo.ListByCampaignStatus(campaign.ID, model.TargetPending)
	if err != nil {
		return err
	}

	for i := range pending {
		t := &pending[i]
		text, err := s.Templates.Render(campaign, t)
		if err != nil {
			var unsupported *appErrors.ErrUnsupportedLanguage
			if !errors.As(err, &unsupported) {
				return err
			}
			fallback := *t
			fallback.Language = FallbackLanguage
			text, err = s.Templates.Render(campaign, &fallback)
			if err != nil {
				if _, merr := s.TargetRepo.MarkSkipped(t.ID, "unsupported language "+t.Language); merr != nil {
					return merr
				}
				continue
			}
			s.Logger.Warn("language fallback",
				zap.Int("target_id", t.ID),
				zap.String("language", t.Language),
			)
		}
		if _, err := s.TargetRepo.SetRendered(t.ID, text); err != nil {
			return err
		}
	}
	return nil
}

// PersonalizedPreview renders the campaign draft for one recipient without
// touching any target state.
func (s *CampaignService) PersonalizedPreview(campaignID, recipientID int, overrideText *string) (string, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return "", err
	}

	recipient, err := s.RecipientRepo.GetByID(recipientID)
	if err != nil {
		return "", err
	}
	if recipient == nil {
		return "", appErrors.NewTargetNotFound(recipientID)
	}

	sample := &model.Target{
		Language:      recipient.Language,
		FormalAddress: recipient.FormalAddress,
	}
	text, err := s.Templates.RenderPreview(campaign, sample, overrideText)
	if err != nil {
		var unsupported *appErrors.ErrUnsupportedLanguage
		if errors.As(err, &unsupported) {
			sample.Language = FallbackLanguage
			return s.Templates.RenderPreview(campaign, sample, overrideText)
		}
		return "", err
	}
	return text, nil
}

// Schedule moves preview -> scheduled and runs the delivery planner exactly
// once (the compare-and-set transition is the once-guard).
func (s *CampaignService) Schedule(campaignID int) (*model.Campaign, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	ok, err := s.CampaignRepo.TransitionStatus(campaignID, model.CampaignPreview, model.CampaignScheduled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, appErrors.NewInvalidTransition(campaign.Status, model.CampaignScheduled)
	}

	if err := s.Scheduler.Plan(campaign); err != nil {
		return nil, err
	}

	return s.CampaignRepo.GetByID(campaignID)
}

// Cancel halts a non-terminal campaign: remaining pending/rendered targets
// are skipped; in-flight sends finish and record their own outcome.
func (s *CampaignService) Cancel(campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.Terminal() {
		return nil, appErrors.NewInvalidTransition(campaign.Status, model.CampaignCancelled)
	}

	ok, err := s.CampaignRepo.TransitionStatus(campaignID, campaign.Status, model.CampaignCancelled)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another transition; report against fresh state.
		fresh, ferr := s.CampaignRepo.GetByID(campaignID)
		if ferr != nil {
			return nil, ferr
		}
		return nil, appErrors.NewInvalidTransition(fresh.Status, model.CampaignCancelled)
	}

	skipped, err := s.TargetRepo.SkipRemaining(campaignID, model.SkipCampaignCancelled)
	if err != nil {
		return nil, err
	}

	s.Logger.Info("campaign cancelled",
		zap.Int("campaign_id", campaignID),
		zap.Int("skipped", skipped),
	)

	return s.GetCampaignDetailsWithStats(campaignID)
}

// ListCampaigns fetches campaigns with pagination.
func (s *CampaignService) ListCampaigns(page, pageSize int, status, tone string) ([]model.Campaign, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, status, tone)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.Campaign, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

// GetCampaignDetailsWithStats returns the campaign and its target counts by
// status. Reads are eventually consistent with in-flight work and never block
// on it.
func (s *CampaignService) GetCampaignDetailsWithStats(campaignID int) (*CampaignDetails, error) {
	campaign, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	stats, err := s.CampaignRepo.GetStats(campaignID)
	if err != nil {
		return nil, err
	}

	remaining := stats[model.TargetPending] + stats[model.TargetRendered] + stats[model.TargetSending]

	return &CampaignDetails{
		Campaign:  campaign,
		Stats:     stats,
		Remaining: remaining,
	}, nil
}

// Report lists a campaign's targets for the delivery report.
func (s *CampaignService) Report(campaignID, page, pageSize int) ([]model.Target, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}
	offset := (page - 1) * pageSize

	targets, total, err := s.TargetRepo.ListByCampaign(campaignID, offset, pageSize)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return targets, pagination, nil
}

// DeleteCampaign removes a campaign and, via cascade, its targets.
func (s *CampaignService) DeleteCampaign(campaignID int) error {
	return s.CampaignRepo.Delete(campaignID)
}
