package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/kipmyk/broadcast-service/internal/model"
	"github.com/kipmyk/broadcast-service/internal/repository"
)

// DefaultWithinHours is the delivery window for campaigns that do not set one.
const DefaultWithinHours = 24

// SchedulerService assigns planned send times inside a campaign's delivery
// window and re-plans targets when a recipient activity fires.
type SchedulerService struct {
	TargetRepo    repository.TargetRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface
	Logger        *zap.Logger

	// MaxActivitySends bounds activity-triggered pulls per target.
	MaxActivitySends int
	// ActivityPullDelay is how soon after a trigger the send is re-planned.
	ActivityPullDelay time.Duration

	// Now is swappable for tests.
	Now func() time.Time
}

func NewSchedulerService(targets repository.TargetRepositoryInterface, recipients repository.RecipientRepositoryInterface, logger *zap.Logger, maxActivitySends int, pullDelay time.Duration) *SchedulerService {
	if maxActivitySends <= 0 {
		maxActivitySends = 1
	}
	if pullDelay <= 0 {
		pullDelay = time.Minute
	}
	return &SchedulerService{
		TargetRepo:        targets,
		RecipientRepo:     recipients,
		Logger:            logger,
		MaxActivitySends:  maxActivitySends,
		ActivityPullDelay: pullDelay,
		Now:               time.Now,
	}
}

// Plan spreads every rendered target of the campaign across
// [now, now+within_hours), clipped to not_after, each instant shifted into
// the recipient's local active-hours window. Targets that cannot be delivered
// before the deadline are skipped right away.
func (s *SchedulerService) Plan(campaign *model.Campaign) error {
	targets, err := s.TargetRepo.ListByCampaignStatus(campaign.ID, model.TargetRendered)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	now := s.Now()
	withinHours := campaign.WithinHours
	if withinHours <= 0 {
		withinHours = DefaultWithinHours
	}
	windowEnd := now.Add(time.Duration(withinHours) * time.Hour)
	if campaign.NotAfter != nil && campaign.NotAfter.Before(windowEnd) {
		windowEnd = *campaign.NotAfter
	}

	window := windowEnd.Sub(now)
	if window < 0 {
		window = 0
	}

	planned := 0
	skipped := 0
	for i, t := range targets {
		instant := now.Add(slotOffset(window, len(targets), i, t.ID))
		instant = nextActiveInstant(instant, t.Timezone, t.ActiveHoursStart, t.ActiveHoursEnd)

		if campaign.NotAfter != nil && instant.After(*campaign.NotAfter) {
			if _, err := s.TargetRepo.MarkSkipped(t.ID, model.SkipDeadlineExceeded); err != nil {
				return err
			}
			skipped++
			continue
		}

		if err := s.TargetRepo.SetPlannedSendAt(t.ID, instant); err != nil {
			return err
		}
		planned++
	}

	s.Logger.Info("campaign planned",
		zap.Int("campaign_id", campaign.ID),
		zap.Int("planned", planned),
		zap.Int("skipped", skipped),
		zap.Time("window_end", windowEnd),
	)
	return nil
}

// HandleActivity records a qualifying recipient activity and pulls that
// recipient's open targets forward. A pull never delays a target and each
// trigger bumps the activity bookkeeping exactly once.
func (s *SchedulerService) HandleActivity(recipientID int) (int, error) {
	now := s.Now()
	if err := s.RecipientRepo.TouchActivity(recipientID, now); err != nil {
		return 0, err
	}

	targets, err := s.TargetRepo.ListActiveByRecipient(recipientID)
	if err != nil {
		return 0, err
	}

	pulled := 0
	for _, t := range targets {
		soon := nextActiveInstant(now.Add(s.ActivityPullDelay), t.Timezone, t.ActiveHoursStart, t.ActiveHoursEnd)
		ok, err := s.TargetRepo.RecordActivityPull(t.ID, now, soon, s.MaxActivitySends)
		if err != nil {
			return pulled, err
		}
		if ok {
			pulled++
		}
	}

	if pulled > 0 {
		s.Logger.Info("activity pull",
			zap.Int("recipient_id", recipientID),
			zap.Int("targets", pulled),
		)
	}
	return pulled, nil
}

// SweepDeadlines skips targets that can no longer be delivered: campaign
// deadline passed, planned beyond the deadline, or stuck unsent past grace.
func (s *SchedulerService) SweepDeadlines(grace time.Duration) (int, error) {
	return s.TargetRepo.SkipOverdue(s.Now(), grace)
}

// slotOffset places target i of n inside the window with a deterministic
// per-target jitter so no instant collects more than a couple of targets.
func slotOffset(window time.Duration, n, i, targetID int) time.Duration {
	if window <= 0 || n <= 0 {
		return 0
	}
	slot := window / time.Duration(n)
	if slot <= 0 {
		slot = time.Second
	}
	jitter := time.Duration(targetID*2654435761) % slot
	if jitter < 0 {
		jitter = -jitter
	}
	off := slot*time.Duration(i) + jitter
	if off >= window {
		off = window - time.Second
	}
	if off < 0 {
		off = 0
	}
	return off
}

// nextActiveInstant shifts t forward into the recipient's local active-hours
// window. Windows may cross midnight (22 -> 6); start == end means always
// active. The sub-hour offset is preserved so shifted targets do not pile
// onto the window boundary.
func nextActiveInstant(t time.Time, tz string, startHour, endHour int) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil || tz == "" {
		loc = time.UTC
	}

	local := t.In(loc)
	if startHour == endHour {
		return local
	}

	h := local.Hour()
	if activeHour(h, startHour, endHour) {
		return local
	}

	dayShift := 0
	if startHour < endHour {
		// Plain window: before start waits until today, after end until
		// tomorrow.
		if h >= endHour {
			dayShift = 1
		}
	}
	// Midnight-crossing windows: the inactive span is [end, start), always
	// later the same day.

	next := time.Date(local.Year(), local.Month(), local.Day()+dayShift, startHour, 0, 0, 0, loc)
	return next.Add(time.Duration(local.Minute())*time.Minute + time.Duration(local.Second())*time.Second)
}

func activeHour(h, start, end int) bool {
	if start < end {
		return h >= start && h < end
	}
	// crosses midnight
	return h >= start || h < end
}
