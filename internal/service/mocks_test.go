package service

import (
	"sort"
	"sync"
	"time"

	appErrors "github.com/kipmyk/broadcast-service/internal/errors"
	"github.com/kipmyk/broadcast-service/internal/model"
)

// In-memory repositories mirroring the SQL guards of the real ones.

type memCampaignRepo struct {
	mu   sync.Mutex
	seq  int
	rows map[int]*model.Campaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{rows: map[int]*model.Campaign{}}
}

func (m *memCampaignRepo) Create(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	c.ID = m.seq
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now()
	cp := *c
	m.rows[c.ID] = &cp
	return nil
}

func (m *memCampaignRepo) Update(c *model.Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[c.ID]; ok {
		row.Name = c.Name
		row.DraftText = c.DraftText
		row.Topic = c.Topic
		row.Tone = c.Tone
		row.Filter = c.Filter
		row.TestMode = c.TestMode
		row.WithinHours = c.WithinHours
		row.NotAfter = c.NotAfter
	}
	return nil
}

func (m *memCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *row
	return &cp, nil
}

func (m *memCampaignRepo) ListCampaigns(offset, limit int, status, tone string) ([]*model.Campaign, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, row := range m.rows {
		if status != "" && row.Status != status {
			continue
		}
		if tone != "" && row.Tone != tone {
			continue
		}
		cp := *row
		out = append(out, &cp)
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], total, nil
}

func (m *memCampaignRepo) ListByStatus(statuses ...string) ([]*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Campaign{}
	for _, row := range m.rows {
		for _, s := range statuses {
			if row.Status == s {
				cp := *row
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (m *memCampaignRepo) Delete(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	delete(m.rows, id)
	return nil
}

func (m *memCampaignRepo) TransitionStatus(campaignID int, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[campaignID]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	now := time.Now()
	switch to {
	case model.CampaignScheduled:
		row.ScheduledAt = &now
	case model.CampaignSending:
		row.StartedAt = &now
	case model.CampaignDone, model.CampaignCancelled:
		row.CompletedAt = &now
	}
	return true, nil
}

func (m *memCampaignRepo) SetTotalTargets(campaignID, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[campaignID]; ok {
		row.TotalTargets = total
	}
	return nil
}

func (m *memCampaignRepo) IncrementSent(campaignID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[campaignID]; ok {
		row.SentCount++
	}
	return nil
}

func (m *memCampaignRepo) IncrementFailed(campaignID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[campaignID]; ok {
		row.FailedCount++
	}
	return nil
}

func (m *memCampaignRepo) GetStats(campaignID int) (map[string]int, error) {
	return map[string]int{}, nil
}

type memTargetRepo struct {
	mu   sync.Mutex
	seq  int
	rows map[int]*model.Target

	campaigns *memCampaignRepo
}

func newMemTargetRepo(campaigns *memCampaignRepo) *memTargetRepo {
	return &memTargetRepo{rows: map[int]*model.Target{}, campaigns: campaigns}
}

func (m *memTargetRepo) CreateFromRecipient(campaignID int, rec model.Recipient) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.rows {
		if t.CampaignID == campaignID && t.RecipientID == rec.ID {
			return false, nil
		}
	}
	m.seq++
	m.rows[m.seq] = &model.Target{
		ID:               m.seq,
		CampaignID:       campaignID,
		RecipientID:      rec.ID,
		Language:         rec.Language,
		FormalAddress:    rec.FormalAddress,
		Timezone:         rec.Timezone,
		ActiveHoursStart: rec.ActiveHoursStart,
		ActiveHoursEnd:   rec.ActiveHoursEnd,
		Status:           model.TargetPending,
		CreatedAt:        time.Now(),
	}
	return true, nil
}

func (m *memTargetRepo) GetByID(id int) (*model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, appErrors.NewTargetNotFound(id)
	}
	cp := *row
	return &cp, nil
}

func (m *memTargetRepo) CountByCampaign(campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (m *memTargetRepo) CountNonTerminal(campaignID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.CampaignID == campaignID && !t.Terminal() {
			n++
		}
	}
	return n, nil
}

func (m *memTargetRepo) ListByCampaign(campaignID, offset, limit int) ([]model.Target, int, error) {
	all, err := m.ListByCampaignStatus(campaignID,
		model.TargetPending, model.TargetRendered, model.TargetSending,
		model.TargetSent, model.TargetFailed, model.TargetSkipped)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (m *memTargetRepo) ListByCampaignStatus(campaignID int, statuses ...string) ([]model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Target{}
	for id := 1; id <= m.seq; id++ {
		t, ok := m.rows[id]
		if !ok || t.CampaignID != campaignID {
			continue
		}
		for _, s := range statuses {
			if t.Status == s {
				out = append(out, *t)
				break
			}
		}
	}
	return out, nil
}

func (m *memTargetRepo) ListActiveByRecipient(recipientID int) ([]model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Target{}
	for id := 1; id <= m.seq; id++ {
		t, ok := m.rows[id]
		if !ok || t.RecipientID != recipientID {
			continue
		}
		if t.Status != model.TargetPending && t.Status != model.TargetRendered {
			continue
		}
		if m.campaigns != nil {
			c, err := m.campaigns.GetByID(t.CampaignID)
			if err != nil {
				continue
			}
			if c.Status != model.CampaignScheduled && c.Status != model.CampaignSending {
				continue
			}
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *memTargetRepo) ListDue(now time.Time, limit int) ([]model.Target, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Target{}
	for id := 1; id <= m.seq && len(out) < limit; id++ {
		t, ok := m.rows[id]
		if !ok || t.Status != model.TargetRendered || t.PlannedSendAt == nil || t.PlannedSendAt.After(now) {
			continue
		}
		if m.campaigns != nil {
			c, err := m.campaigns.GetByID(t.CampaignID)
			if err != nil || c.Status != model.CampaignSending {
				continue
			}
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *memTargetRepo) SetRendered(id int, text string) (bool, error) {
	return m.guarded(id, func(t *model.Target) bool {
		if t.Status != model.TargetPending {
			return false
		}
		t.Status = model.TargetRendered
		t.RenderedText = text
		return true
	})
}

func (m *memTargetRepo) SetPlannedSendAt(id int, at time.Time) error {
	_, err := m.guarded(id, func(t *model.Target) bool {
		t.PlannedSendAt = &at
		return true
	})
	return err
}

func (m *memTargetRepo) Claim(id int) (bool, error) {
	return m.guarded(id, func(t *model.Target) bool {
		if t.Status != model.TargetRendered {
			return false
		}
		if m.campaigns != nil {
			c, err := m.campaigns.GetByID(t.CampaignID)
			if err != nil || c.Status != model.CampaignSending {
				return false
			}
		}
		t.Status = model.TargetSending
		return true
	})
}

func (m *memTargetRepo) ReleaseClaim(id int) error {
	_, err := m.guarded(id, func(t *model.Target) bool {
		if t.Status != model.TargetSending {
			return false
		}
		t.Status = model.TargetRendered
		return true
	})
	return err
}

func (m *memTargetRepo) ReleaseStale(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.Status == model.TargetSending && !t.UpdatedAt.After(cutoff) {
			t.Status = model.TargetRendered
			t.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *memTargetRepo) IncrementRetry(id int) error {
	_, err := m.guarded(id, func(t *model.Target) bool {
		t.RetryCount++
		return true
	})
	return err
}

func (m *memTargetRepo) MarkSent(id int, at time.Time) (bool, error) {
	return m.guarded(id, func(t *model.Target) bool {
		if t.Status != model.TargetSending {
			return false
		}
		t.Status = model.TargetSent
		t.SentAt = &at
		t.LastError = ""
		return true
	})
}

func (m *memTargetRepo) MarkFailed(id int, cause string) (bool, error) {
	return m.guarded(id, func(t *model.Target) bool {
		if t.Status != model.TargetSending {
			return false
		}
		t.Status = model.TargetFailed
		t.LastError = cause
		return true
	})
}

func (m *memTargetRepo) MarkSkipped(id int, cause string) (bool, error) {
	return m.guarded(id, func(t *model.Target) bool {
		switch t.Status {
		case model.TargetPending, model.TargetRendered, model.TargetSending:
			t.Status = model.TargetSkipped
			t.LastError = cause
			return true
		}
		return false
	})
}

func (m *memTargetRepo) SkipRemaining(campaignID int, cause string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.CampaignID != campaignID {
			continue
		}
		if t.Status == model.TargetPending || t.Status == model.TargetRendered {
			t.Status = model.TargetSkipped
			t.LastError = cause
			n++
		}
	}
	return n, nil
}

func (m *memTargetRepo) SkipOverdue(now time.Time, grace time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.rows {
		if t.Status != model.TargetPending && t.Status != model.TargetRendered {
			continue
		}
		var notAfter *time.Time
		if m.campaigns != nil {
			c, err := m.campaigns.GetByID(t.CampaignID)
			if err != nil {
				continue
			}
			if c.Status != model.CampaignScheduled && c.Status != model.CampaignSending {
				continue
			}
			notAfter = c.NotAfter
		}
		overdue := false
		if notAfter != nil && !notAfter.After(now) {
			overdue = true
		}
		if notAfter != nil && t.PlannedSendAt != nil && t.PlannedSendAt.After(*notAfter) {
			overdue = true
		}
		if t.PlannedSendAt != nil && !t.PlannedSendAt.After(now.Add(-grace)) {
			overdue = true
		}
		if overdue {
			t.Status = model.TargetSkipped
			t.LastError = model.SkipDeadlineExceeded
			n++
		}
	}
	return n, nil
}

func (m *memTargetRepo) RecordActivityPull(id int, triggeredAt, plannedAt time.Time, maxActivitySends int) (bool, error) {
	return m.guarded(id, func(t *model.Target) bool {
		if t.Status != model.TargetPending && t.Status != model.TargetRendered {
			return false
		}
		if t.ActivitySendCount >= maxActivitySends {
			return false
		}
		if t.PlannedSendAt != nil && !t.PlannedSendAt.After(plannedAt) {
			return false
		}
		t.PlannedSendAt = &plannedAt
		t.LastActivityTriggeredAt = &triggeredAt
		t.ActivitySendCount++
		return true
	})
}

func (m *memTargetRepo) guarded(id int, f func(t *model.Target) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if !f(t) {
		return false, nil
	}
	t.UpdatedAt = time.Now()
	return true, nil
}

type memRecipientRepo struct {
	mu   sync.Mutex
	rows map[int]*model.Recipient
}

func newMemRecipientRepo(recipients ...model.Recipient) *memRecipientRepo {
	m := &memRecipientRepo{rows: map[int]*model.Recipient{}}
	for i := range recipients {
		cp := recipients[i]
		m.rows[cp.ID] = &cp
	}
	return m
}

func (m *memRecipientRepo) FindEligible(filter model.Filter) ([]model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.rows))
	for id := range m.rows {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := []model.Recipient{}
	for _, id := range ids {
		rec := m.rows[id]
		if filter.BlockedExcluded() && rec.IsBlocked {
			continue
		}
		if filter.NotificationsEnabled && !rec.NotificationsEnabled {
			continue
		}
		if filter.OnboardingCompleted && !rec.OnboardingCompleted {
			continue
		}
		if filter.DefaultTimezoneOnly && rec.Timezone != model.DefaultTimezone {
			continue
		}
		if filter.FormalAddress != nil && rec.FormalAddress != *filter.FormalAddress {
			continue
		}
		if len(filter.Languages) > 0 {
			match := false
			for _, l := range filter.Languages {
				if rec.Language == l {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		if filter.NotificationIntervalHours != nil && rec.NotificationIntervalHours != *filter.NotificationIntervalHours {
			continue
		}
		if filter.InactiveDays != nil && rec.LastActiveAt != nil {
			cutoff := time.Now().AddDate(0, 0, -*filter.InactiveDays)
			if rec.LastActiveAt.After(cutoff) {
				continue
			}
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (m *memRecipientRepo) GetByID(id int) (*model.Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memRecipientRepo) ListAll(offset, limit int) ([]model.Recipient, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Recipient{}
	for _, rec := range m.rows {
		out = append(out, *rec)
	}
	return out, len(out), nil
}

func (m *memRecipientRepo) TouchActivity(id int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.rows[id]; ok {
		rec.LastActiveAt = &at
	}
	return nil
}
