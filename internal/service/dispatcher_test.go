package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kipmyk/broadcast-service/internal/model"
	"github.com/kipmyk/broadcast-service/internal/queue"
)

// recordingQueue captures published jobs without consuming them.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []queue.Job
}

func (q *recordingQueue) Publish(ctx context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *recordingQueue) Consume(ctx context.Context, handler func(job queue.Job) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func (q *recordingQueue) published() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]queue.Job, len(q.jobs))
	copy(out, q.jobs)
	return out
}

func newTestDispatcher(campaigns *memCampaignRepo, targets *memTargetRepo, q *recordingQueue, now time.Time) *Dispatcher {
	sched := NewSchedulerService(targets, newMemRecipientRepo(), zap.NewNop(), 1, time.Minute)
	sched.Now = func() time.Time { return now }
	d := NewDispatcher(campaigns, targets, sched, q, zap.NewNop(), 100)
	d.Now = func() time.Time { return now }
	return d
}

func TestRunOnceAuthorizesScheduledCampaigns(t *testing.T) {
	campaigns := newMemCampaignRepo()
	targets := newMemTargetRepo(campaigns)
	q := &recordingQueue{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(campaigns, targets, q, now)

	c := &model.Campaign{Name: "due", Status: model.CampaignScheduled}
	require.NoError(t, campaigns.Create(c))
	seedRendered(t, targets, c.ID, 1, "UTC", 0, 0)

	d.RunOnce(context.Background())

	stored, err := campaigns.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignSending, stored.Status)
	require.NotNil(t, stored.StartedAt)
}

func TestRunOncePublishesOnlyDueTargets(t *testing.T) {
	campaigns := newMemCampaignRepo()
	targets := newMemTargetRepo(campaigns)
	q := &recordingQueue{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(campaigns, targets, q, now)

	c := &model.Campaign{Name: "mixed", Status: model.CampaignSending}
	require.NoError(t, campaigns.Create(c))

	ids := seedRendered(t, targets, c.ID, 3, "UTC", 0, 0)
	require.NoError(t, targets.SetPlannedSendAt(ids[0], now.Add(-time.Minute)))
	require.NoError(t, targets.SetPlannedSendAt(ids[1], now))
	require.NoError(t, targets.SetPlannedSendAt(ids[2], now.Add(time.Hour)))

	d.RunOnce(context.Background())

	published := q.published()
	require.Len(t, published, 2)
	got := []int{published[0].TargetID, published[1].TargetID}
	assert.ElementsMatch(t, []int{ids[0], ids[1]}, got)
}

func TestRunOnceSkipsDeadlineExceeded(t *testing.T) {
	campaigns := newMemCampaignRepo()
	targets := newMemTargetRepo(campaigns)
	q := &recordingQueue{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(campaigns, targets, q, now)

	deadline := now.Add(-time.Minute)
	c := &model.Campaign{Name: "late", Status: model.CampaignSending, NotAfter: &deadline}
	require.NoError(t, campaigns.Create(c))

	ids := seedRendered(t, targets, c.ID, 2, "UTC", 0, 0)

	d.RunOnce(context.Background())

	assert.Empty(t, q.published(), "deadline-exceeded targets never reach the queue")
	for _, id := range ids {
		tgt, err := targets.GetByID(id)
		require.NoError(t, err)
		assert.Equal(t, model.TargetSkipped, tgt.Status)
		assert.Equal(t, model.SkipDeadlineExceeded, tgt.LastError)
	}
}

func TestRunOnceFinalizesWhenAllTerminal(t *testing.T) {
	campaigns := newMemCampaignRepo()
	targets := newMemTargetRepo(campaigns)
	q := &recordingQueue{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(campaigns, targets, q, now)

	c := &model.Campaign{Name: "finishing", Status: model.CampaignSending}
	require.NoError(t, campaigns.Create(c))

	ids := seedRendered(t, targets, c.ID, 2, "UTC", 0, 0)
	for _, id := range ids {
		claimed, err := targets.Claim(id)
		require.NoError(t, err)
		require.True(t, claimed)
		sent, err := targets.MarkSent(id, now)
		require.NoError(t, err)
		require.True(t, sent)
	}

	d.RunOnce(context.Background())

	stored, err := campaigns.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignDone, stored.Status)
	require.NotNil(t, stored.CompletedAt)
}

func TestRunOnceReleasesStaleClaims(t *testing.T) {
	campaigns := newMemCampaignRepo()
	targets := newMemTargetRepo(campaigns)
	q := &recordingQueue{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(campaigns, targets, q, now)

	c := &model.Campaign{Name: "abandoned", Status: model.CampaignSending}
	require.NoError(t, campaigns.Create(c))

	ids := seedRendered(t, targets, c.ID, 1, "UTC", 0, 0)
	require.NoError(t, targets.SetPlannedSendAt(ids[0], now.Add(-time.Minute)))
	claimed, err := targets.Claim(ids[0])
	require.NoError(t, err)
	require.True(t, claimed)

	// The claiming worker died an hour ago.
	targets.rows[ids[0]].UpdatedAt = now.Add(-time.Hour)

	d.RunOnce(context.Background())

	tgt, err := targets.GetByID(ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.TargetRendered, tgt.Status, "abandoned claim goes back to rendered")
	require.Len(t, q.published(), 1, "released target is dispatched again")
	assert.Equal(t, ids[0], q.published()[0].TargetID)

	stored, err := campaigns.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignSending, stored.Status, "campaign stays open until the target terminates")
}

func TestRunOnceKeepsFreshClaims(t *testing.T) {
	campaigns := newMemCampaignRepo()
	targets := newMemTargetRepo(campaigns)
	q := &recordingQueue{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(campaigns, targets, q, now)

	c := &model.Campaign{Name: "in-flight", Status: model.CampaignSending}
	require.NoError(t, campaigns.Create(c))

	ids := seedRendered(t, targets, c.ID, 1, "UTC", 0, 0)
	claimed, err := targets.Claim(ids[0])
	require.NoError(t, err)
	require.True(t, claimed)
	targets.rows[ids[0]].UpdatedAt = now.Add(-time.Minute)

	d.RunOnce(context.Background())

	tgt, err := targets.GetByID(ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.TargetSending, tgt.Status, "a claim inside the grace window is left alone")
}

func TestRunOnceLeavesSendingCampaignWithWorkOpen(t *testing.T) {
	campaigns := newMemCampaignRepo()
	targets := newMemTargetRepo(campaigns)
	q := &recordingQueue{}
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	d := newTestDispatcher(campaigns, targets, q, now)

	c := &model.Campaign{Name: "open", Status: model.CampaignSending}
	require.NoError(t, campaigns.Create(c))
	seedRendered(t, targets, c.ID, 1, "UTC", 0, 0)

	d.RunOnce(context.Background())

	stored, err := campaigns.GetByID(c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignSending, stored.Status)
}
