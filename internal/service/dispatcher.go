package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kipmyk/broadcast-service/internal/model"
	"github.com/kipmyk/broadcast-service/internal/queue"
	"github.com/kipmyk/broadcast-service/internal/repository"
)

// DeadlineGrace is how long a due target may sit unsent before the sweep
// gives up on it.
const DeadlineGrace = 12 * time.Hour

// StaleClaimGrace is how long a claimed target may sit in sending before the
// claim counts as abandoned and goes back to rendered.
const StaleClaimGrace = 10 * time.Minute

// Dispatcher runs the periodic sweeps: authorize scheduled campaigns, release
// abandoned claims, skip deadline-exceeded targets, push due targets onto the
// delivery queue and finalize campaigns whose targets are all terminal.
type Dispatcher struct {
	CampaignRepo repository.CampaignRepositoryInterface
	TargetRepo   repository.TargetRepositoryInterface
	Scheduler    *SchedulerService
	Queue        queue.Queue
	Logger       *zap.Logger

	BatchSize int
	Now       func() time.Time
}

func NewDispatcher(campaigns repository.CampaignRepositoryInterface, targets repository.TargetRepositoryInterface, sched *SchedulerService, q queue.Queue, logger *zap.Logger, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{
		CampaignRepo: campaigns,
		TargetRepo:   targets,
		Scheduler:    sched,
		Queue:        q,
		Logger:       logger,
		BatchSize:    batchSize,
		Now:          time.Now,
	}
}

// RunOnce executes one full sweep. Safe to call from overlapping ticks: every
// step is guarded by status compare-and-set in SQL.
func (d *Dispatcher) RunOnce(ctx context.Context) {
	if err := d.authorizeScheduled(); err != nil {
		d.Logger.Error("authorize sweep failed", zap.Error(err))
	}
	if n, err := d.TargetRepo.ReleaseStale(d.Now().Add(-StaleClaimGrace)); err != nil {
		d.Logger.Error("stale claim sweep failed", zap.Error(err))
	} else if n > 0 {
		d.Logger.Info("released stale claims", zap.Int("count", n))
	}
	if n, err := d.Scheduler.SweepDeadlines(DeadlineGrace); err != nil {
		d.Logger.Error("deadline sweep failed", zap.Error(err))
	} else if n > 0 {
		d.Logger.Info("deadline sweep skipped targets", zap.Int("count", n))
	}
	if err := d.dispatchDue(ctx); err != nil {
		d.Logger.Error("dispatch sweep failed", zap.Error(err))
	}
	if err := d.finalize(); err != nil {
		d.Logger.Error("finalize sweep failed", zap.Error(err))
	}
}

// authorizeScheduled moves planned campaigns into sending so the executor may
// start consuming their due targets.
func (d *Dispatcher) authorizeScheduled() error {
	campaigns, err := d.CampaignRepo.ListByStatus(model.CampaignScheduled)
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		ok, err := d.CampaignRepo.TransitionStatus(c.ID, model.CampaignScheduled, model.CampaignSending)
		if err != nil {
			return err
		}
		if ok {
			d.Logger.Info("campaign sending", zap.Int("campaign_id", c.ID))
		}
	}
	return nil
}

// dispatchDue publishes due targets to the delivery queue. Targets are not
// claimed here; the executor claims before sending, so duplicate publishes
// across ticks are harmless.
func (d *Dispatcher) dispatchDue(ctx context.Context) error {
	due, err := d.TargetRepo.ListDue(d.Now(), d.BatchSize)
	if err != nil {
		return err
	}
	for _, t := range due {
		if err := d.Queue.Publish(ctx, queue.Job{TargetID: t.ID}); err != nil {
			return err
		}
	}
	if len(due) > 0 {
		d.Logger.Info("dispatched due targets", zap.Int("count", len(due)))
	}
	return nil
}

// finalize completes sending campaigns once every target is terminal.
func (d *Dispatcher) finalize() error {
	campaigns, err := d.CampaignRepo.ListByStatus(model.CampaignSending)
	if err != nil {
		return err
	}
	for _, c := range campaigns {
		remaining, err := d.TargetRepo.CountNonTerminal(c.ID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			continue
		}
		ok, err := d.CampaignRepo.TransitionStatus(c.ID, model.CampaignSending, model.CampaignDone)
		if err != nil {
			return err
		}
		if ok {
			d.Logger.Info("campaign done", zap.Int("campaign_id", c.ID))
		}
	}
	return nil
}
