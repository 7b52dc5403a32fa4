package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kipmyk/broadcast-service/internal/model"
	"github.com/kipmyk/broadcast-service/internal/outbound"
	"github.com/kipmyk/broadcast-service/internal/queue"
	"github.com/kipmyk/broadcast-service/internal/repository"
)

// Executor delivers claimed due targets through the outbound channel. Many
// workers run it concurrently; the status claim in the target repository
// guarantees at most one attempt per target at a time.
type Executor struct {
	CampaignRepo  repository.CampaignRepositoryInterface
	TargetRepo    repository.TargetRepositoryInterface
	RecipientRepo repository.RecipientRepositoryInterface

	Sender outbound.Sender
	// TestSender handles test-mode campaigns; falls back to Sender when nil.
	TestSender outbound.Sender

	Logger *zap.Logger

	// Limiter throttles in-flight sends across all workers.
	Limiter *rate.Limiter

	MaxRetries  int
	BackoffBase time.Duration

	Now func() time.Time
}

func NewExecutor(campaigns repository.CampaignRepositoryInterface, targets repository.TargetRepositoryInterface, recipients repository.RecipientRepositoryInterface, sender outbound.Sender, logger *zap.Logger, ratePerSec, maxRetries int) *Executor {
	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Executor{
		CampaignRepo:  campaigns,
		TargetRepo:    targets,
		RecipientRepo: recipients,
		Sender:        sender,
		Logger:        logger,
		Limiter:       rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		MaxRetries:    maxRetries,
		BackoffBase:   500 * time.Millisecond,
		Now:           time.Now,
	}
}

// Run consumes the delivery queue with a pool of workers until ctx ends.
func (e *Executor) Run(ctx context.Context, q queue.Queue, workers int) {
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			err := q.Consume(ctx, func(job queue.Job) error {
				return e.Process(ctx, job.TargetID)
			})
			if err != nil && ctx.Err() == nil {
				e.Logger.Error("consumer stopped", zap.Int("worker", n), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()
}

// Process handles one due target end to end. It returns an error only for
// infrastructure faults worth a queue redelivery; delivery outcomes are
// recorded on the target and swallowed.
func (e *Executor) Process(ctx context.Context, targetID int) error {
	target, err := e.TargetRepo.GetByID(targetID)
	if err != nil {
		return err
	}
	if target.Status != model.TargetRendered {
		// Already claimed, delivered or skipped; duplicate job.
		return nil
	}

	campaign, err := e.CampaignRepo.GetByID(target.CampaignID)
	if err != nil {
		return err
	}
	if campaign.Status != model.CampaignSending {
		// Cancellation (or anything else) observed before the claim: leave
		// the target alone, the cancel path decides its fate.
		return nil
	}

	// Claim rendered -> sending. Losing the race means another worker owns
	// this target; a target already sent or failed is never re-attempted.
	claimed, err := e.TargetRepo.Claim(target.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	// Eligibility re-check right before the send: directory state may have
	// changed since targeting.
	recipient, err := e.RecipientRepo.GetByID(target.RecipientID)
	if err != nil {
		// Put the claim back so the redelivered job can retry; a target left
		// in sending would never terminate.
		if rerr := e.TargetRepo.ReleaseClaim(target.ID); rerr != nil {
			return rerr
		}
		return err
	}
	switch {
	case recipient == nil || recipient.IsBlocked:
		_, err := e.TargetRepo.MarkSkipped(target.ID, model.SkipRecipientBlocked)
		return err
	case !recipient.NotificationsEnabled:
		_, err := e.TargetRepo.MarkSkipped(target.ID, model.SkipNotificationsOff)
		return err
	}

	return e.attemptSend(ctx, campaign, target)
}

func (e *Executor) attemptSend(ctx context.Context, campaign *model.Campaign, target *model.Target) error {
	sender := e.Sender
	if campaign.TestMode && e.TestSender != nil {
		sender = e.TestSender
	}

	var lastErr error
	for attempt := 0; attempt <= e.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				// Shutting down mid-retry: release so another worker can
				// finish the job later.
				return e.TargetRepo.ReleaseClaim(target.ID)
			}
		}

		if err := e.Limiter.Wait(ctx); err != nil {
			return e.TargetRepo.ReleaseClaim(target.ID)
		}

		// Backoff and limiter waits may carry the attempt past the campaign
		// deadline; nothing is sent after not_after.
		if e.deadlinePassed(campaign) {
			_, err := e.TargetRepo.MarkSkipped(target.ID, model.SkipDeadlineExceeded)
			return err
		}

		lastErr = sender.Send(ctx, target.RecipientID, target.RenderedText)
		if lastErr == nil {
			sentAt := e.Now()
			if campaign.NotAfter != nil && sentAt.After(*campaign.NotAfter) {
				_, err := e.TargetRepo.MarkSkipped(target.ID, model.SkipDeadlineExceeded)
				return err
			}
			if _, err := e.TargetRepo.MarkSent(target.ID, sentAt); err != nil {
				return err
			}
			if err := e.CampaignRepo.IncrementSent(campaign.ID); err != nil {
				return err
			}
			e.Logger.Info("target sent",
				zap.Int("target_id", target.ID),
				zap.Int("campaign_id", campaign.ID),
				zap.Int("attempts", attempt+1),
			)
			return nil
		}

		if err := e.TargetRepo.IncrementRetry(target.ID); err != nil {
			return err
		}

		if !outbound.IsTransient(lastErr) {
			break
		}
		e.Logger.Warn("transient send failure",
			zap.Int("target_id", target.ID),
			zap.Int("attempt", attempt+1),
			zap.String("code", outbound.ErrorCode(lastErr)),
		)
	}

	// Out of retries or permanent failure.
	if _, err := e.TargetRepo.MarkFailed(target.ID, lastErr.Error()); err != nil {
		return err
	}
	if err := e.CampaignRepo.IncrementFailed(campaign.ID); err != nil {
		return err
	}
	e.Logger.Warn("target failed",
		zap.Int("target_id", target.ID),
		zap.Int("campaign_id", campaign.ID),
		zap.String("code", outbound.ErrorCode(lastErr)),
	)
	return nil
}

func (e *Executor) deadlinePassed(campaign *model.Campaign) bool {
	return campaign.NotAfter != nil && e.Now().After(*campaign.NotAfter)
}

// backoff grows exponentially per attempt: base, 2x, 4x, ...
func (e *Executor) backoff(attempt int) time.Duration {
	d := e.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
