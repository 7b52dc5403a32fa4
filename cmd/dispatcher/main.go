package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kipmyk/broadcast-service/internal/config"
	"github.com/kipmyk/broadcast-service/internal/db"
	"github.com/kipmyk/broadcast-service/internal/queue"
	"github.com/kipmyk/broadcast-service/internal/repository"
	"github.com/kipmyk/broadcast-service/internal/service"
)

func main() {
	godotenv.Load()

	cfg := config.Load()
	logger, err := config.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	conn, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer conn.Close()

	q, err := queue.NewAMQPQueue(cfg.AMQPURL, cfg.QueueName, logger)
	if err != nil {
		logger.Fatal("queue connection failed", zap.Error(err))
	}
	defer q.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	targetRepo := &repository.TargetRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}

	scheduler := service.NewSchedulerService(targetRepo, recipientRepo, logger,
		cfg.MaxActivitySends, time.Duration(cfg.ActivityPullDelay)*time.Minute)

	dispatcher := service.NewDispatcher(campaignRepo, targetRepo, scheduler, q, logger, cfg.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	if _, err := c.AddFunc(cfg.DispatchEvery, func() { dispatcher.RunOnce(ctx) }); err != nil {
		logger.Fatal("invalid dispatch schedule", zap.String("spec", cfg.DispatchEvery), zap.Error(err))
	}
	c.Start()

	logger.Info("dispatcher running", zap.String("every", cfg.DispatchEvery))
	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info("dispatcher stopped")
}
