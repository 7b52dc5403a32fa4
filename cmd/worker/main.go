package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kipmyk/broadcast-service/internal/config"
	"github.com/kipmyk/broadcast-service/internal/db"
	"github.com/kipmyk/broadcast-service/internal/outbound"
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

	var sender outbound.Sender
	if cfg.GatewayURL != "" {
		sender = outbound.NewGatewaySender(cfg.GatewayURL, cfg.GatewayToken, logger)
	} else {
		logger.Warn("GATEWAY_URL not set, using log sender")
		sender = outbound.NewLogSender(logger)
	}

	executor := service.NewExecutor(campaignRepo, targetRepo, recipientRepo,
		sender, logger, cfg.RatePerSec, cfg.MaxRetries)
	executor.TestSender = outbound.NewLogSender(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker running",
		zap.Int("workers", cfg.WorkerCount),
		zap.Int("rate_per_sec", cfg.RatePerSec),
	)
	executor.Run(ctx, q, cfg.WorkerCount)
	logger.Info("worker stopped")
}
