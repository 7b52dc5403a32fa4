package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kipmyk/broadcast-service/internal/config"
	"github.com/kipmyk/broadcast-service/internal/controller"
	"github.com/kipmyk/broadcast-service/internal/db"
	"github.com/kipmyk/broadcast-service/internal/handler"
	"github.com/kipmyk/broadcast-service/internal/repository"
	"github.com/kipmyk/broadcast-service/internal/service"
)

func main() {
	// Load .env when present; OS environment wins otherwise.
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

	campaignRepo := &repository.CampaignRepository{DB: conn}
	targetRepo := &repository.TargetRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}

	templates, err := service.NewTemplateService()
	if err != nil {
		logger.Fatal("template compilation failed", zap.Error(err))
	}

	scheduler := service.NewSchedulerService(targetRepo, recipientRepo, logger,
		cfg.MaxActivitySends, time.Duration(cfg.ActivityPullDelay)*time.Minute)

	campaignService := &service.CampaignService{
		CampaignRepo:  campaignRepo,
		TargetRepo:    targetRepo,
		RecipientRepo: recipientRepo,
		Templates:     templates,
		Scheduler:     scheduler,
		Logger:        logger,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
		Scheduler:       scheduler,
		Logger:          logger,
	}

	campaignHandler := &handler.CampaignHandler{
		Service:       campaignService,
		RecipientRepo: recipientRepo,
		Logger:        logger,
	}

	r := chi.NewRouter()

	// Campaign routes
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignHandler.GetCampaignWithStats)
	r.Delete("/campaigns/{id}", campaignController.DeleteCampaign)
	r.Post("/campaigns/{id}/resolve", campaignController.ResolveTargets)
	r.Post("/campaigns/{id}/preview", campaignController.Preview)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)
	r.Post("/campaigns/{id}/schedule", campaignController.Schedule)
	r.Post("/campaigns/{id}/cancel", campaignController.Cancel)
	r.Get("/campaigns/{id}/report", campaignHandler.GetDeliveryReport)

	// Recipient routes
	r.Get("/recipients", campaignHandler.ListRecipients)
	r.Post("/recipients/{id}/activity", campaignController.RegisterActivity)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("server running", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
