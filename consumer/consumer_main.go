package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/scribe-rabbit/scribe-orchestrator/config"
	"github.com/scribe-rabbit/scribe-orchestrator/consumer/worker"
	infraPkg "github.com/scribe-rabbit/scribe-orchestrator/infra"
	"github.com/scribe-rabbit/scribe-orchestrator/repository"
)

func main() {
	err := godotenv.Load("../staging.env")
	if err != nil {
		log.Println("No .env file found, continuing with environment variables")
	}

	cfg := config.NewConfig()
	infra := infraPkg.InitInfra(cfg)
	repo := repository.InitRepository(infra)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Lease owner id, unique per process restart.
	hostname, _ := os.Hostname()
	owner := hostname + "-" + uuid.NewString()[:8]

	models := worker.NewModelCache(cfg.EnvConfig.Transcription.ModelCacheBudget, infra.Inference.LoadModel)
	defer models.Close()

	transcriptionConsumer := worker.NewTranscriptionConsumer(cfg, infra, repo, owner, models)
	if err := transcriptionConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start transcription consumer: %v", err)
		log.Fatalf("Failed to start transcription consumer: %v", err)
	}

	enhanceConsumer := worker.NewEnhanceConsumer(cfg, infra, repo, owner)
	if err := enhanceConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start enhance consumer: %v", err)
		log.Fatalf("Failed to start enhance consumer: %v", err)
	}

	webhookConsumer := worker.NewWebhookConsumer(cfg, infra, repo)
	if err := webhookConsumer.Start(ctx); err != nil {
		infra.Logger.ErrorWithContextf(ctx, err, "Failed to start webhook consumer: %v", err)
		log.Fatalf("Failed to start webhook consumer: %v", err)
	}

	reconciler := worker.NewReconciler(cfg.EnvConfig, repo.JobRepo, infra.Produce.JobService, infra.Logger)
	go reconciler.Start(ctx)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	infra.Logger.InfoWithContextf(ctx, "Shutting down consumer...")
	cancel()

	infra.Logger.Shutdown(context.Background())
	infra.Observability.Shutdown(context.Background())
	log.Println("Consumer exited properly")
}
