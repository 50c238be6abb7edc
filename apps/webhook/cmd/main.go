package main

import (
	"context"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/qualitygate/apps/webhook/config"
	"github.com/antinvestor/qualitygate/apps/webhook/service/handlers"
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.WebhookConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "quality_webhook"
	}

	// Create service with Frame - minimal dependencies
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	// ==========================================================================
	// Register Publishers
	// ==========================================================================

	ingestPublisher := frame.WithRegisterPublisher(
		cfg.QueueIngestName,
		cfg.QueueIngestURI,
	)

	// ==========================================================================
	// Setup HTTP Server
	// ==========================================================================

	qMan := svc.QueueManager()
	webhookHandler := handlers.NewWebhookHandler(&cfg, qMan)

	mux := http.NewServeMux()

	// Health check endpoints
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"webhook"}`))
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"webhook"}`))
	})

	// GitLab webhook and CI coverage endpoints
	mux.HandleFunc("POST /webhooks/gitlab", webhookHandler.HandleGitLabWebhook)
	mux.HandleFunc("POST /webhooks/coverage", webhookHandler.HandleCoverageReport)

	// ==========================================================================
	// Initialize Service
	// ==========================================================================

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(mux),
		ingestPublisher,
	}

	svc.Init(ctx, serviceOptions...)

	// ==========================================================================
	// Start the Service
	// ==========================================================================

	log.Info("Starting quality webhook service...")
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}
