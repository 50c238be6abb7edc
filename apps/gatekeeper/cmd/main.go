package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/qualitygate/apps/gatekeeper/config"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/middleware"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/alerts"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/bugsla"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/coverage"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/handlers"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/ingest"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/repository"
	"github.com/antinvestor/qualitygate/apps/gatekeeper/service/review"
	"github.com/antinvestor/qualitygate/internal/events"
)

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.GatekeeperConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = "quality_gatekeeper"
	}

	// Create service with Frame
	ctx, svc := frame.NewServiceWithContext(
		ctx,
		frame.WithConfig(&cfg),
		frame.WithDatastore(),
		frame.WithRegisterServerOauth2Client(),
	)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	dbManager := svc.DatastoreManager()
	qMan := svc.QueueManager()

	if handleDatabaseMigration(ctx, dbManager, cfg) {
		return
	}

	// ==========================================================================
	// Setup Repositories and Coordination Backends
	// ==========================================================================

	repos := repository.NewRepositories(ctx, dbManager.GetPool(ctx, datastore.DefaultPoolName))

	backends, err := events.NewBackendsWithFallback(ctx, cfg.BackendConfig())
	if err != nil {
		log.WithError(err).Fatal("could not set up coordination backends")
	}
	defer func() {
		if closeErr := backends.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("could not close backends")
		}
	}()

	// ==========================================================================
	// Setup Gates
	// ==========================================================================

	dispatcher := alerts.NewDispatcher(qMan, cfg.QueueAlertName)

	evaluator := review.NewEvaluator(cfg.ReviewPolicy(), repos.MergeRequests, repos.Reviews, repos.Bypasses, dispatcher)
	coverageGate := coverage.NewGate(cfg.CoveragePolicy(), repos.Coverage, dispatcher)
	monitor := bugsla.NewMonitor(cfg.BugSLAPolicy(), repos.Bugs, dispatcher,
		bugsla.WithLockManager(backends.Locking, cfg.BugSLAScanInterval/2),
	)
	analyzer := bugsla.NewAnalyzer(cfg.BugSLAPolicy(), repos.Bugs)

	// ==========================================================================
	// Register Publishers and Subscribers
	// ==========================================================================

	alertPublisher := frame.WithRegisterPublisher(
		cfg.QueueAlertName,
		cfg.QueueAlertURI,
	)

	alertAuditSubscriber := frame.WithRegisterSubscriber(
		cfg.QueueAlertAuditName,
		cfg.QueueAlertAuditURI,
		alerts.NewAuditHandler(repos.Alerts),
	)

	ingestSubscriber := frame.WithRegisterSubscriber(
		cfg.QueueIngestName,
		cfg.QueueIngestURI,
		ingest.NewHandler(repos.Writer(), evaluator, coverageGate, backends.Deduplication),
	)

	// ==========================================================================
	// Setup HTTP Server
	// ==========================================================================

	authenticator := svc.SecurityManager().GetAuthenticator(ctx)
	authMiddleware := middleware.NewAuthMiddleware(authenticator)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurstSize)
	defer rateLimiter.Stop()

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "healthy")
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		if healthErr := backends.HealthCheck(r.Context()); healthErr != nil {
			util.Log(r.Context()).WithError(healthErr).Warn("readiness check failed")
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ready")
	})

	handlers.NewHandler(evaluator, coverageGate, analyzer, monitor, repos.Alerts).
		Register(mux, authMiddleware.Middleware)

	// ==========================================================================
	// Initialize Service
	// ==========================================================================

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(rateLimiter.Middleware(mux)),
		// Publishers
		alertPublisher,
		// Subscribers
		alertAuditSubscriber,
		ingestSubscriber,
	}

	svc.Init(ctx, serviceOptions...)

	go bugsla.NewScheduler(monitor, cfg.BugSLAScanInterval).Run(ctx)

	// ==========================================================================
	// Start the Service
	// ==========================================================================

	log.Info("Starting quality gatekeeper service...")
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}

func handleDatabaseMigration(
	ctx context.Context,
	dbManager datastore.Manager,
	cfg appconfig.GatekeeperConfig,
) bool {
	if cfg.DoDatabaseMigrate() {
		err := repository.Migrate(ctx, dbManager)
		if err != nil {
			util.Log(ctx).WithError(err).Fatal("could not migrate")
		}
		return true
	}
	return false
}

func writeStatus(w http.ResponseWriter, statusCode int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  status,
		"service": "gatekeeper",
	})
}
