package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/helios-labs/strategy-governor/internal/api"
	"github.com/helios-labs/strategy-governor/internal/config"
	"github.com/helios-labs/strategy-governor/internal/database"
	"github.com/helios-labs/strategy-governor/internal/models"
	"github.com/helios-labs/strategy-governor/internal/services"
	"github.com/helios-labs/strategy-governor/internal/store"
	"github.com/helios-labs/strategy-governor/internal/telemetry"
	"github.com/helios-labs/strategy-governor/pkg/marketfeed"
	"github.com/helios-labs/strategy-governor/pkg/oracle"
)

func main() {
	// A local .env is a development convenience, its absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Environment != "development" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx := context.Background()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		Environment: cfg.Environment,
	})
	if err != nil {
		logger.WithError(err).Warn("Tracer init failed, continuing without tracing")
		shutdownTracer = func(context.Context) error { return nil }
	}

	// Filesystem mirror is always present; Postgres is the durable
	// primary and is mandatory in production (enforced by config.Load).
	fsStore, err := store.NewFSStore(cfg.Governance.ArtifactsDir)
	if err != nil {
		logger.Fatalf("Failed to init filesystem store: %v", err)
	}

	var stateStore store.StateStore = fsStore
	var db *database.PostgresDB
	if cfg.Database.Configured() {
		db, err = database.NewPostgresConnection(cfg.Database)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		if _, err := db.Pool.Exec(ctx, store.Schema); err != nil {
			logger.Fatalf("Failed to apply governance schema: %v", err)
		}
		stateStore = store.NewMirroredStore(store.NewPostgresStore(db.Pool), fsStore, logger)
	} else {
		logger.Warn("No durable backend configured, running on the filesystem mirror only")
	}

	var redis *database.RedisClient
	var publisher services.SnapshotPublisher
	if cfg.Redis.Host != "" {
		redis, err = database.NewRedisConnection(cfg.Redis)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		publisher = services.NewRedisSnapshotPublisher(redis, logger)
	}

	var market marketfeed.Fetcher
	if cfg.MarketFeed.ServiceURL != "" {
		market = marketfeed.NewClient(marketfeed.Config{
			ServiceURL: cfg.MarketFeed.ServiceURL,
			Timeout:    time.Duration(cfg.MarketFeed.TimeoutSeconds) * time.Second,
		})
	}

	oracleClient := oracle.NewClient(oracle.Config{
		BaseURL: cfg.Oracle.BaseURL,
		APIKey:  cfg.Oracle.APIKey,
		Timeout: time.Duration(cfg.Oracle.TimeoutSeconds) * time.Second,
	})

	catalog := services.DefaultCatalog()
	policy := models.PolicyThresholds{
		MaxAdjustmentsPerCycle: cfg.Governance.MaxAdjustmentsPerCycle,
		AbsoluteDeltaLimit:     services.AbsoluteDeltaLimit,
		RelativeDeltaLimit:     services.RelativeDeltaLimit,
		DailyBudgetUSD:         cfg.Governance.DailyBudgetUSD,
		ApplyEnabled:           cfg.Governance.ApplyOverrides,
	}

	snapshots := services.NewSnapshotService(stateStore, publisher, cfg.Governance.MaxAdjustmentsPerCycle, logger)
	matrix := services.NewMatrixBuilder(catalog, market, nil, policy, logger)
	budget := services.NewBudgetGate(cfg.Governance.DailyBudgetUSD,
		cfg.Oracle.InputCostPerMTok, cfg.Oracle.OutputCostPerMTok, logger)

	deps := services.OrchestratorDeps{
		Store:     stateStore,
		Oracle:    oracleClient,
		Matrix:    matrix,
		Budget:    budget,
		Snapshots: snapshots,
		Catalog:   catalog,
		Logger:    logger,
	}
	if notifier := services.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger); notifier != nil {
		deps.Notifier = notifier
	}

	orchestrator := services.NewOrchestrator(services.OrchestratorConfig{
		Enabled:         cfg.Governance.Enabled,
		ApplyOverrides:  cfg.Governance.ApplyOverrides,
		BatchSubmission: cfg.Governance.BatchSubmission,
		MaxOutputTokens: cfg.Oracle.MaxOutputTokens,
	}, deps)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, api.Deps{Store: stateStore, DB: db, Redis: redis})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("Governance API listening on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	schedulerCtx, stopScheduler := context.WithCancel(ctx)
	go runScheduler(schedulerCtx, orchestrator, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")
	stopScheduler()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Errorf("Tracer shutdown: %v", err)
	}
	logger.Info("Governor exited")
}

// runScheduler runs one cycle immediately, then on every top of the
// hour. A slow oracle never stalls the process: unfinished batches are
// simply reconciled on the next tick.
func runScheduler(ctx context.Context, orchestrator *services.Orchestrator, logger *logrus.Logger) {
	runOnce := func() {
		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		result, err := orchestrator.RunCycle(runCtx)
		if err != nil {
			logger.WithError(err).Error("Governance cycle failed")
			return
		}
		logger.WithFields(logrus.Fields{
			"cycle_id": result.CycleID,
			"status":   result.Status,
			"reason":   result.ReasonCode,
		}).Info("Governance cycle finished")
	}

	runOnce()
	for {
		next := time.Now().UTC().Truncate(time.Hour).Add(time.Hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
			runOnce()
		}
	}
}
