package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ae-safety-server/internal/api"
	"github.com/ae-safety-server/internal/cache"
	"github.com/ae-safety-server/internal/config"
	"github.com/ae-safety-server/internal/database"
	"github.com/ae-safety-server/internal/domain"
	"github.com/ae-safety-server/internal/ledger"
	"github.com/ae-safety-server/internal/logging"
	"github.com/ae-safety-server/internal/pipeline"
	"github.com/ae-safety-server/internal/stats"
	"github.com/ae-safety-server/internal/store"
	"github.com/ae-safety-server/pkg/inference"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := logging.NewLogger(&cfg.Logging)
	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("starting adverse-event safety server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Case document store
	caseStore, err := openStore(ctx, configManager, logger)
	if err != nil {
		log.Fatalf("Failed to open case store: %v", err)
	}
	defer caseStore.Close()

	// Optional completed-case read cache
	var caseCache *cache.CaseCache
	if cfg.Cache.Enabled {
		var redisClient *redis.Client
		if cfg.Cache.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.Cache.RedisURL)
			if err != nil {
				log.Fatalf("Invalid redis URL: %v", err)
			}
			redisClient = redis.NewClient(opts)
			defer redisClient.Close()
		}
		caseCache, err = cache.New(&cfg.Cache, redisClient, logger)
		if err != nil {
			log.Fatalf("Failed to build case cache: %v", err)
		}
	}

	// Inference collaborators with circuit breakers
	collabs := inference.NewSetFromConfig(&cfg.Inference, logger)

	metrics := stats.NewCollector()
	provenance := ledger.New(caseStore, logger)
	runner := pipeline.NewStageRunner(caseStore, provenance, cfg.Inference.Foundation.Timeout, logger)
	orch := pipeline.NewOrchestrator(caseStore, runner, collabs, metrics, cfg.Pipeline.LatencyBudget, logger)
	registry := pipeline.NewRegistry(caseStore, orch, caseCache, logger)

	server := api.NewServer(cfg, registry, provenance, caseStore, collabs, metrics, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("shutdown signal received, gracefully shutting down")
		cancel()
	}()

	// Start server
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

	logger.Info("server stopped")
}

// openStore builds the configured store backend, running migrations for
// Postgres.
func openStore(ctx context.Context, cm *config.Manager, logger *logrus.Logger) (domain.CaseStore, error) {
	cfg := cm.GetConfig()

	switch strings.ToLower(cfg.Store.Backend) {
	case "postgres":
		db, err := database.NewConnection(ctx, &cfg.Store.Postgres, logger)
		if err != nil {
			return nil, err
		}

		runner, err := database.NewMigrationRunner(cm.GetPostgresURL(), cfg.Store.Postgres.MigrationsPath, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := runner.Up(); err != nil {
			runner.Close()
			db.Close()
			return nil, err
		}
		runner.Close()

		return store.NewPostgresStore(db, logger)
	default:
		return store.NewSQLiteStore(cfg.Store.SQLite.Path, logger)
	}
}
