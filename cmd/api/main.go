package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/mapsmith/backend/internal/api/handlers"
	"github.com/mapsmith/backend/internal/cache/redis"
	"github.com/mapsmith/backend/internal/customfield"
	"github.com/mapsmith/backend/internal/importer"
	"github.com/mapsmith/backend/internal/learning"
	"github.com/mapsmith/backend/internal/metrics"
	"github.com/mapsmith/backend/internal/middleware/ratelimit"
	"github.com/mapsmith/backend/internal/middleware/security"
	"github.com/mapsmith/backend/internal/middleware/validation"
	"github.com/mapsmith/backend/internal/storage/sqlite"
	"github.com/mapsmith/backend/pkg/config"
	appLogger "github.com/mapsmith/backend/pkg/logger"
	"github.com/mapsmith/backend/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Mapsmith API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var statsCache customfield.StatsCache
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.StatsTTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		statsCache = redisClient
	}

	learner := learning.NewLearner(sqliteClient)
	registry := customfield.NewRegistry(sqliteClient, statsCache)
	processor := importer.NewProcessor(sqliteClient, learner, registry)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go runRetentionSweep(sweepCtx, learner, cfg.Maintenance)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{Logger: appLogger.Log})
	defer limiter.Stop()
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: appLogger.Log}))

	clientHandler := handlers.NewClientHandler(sqliteClient)
	mappingHandler := handlers.NewMappingHandler(processor, learner)
	customFieldHandler := handlers.NewCustomFieldHandler(registry)
	importHandler := handlers.NewImportHandler(processor, sqliteClient)

	api := app.Group("/api/v1")

	api.Post("/clients", clientHandler.CreateClient)
	api.Get("/clients/:clientId", clientHandler.GetClient)

	api.Post("/clients/:clientId/columns/analyze", mappingHandler.AnalyzeColumns)
	api.Post("/columns/validate", mappingHandler.ValidateColumn)
	api.Post("/clients/:clientId/corrections", mappingHandler.StoreCorrections)
	api.Post("/clients/:clientId/boosts", mappingHandler.GetLearnedBoosts)
	api.Get("/clients/:clientId/mapping-stats", mappingHandler.GetMappingStats)

	api.Get("/clients/:clientId/custom-fields", customFieldHandler.ListFields)
	api.Post("/clients/:clientId/custom-fields/discover", customFieldHandler.DiscoverFields)
	api.Get("/clients/:clientId/custom-fields/stats", customFieldHandler.GetStats)
	api.Get("/clients/:clientId/custom-fields/aggregates", customFieldHandler.GetAggregates)
	api.Get("/clients/:clientId/custom-fields/:field/distribution", customFieldHandler.GetDistribution)
	api.Delete("/clients/:clientId/custom-fields/:fieldId", customFieldHandler.DeleteField)

	api.Post("/clients/:clientId/imports", importHandler.ProcessImport)
	api.Get("/imports/:batchId", importHandler.GetBatch)

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// runRetentionSweep purges stale mapping corrections on a timer so the
// learner never boosts from history old enough to be noise.
func runRetentionSweep(ctx context.Context, learner *learning.Learner, cfg config.MaintenanceConfig) {
	interval := time.Duration(cfg.SweepIntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		retryCfg := retry.DefaultConfig()
		retryCfg.Logger = appLogger.Log

		deleted, err := retry.DoWithResult(ctx, retryCfg, func() (int64, error) {
			return learner.CleanupOldCorrections(ctx, cfg.CorrectionRetentionDays)
		})
		if err != nil {
			appLogger.Error("Retention sweep failed", zap.Error(err))
			continue
		}

		appLogger.Info("Retention sweep completed",
			zap.Int64("deleted", deleted),
			zap.Int("retention_days", cfg.CorrectionRetentionDays),
		)
	}
}
