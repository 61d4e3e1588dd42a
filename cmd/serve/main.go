package main

import (
	"context"
	"errors"
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

	"github.com/quakewatch/pipeline/internal/api/handlers"
	"github.com/quakewatch/pipeline/internal/baseline"
	"github.com/quakewatch/pipeline/internal/drift"
	"github.com/quakewatch/pipeline/internal/metrics"
	"github.com/quakewatch/pipeline/pkg/config"
	appLogger "github.com/quakewatch/pipeline/pkg/logger"
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

	metrics.Init()

	appLogger.Info("Starting drift monitor server")

	store, err := baseline.NewStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("Failed to connect to baseline store", zap.Error(err))
	}
	defer store.Close()

	monitor := drift.NewMonitor(nil, cfg.Drift.K, cfg.Drift.WindowSize)
	loadBaseline(store, monitor)

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
		AllowMethods: "GET, POST, OPTIONS",
	}))

	driftHandler := handlers.NewDriftHandler(monitor)

	api := app.Group("/api/v1")
	api.Post("/score", driftHandler.Score)
	api.Get("/drift", driftHandler.Stats)
	api.Post("/baseline/reload", func(c *fiber.Ctx) error {
		version, err := reloadBaseline(store, monitor)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status":  "reloaded",
			"version": version,
		})
	})

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

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

func loadBaseline(store *baseline.Store, monitor *drift.Monitor) {
	if _, err := reloadBaseline(store, monitor); err != nil {
		if errors.Is(err, baseline.ErrNoBaseline) {
			appLogger.Warn("No baseline published yet, scoring unavailable until the next pipeline run")
			return
		}
		appLogger.Warn("Failed to load baseline", zap.Error(err))
	}
}

func reloadBaseline(store *baseline.Store, monitor *drift.Monitor) (string, error) {
	b, version, err := store.LoadCurrent(context.Background())
	if err != nil {
		return "", err
	}
	monitor.SetBaseline(b)
	appLogger.Info("Baseline loaded",
		zap.String("version", version),
		zap.Int("features", len(b.Features)),
	)
	return version, nil
}
