package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/timmy/conveyor/internal/api"
	"github.com/timmy/conveyor/internal/api/handler"
	"github.com/timmy/conveyor/internal/config"
	"github.com/timmy/conveyor/internal/integration"
	"github.com/timmy/conveyor/internal/integration/inventory"
	"github.com/timmy/conveyor/internal/integration/marketplace"
	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/repository"
	"github.com/timmy/conveyor/internal/service"
	"github.com/timmy/conveyor/internal/source"
	"github.com/timmy/conveyor/internal/source/manifest"
	"github.com/timmy/conveyor/internal/storage"
)

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("conveyor-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Item store
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	products := repository.NewProductRepository(db)

	// Stage adapters
	if err := cfg.Inventory.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid inventory config")
	}
	if err := cfg.Marketplace.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid marketplace config")
	}
	inventoryClient, err := inventory.NewClient(&cfg.Inventory)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize inventory client")
	}

	var mirrorStore storage.ObjectStorage
	if cfg.Marketplace.MirrorImages {
		mirrorStore, err = storage.NewStorage(&cfg.Storage)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if s3Store, ok := mirrorStore.(*storage.S3Storage); ok {
			if err := s3Store.EnsureBucket(ctx); err != nil {
				appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
			}
		}
	}
	marketplaceClient := marketplace.NewClient(&cfg.Marketplace, mirrorStore)

	// Per-product exclusion
	var guard service.InFlightGuard = service.NewMemoryGuard()
	if cfg.Conveyor.LockBackend == "redis" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			appLogger.WithError(err).Fatal("Failed to connect to redis")
		}
		guard = service.NewRedisGuard(redisClient, "", cfg.Conveyor.LockTTL)
		appLogger.WithField("addr", cfg.Redis.Addr()).Info("Using redis in-flight guard")
	}

	// Services
	metrics := service.NewMetrics()
	limiter := rate.NewLimiter(rate.Limit(cfg.Conveyor.RatePerSecond), cfg.Conveyor.Burst)
	logs := service.NewLogBuffer(cfg.Conveyor.LogCapacity)

	conveyor := service.NewConveyor(
		products,
		service.Adapters{
			Inventory: inventoryClient,
			Stock:     inventoryClient,
			Listing:   marketplaceClient,
		},
		guard,
		limiter,
		metrics,
		&service.ConveyorConfig{SupplyQuantity: cfg.Conveyor.SupplyQuantity},
	)

	runner := service.NewRunner(conveyor, products, limiter, logs, metrics, &service.RunnerConfig{
		Workers:          cfg.Conveyor.Workers,
		IdlePollInterval: cfg.Conveyor.IdlePollInterval,
		AutoRetryErrors:  cfg.Conveyor.AutoRetryErrors,
		MaxStoreFailures: cfg.Conveyor.MaxStoreFailures,
	})

	probes := service.HealthProbes{
		Inventory:   inventoryClient,
		Marketplace: marketplaceClient,
		Store:       products,
	}
	if cfg.Discovery.HealthURL != "" {
		probes.Discovery = integration.NewHTTPProber(cfg.Discovery.HealthURL, cfg.Discovery.Timeout)
	}
	monitor := service.NewHealthMonitor(probes, &cfg.Health, metrics)
	if cfg.Health.Interval > 0 {
		go monitor.Run(ctx, cfg.Health.Interval)
	}

	advisor := service.NewAdvisorService(&cfg.Advisor, products, logs)
	if advisor.IsEnabled() {
		appLogger.WithField("model", cfg.Advisor.Model).Info("Advisor model enabled")
	}

	importer := service.NewImportService(products, 0)
	sources := map[string]handler.SourceFactory{}
	if path := cfg.Discovery.ManifestPath; path != "" {
		sources["manifest"] = func() source.Source { return manifest.NewAdapter(path) }
	}

	// Recover products left in processing by a previous crash
	if cfg.Conveyor.RecoverOnStart {
		n, err := products.ResetProcessing(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to reset processing products")
		}
		if n > 0 {
			appLogger.WithField("count", n).Warn("Recovered products left in processing")
		}
	}
	if cfg.Conveyor.Autostart {
		runner.Start()
		appLogger.WithField("workers", cfg.Conveyor.Workers).Info("Conveyor started")
	}

	router := api.SetupRouter(&api.Services{
		Runner:   runner,
		Conveyor: conveyor,
		Stats:    service.NewStatsService(products),
		Health:   monitor,
		Advisor:  advisor,
		Importer: importer,
		Products: products,
		Sources:  sources,
		Metrics:  metrics,
		Logger:   appLogger,
	}, &cfg.Server)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// In-flight advances finish so no product is left in processing.
	runner.Stop()
	if err := runner.Wait(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Conveyor did not drain before shutdown")
	}
	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
