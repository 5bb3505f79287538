package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/timmy/conveyor/internal/config"
	"github.com/timmy/conveyor/internal/domain"
	"github.com/timmy/conveyor/internal/integration/inventory"
	"github.com/timmy/conveyor/internal/integration/marketplace"
	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/repository"
	"github.com/timmy/conveyor/internal/service"
	"github.com/timmy/conveyor/internal/source/manifest"
	"github.com/timmy/conveyor/internal/storage"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "conveyor-cli",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	importPath := flag.String("import", "", "JSONL manifest to load into the backlog")
	limit := flag.Int("limit", 0, "Maximum number of manifest items to import (0 = all)")
	syncID := flag.String("sync", "", "Force-sync one product by id")
	drain := flag.Int("drain", 0, "Advance up to N idle products, oldest first")
	retryErrors := flag.Bool("retry", false, "Include products in error when draining")
	showStats := flag.Bool("stats", false, "Print backlog statistics")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	products := repository.NewProductRepository(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, canceling...")
		cancel()
	}()

	if *importPath != "" {
		importer := service.NewImportService(products, 0)
		stats, err := importer.ImportFromSource(ctx, manifest.NewAdapter(*importPath), *limit)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to import manifest")
		}
		appLogger.WithFields(logger.Fields{
			"fetched":  stats.Fetched,
			"inserted": stats.Inserted,
			"existing": stats.Existing,
		}).Info("Import completed")
	}

	if *syncID != "" || *drain > 0 {
		conveyor, limiter := buildConveyor(ctx, cfg, products, appLogger)

		if *syncID != "" {
			outcome, err := conveyor.ForceSync(ctx, *syncID)
			if err != nil {
				appLogger.WithError(err).Fatal("Force-sync failed")
			}
			printJSON(outcome)
		}

		if *drain > 0 {
			statuses := []domain.PipelineStatus{domain.PipelineStatusIdle}
			if *retryErrors {
				statuses = append(statuses, domain.PipelineStatusError)
			}
			var done, failed int
			for i := 0; i < *drain && ctx.Err() == nil; i++ {
				next, err := products.NextEligible(ctx, statuses, nil, 1)
				if err != nil {
					appLogger.WithError(err).Fatal("Failed to select next product")
				}
				if len(next) == 0 {
					break
				}
				if err := limiter.Wait(ctx); err != nil {
					break
				}
				outcome, err := conveyor.Advance(ctx, next[0].ID)
				if err != nil {
					appLogger.WithError(err).Fatal("Failed to advance product")
				}
				switch outcome.Status {
				case service.OutcomeDone:
					done++
				case service.OutcomeError:
					failed++
					appLogger.WithFields(logger.Fields{
						logger.FieldProductID: outcome.ProductID,
						logger.FieldStage:     outcome.Stage,
					}).Warn(outcome.Reason)
				}
			}
			appLogger.WithFields(logger.Fields{
				"done":   done,
				"failed": failed,
			}).Info("Drain completed")
		}
	}

	if *showStats {
		stats, err := service.NewStatsService(products).Compute(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to compute stats")
		}
		printJSON(stats)
	}
}

// buildConveyor wires the stage adapters the same way the API server does, with an in-process guard.
func buildConveyor(ctx context.Context, cfg *config.Config, products *repository.ProductRepository, appLogger *logger.Logger) (*service.Conveyor, *rate.Limiter) {
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

	limiter := rate.NewLimiter(rate.Limit(cfg.Conveyor.RatePerSecond), cfg.Conveyor.Burst)
	conveyor := service.NewConveyor(
		products,
		service.Adapters{
			Inventory: inventoryClient,
			Stock:     inventoryClient,
			Listing:   marketplaceClient,
		},
		service.NewMemoryGuard(),
		limiter,
		nil,
		&service.ConveyorConfig{SupplyQuantity: cfg.Conveyor.SupplyQuantity},
	)
	return conveyor, limiter
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
