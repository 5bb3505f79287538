package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/timmy/conveyor/internal/api/handler"
	"github.com/timmy/conveyor/internal/api/middleware"
	"github.com/timmy/conveyor/internal/config"
	"github.com/timmy/conveyor/internal/logger"
	"github.com/timmy/conveyor/internal/service"
)

// Services bundles everything the HTTP layer calls into.
type Services struct {
	Runner   *service.Runner
	Conveyor *service.Conveyor
	Stats    *service.StatsService
	Health   *service.HealthMonitor
	Advisor  *service.AdvisorService
	Importer *service.ImportService
	Products handler.ProductReader
	Sources  map[string]handler.SourceFactory
	Metrics  *service.Metrics
	Logger   *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg *config.ServerConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(svc.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(svc.Health)
	conveyorHandler := handler.NewConveyorHandler(svc.Runner, svc.Advisor)
	productHandler := handler.NewProductHandler(svc.Products, svc.Conveyor)
	statsHandler := handler.NewStatsHandler(svc.Stats)

	// Liveness
	r.GET("/health", healthHandler.Health)

	if svc.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(svc.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		// Run control
		v1.POST("/conveyor/start", conveyorHandler.Start)
		v1.POST("/conveyor/stop", conveyorHandler.Stop)
		v1.GET("/conveyor/status", conveyorHandler.Status)
		v1.GET("/conveyor/logs/stream", conveyorHandler.StreamLogs)
		v1.POST("/conveyor/advice", conveyorHandler.Advice)

		// Products
		v1.GET("/products", productHandler.ListProducts)
		v1.GET("/products/:id", productHandler.GetProduct)
		v1.POST("/products/:id/sync", productHandler.SyncProduct)
		v1.GET("/errors", productHandler.ListErrors)

		if svc.Importer != nil {
			importHandler := handler.NewImportHandler(svc.Importer, svc.Sources)
			v1.POST("/products/import", importHandler.TriggerImport)
			v1.GET("/products/import/status", importHandler.GetImportStatus)
		}

		v1.GET("/stats", statsHandler.GetStats)
		v1.GET("/health", healthHandler.Dependencies)
	}

	return r
}
