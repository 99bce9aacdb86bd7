// Package v1 provides HTTP API version 1.
package v1

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"storesync/internal/domain/engine"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/ledger"
	"storesync/internal/domain/task"
	"storesync/internal/domain/webhook"
	"storesync/internal/infrastructure/http/v1/handlers"
	"storesync/internal/infrastructure/http/v1/middleware"
	"storesync/pkg/logger"
)

// RouterConfig holds router dependencies.
type RouterConfig struct {
	// Pool is the database connection pool (for health checks).
	Pool *pgxpool.Pool

	// Logger for request logging.
	Logger *logger.Logger

	Instances *instance.Service
	Webhooks  *webhook.Service
	Records   ledger.Repository
	Tracker   *task.Tracker
	Runner    task.Runner

	// Policies compiles skip policies at registration time.
	Policies *engine.PolicyEvaluator
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Global middleware (order matters!)
	router.Use(middleware.Recovery())
	router.Use(middleware.Trace())
	router.Use(middleware.Logger(cfg.Logger))
	router.Use(middleware.ErrorHandler())

	// Health endpoints
	healthHandler := handlers.NewHealthHandler(cfg.Pool)
	health := router.Group("/health")
	{
		health.GET("/live", healthHandler.Live)
		health.GET("/ready", healthHandler.Ready)
		health.GET("/info", healthHandler.Info)
	}

	instanceHandler := handlers.NewInstanceHandler(cfg.Instances, cfg.Webhooks, cfg.Policies)
	ledgerHandler := handlers.NewLedgerHandler(cfg.Records)
	taskHandler := handlers.NewTaskHandler(cfg.Tracker, cfg.Runner, cfg.Instances)
	webhookHandler := handlers.NewWebhookHandler(cfg.Webhooks)

	v1 := router.Group("/api/v1")
	{
		instances := v1.Group("/instances")
		{
			instances.POST("", instanceHandler.Create)
			instances.GET("", instanceHandler.List)
			instances.GET("/:id", instanceHandler.Get)
			instances.PATCH("/:id", instanceHandler.Update)
			instances.DELETE("/:id", instanceHandler.Delete)

			instances.POST("/:id/webhooks", instanceHandler.RegisterWebhook)
			instances.GET("/:id/webhooks", instanceHandler.ListWebhooks)
			instances.PUT("/:id/webhooks/:webhookId/status", instanceHandler.SetWebhookStatus)
			instances.DELETE("/:id/webhooks/:webhookId", instanceHandler.RemoveWebhook)

			instances.GET("/:id/records", ledgerHandler.List)
			instances.GET("/:id/records/stats", ledgerHandler.Stats)
			instances.POST("/:id/records/mark-for-sync", ledgerHandler.MarkForSync)

			instances.GET("/:id/tasks", taskHandler.List)
			instances.POST("/:id/sync", taskHandler.SubmitSync)
		}

		tasks := v1.Group("/tasks")
		{
			tasks.GET("/:taskId", taskHandler.Get)
			tasks.POST("/:taskId/revoke", taskHandler.Revoke)
		}

		// The storefront delivers here; signature verification happens in
		// the ingestion service, not middleware, so the result can be
		// recorded per delivery.
		v1.POST("/webhooks/:id", webhookHandler.Receive)
	}

	return router
}
