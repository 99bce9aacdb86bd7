// Package main is the entry point for the storesync API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storesync/internal/config"
	"storesync/internal/domain/engine"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/task"
	"storesync/internal/domain/webhook"
	"storesync/internal/infrastructure/gateway"
	v1 "storesync/internal/infrastructure/http/v1"
	"storesync/internal/infrastructure/queue"
	"storesync/internal/infrastructure/storage/postgres"
	"storesync/internal/infrastructure/storage/postgres/sync_repo"
	"storesync/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Development: cfg.App.Development(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)
	log.Info("starting storesync server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txManager := postgres.NewTxManager(pool)

	// --- Repositories ---
	instanceRepo := sync_repo.NewInstanceRepo(txManager)
	ledgerRepo := sync_repo.NewLedgerRepo(txManager)
	configRepo := sync_repo.NewWebhookConfigRepo(txManager)
	deliveryRepo := sync_repo.NewWebhookDeliveryRepo(txManager)
	taskRepo := sync_repo.NewTaskRepo(txManager)

	// --- Gateways ---
	store := gateway.NewStorefrontClient(cfg.Worker.StorefrontTimeout)

	// --- Services ---
	instanceService := instance.NewService(instanceRepo, txManager)
	tracker := task.NewTracker(taskRepo, txManager)
	runner := queue.NewRunner(tracker)
	webhookService := webhook.NewService(instanceRepo, configRepo, deliveryRepo, store, runner, txManager)

	// Skip policies are compiled at registration time so a bad CEL
	// expression is rejected at the API, not during a sync pass.
	policies, err := engine.NewPolicyEvaluator()
	if err != nil {
		log.Fatalw("failed to initialize policy evaluator", "error", err)
	}

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:      pool.Unwrap(),
		Logger:    log,
		Instances: instanceService,
		Webhooks:  webhookService,
		Records:   ledgerRepo,
		Tracker:   tracker,
		Runner:    runner,
		Policies:  policies,
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
