// Package main is the entry point for the storesync background worker.
// It runs the task queue poller and the scheduler for automatic sync passes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"storesync/internal/config"
	"storesync/internal/domain/engine"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/task"
	"storesync/internal/domain/webhook"
	"storesync/internal/infrastructure/gateway"
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

	ctx, cancel := context.WithCancel(logger.WithLogger(context.Background(), log))
	defer cancel()

	log.Info("starting storesync worker")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.Database.URL)
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txManager := postgres.NewTxManager(pool)

	// --- Repositories ---
	instanceRepo := sync_repo.NewInstanceRepo(txManager)
	ledgerRepo := sync_repo.NewLedgerRepo(txManager)
	configRepo := sync_repo.NewWebhookConfigRepo(txManager)
	deliveryRepo := sync_repo.NewWebhookDeliveryRepo(txManager)
	taskRepo := sync_repo.NewTaskRepo(txManager)

	// --- Gateways ---
	store := gateway.NewStorefrontClient(cfg.Worker.StorefrontTimeout)
	erp := gateway.NewERPClient(gateway.ERPConfig{
		BaseURL:  cfg.ERP.BaseURL,
		APIKey:   cfg.ERP.APIKey,
		Database: cfg.ERP.Database,
		Timeout:  cfg.ERP.Timeout,
	})

	// --- Services ---
	instanceService := instance.NewService(instanceRepo, txManager)
	tracker := task.NewTracker(taskRepo, txManager)
	runner := queue.NewRunner(tracker)
	webhookService := webhook.NewService(instanceRepo, configRepo, deliveryRepo, store, runner, txManager)

	policies, err := engine.NewPolicyEvaluator()
	if err != nil {
		log.Fatalw("failed to initialize policy evaluator", "error", err)
	}
	eng := engine.New(ledgerRepo, erp, store, policies, txManager)

	executor := queue.NewExecutor(instanceService, eng, webhookService, erp, runner)
	worker := queue.NewWorker(taskRepo, tracker, txManager, executor.Handlers(), queue.WorkerConfig{
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
	})
	scheduler := queue.NewScheduler(instanceService, taskRepo, runner, configRepo, deliveryRepo, queue.SchedulerConfig{
		ScheduleInterval: cfg.Worker.ScheduleInterval,
		SweepInterval:    cfg.Worker.SweepInterval,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorw("worker stopped with error", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Errorw("scheduler stopped with error", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker...")
	cancel()
	wg.Wait()
	log.Info("worker stopped")
}
