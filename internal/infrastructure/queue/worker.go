package queue

import (
	"context"
	"fmt"
	"time"

	appctx "storesync/internal/core/context"
	"storesync/internal/core/tx"
	"storesync/internal/domain/task"
	"storesync/pkg/logger"
)

// Worker polls the task queue and executes claimed tasks. Multiple workers
// can run against the same database; SKIP LOCKED in the claim query keeps
// them from colliding.
type Worker struct {
	repo      task.Repository
	tracker   *task.Tracker
	txManager tx.Manager
	handlers  map[task.Kind]Handler

	pollInterval time.Duration
	batchSize    int
}

// WorkerConfig tunes the polling loop.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// DefaultWorkerConfig returns production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    20,
	}
}

// NewWorker creates a queue worker.
func NewWorker(repo task.Repository, tracker *task.Tracker, txManager tx.Manager, handlers map[task.Kind]Handler, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWorkerConfig().BatchSize
	}
	return &Worker{
		repo:         repo,
		tracker:      tracker,
		txManager:    txManager,
		handlers:     handlers,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info(ctx, "queue worker started",
		"poll_interval", w.pollInterval.String(),
		"batch_size", w.batchSize)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "queue worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.runOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Error(ctx, "queue poll failed", "error", err)
			}
		}
	}
}

// runOnce claims one batch and executes it. Claims happen inside a short
// transaction; execution happens outside so slow ERP calls do not hold row
// locks.
func (w *Worker) runOnce(ctx context.Context) error {
	var claimed []*task.Task
	err := w.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = w.repo.ClaimDue(ctx, time.Now().UTC(), w.batchSize)
		return err
	})
	if err != nil {
		return fmt.Errorf("claim due tasks: %w", err)
	}

	for _, t := range claimed {
		w.execute(ctx, t)
	}
	return nil
}

func (w *Worker) execute(ctx context.Context, t *task.Task) {
	ctx = appctx.WithScope(ctx, &appctx.SyncScope{
		InstanceID: t.InstanceID.String(),
		TaskID:     t.ID.String(),
	})

	handler, ok := w.handlers[t.Kind]
	if !ok {
		// A kind this binary does not know; fail it terminally rather
		// than leave it claimed forever.
		w.fail(ctx, t, fmt.Errorf("no handler for task kind %q", t.Kind))
		return
	}

	started := time.Now()
	result, err := handler(ctx, t)
	if err != nil {
		w.fail(ctx, t, err)
		return
	}

	// A nil result with no error means the handler left the task open
	// (a batch parent waiting for its children).
	if result == nil && t.Kind == task.KindBatchSync {
		return
	}

	if err := w.tracker.Complete(ctx, t, result); err != nil {
		logger.Error(ctx, "task completion failed",
			"error", err, "task_id", t.ID.String())
		return
	}
	logger.Debug(ctx, "task finished",
		"kind", string(t.Kind),
		"duration", time.Since(started).String())
}

func (w *Worker) fail(ctx context.Context, t *task.Task, cause error) {
	retryAt := time.Now().UTC().Add(Backoff(t.RetryCount))
	if err := w.tracker.Fail(ctx, t, cause, retryAt); err != nil {
		logger.Error(ctx, "task failure handling failed",
			"error", err, "task_id", t.ID.String())
	}
}
