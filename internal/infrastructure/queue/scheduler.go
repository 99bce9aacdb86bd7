package queue

import (
	"context"
	"time"

	"storesync/internal/domain/instance"
	"storesync/internal/domain/task"
	"storesync/internal/domain/webhook"
	"storesync/pkg/logger"
)

// Scheduler periodically starts batch reconciliation passes for auto-sync
// instances and re-enqueues webhook deliveries whose task was lost between
// acknowledgment and execution.
type Scheduler struct {
	instances  *instance.Service
	tasks      task.Repository
	runner     *Runner
	configs    webhook.ConfigRepository
	deliveries webhook.DeliveryRepository

	scheduleInterval time.Duration
	sweepInterval    time.Duration
}

// SchedulerConfig tunes the scheduling loops.
type SchedulerConfig struct {
	ScheduleInterval time.Duration
	SweepInterval    time.Duration
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		ScheduleInterval: 15 * time.Minute,
		SweepInterval:    5 * time.Minute,
	}
}

// sweepMinAge keeps the sweep from racing an enqueue still in flight.
const sweepMinAge = time.Minute

// sweepBatchSize bounds one sweep pass per instance.
const sweepBatchSize = 100

// NewScheduler creates a scheduler.
func NewScheduler(
	instances *instance.Service,
	tasks task.Repository,
	runner *Runner,
	configs webhook.ConfigRepository,
	deliveries webhook.DeliveryRepository,
	cfg SchedulerConfig,
) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.ScheduleInterval <= 0 {
		cfg.ScheduleInterval = def.ScheduleInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Scheduler{
		instances:        instances,
		tasks:            tasks,
		runner:           runner,
		configs:          configs,
		deliveries:       deliveries,
		scheduleInterval: cfg.ScheduleInterval,
		sweepInterval:    cfg.SweepInterval,
	}
}

// Run executes both loops until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	scheduleTicker := time.NewTicker(s.scheduleInterval)
	defer scheduleTicker.Stop()
	sweepTicker := time.NewTicker(s.sweepInterval)
	defer sweepTicker.Stop()

	logger.Info(ctx, "scheduler started",
		"schedule_interval", s.scheduleInterval.String(),
		"sweep_interval", s.sweepInterval.String(),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "scheduler stopped")
			return ctx.Err()
		case <-scheduleTicker.C:
			if err := s.scheduleBatches(ctx); err != nil {
				logger.Error(ctx, "scheduled batch pass failed", "error", err)
			}
		case <-sweepTicker.C:
			if err := s.sweepDeliveries(ctx); err != nil {
				logger.Error(ctx, "delivery sweep failed", "error", err)
			}
		}
	}
}

// scheduleBatches submits one batch_sync parent per auto-sync instance,
// unless the previous pass is still live.
func (s *Scheduler) scheduleBatches(ctx context.Context) error {
	insts, err := s.instances.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, inst := range insts {
		if !inst.AutoSync {
			continue
		}
		live, err := s.hasLiveBatch(ctx, inst)
		if err != nil {
			logger.Error(ctx, "batch liveness check failed",
				"instance_id", inst.ID.String(), "error", err)
			continue
		}
		if live {
			logger.Debug(ctx, "previous batch pass still running, skipping",
				"instance_id", inst.ID.String())
			continue
		}

		parent, err := task.New(inst.ID, task.KindBatchSync, nil)
		if err != nil {
			return err
		}
		if err := s.runner.Submit(ctx, parent); err != nil {
			logger.Error(ctx, "failed to submit batch pass",
				"instance_id", inst.ID.String(), "error", err)
			continue
		}
		logger.Info(ctx, "batch pass scheduled",
			"instance_id", inst.ID.String(),
			"task_id", parent.ID.String(),
		)
	}
	return nil
}

func (s *Scheduler) hasLiveBatch(ctx context.Context, inst *instance.Instance) (bool, error) {
	kind := task.KindBatchSync
	recent, err := s.tasks.List(ctx, inst.ID, task.ListFilter{
		Kind:  &kind,
		Limit: 5,
	})
	if err != nil {
		return false, err
	}
	for _, t := range recent {
		if !t.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

// sweepDeliveries re-enqueues pending deliveries on active topics. These are
// deliveries acknowledged to the storefront whose task enqueue failed, or
// that were archived while their topic was paused and the topic has since
// resumed.
func (s *Scheduler) sweepDeliveries(ctx context.Context) error {
	insts, err := s.instances.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, inst := range insts {
		pending, err := s.deliveries.ListByState(ctx, inst.ID, webhook.DeliveryPending, sweepBatchSize)
		if err != nil {
			logger.Error(ctx, "pending delivery listing failed",
				"instance_id", inst.ID.String(), "error", err)
			continue
		}

		cutoff := time.Now().UTC().Add(-sweepMinAge)
		for _, d := range pending {
			if d.ReceivedAt.After(cutoff) {
				continue
			}
			cfg, err := s.configs.GetByID(ctx, d.ConfigID)
			if err != nil {
				continue
			}
			if cfg.Status != webhook.ConfigActive {
				continue
			}
			if err := s.runner.Enqueue(ctx, d); err != nil {
				logger.Error(ctx, "delivery re-enqueue failed",
					"delivery_id", d.ID.String(), "error", err)
				continue
			}
			logger.Info(ctx, "pending delivery re-enqueued",
				"delivery_id", d.ID.String(),
				"topic", d.Topic,
			)
		}
	}
	return nil
}
