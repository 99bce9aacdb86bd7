// Package queue implements the PostgreSQL-backed task queue: submission,
// polling workers claiming rows with SKIP LOCKED, and the per-kind
// execution handlers.
package queue

import (
	"context"
	"fmt"

	"storesync/internal/domain/task"
	"storesync/internal/domain/webhook"
)

// Runner submits tasks through the tracker, which enforces parent liveness.
// The task row itself is the queue entry; there is no separate broker.
type Runner struct {
	tracker *task.Tracker
}

// Compile-time interface checks.
var (
	_ task.Runner       = (*Runner)(nil)
	_ webhook.Processor = (*Runner)(nil)
)

// NewRunner creates a task runner.
func NewRunner(tracker *task.Tracker) *Runner {
	return &Runner{tracker: tracker}
}

// Submit durably enqueues a task.
func (r *Runner) Submit(ctx context.Context, t *task.Task) error {
	if err := r.tracker.Create(ctx, t); err != nil {
		return fmt.Errorf("submit task: %w", err)
	}
	return nil
}

// Enqueue wraps a webhook delivery into a task.
func (r *Runner) Enqueue(ctx context.Context, d *webhook.Delivery) error {
	t, err := task.New(d.InstanceID, task.KindWebhookEvent, task.WebhookEventPayload{
		DeliveryID: d.ID,
	})
	if err != nil {
		return err
	}
	return r.Submit(ctx, t)
}
