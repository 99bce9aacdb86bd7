package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storesync/internal/core/apperror"
	"storesync/internal/domain/catalog"
	"storesync/internal/domain/engine"
	"storesync/internal/domain/gateway"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/task"
	"storesync/internal/domain/webhook"
	"storesync/pkg/logger"
)

// Handler executes one task kind and returns the result to store on success.
type Handler func(ctx context.Context, t *task.Task) (any, error)

// Executor maps task kinds to their handlers.
type Executor struct {
	instances *instance.Service
	engine    *engine.Engine
	webhooks  *webhook.Service
	erp       gateway.ERP
	runner    *Runner
}

// NewExecutor creates an executor wiring the domain services.
func NewExecutor(instances *instance.Service, eng *engine.Engine, webhooks *webhook.Service, erp gateway.ERP, runner *Runner) *Executor {
	return &Executor{
		instances: instances,
		engine:    eng,
		webhooks:  webhooks,
		erp:       erp,
		runner:    runner,
	}
}

// Handlers returns the kind dispatch table.
func (e *Executor) Handlers() map[task.Kind]Handler {
	return map[task.Kind]Handler{
		task.KindReconcileEntity: e.reconcileEntity,
		task.KindFullSync:        e.fullSync,
		task.KindWebhookEvent:    e.webhookEvent,
		task.KindBatchSync:       e.batchSync,
	}
}

func (e *Executor) reconcileEntity(ctx context.Context, t *task.Task) (any, error) {
	var payload task.ReconcileEntityPayload
	if err := t.DecodePayload(&payload); err != nil {
		return nil, err
	}
	kind, err := catalog.ParseKind(payload.Kind)
	if err != nil {
		return nil, err
	}

	inst, err := e.instances.GetByID(ctx, t.InstanceID)
	if err != nil {
		return nil, err
	}

	rec, err := e.engine.ReconcileEntity(ctx, inst, kind, payload.ErpID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"outcome": rec.Outcome()}, nil
}

func (e *Executor) fullSync(ctx context.Context, t *task.Task) (any, error) {
	var payload task.FullSyncPayload
	if err := t.DecodePayload(&payload); err != nil {
		return nil, err
	}
	kind, err := catalog.ParseKind(payload.Kind)
	if err != nil {
		return nil, err
	}

	inst, err := e.instances.GetByID(ctx, t.InstanceID)
	if err != nil {
		return nil, err
	}

	summary, err := e.engine.ReconcileKind(ctx, inst, kind, payload.Since, 0)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "full sync pass finished",
		"kind", payload.Kind,
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
		"errors", summary.Errors)
	return summary, nil
}

// webhookEvent processes one stored delivery: the payload's entity id is
// reconciled against a fresh ERP snapshot, so a storefront-side change
// flows through the same conflict resolution as a scheduled pass.
func (e *Executor) webhookEvent(ctx context.Context, t *task.Task) (any, error) {
	var payload task.WebhookEventPayload
	if err := t.DecodePayload(&payload); err != nil {
		return nil, err
	}

	inst, err := e.instances.GetByID(ctx, t.InstanceID)
	if err != nil {
		return nil, err
	}

	var outcome any
	err = e.webhooks.ProcessDelivery(ctx, payload.DeliveryID, func(ctx context.Context, d *webhook.Delivery) error {
		kind, _, err := catalog.ParseTopic(d.Topic)
		if err != nil {
			return err
		}

		body, err := d.Payload()
		if err != nil {
			return err
		}
		var event struct {
			ID int64 `json:"id"`
		}
		if err := json.Unmarshal(body, &event); err != nil {
			return apperror.NewValidation("webhook payload is not valid JSON").
				WithCause(err)
		}
		if event.ID <= 0 {
			return apperror.NewValidation("webhook payload has no entity id")
		}

		rec, err := e.engine.ReconcileFromStore(ctx, inst, kind, event.ID)
		if err != nil {
			return err
		}
		if rec == nil {
			outcome = map[string]any{"outcome": "ignored"}
			return nil
		}
		outcome = map[string]any{"outcome": rec.Outcome()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// batchSync enumerates the full catalog for each auto-synced kind and fans
// out one reconcile_entity child per entity. Children execute independently;
// their failures land in the rollup, not on the parent. Only a failed
// enumeration fails the parent itself. The parent stays open until the
// rollup closes it.
func (e *Executor) batchSync(ctx context.Context, t *task.Task) (any, error) {
	inst, err := e.instances.GetByID(ctx, t.InstanceID)
	if err != nil {
		return nil, err
	}

	var spawned int
	for _, kind := range catalog.Kinds() {
		if !inst.SyncsKind(kind) {
			continue
		}
		snaps, err := e.erp.ListChangedSince(ctx, inst, kind, time.Time{}, 0)
		if err != nil {
			return nil, fmt.Errorf("enumerate %s: %w", kind, err)
		}
		for _, snap := range snaps {
			child, err := task.New(inst.ID, task.KindReconcileEntity, task.ReconcileEntityPayload{
				Kind:  string(kind),
				ErpID: snap.ID,
			})
			if err != nil {
				return nil, err
			}
			child.ParentID = &t.ID
			if err := e.runner.Submit(ctx, child); err != nil {
				return nil, fmt.Errorf("spawn %s child: %w", kind, err)
			}
			spawned++
		}
	}
	logger.Info(ctx, "batch pass fanned out", "children", spawned)
	if spawned == 0 {
		return map[string]any{"children": 0}, nil
	}
	// The result is written by the rollup; nil keeps the parent open.
	return nil, nil
}
