package webhook

import (
	"context"
	"fmt"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/core/tx"
	"storesync/internal/domain/gateway"
	"storesync/internal/domain/instance"
	"storesync/pkg/logger"
)

// Result classifies an ingestion attempt for the HTTP layer. The storefront
// retries deliveries it considers failed, so only infrastructure errors are
// allowed to look like failures; everything else is acknowledged.
type Result string

const (
	// ResultAccepted means the delivery was stored and queued for processing.
	ResultAccepted Result = "accepted"
	// ResultDuplicate means the payload or event id was already received.
	ResultDuplicate Result = "duplicate"
	// ResultPaused means the topic is paused; acknowledged, not processed.
	ResultPaused Result = "paused"
	// ResultUnconfigured means no active config matches the delivery.
	ResultUnconfigured Result = "unconfigured"
	// ResultRejected means signature verification failed.
	ResultRejected Result = "rejected"
	// ResultError means storage failed; the storefront should retry.
	ResultError Result = "error"
)

// Processor hands an accepted delivery to the task orchestrator.
type Processor interface {
	Enqueue(ctx context.Context, d *Delivery) error
}

// Service implements webhook subscription management and delivery ingestion.
type Service struct {
	instances  instance.Repository
	configs    ConfigRepository
	deliveries DeliveryRepository
	store      gateway.Storefront
	processor  Processor
	txManager  tx.Manager
}

// NewService creates a webhook service.
func NewService(
	instances instance.Repository,
	configs ConfigRepository,
	deliveries DeliveryRepository,
	store gateway.Storefront,
	processor Processor,
	txManager tx.Manager,
) *Service {
	return &Service{
		instances:  instances,
		configs:    configs,
		deliveries: deliveries,
		store:      store,
		processor:  processor,
		txManager:  txManager,
	}
}

// RegisterTopic creates a config and provisions the webhook on the
// storefront. The config is persisted first so a crashed provisioning run
// leaves a visible config without a storefront id rather than an orphaned
// storefront webhook.
func (s *Service) RegisterTopic(ctx context.Context, inst *instance.Instance, topic, deliveryURL string) (*Config, error) {
	cfg := NewConfig(inst.ID, topic, deliveryURL)
	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.configs.Create(ctx, cfg)
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook config: %w", err)
	}

	storeID, err := s.store.RegisterWebhook(ctx, inst, topic, deliveryURL)
	if err != nil {
		return cfg, fmt.Errorf("provision storefront webhook: %w", err)
	}

	cfg.StoreWebhookID = &storeID
	if err := s.configs.Update(ctx, cfg); err != nil {
		return cfg, fmt.Errorf("store webhook id: %w", err)
	}
	logger.Info(ctx, "webhook registered",
		"topic", topic, "store_webhook_id", storeID)
	return cfg, nil
}

// RemoveTopic deletes a config and deprovisions the storefront webhook.
// Deliveries go with the config via cascade.
func (s *Service) RemoveTopic(ctx context.Context, inst *instance.Instance, cfgID id.ID) error {
	cfg, err := s.configs.GetByID(ctx, cfgID)
	if err != nil {
		return err
	}
	if cfg.StoreWebhookID != nil {
		if err := s.store.DeleteWebhook(ctx, inst, *cfg.StoreWebhookID); err != nil {
			// The storefront side may already be gone; log and continue.
			logger.Warn(ctx, "storefront webhook delete failed",
				"topic", cfg.Topic, "error", err.Error())
		}
	}
	return s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return s.configs.Delete(ctx, cfgID)
	})
}

// SetStatus pauses, resumes or disables a topic.
func (s *Service) SetStatus(ctx context.Context, cfgID id.ID, status ConfigStatus) (*Config, error) {
	if !status.Valid() {
		return nil, apperror.NewValidation("invalid webhook config status").
			WithDetail("value", string(status))
	}
	cfg, err := s.configs.GetByID(ctx, cfgID)
	if err != nil {
		return nil, err
	}
	cfg.Status = status
	if err := s.configs.Update(ctx, cfg); err != nil {
		return nil, fmt.Errorf("update webhook config: %w", err)
	}
	return cfg, nil
}

// ListConfigs retrieves an instance's webhook subscriptions.
func (s *Service) ListConfigs(ctx context.Context, instanceID id.ID) ([]*Config, error) {
	return s.configs.ListByInstance(ctx, instanceID)
}

// Ingest handles one inbound delivery: verify, deduplicate, store, enqueue.
// The returned error is non-nil only for ResultError.
func (s *Service) Ingest(ctx context.Context, instanceID id.ID, topic, eventID string, payload []byte, signature string) (Result, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if apperror.IsNotFound(err) {
		return ResultUnconfigured, nil
	}
	if err != nil {
		return ResultError, fmt.Errorf("load instance: %w", err)
	}

	cfg, err := s.configs.GetByTopic(ctx, instanceID, topic)
	if apperror.IsNotFound(err) {
		return ResultUnconfigured, nil
	}
	if err != nil {
		return ResultError, fmt.Errorf("load webhook config: %w", err)
	}
	if cfg.Status == ConfigDisabled {
		return ResultUnconfigured, nil
	}

	secret := inst.WebhookSecret
	if cfg.Secret != nil && *cfg.Secret != "" {
		secret = *cfg.Secret
	}
	if !VerifySignature(secret, payload, signature) {
		logger.Warn(ctx, "webhook signature verification failed",
			"topic", topic, "event_id", eventID)
		return ResultRejected, nil
	}

	delivery, err := NewDelivery(cfg, eventID, payload)
	if err != nil {
		return ResultError, err
	}

	prior, err := s.deliveries.FindByHash(ctx, instanceID, topic, delivery.PayloadHash)
	if err != nil && !apperror.IsNotFound(err) {
		return ResultError, fmt.Errorf("dedup lookup: %w", err)
	}
	if prior != nil {
		delivery.State = DeliveryDuplicate
	}

	cfg.RecordDelivery()
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.deliveries.Insert(ctx, delivery); err != nil {
			return err
		}
		return s.configs.Update(ctx, cfg)
	})
	if apperror.IsDuplicate(err) {
		// Same event id delivered twice; the first one stands.
		return ResultDuplicate, nil
	}
	if err != nil {
		return ResultError, fmt.Errorf("store delivery: %w", err)
	}

	if delivery.State == DeliveryDuplicate {
		return ResultDuplicate, nil
	}
	// Paused topics still archive deliveries so nothing is lost on resume,
	// but the processor never sees them.
	if cfg.Status == ConfigPaused {
		return ResultPaused, nil
	}

	if err := s.processor.Enqueue(ctx, delivery); err != nil {
		// The delivery is durably pending; the scheduler sweep will
		// re-enqueue it. Acknowledge to stop storefront retries.
		logger.Error(ctx, "webhook enqueue failed, left pending",
			"error", err, "delivery_id", delivery.ID.String())
	}
	return ResultAccepted, nil
}

// ProcessDelivery runs the handler for one delivery under the state machine:
// pending/failed -> processing -> completed or failed.
func (s *Service) ProcessDelivery(ctx context.Context, deliveryID id.ID, handle func(ctx context.Context, d *Delivery) error) error {
	d, err := s.deliveries.GetByID(ctx, deliveryID)
	if err != nil {
		return err
	}
	// A delivery can be enqueued twice (sweep racing the original task);
	// processing an already-completed one is a no-op, not an error.
	if d.State == DeliveryCompleted || d.State == DeliveryDuplicate {
		logger.Debug(ctx, "delivery already processed, skipping",
			"delivery_id", d.ID.String(), "state", string(d.State))
		return nil
	}
	if err := d.Transition(DeliveryProcessing); err != nil {
		return err
	}
	if err := s.deliveries.Update(ctx, d); err != nil {
		return fmt.Errorf("mark delivery processing: %w", err)
	}

	herr := handle(ctx, d)
	next := DeliveryCompleted
	if herr != nil {
		next = DeliveryFailed
		d.LastError = herr.Error()
	}
	if err := d.Transition(next); err != nil {
		return err
	}
	if err := s.deliveries.Update(ctx, d); err != nil {
		return fmt.Errorf("finalize delivery: %w", err)
	}
	return herr
}
