package sync_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/webhook"
	"storesync/internal/infrastructure/storage/postgres"
)

const (
	configTable   = "webhook_configs"
	deliveryTable = "webhook_deliveries"
)

// WebhookConfigRepo implements webhook.ConfigRepository on PostgreSQL.
type WebhookConfigRepo struct {
	txManager *postgres.TxManager
	cols      []string
}

var _ webhook.ConfigRepository = (*WebhookConfigRepo)(nil)

// NewWebhookConfigRepo creates a webhook config repository.
func NewWebhookConfigRepo(txManager *postgres.TxManager) *WebhookConfigRepo {
	return &WebhookConfigRepo{
		txManager: txManager,
		cols:      postgres.ExtractDBColumns[webhook.Config](),
	}
}

// Create inserts a config.
func (r *WebhookConfigRepo) Create(ctx context.Context, cfg *webhook.Config) error {
	data := filterColumns(postgres.StructToMap(cfg), r.cols)

	sql, args, err := builder().
		Insert(configTable).
		SetMap(data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return translateError(err, configTable)
	}
	return nil
}

// GetByID retrieves a config by ID.
func (r *WebhookConfigRepo) GetByID(ctx context.Context, cfgID id.ID) (*webhook.Config, error) {
	return r.getOne(ctx, squirrel.Eq{"id": cfgID}, cfgID.String())
}

// GetByTopic retrieves the config for an (instance, topic) pair.
func (r *WebhookConfigRepo) GetByTopic(ctx context.Context, instanceID id.ID, topic string) (*webhook.Config, error) {
	return r.getOne(ctx, squirrel.Eq{
		"instance_id": instanceID,
		"topic":       topic,
	}, topic)
}

func (r *WebhookConfigRepo) getOne(ctx context.Context, where squirrel.Eq, key string) (*webhook.Config, error) {
	sql, args, err := builder().
		Select(r.cols...).
		From(configTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var cfg webhook.Config
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &cfg, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(configTable, key)
		}
		return nil, fmt.Errorf("get webhook config: %w", err)
	}
	return &cfg, nil
}

// Update modifies an existing config.
func (r *WebhookConfigRepo) Update(ctx context.Context, cfg *webhook.Config) error {
	data := filterColumns(postgres.StructToMap(cfg), r.cols)
	delete(data, "id")
	delete(data, "created_at")

	sql, args, err := builder().
		Update(configTable).
		SetMap(data).
		Where(squirrel.Eq{"id": cfg.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return translateError(err, configTable)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(configTable, cfg.ID.String())
	}
	return nil
}

// Delete removes a config; its deliveries cascade at the schema level.
func (r *WebhookConfigRepo) Delete(ctx context.Context, cfgID id.ID) error {
	sql, args, err := builder().
		Delete(configTable).
		Where(squirrel.Eq{"id": cfgID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete webhook config: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(configTable, cfgID.String())
	}
	return nil
}

// ListByInstance retrieves all configs of an instance.
func (r *WebhookConfigRepo) ListByInstance(ctx context.Context, instanceID id.ID) ([]*webhook.Config, error) {
	sql, args, err := builder().
		Select(r.cols...).
		From(configTable).
		Where(squirrel.Eq{"instance_id": instanceID}).
		OrderBy("topic ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var configs []*webhook.Config
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &configs, sql, args...); err != nil {
		return nil, fmt.Errorf("list webhook configs: %w", err)
	}
	return configs, nil
}

// WebhookDeliveryRepo implements webhook.DeliveryRepository on PostgreSQL.
type WebhookDeliveryRepo struct {
	txManager *postgres.TxManager
	cols      []string
}

var _ webhook.DeliveryRepository = (*WebhookDeliveryRepo)(nil)

// NewWebhookDeliveryRepo creates a webhook delivery repository.
func NewWebhookDeliveryRepo(txManager *postgres.TxManager) *WebhookDeliveryRepo {
	return &WebhookDeliveryRepo{
		txManager: txManager,
		cols:      postgres.ExtractDBColumns[webhook.Delivery](),
	}
}

// Insert stores a delivery. The unique (instance_id, event_id) constraint
// surfaces as CodeDuplicate, which ingestion treats as an idempotent replay.
func (r *WebhookDeliveryRepo) Insert(ctx context.Context, d *webhook.Delivery) error {
	data := filterColumns(postgres.StructToMap(d), r.cols)

	sql, args, err := builder().
		Insert(deliveryTable).
		SetMap(data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return translateError(err, deliveryTable)
	}
	return nil
}

// GetByID retrieves a delivery by ID.
func (r *WebhookDeliveryRepo) GetByID(ctx context.Context, deliveryID id.ID) (*webhook.Delivery, error) {
	sql, args, err := builder().
		Select(r.cols...).
		From(deliveryTable).
		Where(squirrel.Eq{"id": deliveryID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var d webhook.Delivery
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &d, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(deliveryTable, deliveryID.String())
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return &d, nil
}

// FindByHash retrieves a prior delivery with the same payload hash and topic.
// Duplicate-state rows are excluded so one replayed original does not chain.
func (r *WebhookDeliveryRepo) FindByHash(ctx context.Context, instanceID id.ID, topic, payloadHash string) (*webhook.Delivery, error) {
	sql, args, err := builder().
		Select(r.cols...).
		From(deliveryTable).
		Where(squirrel.Eq{
			"instance_id":  instanceID,
			"topic":        topic,
			"payload_hash": payloadHash,
		}).
		Where(squirrel.NotEq{"state": webhook.DeliveryDuplicate}).
		OrderBy("received_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var d webhook.Delivery
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &d, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(deliveryTable, payloadHash)
		}
		return nil, fmt.Errorf("find delivery by hash: %w", err)
	}
	return &d, nil
}

// Update persists the delivery state.
func (r *WebhookDeliveryRepo) Update(ctx context.Context, d *webhook.Delivery) error {
	data := filterColumns(postgres.StructToMap(d), r.cols)
	delete(data, "id")
	delete(data, "created_at")

	sql, args, err := builder().
		Update(deliveryTable).
		SetMap(data).
		Where(squirrel.Eq{"id": d.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return translateError(err, deliveryTable)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(deliveryTable, d.ID.String())
	}
	return nil
}

// ListByState retrieves deliveries in a state, oldest first.
func (r *WebhookDeliveryRepo) ListByState(ctx context.Context, instanceID id.ID, state webhook.DeliveryState, limit int) ([]*webhook.Delivery, error) {
	q := builder().
		Select(r.cols...).
		From(deliveryTable).
		Where(squirrel.Eq{
			"instance_id": instanceID,
			"state":       state,
		}).
		OrderBy("received_at ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var deliveries []*webhook.Delivery
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &deliveries, sql, args...); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return deliveries, nil
}
