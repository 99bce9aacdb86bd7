package webhook

import (
	"context"

	"storesync/internal/core/id"
)

// ConfigRepository persists webhook subscriptions.
type ConfigRepository interface {
	// Create inserts a config. Returns apperror.CodeDuplicate when the
	// (instance, topic, delivery_url) triple already exists.
	Create(ctx context.Context, cfg *Config) error

	// GetByID retrieves a config by ID.
	GetByID(ctx context.Context, cfgID id.ID) (*Config, error)

	// GetByTopic retrieves the config for an (instance, topic) pair.
	GetByTopic(ctx context.Context, instanceID id.ID, topic string) (*Config, error)

	// Update modifies an existing config.
	Update(ctx context.Context, cfg *Config) error

	// Delete removes a config and cascades to its deliveries.
	Delete(ctx context.Context, cfgID id.ID) error

	// ListByInstance retrieves all configs of an instance.
	ListByInstance(ctx context.Context, instanceID id.ID) ([]*Config, error)
}

// DeliveryRepository persists received deliveries.
type DeliveryRepository interface {
	// Insert stores a delivery. Returns apperror.CodeDuplicate when the
	// instance has already seen the event id.
	Insert(ctx context.Context, d *Delivery) error

	// GetByID retrieves a delivery by ID.
	GetByID(ctx context.Context, deliveryID id.ID) (*Delivery, error)

	// FindByHash retrieves a prior delivery with the same payload hash and
	// topic for the instance, if any.
	FindByHash(ctx context.Context, instanceID id.ID, topic, payloadHash string) (*Delivery, error)

	// Update persists the delivery state.
	Update(ctx context.Context, d *Delivery) error

	// ListByState retrieves deliveries in a state, oldest first.
	ListByState(ctx context.Context, instanceID id.ID, state DeliveryState, limit int) ([]*Delivery, error)
}
