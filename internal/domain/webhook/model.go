// Package webhook implements storefront webhook ingestion: per-topic
// configuration, signature verification, payload deduplication and the
// delivery lifecycle.
package webhook

import (
	"context"
	"time"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/catalog"
)

// ConfigStatus gates delivery processing per topic.
type ConfigStatus string

const (
	// ConfigActive deliveries are verified, stored and processed.
	ConfigActive ConfigStatus = "active"
	// ConfigPaused deliveries are verified and acknowledged but not processed.
	ConfigPaused ConfigStatus = "paused"
	// ConfigDisabled topics reject deliveries as unconfigured.
	ConfigDisabled ConfigStatus = "disabled"
)

// Valid reports whether s is a known config status.
func (s ConfigStatus) Valid() bool {
	switch s {
	case ConfigActive, ConfigPaused, ConfigDisabled:
		return true
	}
	return false
}

// DefaultAPIVersion is the storefront webhook payload version requested
// when provisioning.
const DefaultAPIVersion = "wp_api_v3"

// Config is one registered webhook subscription: an (instance, topic,
// delivery url) triple, unique per schema constraint.
type Config struct {
	ID         id.ID  `db:"id" json:"id"`
	InstanceID id.ID  `db:"instance_id" json:"instanceId"`
	Topic      string `db:"topic" json:"topic"`

	// DeliveryURL is the public endpoint the storefront delivers to.
	DeliveryURL string `db:"delivery_url" json:"deliveryUrl"`

	// Secret overrides the instance-level webhook secret when set.
	Secret *string `db:"secret" json:"-"`

	Status ConfigStatus `db:"status" json:"status"`

	// APIVersion is the storefront webhook payload version.
	APIVersion string `db:"api_version" json:"apiVersion"`

	// StoreWebhookID is the storefront-side id of the provisioned webhook,
	// nil until registration succeeds.
	StoreWebhookID *int64 `db:"store_webhook_id" json:"storeWebhookId,omitempty"`

	// Delivery counters for operator visibility.
	DeliveryCount  int64      `db:"delivery_count" json:"deliveryCount"`
	LastDeliveryAt *time.Time `db:"last_delivery_at" json:"lastDeliveryAt,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewConfig creates an active webhook config.
func NewConfig(instanceID id.ID, topic, deliveryURL string) *Config {
	now := time.Now().UTC()
	return &Config{
		ID:          id.New(),
		InstanceID:  instanceID,
		Topic:       topic,
		DeliveryURL: deliveryURL,
		Status:      ConfigActive,
		APIVersion:  DefaultAPIVersion,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks config invariants.
func (c *Config) Validate(ctx context.Context) error {
	if _, _, err := catalog.ParseTopic(c.Topic); err != nil {
		return err
	}
	if c.DeliveryURL == "" {
		return apperror.NewValidation("delivery url is required").
			WithDetail("field", "deliveryUrl")
	}
	if !c.Status.Valid() {
		return apperror.NewValidation("invalid webhook config status").
			WithDetail("field", "status").
			WithDetail("value", string(c.Status))
	}
	return nil
}

// RecordDelivery bumps the delivery counters.
func (c *Config) RecordDelivery() {
	now := time.Now().UTC()
	c.DeliveryCount++
	c.LastDeliveryAt = &now
	c.UpdatedAt = now
}

// DeliveryState is the lifecycle state of one received delivery.
type DeliveryState string

const (
	DeliveryPending    DeliveryState = "pending"
	DeliveryProcessing DeliveryState = "processing"
	DeliveryCompleted  DeliveryState = "completed"
	DeliveryFailed     DeliveryState = "failed"
	// DeliveryDuplicate marks a payload already received; terminal at ingest.
	DeliveryDuplicate DeliveryState = "duplicate"
)

// deliveryTransitions is the closed set of legal state changes.
// failed -> processing allows manual replay of a dead delivery.
var deliveryTransitions = map[DeliveryState][]DeliveryState{
	DeliveryPending:    {DeliveryProcessing},
	DeliveryProcessing: {DeliveryCompleted, DeliveryFailed},
	DeliveryFailed:     {DeliveryProcessing},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to DeliveryState) bool {
	for _, s := range deliveryTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Delivery is one received webhook payload and its processing state.
// The payload body is stored zstd-compressed; Payload/SetPayload hide the
// compression from callers.
type Delivery struct {
	ID         id.ID `db:"id" json:"id"`
	ConfigID   id.ID `db:"config_id" json:"configId"`
	InstanceID id.ID `db:"instance_id" json:"instanceId"`

	// EventID is the storefront's delivery identifier, unique per instance.
	EventID string `db:"event_id" json:"eventId"`

	Topic string `db:"topic" json:"topic"`

	// PayloadHash is the SHA-256 hex digest of the raw body, the
	// deduplication key alongside EventID.
	PayloadHash string `db:"payload_hash" json:"payloadHash"`

	// CompressedPayload is the zstd-compressed raw body.
	CompressedPayload []byte `db:"payload" json:"-"`

	State    DeliveryState `db:"state" json:"state"`
	Attempts int           `db:"attempts" json:"attempts"`

	LastError string `db:"last_error" json:"lastError,omitempty"`

	ReceivedAt  time.Time  `db:"received_at" json:"receivedAt"`
	ProcessedAt *time.Time `db:"processed_at" json:"processedAt,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewDelivery creates a pending delivery for a raw payload.
func NewDelivery(cfg *Config, eventID string, payload []byte) (*Delivery, error) {
	compressed, err := CompressPayload(payload)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Delivery{
		ID:                id.New(),
		ConfigID:          cfg.ID,
		InstanceID:        cfg.InstanceID,
		EventID:           eventID,
		Topic:             cfg.Topic,
		PayloadHash:       HashPayload(payload),
		CompressedPayload: compressed,
		State:             DeliveryPending,
		ReceivedAt:        now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Payload returns the decompressed raw body.
func (d *Delivery) Payload() ([]byte, error) {
	return DecompressPayload(d.CompressedPayload)
}

// Transition moves the delivery to a new state, enforcing the state machine.
func (d *Delivery) Transition(to DeliveryState) error {
	if !CanTransition(d.State, to) {
		return apperror.NewIllegalTransition(string(d.State), string(to))
	}
	now := time.Now().UTC()
	d.State = to
	d.UpdatedAt = now
	switch to {
	case DeliveryProcessing:
		d.Attempts++
	case DeliveryCompleted, DeliveryFailed:
		d.ProcessedAt = &now
	}
	return nil
}
