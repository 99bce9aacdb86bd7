// Package gateway defines the outbound interfaces to the two systems being
// reconciled. Implementations live under internal/infrastructure/gateway;
// the engine and its tests depend only on these interfaces.
package gateway

import (
	"context"
	"time"

	"storesync/internal/domain/catalog"
	"storesync/internal/domain/instance"
)

// ERP reads catalog entities from the ERP side of an instance.
type ERP interface {
	// FetchSnapshot retrieves the current ERP state of one entity.
	// Returns apperror.CodeNotFound when the entity no longer exists.
	FetchSnapshot(ctx context.Context, inst *instance.Instance, kind catalog.Kind, erpID int64) (*catalog.ErpSnapshot, error)

	// ListChangedSince retrieves snapshots of entities whose ERP write time
	// is after since. A zero since returns the full catalog for the kind.
	ListChangedSince(ctx context.Context, inst *instance.Instance, kind catalog.Kind, since time.Time, limit int) ([]*catalog.ErpSnapshot, error)

	// Apply writes a storefront-originated change back into the ERP,
	// creating the entity if it does not exist, and returns the resulting
	// ERP state including the assigned id.
	Apply(ctx context.Context, inst *instance.Instance, snap *catalog.StoreSnapshot) (*catalog.ErpSnapshot, error)
}

// Storefront writes catalog entities to the storefront side of an instance.
type Storefront interface {
	// Get retrieves the current storefront state of one entity.
	// Returns apperror.CodeNotFound when the entity does not exist.
	Get(ctx context.Context, inst *instance.Instance, kind catalog.Kind, storeID int64) (*catalog.StoreSnapshot, error)

	// Create pushes a new entity and returns its assigned storefront state.
	Create(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot) (*catalog.StoreSnapshot, error)

	// Update overwrites an existing entity identified by storeID.
	Update(ctx context.Context, inst *instance.Instance, storeID int64, snap *catalog.ErpSnapshot) (*catalog.StoreSnapshot, error)

	// RegisterWebhook provisions a storefront webhook for a topic and
	// returns the storefront-side webhook id.
	RegisterWebhook(ctx context.Context, inst *instance.Instance, topic, deliveryURL string) (int64, error)

	// DeleteWebhook removes a previously provisioned webhook.
	DeleteWebhook(ctx context.Context, inst *instance.Instance, storeWebhookID int64) error
}
