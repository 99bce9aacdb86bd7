package instance

import (
	"context"

	"storesync/internal/core/id"
)

// Repository defines the interface for Instance persistence.
type Repository interface {
	// Create inserts a new instance.
	Create(ctx context.Context, inst *Instance) error

	// GetByID retrieves an instance by ID.
	GetByID(ctx context.Context, instID id.ID) (*Instance, error)

	// Update modifies an existing instance.
	Update(ctx context.Context, inst *Instance) error

	// Delete removes the instance. Sync records, webhook configs and task
	// logs are removed by the storage layer's cascade rules.
	Delete(ctx context.Context, instID id.ID) error

	// ListActive retrieves all active instances.
	ListActive(ctx context.Context) ([]*Instance, error)

	// List retrieves all instances.
	List(ctx context.Context) ([]*Instance, error)
}
