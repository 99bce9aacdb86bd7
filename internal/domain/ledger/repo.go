package ledger

import (
	"context"

	"storesync/internal/core/id"
	"storesync/internal/domain/catalog"
)

// ListFilter narrows ledger listings.
type ListFilter struct {
	Kind   *catalog.Kind
	Error  *bool
	Limit  int
	Offset int
}

// Repository defines the interface for sync ledger persistence.
//
// Insert must surface unique-constraint violations as apperror.CodeDuplicate:
// the engine uses the constraint as its concurrency-control primitive and
// needs to distinguish "lost the claim race" from infrastructure failure.
type Repository interface {
	// GetByErpID retrieves the record for an (instance, kind, erp id) triple.
	GetByErpID(ctx context.Context, instanceID id.ID, kind catalog.Kind, erpID int64) (*Record, error)

	// GetByStoreID retrieves the record claiming a storefront id.
	GetByStoreID(ctx context.Context, instanceID id.ID, kind catalog.Kind, storeID int64) (*Record, error)

	// Insert creates a new record. Returns apperror.CodeDuplicate when
	// another record already holds the (instance, kind, erp_id) pair or,
	// for claiming kinds, the (instance, kind, store_id) pair.
	Insert(ctx context.Context, rec *Record) error

	// Update persists the record. Store-id uniqueness violations are
	// surfaced as apperror.CodeDuplicate, same as Insert.
	Update(ctx context.Context, rec *Record) error

	// ListNeedingSync retrieves records flagged stale, oldest attempt first.
	ListNeedingSync(ctx context.Context, instanceID id.ID, kind catalog.Kind, limit int) ([]*Record, error)

	// MarkForSync bulk-raises the staleness flag. Returns rows affected.
	MarkForSync(ctx context.Context, instanceID id.ID, kind catalog.Kind, erpIDs []int64) (int64, error)

	// List retrieves records for operator browsing.
	List(ctx context.Context, instanceID id.ID, filter ListFilter) ([]*Record, error)

	// Stats aggregates outcome counters for an instance and kind.
	Stats(ctx context.Context, instanceID id.ID, kind catalog.Kind) (Stats, error)
}
