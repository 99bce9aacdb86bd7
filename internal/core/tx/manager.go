// Package tx defines the transaction boundary used by domain services. The
// postgres implementation lives in infrastructure/storage/postgres; services
// only ever see this interface.
package tx

import (
	"context"
)

// Manager runs a function inside a database transaction.
type Manager interface {
	// RunInTransaction executes fn within a transaction: commit on nil,
	// rollback on error. Nested calls join the transaction already in the
	// context, so a service method can compose repository calls into one
	// atomic unit.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
