package task

import (
	"context"
	"time"

	"storesync/internal/core/id"
)

// ListFilter narrows task listings.
type ListFilter struct {
	Kind   *Kind
	Status *Status
	Limit  int
	Offset int
}

// Repository persists tasks.
type Repository interface {
	// Insert stores a new task.
	Insert(ctx context.Context, t *Task) error

	// GetByID retrieves a task by ID.
	GetByID(ctx context.Context, taskID id.ID) (*Task, error)

	// Update persists task state.
	Update(ctx context.Context, t *Task) error

	// ListChildren retrieves all children of a parent task.
	ListChildren(ctx context.Context, parentID id.ID) ([]*Task, error)

	// List retrieves an instance's tasks for operator browsing,
	// newest first.
	List(ctx context.Context, instanceID id.ID, filter ListFilter) ([]*Task, error)

	// ClaimDue atomically claims up to limit runnable tasks: pending ones
	// past their schedule time and retries past their backoff. Claimed
	// tasks are moved to started. Rows locked by other workers are
	// skipped, not waited on.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*Task, error)
}

// Runner accepts tasks for asynchronous execution.
type Runner interface {
	// Submit durably enqueues a task. The task runs at or after its
	// ScheduledAt time.
	Submit(ctx context.Context, t *Task) error
}
