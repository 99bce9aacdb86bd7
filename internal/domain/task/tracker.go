package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/core/tx"
	"storesync/pkg/logger"
)

// Tracker maintains the task lifecycle. Execution lives elsewhere; the
// tracker owns status transitions, retry decisions and parent rollup.
type Tracker struct {
	repo      Repository
	txManager tx.Manager
}

// NewTracker creates a task tracker.
func NewTracker(repo Repository, txManager tx.Manager) *Tracker {
	return &Tracker{repo: repo, txManager: txManager}
}

// Create validates and persists a new task. A parented task requires a
// live (non-terminal) parent: attaching work to a finished batch would
// silently escape the rollup.
func (tr *Tracker) Create(ctx context.Context, t *Task) error {
	if !t.Kind.Valid() {
		return apperror.NewValidation("unknown task kind").
			WithDetail("kind", string(t.Kind))
	}
	return tr.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if t.ParentID != nil {
			parent, err := tr.repo.GetByID(ctx, *t.ParentID)
			if err != nil {
				return fmt.Errorf("load parent task: %w", err)
			}
			if parent.Status.Terminal() {
				return apperror.NewConflict("parent task already finished").
					WithDetail("parent_id", parent.ID.String()).
					WithDetail("parent_status", string(parent.Status))
			}
		}
		return tr.repo.Insert(ctx, t)
	})
}

// GetByID retrieves a task.
func (tr *Tracker) GetByID(ctx context.Context, taskID id.ID) (*Task, error) {
	return tr.repo.GetByID(ctx, taskID)
}

// List retrieves an instance's tasks.
func (tr *Tracker) List(ctx context.Context, instanceID id.ID, filter ListFilter) ([]*Task, error) {
	return tr.repo.List(ctx, instanceID, filter)
}

// Complete marks a started task successful and stores its result.
func (tr *Tracker) Complete(ctx context.Context, t *Task, result any) error {
	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode task result: %w", err)
		}
		t.Result = encoded
	}
	if err := t.Transition(StatusSuccess); err != nil {
		return err
	}
	err := tr.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return tr.repo.Update(ctx, t)
	})
	if err != nil {
		return fmt.Errorf("persist task success: %w", err)
	}
	return tr.rollupParent(ctx, t)
}

// Fail records a failed attempt. Retryable causes with budget left go to
// retry with the given next attempt time; everything else is terminal.
func (tr *Tracker) Fail(ctx context.Context, t *Task, cause error, retryAt time.Time) error {
	retryable := apperror.IsRetryable(cause) && !t.RetriesExhausted()

	if retryable {
		if err := t.ScheduleRetry(retryAt, cause.Error()); err != nil {
			return err
		}
	} else {
		t.LastError = cause.Error()
		if err := t.Transition(StatusFailure); err != nil {
			return err
		}
	}

	err := tr.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return tr.repo.Update(ctx, t)
	})
	if err != nil {
		return fmt.Errorf("persist task failure: %w", err)
	}

	if t.Status == StatusRetry {
		logger.Warn(ctx, "task scheduled for retry",
			"task_id", t.ID.String(),
			"kind", string(t.Kind),
			"retry_count", t.RetryCount,
			"next_retry_at", retryAt.Format(time.RFC3339),
			"error", cause.Error())
		return nil
	}

	logger.Error(ctx, "task failed terminally",
		"error", cause,
		"task_id", t.ID.String(),
		"kind", string(t.Kind),
		"retry_count", t.RetryCount)
	return tr.rollupParent(ctx, t)
}

// Revoke cancels a task and cascades to its live children. Terminal tasks
// cannot be revoked.
func (tr *Tracker) Revoke(ctx context.Context, taskID id.ID) error {
	return tr.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		t, err := tr.repo.GetByID(ctx, taskID)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return apperror.NewConflict("task already finished").
				WithDetail("task_id", t.ID.String()).
				WithDetail("status", string(t.Status))
		}
		if err := tr.revoke(ctx, t); err != nil {
			return err
		}
		logger.Info(ctx, "task revoked", "task_id", t.ID.String(), "kind", string(t.Kind))
		return nil
	})
}

func (tr *Tracker) revoke(ctx context.Context, t *Task) error {
	if err := t.Transition(StatusRevoked); err != nil {
		return err
	}
	if err := tr.repo.Update(ctx, t); err != nil {
		return err
	}
	children, err := tr.repo.ListChildren(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("list children of %s: %w", t.ID, err)
	}
	for _, child := range children {
		if child.Status.Terminal() {
			continue
		}
		if err := tr.revoke(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// BatchResult is the rolled-up outcome stored on a finished parent task.
type BatchResult struct {
	Children  int `json:"children"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Revoked   int `json:"revoked"`
}

// rollupParent finishes a parent once its last child reaches a terminal
// status. Child failures do not fail the parent: the batch ran to
// completion, and the per-child statuses carry the detail. The parent
// fails only when its own enumeration fails.
func (tr *Tracker) rollupParent(ctx context.Context, child *Task) error {
	if child.ParentID == nil {
		return nil
	}
	return tr.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		parent, err := tr.repo.GetByID(ctx, *child.ParentID)
		if err != nil {
			return fmt.Errorf("load parent task: %w", err)
		}
		if parent.Status.Terminal() {
			return nil
		}

		children, err := tr.repo.ListChildren(ctx, parent.ID)
		if err != nil {
			return fmt.Errorf("list children of %s: %w", parent.ID, err)
		}

		var result BatchResult
		result.Children = len(children)
		for _, c := range children {
			switch c.Status {
			case StatusSuccess:
				result.Succeeded++
			case StatusFailure:
				result.Failed++
			case StatusRevoked:
				result.Revoked++
			default:
				// A child is still running; the rollup waits.
				return nil
			}
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode batch result: %w", err)
		}
		parent.Result = encoded
		if parent.Status == StatusPending {
			// Children can finish before the parent is ever claimed.
			if err := parent.Transition(StatusStarted); err != nil {
				return err
			}
		}
		if err := parent.Transition(StatusSuccess); err != nil {
			return err
		}
		if err := tr.repo.Update(ctx, parent); err != nil {
			return fmt.Errorf("persist parent rollup: %w", err)
		}
		logger.Info(ctx, "batch task finished",
			"task_id", parent.ID.String(),
			"children", result.Children,
			"succeeded", result.Succeeded,
			"failed", result.Failed)
		return nil
	})
}
