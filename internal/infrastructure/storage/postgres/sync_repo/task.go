package sync_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/task"
	"storesync/internal/infrastructure/storage/postgres"
)

const taskTable = "task_logs"

// TaskRepo implements task.Repository on PostgreSQL. The task_logs table
// doubles as the work queue: ClaimDue hands out runnable rows with
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
type TaskRepo struct {
	txManager *postgres.TxManager
	cols      []string
}

var _ task.Repository = (*TaskRepo)(nil)

// NewTaskRepo creates a task repository.
func NewTaskRepo(txManager *postgres.TxManager) *TaskRepo {
	return &TaskRepo{
		txManager: txManager,
		cols:      postgres.ExtractDBColumns[task.Task](),
	}
}

// Insert stores a new task.
func (r *TaskRepo) Insert(ctx context.Context, t *task.Task) error {
	data := filterColumns(postgres.StructToMap(t), r.cols)

	sql, args, err := builder().
		Insert(taskTable).
		SetMap(data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return translateError(err, taskTable)
	}
	return nil
}

// GetByID retrieves a task by ID.
func (r *TaskRepo) GetByID(ctx context.Context, taskID id.ID) (*task.Task, error) {
	sql, args, err := builder().
		Select(r.cols...).
		From(taskTable).
		Where(squirrel.Eq{"id": taskID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var t task.Task
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &t, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(taskTable, taskID.String())
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// Update persists task state.
func (r *TaskRepo) Update(ctx context.Context, t *task.Task) error {
	data := filterColumns(postgres.StructToMap(t), r.cols)
	delete(data, "id")
	delete(data, "created_at")

	sql, args, err := builder().
		Update(taskTable).
		SetMap(data).
		Where(squirrel.Eq{"id": t.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return translateError(err, taskTable)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(taskTable, t.ID.String())
	}
	return nil
}

// ListChildren retrieves all children of a parent task.
func (r *TaskRepo) ListChildren(ctx context.Context, parentID id.ID) ([]*task.Task, error) {
	sql, args, err := builder().
		Select(r.cols...).
		From(taskTable).
		Where(squirrel.Eq{"parent_id": parentID}).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var tasks []*task.Task
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &tasks, sql, args...); err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return tasks, nil
}

// List retrieves an instance's tasks, newest first.
func (r *TaskRepo) List(ctx context.Context, instanceID id.ID, filter task.ListFilter) ([]*task.Task, error) {
	q := builder().
		Select(r.cols...).
		From(taskTable).
		Where(squirrel.Eq{"instance_id": instanceID}).
		OrderBy("created_at DESC")

	if filter.Kind != nil {
		q = q.Where(squirrel.Eq{"kind": *filter.Kind})
	}
	if filter.Status != nil {
		q = q.Where(squirrel.Eq{"status": *filter.Status})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var tasks []*task.Task
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &tasks, sql, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// ClaimDue atomically claims up to limit runnable tasks and moves them to
// started. Must run inside a transaction; the row locks held by SKIP LOCKED
// only exist for the transaction's lifetime.
func (r *TaskRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	selectSQL, args, err := builder().
		Select("id").
		From(taskTable).
		Where(squirrel.Or{
			squirrel.And{
				squirrel.Eq{"status": task.StatusPending},
				squirrel.LtOrEq{"scheduled_at": now},
			},
			squirrel.And{
				squirrel.Eq{"status": task.StatusRetry},
				squirrel.LtOrEq{"next_retry_at": now},
			},
		}).
		OrderBy("scheduled_at ASC").
		Limit(uint64(limit)).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim query: %w", err)
	}

	querier := r.txManager.GetQuerier(ctx)

	var ids []id.ID
	if err := pgxscan.Select(ctx, querier, &ids, selectSQL, args...); err != nil {
		return nil, fmt.Errorf("select due tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	updateSQL, updateArgs, err := builder().
		Update(taskTable).
		Set("status", task.StatusStarted).
		Set("started_at", now).
		Set("next_retry_at", nil).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": ids}).
		Suffix("RETURNING " + joinColumns(r.cols)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build claim update: %w", err)
	}

	var claimed []*task.Task
	if err := pgxscan.Select(ctx, querier, &claimed, updateSQL, updateArgs...); err != nil {
		return nil, fmt.Errorf("claim tasks: %w", err)
	}
	return claimed, nil
}
