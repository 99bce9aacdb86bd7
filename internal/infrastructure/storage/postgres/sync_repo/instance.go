package sync_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/instance"
	"storesync/internal/infrastructure/storage/postgres"
)

const instanceTable = "instances"

// InstanceRepo implements instance.Repository on PostgreSQL.
type InstanceRepo struct {
	txManager *postgres.TxManager
	cols      []string
}

// Compile-time interface check.
var _ instance.Repository = (*InstanceRepo)(nil)

// NewInstanceRepo creates an instance repository.
func NewInstanceRepo(txManager *postgres.TxManager) *InstanceRepo {
	return &InstanceRepo{
		txManager: txManager,
		cols:      postgres.ExtractDBColumns[instance.Instance](),
	}
}

// Create inserts a new instance.
func (r *InstanceRepo) Create(ctx context.Context, inst *instance.Instance) error {
	data := filterColumns(postgres.StructToMap(inst), r.cols)

	sql, args, err := builder().
		Insert(instanceTable).
		SetMap(data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return translateError(err, instanceTable)
	}
	return nil
}

// GetByID retrieves an instance by ID.
func (r *InstanceRepo) GetByID(ctx context.Context, instID id.ID) (*instance.Instance, error) {
	sql, args, err := builder().
		Select(r.cols...).
		From(instanceTable).
		Where(squirrel.Eq{"id": instID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var inst instance.Instance
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &inst, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(instanceTable, instID.String())
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return &inst, nil
}

// Update modifies an existing instance.
func (r *InstanceRepo) Update(ctx context.Context, inst *instance.Instance) error {
	data := filterColumns(postgres.StructToMap(inst), r.cols)
	delete(data, "id")
	delete(data, "created_at")

	sql, args, err := builder().
		Update(instanceTable).
		SetMap(data).
		Where(squirrel.Eq{"id": inst.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return translateError(err, instanceTable)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(instanceTable, inst.ID.String())
	}
	return nil
}

// Delete removes the instance; owned rows cascade at the schema level.
func (r *InstanceRepo) Delete(ctx context.Context, instID id.ID) error {
	sql, args, err := builder().
		Delete(instanceTable).
		Where(squirrel.Eq{"id": instID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(instanceTable, instID.String())
	}
	return nil
}

// ListActive retrieves all active instances.
func (r *InstanceRepo) ListActive(ctx context.Context) ([]*instance.Instance, error) {
	return r.list(ctx, squirrel.Eq{"active": true})
}

// List retrieves all instances.
func (r *InstanceRepo) List(ctx context.Context) ([]*instance.Instance, error) {
	return r.list(ctx, nil)
}

func (r *InstanceRepo) list(ctx context.Context, where any) ([]*instance.Instance, error) {
	q := builder().
		Select(r.cols...).
		From(instanceTable).
		OrderBy("name ASC")
	if where != nil {
		q = q.Where(where)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var instances []*instance.Instance
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &instances, sql, args...); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return instances, nil
}
