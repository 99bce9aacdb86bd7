package sync_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/catalog"
	"storesync/internal/domain/ledger"
	"storesync/internal/infrastructure/storage/postgres"
)

const recordTable = "sync_records"

// LedgerRepo implements ledger.Repository on PostgreSQL.
//
// The unique constraints on (instance_id, kind, erp_id) and, for claiming
// kinds, (instance_id, kind, store_id) are load-bearing: Insert and Update
// surface their violations as CodeDuplicate for the engine's claim protocol.
type LedgerRepo struct {
	txManager *postgres.TxManager
	cols      []string
}

var _ ledger.Repository = (*LedgerRepo)(nil)

// NewLedgerRepo creates a sync ledger repository.
func NewLedgerRepo(txManager *postgres.TxManager) *LedgerRepo {
	return &LedgerRepo{
		txManager: txManager,
		cols:      postgres.ExtractDBColumns[ledger.Record](),
	}
}

// GetByErpID retrieves the record for an (instance, kind, erp id) triple.
func (r *LedgerRepo) GetByErpID(ctx context.Context, instanceID id.ID, kind catalog.Kind, erpID int64) (*ledger.Record, error) {
	return r.getOne(ctx, squirrel.Eq{
		"instance_id": instanceID,
		"kind":        kind,
		"erp_id":      erpID,
	}, fmt.Sprintf("%s/%d", kind, erpID))
}

// GetByStoreID retrieves the record claiming a storefront id.
func (r *LedgerRepo) GetByStoreID(ctx context.Context, instanceID id.ID, kind catalog.Kind, storeID int64) (*ledger.Record, error) {
	return r.getOne(ctx, squirrel.Eq{
		"instance_id": instanceID,
		"kind":        kind,
		"store_id":    storeID,
	}, fmt.Sprintf("%s/store/%d", kind, storeID))
}

func (r *LedgerRepo) getOne(ctx context.Context, where squirrel.Eq, key string) (*ledger.Record, error) {
	sql, args, err := builder().
		Select(r.cols...).
		From(recordTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rec ledger.Record
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &rec, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound(recordTable, key)
		}
		return nil, fmt.Errorf("get sync record: %w", err)
	}
	return &rec, nil
}

// Insert creates a new record.
func (r *LedgerRepo) Insert(ctx context.Context, rec *ledger.Record) error {
	data := filterColumns(postgres.StructToMap(rec), r.cols)

	sql, args, err := builder().
		Insert(recordTable).
		SetMap(data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return translateError(err, recordTable)
	}
	return nil
}

// Update persists the record.
func (r *LedgerRepo) Update(ctx context.Context, rec *ledger.Record) error {
	data := filterColumns(postgres.StructToMap(rec), r.cols)
	delete(data, "id")
	delete(data, "created_at")

	sql, args, err := builder().
		Update(recordTable).
		SetMap(data).
		Where(squirrel.Eq{"id": rec.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return translateError(err, recordTable)
	}
	if result.RowsAffected() == 0 {
		return apperror.NewNotFound(recordTable, rec.ID.String())
	}
	return nil
}

// ListNeedingSync retrieves records flagged stale, oldest attempt first.
// NULL attempt times sort first so never-attempted records are not starved.
func (r *LedgerRepo) ListNeedingSync(ctx context.Context, instanceID id.ID, kind catalog.Kind, limit int) ([]*ledger.Record, error) {
	q := builder().
		Select(r.cols...).
		From(recordTable).
		Where(squirrel.Eq{
			"instance_id": instanceID,
			"kind":        kind,
			"needs_sync":  true,
		}).
		OrderBy("last_attempt_at ASC NULLS FIRST")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var records []*ledger.Record
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &records, sql, args...); err != nil {
		return nil, fmt.Errorf("list needing sync: %w", err)
	}
	return records, nil
}

// MarkForSync bulk-raises the staleness flag.
func (r *LedgerRepo) MarkForSync(ctx context.Context, instanceID id.ID, kind catalog.Kind, erpIDs []int64) (int64, error) {
	if len(erpIDs) == 0 {
		return 0, nil
	}

	sql, args, err := builder().
		Update(recordTable).
		Set("needs_sync", true).
		Set("updated_at", squirrel.Expr("now()")).
		Where(squirrel.Eq{
			"instance_id": instanceID,
			"kind":        kind,
			"erp_id":      erpIDs,
		}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build update: %w", err)
	}

	result, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("mark for sync: %w", err)
	}
	return result.RowsAffected(), nil
}

// List retrieves records for operator browsing, most recently updated first.
func (r *LedgerRepo) List(ctx context.Context, instanceID id.ID, filter ledger.ListFilter) ([]*ledger.Record, error) {
	q := builder().
		Select(r.cols...).
		From(recordTable).
		Where(squirrel.Eq{"instance_id": instanceID}).
		OrderBy("updated_at DESC")

	if filter.Kind != nil {
		q = q.Where(squirrel.Eq{"kind": *filter.Kind})
	}
	if filter.Error != nil {
		q = q.Where(squirrel.Eq{"error": *filter.Error})
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

	var records []*ledger.Record
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &records, sql, args...); err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	return records, nil
}

// Stats aggregates outcome counters for an instance and kind.
func (r *LedgerRepo) Stats(ctx context.Context, instanceID id.ID, kind catalog.Kind) (ledger.Stats, error) {
	sql, args, err := builder().
		Select(
			"COUNT(*) AS total",
			"COUNT(*) FILTER (WHERE created) AS created",
			"COUNT(*) FILTER (WHERE updated) AS updated",
			"COUNT(*) FILTER (WHERE skipped) AS skipped",
			"COUNT(*) FILTER (WHERE error) AS errors",
		).
		From(recordTable).
		Where(squirrel.Eq{
			"instance_id": instanceID,
			"kind":        kind,
		}).
		ToSql()
	if err != nil {
		return ledger.Stats{}, fmt.Errorf("build query: %w", err)
	}

	var stats ledger.Stats
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &stats, sql, args...); err != nil {
		return ledger.Stats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	return stats, nil
}
