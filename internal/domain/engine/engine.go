// Package engine implements the reconciliation pass: given the current ERP
// state of an entity, decide whether the storefront needs a create, an
// update, or nothing, perform the write, and record the outcome in the
// sync ledger.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storesync/internal/core/apperror"
	"storesync/internal/core/tx"
	"storesync/internal/domain/catalog"
	"storesync/internal/domain/gateway"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/ledger"
	"storesync/pkg/logger"
)

var tracer = otel.Tracer("storesync/engine")

// Engine runs reconciliation passes for one entity at a time.
//
// Duplicate safety: the ledger row is claimed (inserted) in its own committed
// transaction before the storefront create is attempted. Two workers racing
// on the same entity collide on the ledger's unique constraint; the loser
// re-reads the winner's row and converges on an update or a skip. At no
// point can both workers create a storefront entity.
type Engine struct {
	records   ledger.Repository
	erp       gateway.ERP
	store     gateway.Storefront
	policies  *PolicyEvaluator
	txManager tx.Manager
}

// New creates a reconciliation engine.
func New(records ledger.Repository, erp gateway.ERP, store gateway.Storefront, policies *PolicyEvaluator, txManager tx.Manager) *Engine {
	return &Engine{
		records:   records,
		erp:       erp,
		store:     store,
		policies:  policies,
		txManager: txManager,
	}
}

// Summary aggregates the outcomes of a multi-entity pass.
type Summary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Total returns the number of entities the pass touched.
func (s Summary) Total() int {
	return s.Created + s.Updated + s.Skipped + s.Errors
}

func (s *Summary) add(o ledger.Outcome) {
	switch o {
	case ledger.OutcomeCreated:
		s.Created++
	case ledger.OutcomeUpdated:
		s.Updated++
	case ledger.OutcomeSkipped:
		s.Skipped++
	case ledger.OutcomeError:
		s.Errors++
	}
}

// ReconcileEntity fetches the current ERP state of one entity and reconciles
// it. The ERP fetch happening here rather than in the caller keeps the ERP
// write time as fresh as possible when the comparison runs.
func (e *Engine) ReconcileEntity(ctx context.Context, inst *instance.Instance, kind catalog.Kind, erpID int64) (*ledger.Record, error) {
	snap, err := e.erp.FetchSnapshot(ctx, inst, kind, erpID)
	if err != nil {
		return nil, fmt.Errorf("fetch erp snapshot %s/%d: %w", kind, erpID, err)
	}
	return e.Reconcile(ctx, inst, snap)
}

// ReconcileKind reconciles every entity of a kind changed since the given
// time. A zero since reconciles the full catalog. Individual entity failures
// are recorded in the ledger and counted; they do not abort the pass.
func (e *Engine) ReconcileKind(ctx context.Context, inst *instance.Instance, kind catalog.Kind, since time.Time, limit int) (Summary, error) {
	var summary Summary

	snaps, err := e.erp.ListChangedSince(ctx, inst, kind, since, limit)
	if err != nil {
		return summary, fmt.Errorf("list changed %s: %w", kind, err)
	}

	for _, snap := range snaps {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		rec, err := e.Reconcile(ctx, inst, snap)
		if err != nil && rec == nil {
			// No record means the failure happened before the ledger
			// could absorb it; count it but keep going.
			summary.Errors++
			logger.Error(ctx, "reconcile failed before ledger write",
				"error", err, "kind", string(kind), "erp_id", snap.ID)
			continue
		}
		summary.add(rec.Outcome())
	}
	return summary, nil
}

// Reconcile runs one reconciliation pass for one ERP snapshot and returns
// the ledger record reflecting the outcome. When the returned error is
// non-nil and the record is also non-nil, the error outcome has already
// been persisted; the error is returned so the task runner can classify
// it for retry.
func (e *Engine) Reconcile(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot) (*ledger.Record, error) {
	ctx, span := tracer.Start(ctx, "engine.Reconcile",
		trace.WithAttributes(
			attribute.String("instance.id", inst.ID.String()),
			attribute.String("entity.kind", string(snap.Kind)),
			attribute.Int64("entity.erp_id", snap.ID),
		))
	defer span.End()

	if err := snap.Validate(ctx); err != nil {
		return e.recordError(ctx, inst, snap, err)
	}

	rec, err := e.records.GetByErpID(ctx, inst.ID, snap.Kind, snap.ID)
	if err != nil && !apperror.IsNotFound(err) {
		return nil, fmt.Errorf("load sync record: %w", err)
	}

	skip, err := e.policies.Evaluate(ctx, inst.SkipPolicy, snap)
	if err != nil {
		return e.recordError(ctx, inst, snap, err)
	}
	if skip {
		return e.recordSkip(ctx, inst, snap, rec, "skip policy matched")
	}

	if rec == nil || rec.StoreID == nil {
		return e.create(ctx, inst, snap, rec)
	}
	return e.update(ctx, inst, snap, rec)
}

// create handles the first push of an entity to the storefront. The ledger
// row is claimed before the outbound call; see the Engine doc comment.
func (e *Engine) create(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot, rec *ledger.Record) (*ledger.Record, error) {
	if !inst.Direction.AllowsStoreWrite() {
		return e.recordSkip(ctx, inst, snap, rec, "sync direction forbids storefront writes")
	}

	if rec == nil {
		rec = ledger.NewRecord(inst.ID, snap.Kind, snap.ID, snap.Name)
		rec.ErpWriteAt = timeRef(snap.WriteTime)

		err := e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
			return e.records.Insert(ctx, rec)
		})
		if apperror.IsDuplicate(err) {
			// Lost the claim race: another worker inserted the row.
			// Re-read and converge on its state.
			existing, rerr := e.records.GetByErpID(ctx, inst.ID, snap.Kind, snap.ID)
			if rerr != nil {
				return nil, fmt.Errorf("re-read after lost claim: %w", rerr)
			}
			if existing.StoreID != nil {
				return e.update(ctx, inst, snap, existing)
			}
			// Winner claimed but has not created yet; let it finish.
			return existing, apperror.NewConcurrentModification("sync_record", existing.ID.String())
		}
		if err != nil {
			return nil, fmt.Errorf("claim sync record: %w", err)
		}
	}

	now := time.Now().UTC()
	rec.LastAttemptAt = &now
	rec.ErpWriteAt = timeRef(snap.WriteTime)
	rec.ErpName = snap.Name

	storeSnap, err := e.store.Create(ctx, inst, snap)
	if err != nil {
		return e.persistError(ctx, rec, "storefront create failed", err)
	}

	storeID := storeSnap.ID
	rec.StoreID = &storeID
	rec.StoreCreated = timeRef(storeSnap.CreatedTime)
	rec.StoreUpdated = timeRef(storeSnap.UpdatedTime)
	rec.Published = storeSnap.Published()
	rec.NeedsSync = false
	rec.LastSyncedAt = &now
	rec.ApplyOutcome(ledger.OutcomeCreated, "created on storefront", "")

	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	logger.Info(ctx, "entity created on storefront",
		"kind", string(snap.Kind), "erp_id", snap.ID, "store_id", storeSnap.ID)
	return rec, nil
}

// update handles an entity that already has a storefront counterpart:
// staleness check, conflict resolution, then the directional write.
func (e *Engine) update(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot, rec *ledger.Record) (*ledger.Record, error) {
	erpChanged := changedSince(snap.WriteTime, rec.ErpWriteAt, rec.LastSyncedAt)

	if !erpChanged && !rec.NeedsSync {
		// Peek at the storefront only for bidirectional instances; for
		// one-way instances an unchanged ERP side means nothing to do.
		if !inst.Direction.AllowsErpWrite() {
			return e.recordSkip(ctx, inst, snap, rec, "no changes since last sync")
		}
	}

	now := time.Now().UTC()
	rec.LastAttemptAt = &now
	rec.ErpWriteAt = timeRef(snap.WriteTime)
	rec.ErpName = snap.Name

	storeSnap, err := e.store.Get(ctx, inst, snap.Kind, *rec.StoreID)
	if apperror.IsNotFound(err) {
		// Counterpart deleted on the storefront; recreate it.
		if !inst.Direction.AllowsStoreWrite() {
			return e.recordSkip(ctx, inst, snap, rec, "storefront entity missing; direction forbids recreate")
		}
		return e.recreate(ctx, inst, snap, rec)
	}
	if err != nil {
		return e.persistError(ctx, rec, "storefront read failed", err)
	}

	storeChanged := changedSince(storeSnap.UpdatedTime, rec.StoreUpdated, rec.LastSyncedAt)

	// Conflict: both sides changed since the last sync. Last write wins;
	// the ERP wins exact ties because it is the catalog system of record.
	// One-way instances never pull, so their conflicts resolve ERP-ward.
	if erpChanged && storeChanged && inst.Direction.AllowsErpWrite() &&
		storeSnap.UpdatedTime.After(snap.WriteTime) {
		return e.pullFromStore(ctx, inst, snap, storeSnap, rec, "storefront change won conflict")
	}

	if storeChanged && !erpChanged {
		if !inst.Direction.AllowsErpWrite() {
			// Record the storefront drift without writing anywhere.
			rec.StoreUpdated = timeRef(storeSnap.UpdatedTime)
			rec.Published = storeSnap.Published()
			return e.recordSkip(ctx, inst, snap, rec, "sync direction forbids erp writes")
		}
		return e.pullFromStore(ctx, inst, snap, storeSnap, rec, "pulled storefront change into erp")
	}

	if !erpChanged && !rec.NeedsSync {
		return e.recordSkip(ctx, inst, snap, rec, "no changes since last sync")
	}

	if !inst.Direction.AllowsStoreWrite() {
		return e.recordSkip(ctx, inst, snap, rec, "sync direction forbids storefront writes")
	}

	updated, err := e.store.Update(ctx, inst, *rec.StoreID, snap)
	if err != nil {
		return e.persistError(ctx, rec, "storefront update failed", err)
	}

	rec.StoreUpdated = timeRef(updated.UpdatedTime)
	rec.Published = updated.Published()
	rec.NeedsSync = false
	rec.LastSyncedAt = &now
	rec.ApplyOutcome(ledger.OutcomeUpdated, "updated on storefront", "")

	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// recreate re-pushes an entity whose storefront counterpart disappeared.
func (e *Engine) recreate(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot, rec *ledger.Record) (*ledger.Record, error) {
	storeSnap, err := e.store.Create(ctx, inst, snap)
	if err != nil {
		return e.persistError(ctx, rec, "storefront recreate failed", err)
	}

	now := time.Now().UTC()
	storeID := storeSnap.ID
	rec.StoreID = &storeID
	rec.StoreCreated = timeRef(storeSnap.CreatedTime)
	rec.StoreUpdated = timeRef(storeSnap.UpdatedTime)
	rec.Published = storeSnap.Published()
	rec.NeedsSync = false
	rec.LastSyncedAt = &now
	rec.ApplyOutcome(ledger.OutcomeCreated, "recreated missing storefront entity", "")

	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	logger.Warn(ctx, "storefront entity was missing and has been recreated",
		"kind", string(snap.Kind), "erp_id", snap.ID, "store_id", storeSnap.ID)
	return rec, nil
}

// pullFromStore writes the storefront state back into the ERP.
func (e *Engine) pullFromStore(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot, storeSnap *catalog.StoreSnapshot, rec *ledger.Record, message string) (*ledger.Record, error) {
	applied, err := e.erp.Apply(ctx, inst, storeSnap)
	if err != nil {
		return e.persistError(ctx, rec, "erp write failed", err)
	}

	now := time.Now().UTC()
	rec.ErpWriteAt = timeRef(applied.WriteTime)
	rec.ErpName = applied.Name
	rec.StoreUpdated = timeRef(storeSnap.UpdatedTime)
	rec.Published = storeSnap.Published()
	rec.NeedsSync = false
	rec.LastSyncedAt = &now
	rec.ApplyOutcome(ledger.OutcomeUpdated, message, "")

	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ReconcileFromStore handles a storefront-originated change notification.
// Known entities are routed through the regular pass so both sides get the
// same conflict resolution; unknown ones are pulled into the ERP when the
// direction permits.
func (e *Engine) ReconcileFromStore(ctx context.Context, inst *instance.Instance, kind catalog.Kind, storeID int64) (*ledger.Record, error) {
	ctx, span := tracer.Start(ctx, "engine.ReconcileFromStore",
		trace.WithAttributes(
			attribute.String("instance.id", inst.ID.String()),
			attribute.String("entity.kind", string(kind)),
			attribute.Int64("entity.store_id", storeID),
		))
	defer span.End()

	rec, err := e.records.GetByStoreID(ctx, inst.ID, kind, storeID)
	if err != nil && !apperror.IsNotFound(err) {
		return nil, fmt.Errorf("load sync record by store id: %w", err)
	}

	storeSnap, err := e.store.Get(ctx, inst, kind, storeID)
	if apperror.IsNotFound(err) {
		if rec == nil {
			// Deleted before we ever tracked it; nothing to do.
			return nil, nil
		}
		// Counterpart deleted on the storefront. Flag the record so the
		// next scheduled pass recreates it where the direction allows.
		rec.NeedsSync = true
		rec.ApplyOutcome(ledger.OutcomeSkipped, "storefront entity deleted", "")
		if perr := e.persist(ctx, rec); perr != nil {
			return nil, perr
		}
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch storefront snapshot %s/%d: %w", kind, storeID, err)
	}

	if rec != nil {
		snap, err := e.erp.FetchSnapshot(ctx, inst, kind, rec.ErpID)
		if apperror.IsNotFound(err) {
			return e.persistError(ctx, rec, "erp entity missing",
				apperror.NewNotFound(string(kind), rec.ErpID))
		}
		if err != nil {
			return nil, fmt.Errorf("fetch erp snapshot %s/%d: %w", kind, rec.ErpID, err)
		}
		return e.Reconcile(ctx, inst, snap)
	}

	// New on the storefront side.
	if !inst.Direction.AllowsErpWrite() {
		logger.Info(ctx, "storefront-created entity ignored by direction",
			"kind", string(kind), "store_id", storeID)
		return nil, nil
	}

	applied, err := e.erp.Apply(ctx, inst, storeSnap)
	if err != nil {
		return nil, fmt.Errorf("create erp entity from storefront %s/%d: %w", kind, storeID, err)
	}

	now := time.Now().UTC()
	rec = ledger.NewRecord(inst.ID, kind, applied.ID, applied.Name)
	rec.StoreID = &storeID
	rec.ErpWriteAt = timeRef(applied.WriteTime)
	rec.StoreCreated = timeRef(storeSnap.CreatedTime)
	rec.StoreUpdated = timeRef(storeSnap.UpdatedTime)
	rec.Published = storeSnap.Published()
	rec.NeedsSync = false
	rec.LastAttemptAt = &now
	rec.LastSyncedAt = &now
	rec.ApplyOutcome(ledger.OutcomeCreated, "created in erp from storefront", "")

	ierr := e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return e.records.Insert(ctx, rec)
	})
	if apperror.IsDuplicate(ierr) {
		// A concurrent worker tracked it first; its row stands.
		existing, rerr := e.records.GetByStoreID(ctx, inst.ID, kind, storeID)
		if rerr != nil {
			return nil, fmt.Errorf("re-read after store claim race: %w", rerr)
		}
		return existing, nil
	}
	if ierr != nil {
		return nil, fmt.Errorf("persist store-created record: %w", ierr)
	}
	return rec, nil
}

// recordSkip persists a skipped outcome, creating the ledger row when the
// entity has never been seen before.
func (e *Engine) recordSkip(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot, rec *ledger.Record, message string) (*ledger.Record, error) {
	fresh := rec == nil
	if fresh {
		rec = ledger.NewRecord(inst.ID, snap.Kind, snap.ID, snap.Name)
		rec.NeedsSync = false
	}
	now := time.Now().UTC()
	rec.ErpWriteAt = timeRef(snap.WriteTime)
	rec.ErpName = snap.Name
	rec.LastAttemptAt = &now
	rec.NeedsSync = false
	rec.ApplyOutcome(ledger.OutcomeSkipped, message, "")

	err := e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if fresh {
			return e.records.Insert(ctx, rec)
		}
		return e.records.Update(ctx, rec)
	})
	if fresh && apperror.IsDuplicate(err) {
		// Raced with another worker on a brand-new entity; its row stands.
		existing, rerr := e.records.GetByErpID(ctx, inst.ID, snap.Kind, snap.ID)
		if rerr != nil {
			return nil, fmt.Errorf("re-read after skip race: %w", rerr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist skip outcome: %w", err)
	}
	return rec, nil
}

// recordError persists an error outcome for a failure that happened before
// any outbound write, creating the ledger row if needed.
func (e *Engine) recordError(ctx context.Context, inst *instance.Instance, snap *catalog.ErpSnapshot, cause error) (*ledger.Record, error) {
	rec, err := e.records.GetByErpID(ctx, inst.ID, snap.Kind, snap.ID)
	if err != nil && !apperror.IsNotFound(err) {
		return nil, fmt.Errorf("load sync record: %w", err)
	}
	fresh := rec == nil
	if fresh {
		rec = ledger.NewRecord(inst.ID, snap.Kind, snap.ID, snap.Name)
	}
	now := time.Now().UTC()
	rec.LastAttemptAt = &now
	rec.ApplyOutcome(ledger.OutcomeError, "reconcile failed", cause.Error())

	perr := e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if fresh {
			return e.records.Insert(ctx, rec)
		}
		return e.records.Update(ctx, rec)
	})
	if perr != nil {
		return nil, fmt.Errorf("persist error outcome: %w", perr)
	}
	return rec, cause
}

// persistError records a failed outbound write in the ledger and returns the
// original cause so the task runner can classify it.
func (e *Engine) persistError(ctx context.Context, rec *ledger.Record, message string, cause error) (*ledger.Record, error) {
	rec.ApplyOutcome(ledger.OutcomeError, message, cause.Error())
	if err := e.persist(ctx, rec); err != nil {
		return nil, err
	}
	logger.Error(ctx, message,
		"error", cause, "kind", string(rec.Kind), "erp_id", rec.ErpID)
	return rec, cause
}

func (e *Engine) persist(ctx context.Context, rec *ledger.Record) error {
	err := e.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		return e.records.Update(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("persist sync record: %w", err)
	}
	return nil
}

// timeRef returns a pointer to a copy of t. Ledger baselines must not alias
// timestamps inside gateway-owned snapshot structs: a gateway or caller
// retaining the snapshot would otherwise move the baseline under the record
// and defeat the staleness comparison.
func timeRef(t time.Time) *time.Time {
	return &t
}

// changedSince reports whether a side changed since the last pass. The
// preferred baseline is the timestamp recorded from that side's own clock
// at the previous pass; equality there means unchanged. When only the
// engine-local sync time is available the comparison crosses clocks, so
// the staleness tolerance absorbs the jitter.
func changedSince(t time.Time, lastSeen, lastSynced *time.Time) bool {
	if lastSeen != nil {
		return t.After(*lastSeen)
	}
	if lastSynced != nil {
		return t.After(lastSynced.Add(ledger.StaleTolerance))
	}
	return !t.IsZero()
}
