package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/catalog"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/ledger"
)

// --- fakes ---

type nopTxManager struct{}

func (nopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type recordKey struct {
	kind  catalog.Kind
	erpID int64
}

type fakeLedger struct {
	records map[recordKey]*ledger.Record
	// insertHook runs before each Insert, letting tests inject a racing writer.
	insertHook func()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{records: make(map[recordKey]*ledger.Record)}
}

func (f *fakeLedger) GetByErpID(_ context.Context, _ id.ID, kind catalog.Kind, erpID int64) (*ledger.Record, error) {
	rec, ok := f.records[recordKey{kind, erpID}]
	if !ok {
		return nil, apperror.NewNotFound("sync_record", erpID)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeLedger) GetByStoreID(_ context.Context, _ id.ID, kind catalog.Kind, storeID int64) (*ledger.Record, error) {
	for _, rec := range f.records {
		if rec.Kind == kind && rec.StoreID != nil && *rec.StoreID == storeID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("sync_record", storeID)
}

func (f *fakeLedger) Insert(_ context.Context, rec *ledger.Record) error {
	if f.insertHook != nil {
		f.insertHook()
	}
	key := recordKey{rec.Kind, rec.ErpID}
	if _, ok := f.records[key]; ok {
		return apperror.NewDuplicate("sync_record", "erp_id", fmt.Sprint(rec.ErpID))
	}
	cp := *rec
	f.records[key] = &cp
	return nil
}

func (f *fakeLedger) Update(_ context.Context, rec *ledger.Record) error {
	cp := *rec
	f.records[recordKey{rec.Kind, rec.ErpID}] = &cp
	return nil
}

func (f *fakeLedger) ListNeedingSync(_ context.Context, _ id.ID, kind catalog.Kind, limit int) ([]*ledger.Record, error) {
	var out []*ledger.Record
	for _, rec := range f.records {
		if rec.Kind == kind && rec.NeedsSync {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeLedger) MarkForSync(_ context.Context, _ id.ID, kind catalog.Kind, erpIDs []int64) (int64, error) {
	var n int64
	for _, eid := range erpIDs {
		if rec, ok := f.records[recordKey{kind, eid}]; ok {
			rec.NeedsSync = true
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) List(_ context.Context, _ id.ID, _ ledger.ListFilter) ([]*ledger.Record, error) {
	return nil, nil
}

func (f *fakeLedger) Stats(_ context.Context, _ id.ID, _ catalog.Kind) (ledger.Stats, error) {
	return ledger.Stats{}, nil
}

type fakeERP struct {
	snapshots map[recordKey]*catalog.ErpSnapshot
	applied   []*catalog.StoreSnapshot
	nextID    int64
}

func newFakeERP() *fakeERP {
	return &fakeERP{snapshots: make(map[recordKey]*catalog.ErpSnapshot), nextID: 5000}
}

func (f *fakeERP) FetchSnapshot(_ context.Context, _ *instance.Instance, kind catalog.Kind, erpID int64) (*catalog.ErpSnapshot, error) {
	snap, ok := f.snapshots[recordKey{kind, erpID}]
	if !ok {
		return nil, apperror.NewNotFound(string(kind), erpID)
	}
	return snap, nil
}

func (f *fakeERP) ListChangedSince(_ context.Context, _ *instance.Instance, kind catalog.Kind, since time.Time, _ int) ([]*catalog.ErpSnapshot, error) {
	var out []*catalog.ErpSnapshot
	for _, snap := range f.snapshots {
		if snap.Kind == kind && (since.IsZero() || snap.WriteTime.After(since)) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (f *fakeERP) Apply(_ context.Context, _ *instance.Instance, snap *catalog.StoreSnapshot) (*catalog.ErpSnapshot, error) {
	f.applied = append(f.applied, snap)
	f.nextID++
	return &catalog.ErpSnapshot{
		Kind:      snap.Kind,
		ID:        f.nextID,
		Name:      snap.Name,
		SKU:       snap.SKU,
		Active:    true,
		Published: snap.Published(),
		WriteTime: time.Now().UTC(),
	}, nil
}

type fakeStore struct {
	entities map[recordKey]*catalog.StoreSnapshot
	nextID   int64

	creates int
	updates int

	createErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entities: make(map[recordKey]*catalog.StoreSnapshot), nextID: 100}
}

func (f *fakeStore) Get(_ context.Context, _ *instance.Instance, kind catalog.Kind, storeID int64) (*catalog.StoreSnapshot, error) {
	for _, e := range f.entities {
		if e.Kind == kind && e.ID == storeID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound(string(kind), storeID)
}

func (f *fakeStore) Create(_ context.Context, _ *instance.Instance, snap *catalog.ErpSnapshot) (*catalog.StoreSnapshot, error) {
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	now := time.Now().UTC()
	out := &catalog.StoreSnapshot{
		Kind:        snap.Kind,
		ID:          f.nextID,
		Name:        snap.Name,
		SKU:         snap.SKU,
		Status:      "publish",
		CreatedTime: now,
		UpdatedTime: now,
	}
	f.entities[recordKey{snap.Kind, out.ID}] = out
	return out, nil
}

func (f *fakeStore) Update(_ context.Context, _ *instance.Instance, storeID int64, snap *catalog.ErpSnapshot) (*catalog.StoreSnapshot, error) {
	f.updates++
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	out := &catalog.StoreSnapshot{
		Kind:        snap.Kind,
		ID:          storeID,
		Name:        snap.Name,
		SKU:         snap.SKU,
		Status:      "publish",
		UpdatedTime: time.Now().UTC(),
	}
	f.entities[recordKey{snap.Kind, storeID}] = out
	return out, nil
}

func (f *fakeStore) RegisterWebhook(_ context.Context, _ *instance.Instance, _, _ string) (int64, error) {
	return 1, nil
}

func (f *fakeStore) DeleteWebhook(_ context.Context, _ *instance.Instance, _ int64) error {
	return nil
}

// --- helpers ---

type fixture struct {
	engine *Engine
	ledger *fakeLedger
	erp    *fakeERP
	store  *fakeStore
	inst   *instance.Instance
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policies, err := NewPolicyEvaluator()
	require.NoError(t, err)

	fl := newFakeLedger()
	fe := newFakeERP()
	fs := newFakeStore()
	inst := instance.New("acme", "https://shop.example.com", "ck", "cs")

	return &fixture{
		engine: New(fl, fe, fs, policies, nopTxManager{}),
		ledger: fl,
		erp:    fe,
		store:  fs,
		inst:   inst,
	}
}

func productSnap(erpID int64, writeTime time.Time) *catalog.ErpSnapshot {
	price := decimal.NewFromInt(25)
	return &catalog.ErpSnapshot{
		Kind:      catalog.KindProduct,
		ID:        erpID,
		Name:      "Desk Lamp",
		ListPrice: &price,
		Active:    true,
		Published: true,
		WriteTime: writeTime,
	}
}

// --- tests ---

func TestReconcileCreateThenSkipThenUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := time.Now().UTC().Add(-time.Hour)

	// First pass: unseen entity gets created.
	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(1, t1))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeCreated, rec.Outcome())
	require.NotNil(t, rec.StoreID)
	assert.Equal(t, 1, f.store.creates)

	// Second pass with the same write time: nothing to do.
	rec, err = f.engine.Reconcile(ctx, f.inst, productSnap(1, t1))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkipped, rec.Outcome())
	assert.Equal(t, 0, f.store.updates)

	// Third pass with a later write time: pushed as an update.
	rec, err = f.engine.Reconcile(ctx, f.inst, productSnap(1, t1.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeUpdated, rec.Outcome())
	assert.Equal(t, 1, f.store.updates)
	assert.Equal(t, 1, f.store.creates)
}

func TestReconcileDirectionForbidsCreate(t *testing.T) {
	f := newFixture(t)
	f.inst.Direction = instance.DirectionStoreToErp
	ctx := context.Background()

	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(2, time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkipped, rec.Outcome())
	assert.Contains(t, rec.Message, "direction")
	assert.Nil(t, rec.StoreID)
	assert.Equal(t, 0, f.store.creates)
}

func TestReconcileSkipPolicy(t *testing.T) {
	f := newFixture(t)
	policy := `list_price < 10.0 || !active`
	f.inst.SkipPolicy = &policy
	ctx := context.Background()

	cheap := productSnap(3, time.Now().UTC())
	price := decimal.NewFromInt(5)
	cheap.ListPrice = &price

	rec, err := f.engine.Reconcile(ctx, f.inst, cheap)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSkipped, rec.Outcome())
	assert.Equal(t, "skip policy matched", rec.Message)
	assert.Equal(t, 0, f.store.creates)

	// An entity the policy does not match syncs normally.
	rec, err = f.engine.Reconcile(ctx, f.inst, productSnap(4, time.Now().UTC()))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeCreated, rec.Outcome())
}

func TestReconcileInvalidPolicyRecordsError(t *testing.T) {
	f := newFixture(t)
	policy := `list_price + `
	f.inst.SkipPolicy = &policy
	ctx := context.Background()

	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(5, time.Now().UTC()))
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.OutcomeError, rec.Outcome())
	assert.False(t, apperror.IsRetryable(err))
}

func TestReconcileValidationFailureRecordsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	bad := productSnap(6, time.Now().UTC())
	bad.Name = ""

	rec, err := f.engine.Reconcile(ctx, f.inst, bad)
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.OutcomeError, rec.Outcome())
	assert.False(t, apperror.IsRetryable(err))
	assert.Equal(t, 0, f.store.creates)
}

func TestReconcileTransportErrorIsRetryableAndRecorded(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = apperror.NewTransport("storefront", errors.New("dial tcp: timeout"))
	ctx := context.Background()

	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(7, time.Now().UTC()))
	require.Error(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.OutcomeError, rec.Outcome())
	assert.True(t, apperror.IsRetryable(err))
	assert.Contains(t, rec.ErrorDetail, "dial tcp")
}

func TestReconcileLostClaimRaceConvergesToUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := time.Now().UTC()

	// A racing worker claims and creates the entity between our read
	// and our insert.
	raced := false
	f.ledger.insertHook = func() {
		if raced {
			return
		}
		raced = true
		rec := ledger.NewRecord(f.inst.ID, catalog.KindProduct, 8, "Desk Lamp")
		storeID := int64(900)
		rec.StoreID = &storeID
		synced := t1.Add(-time.Minute)
		rec.ErpWriteAt = &synced
		rec.LastSyncedAt = &synced
		rec.ApplyOutcome(ledger.OutcomeCreated, "created on storefront", "")
		rec.NeedsSync = false
		f.ledger.records[recordKey{catalog.KindProduct, 8}] = rec
		f.store.entities[recordKey{catalog.KindProduct, 900}] = &catalog.StoreSnapshot{
			Kind:        catalog.KindProduct,
			ID:          900,
			Name:        "Desk Lamp",
			Status:      "publish",
			UpdatedTime: synced,
		}
	}

	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(8, t1))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeUpdated, rec.Outcome())
	require.NotNil(t, rec.StoreID)
	assert.Equal(t, int64(900), *rec.StoreID)

	// The losing worker never created a second storefront entity.
	assert.Equal(t, 0, f.store.creates)
	assert.Equal(t, 1, f.store.updates)
}

func TestReconcileRecreatesMissingStorefrontEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := time.Now().UTC().Add(-time.Hour)

	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(9, t1))
	require.NoError(t, err)
	oldStoreID := *rec.StoreID

	// Entity vanishes on the storefront side.
	delete(f.store.entities, recordKey{catalog.KindProduct, oldStoreID})

	rec, err = f.engine.Reconcile(ctx, f.inst, productSnap(9, t1.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeCreated, rec.Outcome())
	assert.Contains(t, rec.Message, "recreated")
	require.NotNil(t, rec.StoreID)
	assert.NotEqual(t, oldStoreID, *rec.StoreID)
}

func TestReconcileBaselinesDetachedFromGatewaySnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := time.Now().UTC().Add(-time.Hour)

	snap := productSnap(20, t1)
	rec, err := f.engine.Reconcile(ctx, f.inst, snap)
	require.NoError(t, err)
	storeID := *rec.StoreID
	storeBaseline := *rec.StoreUpdated

	// The storefront fake retains the struct it returned from Create, and
	// the caller retains the ERP snapshot. Mutating either afterwards must
	// not move the baselines recorded in the ledger.
	f.store.entities[recordKey{catalog.KindProduct, storeID}].UpdatedTime =
		time.Now().UTC().Add(time.Hour)
	snap.WriteTime = time.Now().UTC().Add(2 * time.Hour)

	stored, err := f.ledger.GetByErpID(ctx, f.inst.ID, catalog.KindProduct, 20)
	require.NoError(t, err)
	assert.True(t, stored.StoreUpdated.Equal(storeBaseline))
	assert.True(t, stored.ErpWriteAt.Equal(t1))
}

func TestReconcileBidirectionalConflictStoreWins(t *testing.T) {
	f := newFixture(t)
	f.inst.Direction = instance.DirectionBidirectional
	ctx := context.Background()
	t1 := time.Now().UTC().Add(-time.Hour)

	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(10, t1))
	require.NoError(t, err)
	storeID := *rec.StoreID

	// Both sides changed after the recorded baselines; the storefront
	// wrote later than the ERP.
	erpWrite := time.Now().UTC().Add(time.Minute)
	storeWrite := time.Now().UTC().Add(2 * time.Minute)
	f.store.entities[recordKey{catalog.KindProduct, storeID}].UpdatedTime = storeWrite
	f.store.entities[recordKey{catalog.KindProduct, storeID}].Name = "Desk Lamp v2"

	rec, err = f.engine.Reconcile(ctx, f.inst, productSnap(10, erpWrite))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeUpdated, rec.Outcome())
	assert.Contains(t, rec.Message, "conflict")
	require.Len(t, f.erp.applied, 1)
	assert.Equal(t, "Desk Lamp v2", f.erp.applied[0].Name)
	assert.Equal(t, 0, f.store.updates)
}

func TestReconcileBidirectionalConflictErpWinsTie(t *testing.T) {
	f := newFixture(t)
	f.inst.Direction = instance.DirectionBidirectional
	ctx := context.Background()
	t1 := time.Now().UTC().Add(-time.Hour)

	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(11, t1))
	require.NoError(t, err)
	storeID := *rec.StoreID

	// Identical write times on both sides: the ERP wins.
	tie := time.Now().UTC().Add(time.Minute)
	f.store.entities[recordKey{catalog.KindProduct, storeID}].UpdatedTime = tie

	rec, err = f.engine.Reconcile(ctx, f.inst, productSnap(11, tie))
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeUpdated, rec.Outcome())
	assert.Empty(t, f.erp.applied)
	assert.Equal(t, 1, f.store.updates)
}

func TestReconcileFromStorePullsNewEntityIntoErp(t *testing.T) {
	f := newFixture(t)
	f.inst.Direction = instance.DirectionBidirectional
	ctx := context.Background()

	// Entity exists only on the storefront.
	f.store.entities[recordKey{catalog.KindProduct, 700}] = &catalog.StoreSnapshot{
		Kind:        catalog.KindProduct,
		ID:          700,
		Name:        "Store-born Lamp",
		Status:      "publish",
		CreatedTime: time.Now().UTC(),
		UpdatedTime: time.Now().UTC(),
	}

	rec, err := f.engine.ReconcileFromStore(ctx, f.inst, catalog.KindProduct, 700)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.OutcomeCreated, rec.Outcome())
	require.NotNil(t, rec.StoreID)
	assert.Equal(t, int64(700), *rec.StoreID)
	assert.Positive(t, rec.ErpID)
	require.Len(t, f.erp.applied, 1)
}

func TestReconcileFromStoreIgnoresNewEntityWhenOneWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.entities[recordKey{catalog.KindProduct, 701}] = &catalog.StoreSnapshot{
		Kind:        catalog.KindProduct,
		ID:          701,
		Name:        "Store-born Lamp",
		Status:      "publish",
		UpdatedTime: time.Now().UTC(),
	}

	rec, err := f.engine.ReconcileFromStore(ctx, f.inst, catalog.KindProduct, 701)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, f.erp.applied)
}

func TestReconcileFromStoreFlagsDeletedEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1 := time.Now().UTC().Add(-time.Hour)

	rec, err := f.engine.Reconcile(ctx, f.inst, productSnap(12, t1))
	require.NoError(t, err)
	storeID := *rec.StoreID

	delete(f.store.entities, recordKey{catalog.KindProduct, storeID})

	rec, err = f.engine.ReconcileFromStore(ctx, f.inst, catalog.KindProduct, storeID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, ledger.OutcomeSkipped, rec.Outcome())
	assert.True(t, rec.NeedsSync)
	assert.Contains(t, rec.Message, "deleted")
}

func TestReconcileKindCountsOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	f.erp.snapshots[recordKey{catalog.KindProduct, 1}] = productSnap(1, now)
	f.erp.snapshots[recordKey{catalog.KindProduct, 2}] = productSnap(2, now)
	bad := productSnap(3, now)
	bad.Name = ""
	f.erp.snapshots[recordKey{catalog.KindProduct, 3}] = bad

	summary, err := f.engine.ReconcileKind(ctx, f.inst, catalog.KindProduct, time.Time{}, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 3, summary.Total())
}

func TestPolicyEvaluatorCompileRejectsNonBool(t *testing.T) {
	p, err := NewPolicyEvaluator()
	require.NoError(t, err)

	assert.Error(t, p.Compile(`list_price + 1.0`))
	assert.NoError(t, p.Compile(`list_price > 100.0 && published`))
}
