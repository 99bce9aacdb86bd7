package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/catalog"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/task"
)

type nopTxManager struct{}

func (nopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeInstanceRepo struct {
	byID map[id.ID]*instance.Instance
}

func newFakeInstanceRepo() *fakeInstanceRepo {
	return &fakeInstanceRepo{byID: make(map[id.ID]*instance.Instance)}
}

func (r *fakeInstanceRepo) Create(ctx context.Context, inst *instance.Instance) error {
	r.byID[inst.ID] = inst
	return nil
}

func (r *fakeInstanceRepo) GetByID(ctx context.Context, instID id.ID) (*instance.Instance, error) {
	inst, ok := r.byID[instID]
	if !ok {
		return nil, apperror.NewNotFound("instance", instID.String())
	}
	return inst, nil
}

func (r *fakeInstanceRepo) Update(ctx context.Context, inst *instance.Instance) error {
	r.byID[inst.ID] = inst
	return nil
}

func (r *fakeInstanceRepo) Delete(ctx context.Context, instID id.ID) error {
	delete(r.byID, instID)
	return nil
}

func (r *fakeInstanceRepo) ListActive(ctx context.Context) ([]*instance.Instance, error) {
	var out []*instance.Instance
	for _, inst := range r.byID {
		if inst.Active {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *fakeInstanceRepo) List(ctx context.Context) ([]*instance.Instance, error) {
	var out []*instance.Instance
	for _, inst := range r.byID {
		out = append(out, inst)
	}
	return out, nil
}

type fakeTaskRepo struct {
	byID  map[id.ID]*task.Task
	order []id.ID
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{byID: make(map[id.ID]*task.Task)}
}

func (r *fakeTaskRepo) Insert(ctx context.Context, t *task.Task) error {
	r.byID[t.ID] = t
	r.order = append(r.order, t.ID)
	return nil
}

func (r *fakeTaskRepo) GetByID(ctx context.Context, taskID id.ID) (*task.Task, error) {
	t, ok := r.byID[taskID]
	if !ok {
		return nil, apperror.NewNotFound("task", taskID.String())
	}
	return t, nil
}

func (r *fakeTaskRepo) Update(ctx context.Context, t *task.Task) error {
	r.byID[t.ID] = t
	return nil
}

func (r *fakeTaskRepo) ListChildren(ctx context.Context, parentID id.ID) ([]*task.Task, error) {
	var out []*task.Task
	for _, tid := range r.order {
		t := r.byID[tid]
		if t.ParentID != nil && *t.ParentID == parentID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) List(ctx context.Context, instanceID id.ID, filter task.ListFilter) ([]*task.Task, error) {
	var out []*task.Task
	for _, tid := range r.order {
		t := r.byID[tid]
		if t.InstanceID != instanceID {
			continue
		}
		if filter.Kind != nil && t.Kind != *filter.Kind {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (r *fakeTaskRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	return nil, nil
}

type fakeERP struct {
	catalogs map[catalog.Kind][]*catalog.ErpSnapshot
	listErr  error
}

func (f *fakeERP) FetchSnapshot(ctx context.Context, inst *instance.Instance, kind catalog.Kind, erpID int64) (*catalog.ErpSnapshot, error) {
	for _, snap := range f.catalogs[kind] {
		if snap.ID == erpID {
			return snap, nil
		}
	}
	return nil, apperror.NewNotFound(string(kind), erpID)
}

func (f *fakeERP) ListChangedSince(ctx context.Context, inst *instance.Instance, kind catalog.Kind, since time.Time, limit int) ([]*catalog.ErpSnapshot, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.catalogs[kind], nil
}

func (f *fakeERP) Apply(ctx context.Context, inst *instance.Instance, snap *catalog.StoreSnapshot) (*catalog.ErpSnapshot, error) {
	return nil, fmt.Errorf("not implemented")
}

func erpSnap(kind catalog.Kind, erpID int64, name string) *catalog.ErpSnapshot {
	return &catalog.ErpSnapshot{
		Kind:      kind,
		ID:        erpID,
		Name:      name,
		Active:    true,
		Published: true,
		WriteTime: time.Now().UTC(),
	}
}

func TestBatchSyncFansOutChildPerEntity(t *testing.T) {
	instRepo := newFakeInstanceRepo()
	taskRepo := newFakeTaskRepo()
	tracker := task.NewTracker(taskRepo, nopTxManager{})
	runner := NewRunner(tracker)

	inst := instance.New("shop", "https://shop.example.com", "ck", "cs")
	inst.AutoSyncKinds = []string{"product", "category"}
	require.NoError(t, instRepo.Create(context.Background(), inst))

	erp := &fakeERP{catalogs: map[catalog.Kind][]*catalog.ErpSnapshot{
		catalog.KindProduct: {
			erpSnap(catalog.KindProduct, 101, "Desk Lamp"),
			erpSnap(catalog.KindProduct, 102, "Bookshelf"),
		},
		catalog.KindCategory: {
			erpSnap(catalog.KindCategory, 7, "Furniture"),
		},
	}}

	executor := NewExecutor(instance.NewService(instRepo, nopTxManager{}), nil, nil, erp, runner)

	parent, err := task.New(inst.ID, task.KindBatchSync, nil)
	require.NoError(t, err)
	require.NoError(t, taskRepo.Insert(context.Background(), parent))

	result, err := executor.batchSync(context.Background(), parent)
	require.NoError(t, err)
	// Nil result keeps the parent open for the rollup.
	assert.Nil(t, result)

	children, err := taskRepo.ListChildren(context.Background(), parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 3)
	for _, child := range children {
		assert.Equal(t, task.KindReconcileEntity, child.Kind)
		assert.Equal(t, inst.ID, child.InstanceID)
	}

	seen := make(map[string][]int64)
	for _, child := range children {
		var payload task.ReconcileEntityPayload
		require.NoError(t, child.DecodePayload(&payload))
		seen[payload.Kind] = append(seen[payload.Kind], payload.ErpID)
	}
	assert.ElementsMatch(t, []int64{101, 102}, seen["product"])
	assert.ElementsMatch(t, []int64{7}, seen["category"])
}

func TestBatchSyncSkipsUnsyncedKinds(t *testing.T) {
	instRepo := newFakeInstanceRepo()
	taskRepo := newFakeTaskRepo()
	runner := NewRunner(task.NewTracker(taskRepo, nopTxManager{}))

	inst := instance.New("shop", "https://shop.example.com", "ck", "cs")
	inst.AutoSyncKinds = []string{"category"}
	require.NoError(t, instRepo.Create(context.Background(), inst))

	erp := &fakeERP{catalogs: map[catalog.Kind][]*catalog.ErpSnapshot{
		catalog.KindProduct: {erpSnap(catalog.KindProduct, 101, "Desk Lamp")},
	}}

	executor := NewExecutor(instance.NewService(instRepo, nopTxManager{}), nil, nil, erp, runner)

	parent, err := task.New(inst.ID, task.KindBatchSync, nil)
	require.NoError(t, err)
	require.NoError(t, taskRepo.Insert(context.Background(), parent))

	// No category entities and products are not auto-synced: nothing spawns
	// and the parent closes immediately.
	result, err := executor.batchSync(context.Background(), parent)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"children": 0}, result)
}

func TestBatchSyncFailsWhenEnumerationFails(t *testing.T) {
	instRepo := newFakeInstanceRepo()
	taskRepo := newFakeTaskRepo()
	runner := NewRunner(task.NewTracker(taskRepo, nopTxManager{}))

	inst := instance.New("shop", "https://shop.example.com", "ck", "cs")
	require.NoError(t, instRepo.Create(context.Background(), inst))

	erp := &fakeERP{listErr: apperror.NewTransport("erp", fmt.Errorf("connection refused"))}

	executor := NewExecutor(instance.NewService(instRepo, nopTxManager{}), nil, nil, erp, runner)

	parent, err := task.New(inst.ID, task.KindBatchSync, nil)
	require.NoError(t, err)
	require.NoError(t, taskRepo.Insert(context.Background(), parent))

	_, err = executor.batchSync(context.Background(), parent)
	require.Error(t, err)
	assert.True(t, apperror.IsRetryable(err))
}
