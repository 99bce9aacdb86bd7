package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/task"
	"storesync/internal/domain/webhook"
)

type fakeConfigRepo struct {
	byID map[id.ID]*webhook.Config
}

func newFakeConfigRepo() *fakeConfigRepo {
	return &fakeConfigRepo{byID: make(map[id.ID]*webhook.Config)}
}

func (r *fakeConfigRepo) Create(ctx context.Context, cfg *webhook.Config) error {
	r.byID[cfg.ID] = cfg
	return nil
}

func (r *fakeConfigRepo) GetByID(ctx context.Context, cfgID id.ID) (*webhook.Config, error) {
	cfg, ok := r.byID[cfgID]
	if !ok {
		return nil, apperror.NewNotFound("webhook config", cfgID.String())
	}
	return cfg, nil
}

func (r *fakeConfigRepo) GetByTopic(ctx context.Context, instanceID id.ID, topic string) (*webhook.Config, error) {
	for _, cfg := range r.byID {
		if cfg.InstanceID == instanceID && cfg.Topic == topic {
			return cfg, nil
		}
	}
	return nil, apperror.NewNotFound("webhook config", topic)
}

func (r *fakeConfigRepo) Update(ctx context.Context, cfg *webhook.Config) error {
	r.byID[cfg.ID] = cfg
	return nil
}

func (r *fakeConfigRepo) Delete(ctx context.Context, cfgID id.ID) error {
	delete(r.byID, cfgID)
	return nil
}

func (r *fakeConfigRepo) ListByInstance(ctx context.Context, instanceID id.ID) ([]*webhook.Config, error) {
	var out []*webhook.Config
	for _, cfg := range r.byID {
		if cfg.InstanceID == instanceID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

type fakeDeliveryRepo struct {
	byID map[id.ID]*webhook.Delivery
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{byID: make(map[id.ID]*webhook.Delivery)}
}

func (r *fakeDeliveryRepo) Insert(ctx context.Context, d *webhook.Delivery) error {
	r.byID[d.ID] = d
	return nil
}

func (r *fakeDeliveryRepo) GetByID(ctx context.Context, deliveryID id.ID) (*webhook.Delivery, error) {
	d, ok := r.byID[deliveryID]
	if !ok {
		return nil, apperror.NewNotFound("webhook delivery", deliveryID.String())
	}
	return d, nil
}

func (r *fakeDeliveryRepo) FindByHash(ctx context.Context, instanceID id.ID, topic, payloadHash string) (*webhook.Delivery, error) {
	return nil, nil
}

func (r *fakeDeliveryRepo) Update(ctx context.Context, d *webhook.Delivery) error {
	r.byID[d.ID] = d
	return nil
}

func (r *fakeDeliveryRepo) ListByState(ctx context.Context, instanceID id.ID, state webhook.DeliveryState, limit int) ([]*webhook.Delivery, error) {
	var out []*webhook.Delivery
	for _, d := range r.byID {
		if d.InstanceID == instanceID && d.State == state {
			out = append(out, d)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func newTestScheduler(instRepo *fakeInstanceRepo, taskRepo *fakeTaskRepo, configs *fakeConfigRepo, deliveries *fakeDeliveryRepo) *Scheduler {
	runner := NewRunner(task.NewTracker(taskRepo, nopTxManager{}))
	return NewScheduler(
		instance.NewService(instRepo, nopTxManager{}),
		taskRepo, runner, configs, deliveries,
		DefaultSchedulerConfig(),
	)
}

func TestScheduleBatchesSubmitsPerAutoSyncInstance(t *testing.T) {
	instRepo := newFakeInstanceRepo()
	taskRepo := newFakeTaskRepo()

	autoInst := instance.New("auto", "https://a.example.com", "ck", "cs")
	manualInst := instance.New("manual", "https://m.example.com", "ck", "cs")
	manualInst.AutoSync = false
	require.NoError(t, instRepo.Create(context.Background(), autoInst))
	require.NoError(t, instRepo.Create(context.Background(), manualInst))

	sched := newTestScheduler(instRepo, taskRepo, newFakeConfigRepo(), newFakeDeliveryRepo())
	require.NoError(t, sched.scheduleBatches(context.Background()))

	autoTasks, err := taskRepo.List(context.Background(), autoInst.ID, task.ListFilter{})
	require.NoError(t, err)
	require.Len(t, autoTasks, 1)
	assert.Equal(t, task.KindBatchSync, autoTasks[0].Kind)

	manualTasks, err := taskRepo.List(context.Background(), manualInst.ID, task.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, manualTasks)
}

func TestScheduleBatchesSkipsLivePass(t *testing.T) {
	instRepo := newFakeInstanceRepo()
	taskRepo := newFakeTaskRepo()

	inst := instance.New("shop", "https://shop.example.com", "ck", "cs")
	require.NoError(t, instRepo.Create(context.Background(), inst))

	sched := newTestScheduler(instRepo, taskRepo, newFakeConfigRepo(), newFakeDeliveryRepo())

	// First tick submits a pass; while it is non-terminal a second tick
	// must not pile another on top.
	require.NoError(t, sched.scheduleBatches(context.Background()))
	require.NoError(t, sched.scheduleBatches(context.Background()))

	batches, err := taskRepo.List(context.Background(), inst.ID, task.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, batches, 1)
}

func TestSweepReenqueuesStalePendingDeliveries(t *testing.T) {
	instRepo := newFakeInstanceRepo()
	taskRepo := newFakeTaskRepo()
	configs := newFakeConfigRepo()
	deliveries := newFakeDeliveryRepo()

	inst := instance.New("shop", "https://shop.example.com", "ck", "cs")
	require.NoError(t, instRepo.Create(context.Background(), inst))

	activeCfg := webhook.NewConfig(inst.ID, "product.updated", "https://sync.example.com/hooks")
	pausedCfg := webhook.NewConfig(inst.ID, "product.created", "https://sync.example.com/hooks")
	pausedCfg.Status = webhook.ConfigPaused
	require.NoError(t, configs.Create(context.Background(), activeCfg))
	require.NoError(t, configs.Create(context.Background(), pausedCfg))

	stale, err := webhook.NewDelivery(activeCfg, "evt-1", []byte(`{"id":101}`))
	require.NoError(t, err)
	stale.ReceivedAt = time.Now().UTC().Add(-5 * time.Minute)

	fresh, err := webhook.NewDelivery(activeCfg, "evt-2", []byte(`{"id":102}`))
	require.NoError(t, err)
	fresh.ReceivedAt = time.Now().UTC()

	onPaused, err := webhook.NewDelivery(pausedCfg, "evt-3", []byte(`{"id":103}`))
	require.NoError(t, err)
	onPaused.ReceivedAt = time.Now().UTC().Add(-5 * time.Minute)

	for _, d := range []*webhook.Delivery{stale, fresh, onPaused} {
		require.NoError(t, deliveries.Insert(context.Background(), d))
	}

	sched := newTestScheduler(instRepo, taskRepo, configs, deliveries)
	require.NoError(t, sched.sweepDeliveries(context.Background()))

	// Only the stale delivery on the active topic becomes a task.
	enqueued, err := taskRepo.List(context.Background(), inst.ID, task.ListFilter{})
	require.NoError(t, err)
	require.Len(t, enqueued, 1)
	assert.Equal(t, task.KindWebhookEvent, enqueued[0].Kind)

	var payload task.WebhookEventPayload
	require.NoError(t, enqueued[0].DecodePayload(&payload))
	assert.Equal(t, stale.ID, payload.DeliveryID)
}
