package webhook

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
	"storesync/internal/domain/catalog"
	"storesync/internal/domain/instance"
)

// --- fakes ---

type nopTxManager struct{}

func (nopTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeInstanceRepo struct {
	instances map[id.ID]*instance.Instance
}

func (f *fakeInstanceRepo) Create(_ context.Context, inst *instance.Instance) error {
	f.instances[inst.ID] = inst
	return nil
}

func (f *fakeInstanceRepo) GetByID(_ context.Context, instID id.ID) (*instance.Instance, error) {
	inst, ok := f.instances[instID]
	if !ok {
		return nil, apperror.NewNotFound("instance", instID.String())
	}
	return inst, nil
}

func (f *fakeInstanceRepo) Update(_ context.Context, inst *instance.Instance) error {
	f.instances[inst.ID] = inst
	return nil
}

func (f *fakeInstanceRepo) Delete(_ context.Context, instID id.ID) error {
	delete(f.instances, instID)
	return nil
}

func (f *fakeInstanceRepo) ListActive(_ context.Context) ([]*instance.Instance, error) {
	return nil, nil
}

func (f *fakeInstanceRepo) List(_ context.Context) ([]*instance.Instance, error) {
	return nil, nil
}

type topicKey struct {
	instanceID id.ID
	topic      string
}

type fakeConfigRepo struct {
	configs map[topicKey]*Config
}

func (f *fakeConfigRepo) Create(_ context.Context, cfg *Config) error {
	key := topicKey{cfg.InstanceID, cfg.Topic}
	if _, ok := f.configs[key]; ok {
		return apperror.NewDuplicate("webhook_config", "topic", cfg.Topic)
	}
	f.configs[key] = cfg
	return nil
}

func (f *fakeConfigRepo) GetByID(_ context.Context, cfgID id.ID) (*Config, error) {
	for _, cfg := range f.configs {
		if cfg.ID == cfgID {
			return cfg, nil
		}
	}
	return nil, apperror.NewNotFound("webhook_config", cfgID.String())
}

func (f *fakeConfigRepo) GetByTopic(_ context.Context, instanceID id.ID, topic string) (*Config, error) {
	cfg, ok := f.configs[topicKey{instanceID, topic}]
	if !ok {
		return nil, apperror.NewNotFound("webhook_config", topic)
	}
	return cfg, nil
}

func (f *fakeConfigRepo) Update(_ context.Context, cfg *Config) error {
	f.configs[topicKey{cfg.InstanceID, cfg.Topic}] = cfg
	return nil
}

func (f *fakeConfigRepo) Delete(_ context.Context, cfgID id.ID) error {
	for key, cfg := range f.configs {
		if cfg.ID == cfgID {
			delete(f.configs, key)
			return nil
		}
	}
	return apperror.NewNotFound("webhook_config", cfgID.String())
}

func (f *fakeConfigRepo) ListByInstance(_ context.Context, instanceID id.ID) ([]*Config, error) {
	var out []*Config
	for _, cfg := range f.configs {
		if cfg.InstanceID == instanceID {
			out = append(out, cfg)
		}
	}
	return out, nil
}

type fakeDeliveryRepo struct {
	deliveries map[id.ID]*Delivery
	byEventID  map[string]id.ID
}

func newFakeDeliveryRepo() *fakeDeliveryRepo {
	return &fakeDeliveryRepo{
		deliveries: make(map[id.ID]*Delivery),
		byEventID:  make(map[string]id.ID),
	}
}

func (f *fakeDeliveryRepo) Insert(_ context.Context, d *Delivery) error {
	if d.EventID != "" {
		if _, ok := f.byEventID[d.EventID]; ok {
			return apperror.NewDuplicate("webhook_delivery", "event_id", d.EventID)
		}
		f.byEventID[d.EventID] = d.ID
	}
	cp := *d
	f.deliveries[d.ID] = &cp
	return nil
}

func (f *fakeDeliveryRepo) GetByID(_ context.Context, deliveryID id.ID) (*Delivery, error) {
	d, ok := f.deliveries[deliveryID]
	if !ok {
		return nil, apperror.NewNotFound("webhook_delivery", deliveryID.String())
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDeliveryRepo) FindByHash(_ context.Context, instanceID id.ID, topic, payloadHash string) (*Delivery, error) {
	for _, d := range f.deliveries {
		if d.InstanceID == instanceID && d.Topic == topic && d.PayloadHash == payloadHash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("webhook_delivery", payloadHash)
}

func (f *fakeDeliveryRepo) Update(_ context.Context, d *Delivery) error {
	cp := *d
	f.deliveries[d.ID] = &cp
	return nil
}

func (f *fakeDeliveryRepo) ListByState(_ context.Context, instanceID id.ID, state DeliveryState, _ int) ([]*Delivery, error) {
	var out []*Delivery
	for _, d := range f.deliveries {
		if d.InstanceID == instanceID && d.State == state {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeProcessor struct {
	enqueued []*Delivery
	err      error
}

func (f *fakeProcessor) Enqueue(_ context.Context, d *Delivery) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, d)
	return nil
}

type fakeStorefront struct {
	registered   []string
	unregistered []int64
}

func (f *fakeStorefront) Get(_ context.Context, _ *instance.Instance, kind catalog.Kind, storeID int64) (*catalog.StoreSnapshot, error) {
	return nil, apperror.NewNotFound(string(kind), storeID)
}

func (f *fakeStorefront) Create(_ context.Context, _ *instance.Instance, _ *catalog.ErpSnapshot) (*catalog.StoreSnapshot, error) {
	return nil, apperror.NewInternal(nil)
}

func (f *fakeStorefront) Update(_ context.Context, _ *instance.Instance, _ int64, _ *catalog.ErpSnapshot) (*catalog.StoreSnapshot, error) {
	return nil, apperror.NewInternal(nil)
}

func (f *fakeStorefront) RegisterWebhook(_ context.Context, _ *instance.Instance, topic, _ string) (int64, error) {
	f.registered = append(f.registered, topic)
	return int64(len(f.registered)), nil
}

func (f *fakeStorefront) DeleteWebhook(_ context.Context, _ *instance.Instance, storeWebhookID int64) error {
	f.unregistered = append(f.unregistered, storeWebhookID)
	return nil
}

// --- helpers ---

type fixture struct {
	service   *Service
	instances *fakeInstanceRepo
	configs   *fakeConfigRepo
	delivs    *fakeDeliveryRepo
	processor *fakeProcessor
	store     *fakeStorefront
	inst      *instance.Instance
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	instances := &fakeInstanceRepo{instances: make(map[id.ID]*instance.Instance)}
	configs := &fakeConfigRepo{configs: make(map[topicKey]*Config)}
	delivs := newFakeDeliveryRepo()
	processor := &fakeProcessor{}
	store := &fakeStorefront{}

	inst := instance.New("acme", "https://shop.example.com", "ck", "cs")
	inst.WebhookSecret = "top-secret"
	instances.instances[inst.ID] = inst

	return &fixture{
		service:   NewService(instances, configs, delivs, store, processor, nopTxManager{}),
		instances: instances,
		configs:   configs,
		delivs:    delivs,
		processor: processor,
		store:     store,
		inst:      inst,
	}
}

func (f *fixture) addConfig(topic string, status ConfigStatus) *Config {
	cfg := NewConfig(f.inst.ID, topic, "https://sync.example.com/hooks")
	cfg.Status = status
	f.configs.configs[topicKey{f.inst.ID, topic}] = cfg
	return cfg
}

// --- tests ---

func TestIngestAcceptsValidDelivery(t *testing.T) {
	f := newFixture(t)
	f.addConfig("product.updated", ConfigActive)
	ctx := context.Background()

	payload := []byte(`{"id": 42, "name": "Desk Lamp"}`)
	sig := Sign(f.inst.WebhookSecret, payload)

	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)
	require.Len(t, f.processor.enqueued, 1)

	d := f.processor.enqueued[0]
	assert.Equal(t, DeliveryPending, d.State)

	restored, err := d.Payload()
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestIngestRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	f.addConfig("product.updated", ConfigActive)
	ctx := context.Background()

	payload := []byte(`{"id": 42}`)

	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, "bogus")
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, res)
	assert.Empty(t, f.processor.enqueued)
	assert.Empty(t, f.delivs.deliveries)
}

func TestIngestRejectsEmptySecret(t *testing.T) {
	f := newFixture(t)
	f.addConfig("product.updated", ConfigActive)
	f.inst.WebhookSecret = ""
	ctx := context.Background()

	payload := []byte(`{"id": 42}`)
	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, Sign("", payload))
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, res)
}

func TestIngestConfigSecretOverridesInstanceSecret(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig("product.updated", ConfigActive)
	override := "per-topic-secret"
	cfg.Secret = &override
	ctx := context.Background()

	payload := []byte(`{"id": 42}`)

	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, Sign(f.inst.WebhookSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, res)

	res, err = f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, Sign(override, payload))
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)
}

func TestIngestUnconfiguredTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload := []byte(`{"id": 42}`)
	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, Sign(f.inst.WebhookSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, ResultUnconfigured, res)

	// Disabled counts as unconfigured.
	f.addConfig("category.created", ConfigDisabled)
	res, err = f.service.Ingest(ctx, f.inst.ID, "category.created", "evt-2", payload, Sign(f.inst.WebhookSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, ResultUnconfigured, res)
}

func TestIngestDeduplicatesByPayloadHash(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig("product.updated", ConfigActive)
	ctx := context.Background()

	payload := []byte(`{"id": 42, "name": "Desk Lamp"}`)
	sig := Sign(f.inst.WebhookSecret, payload)

	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)

	// Same payload under a fresh event id: stored as duplicate, not queued.
	res, err = f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-2", payload, sig)
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)
	assert.Len(t, f.processor.enqueued, 1)

	dups, err := f.delivs.ListByState(ctx, f.inst.ID, DeliveryDuplicate, 10)
	require.NoError(t, err)
	assert.Len(t, dups, 1)

	// Both deliveries counted.
	assert.Equal(t, int64(2), cfg.DeliveryCount)
	assert.NotNil(t, cfg.LastDeliveryAt)
}

func TestIngestDeduplicatesByEventID(t *testing.T) {
	f := newFixture(t)
	f.addConfig("product.updated", ConfigActive)
	ctx := context.Background()

	first := []byte(`{"id": 42, "rev": 1}`)
	second := []byte(`{"id": 42, "rev": 2}`)

	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", first, Sign(f.inst.WebhookSecret, first))
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)

	// Different payload, same event id: the storefront re-sent the event.
	res, err = f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", second, Sign(f.inst.WebhookSecret, second))
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res)
	assert.Len(t, f.processor.enqueued, 1)
}

func TestIngestPausedTopicAcknowledgesWithoutProcessing(t *testing.T) {
	f := newFixture(t)
	f.addConfig("product.updated", ConfigPaused)
	ctx := context.Background()

	payload := []byte(`{"id": 42}`)
	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, Sign(f.inst.WebhookSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, ResultPaused, res)
	assert.Empty(t, f.processor.enqueued)

	// The delivery is archived for replay after resume.
	pending, err := f.delivs.ListByState(ctx, f.inst.ID, DeliveryPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestIngestEnqueueFailureStillAccepts(t *testing.T) {
	f := newFixture(t)
	f.addConfig("product.updated", ConfigActive)
	f.processor.err = fmt.Errorf("queue unavailable")
	ctx := context.Background()

	payload := []byte(`{"id": 42}`)
	res, err := f.service.Ingest(ctx, f.inst.ID, "product.updated", "evt-1", payload, Sign(f.inst.WebhookSecret, payload))
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, res)

	pending, err := f.delivs.ListByState(ctx, f.inst.ID, DeliveryPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestProcessDeliveryLifecycle(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig("product.updated", ConfigActive)
	ctx := context.Background()

	d, err := NewDelivery(cfg, "evt-1", []byte(`{"id": 42}`))
	require.NoError(t, err)
	require.NoError(t, f.delivs.Insert(ctx, d))

	err = f.service.ProcessDelivery(ctx, d.ID, func(ctx context.Context, d *Delivery) error {
		return nil
	})
	require.NoError(t, err)

	done, err := f.delivs.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliveryCompleted, done.State)
	assert.Equal(t, 1, done.Attempts)
	assert.NotNil(t, done.ProcessedAt)
}

func TestProcessDeliveryCompletedIsNoOp(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig("product.updated", ConfigActive)
	ctx := context.Background()

	d, err := NewDelivery(cfg, "evt-1", []byte(`{"id": 42}`))
	require.NoError(t, err)
	require.NoError(t, f.delivs.Insert(ctx, d))

	require.NoError(t, f.service.ProcessDelivery(ctx, d.ID, func(ctx context.Context, d *Delivery) error {
		return nil
	}))

	// A second task for the same delivery (sweep race) must not run the
	// handler or error out.
	called := false
	err = f.service.ProcessDelivery(ctx, d.ID, func(ctx context.Context, d *Delivery) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)

	done, err := f.delivs.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliveryCompleted, done.State)
	assert.Equal(t, 1, done.Attempts)
}

func TestProcessDeliveryFailureAndReplay(t *testing.T) {
	f := newFixture(t)
	cfg := f.addConfig("product.updated", ConfigActive)
	ctx := context.Background()

	d, err := NewDelivery(cfg, "evt-1", []byte(`{"id": 42}`))
	require.NoError(t, err)
	require.NoError(t, f.delivs.Insert(ctx, d))

	err = f.service.ProcessDelivery(ctx, d.ID, func(ctx context.Context, d *Delivery) error {
		return fmt.Errorf("erp unreachable")
	})
	require.Error(t, err)

	failed, err := f.delivs.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliveryFailed, failed.State)
	assert.Contains(t, failed.LastError, "erp unreachable")

	// Failed deliveries can be replayed.
	err = f.service.ProcessDelivery(ctx, d.ID, func(ctx context.Context, d *Delivery) error {
		return nil
	})
	require.NoError(t, err)

	done, err := f.delivs.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeliveryCompleted, done.State)
	assert.Equal(t, 2, done.Attempts)
}

func TestDeliveryStateMachineRejectsIllegalTransitions(t *testing.T) {
	cfg := NewConfig(id.New(), "product.updated", "https://sync.example.com/hooks")
	d, err := NewDelivery(cfg, "evt-1", []byte(`{}`))
	require.NoError(t, err)

	// pending -> completed skips processing.
	err = d.Transition(DeliveryCompleted)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeIllegalTransition, appErr.Code)

	// Duplicate is terminal.
	d.State = DeliveryDuplicate
	assert.Error(t, d.Transition(DeliveryProcessing))
}

func TestRegisterTopicProvisionsStorefrontWebhook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.service.RegisterTopic(ctx, f.inst, "product.updated", "https://sync.example.com/hooks")
	require.NoError(t, err)
	require.NotNil(t, cfg.StoreWebhookID)
	assert.Equal(t, []string{"product.updated"}, f.store.registered)

	// Same triple again is a duplicate.
	_, err = f.service.RegisterTopic(ctx, f.inst, "product.updated", "https://sync.example.com/hooks")
	require.Error(t, err)
	assert.True(t, apperror.IsDuplicate(err))
}

func TestRegisterTopicRejectsMalformedTopic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.RegisterTopic(ctx, f.inst, "product-updated", "https://sync.example.com/hooks")
	require.Error(t, err)
}

func TestSignatureRoundTrip(t *testing.T) {
	payload := []byte(`{"id": 42}`)

	sig := Sign("secret", payload)
	assert.True(t, VerifySignature("secret", payload, sig))
	assert.False(t, VerifySignature("other", payload, sig))
	assert.False(t, VerifySignature("secret", []byte(`{"id": 43}`), sig))
	assert.False(t, VerifySignature("", payload, Sign("", payload)))
}
