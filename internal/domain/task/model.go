// Package task implements the orchestration tracker: durable task rows with
// a strict status state machine, retry bookkeeping and parent/child rollup
// for batch passes.
package task

import (
	"encoding/json"
	"fmt"
	"time"

	"storesync/internal/core/apperror"
	"storesync/internal/core/id"
)

// Kind identifies what a task executes.
type Kind string

const (
	// KindReconcileEntity reconciles one entity fetched fresh from the ERP.
	KindReconcileEntity Kind = "reconcile_entity"
	// KindFullSync reconciles every entity of one kind for an instance.
	KindFullSync Kind = "full_sync"
	// KindWebhookEvent processes one stored webhook delivery.
	KindWebhookEvent Kind = "webhook_event"
	// KindBatchSync is the parent grouping the per-kind children of a
	// scheduled pass. It does no work of its own beyond enumeration.
	KindBatchSync Kind = "batch_sync"
)

// Valid reports whether k is a known task kind.
func (k Kind) Valid() bool {
	switch k {
	case KindReconcileEntity, KindFullSync, KindWebhookEvent, KindBatchSync:
		return true
	}
	return false
}

// Status is the execution state of a task.
type Status string

const (
	StatusPending Status = "pending"
	StatusStarted Status = "started"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusRetry is a failed attempt waiting for its backoff to elapse.
	StatusRetry Status = "retry"
	// StatusRevoked is an operator cancellation; cascades to children.
	StatusRevoked Status = "revoked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStarted, StatusSuccess, StatusFailure, StatusRetry, StatusRevoked:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusRevoked
}

// statusTransitions is the closed set of legal status changes.
var statusTransitions = map[Status][]Status{
	StatusPending: {StatusStarted, StatusRevoked},
	StatusStarted: {StatusSuccess, StatusFailure, StatusRetry, StatusRevoked},
	StatusRetry:   {StatusStarted, StatusFailure, StatusRevoked},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to Status) bool {
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// DefaultMaxRetries bounds automatic re-attempts of retryable failures.
const DefaultMaxRetries = 5

// Task is one tracked unit of work.
type Task struct {
	ID         id.ID  `db:"id" json:"id"`
	InstanceID id.ID  `db:"instance_id" json:"instanceId"`
	ParentID   *id.ID `db:"parent_id" json:"parentId,omitempty"`

	Kind   Kind   `db:"kind" json:"kind"`
	Status Status `db:"status" json:"status"`

	// Payload is the JSON-encoded kind-specific input.
	Payload []byte `db:"payload" json:"payload,omitempty"`

	// Result is the JSON-encoded outcome of a successful run.
	Result []byte `db:"result" json:"result,omitempty"`

	// LastError is the message of the most recent failed attempt.
	LastError string `db:"last_error" json:"lastError,omitempty"`

	RetryCount  int        `db:"retry_count" json:"retryCount"`
	MaxRetries  int        `db:"max_retries" json:"maxRetries"`
	NextRetryAt *time.Time `db:"next_retry_at" json:"nextRetryAt,omitempty"`

	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduledAt"`
	StartedAt   *time.Time `db:"started_at" json:"startedAt,omitempty"`
	FinishedAt  *time.Time `db:"finished_at" json:"finishedAt,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// New creates a pending task with its payload JSON-encoded.
func New(instanceID id.ID, kind Kind, payload any) (*Task, error) {
	if !kind.Valid() {
		return nil, apperror.NewValidation("unknown task kind").
			WithDetail("kind", string(kind))
	}
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode task payload: %w", err)
		}
	}
	now := time.Now().UTC()
	return &Task{
		ID:          id.New(),
		InstanceID:  instanceID,
		Kind:        kind,
		Status:      StatusPending,
		Payload:     encoded,
		MaxRetries:  DefaultMaxRetries,
		ScheduledAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// DecodePayload unmarshals the payload into out.
func (t *Task) DecodePayload(out any) error {
	if len(t.Payload) == 0 {
		return apperror.NewValidation("task has no payload").
			WithDetail("task_id", t.ID.String())
	}
	if err := json.Unmarshal(t.Payload, out); err != nil {
		return fmt.Errorf("decode task payload: %w", err)
	}
	return nil
}

// DecodeResult unmarshals the stored result into out.
func (t *Task) DecodeResult(out any) error {
	if len(t.Result) == 0 {
		return apperror.NewValidation("task has no result").
			WithDetail("task_id", t.ID.String())
	}
	if err := json.Unmarshal(t.Result, out); err != nil {
		return fmt.Errorf("decode task result: %w", err)
	}
	return nil
}

// Transition moves the task to a new status, enforcing the state machine
// and maintaining the timing fields.
func (t *Task) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return apperror.NewIllegalTransition(string(t.Status), string(to))
	}
	now := time.Now().UTC()
	t.Status = to
	t.UpdatedAt = now
	switch to {
	case StatusStarted:
		t.StartedAt = &now
		t.NextRetryAt = nil
	case StatusSuccess, StatusFailure, StatusRevoked:
		t.FinishedAt = &now
		t.NextRetryAt = nil
	}
	return nil
}

// ScheduleRetry moves a started task into retry with the next attempt time.
func (t *Task) ScheduleRetry(at time.Time, cause string) error {
	if err := t.Transition(StatusRetry); err != nil {
		return err
	}
	t.RetryCount++
	t.NextRetryAt = &at
	t.LastError = cause
	return nil
}

// RetriesExhausted reports whether another retry attempt is allowed.
func (t *Task) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// ReconcileEntityPayload is the input of a KindReconcileEntity task.
type ReconcileEntityPayload struct {
	Kind  string `json:"kind"`
	ErpID int64  `json:"erpId"`
}

// FullSyncPayload is the input of a KindFullSync task.
type FullSyncPayload struct {
	Kind string `json:"kind"`
	// Since bounds the pass to entities changed after this time;
	// zero means the full catalog.
	Since time.Time `json:"since,omitempty"`
}

// WebhookEventPayload is the input of a KindWebhookEvent task.
type WebhookEventPayload struct {
	DeliveryID id.ID `json:"deliveryId"`
}
