package dto

import (
	"encoding/json"
	"time"

	"storesync/internal/domain/task"
)

// ListTasksQuery filters task listings.
type ListTasksQuery struct {
	Kind   string `form:"kind"`
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// SubmitSyncRequest starts a reconciliation task. With a kind set it runs a
// single full_sync for that kind; without one it runs a batch_sync parent
// fanning out over the instance's configured kinds.
type SubmitSyncRequest struct {
	Kind  string     `json:"kind"`
	Since *time.Time `json:"since"`
}

// TaskResponse is one tracked task for operator browsing.
type TaskResponse struct {
	ID         string  `json:"id"`
	InstanceID string  `json:"instanceId"`
	ParentID   *string `json:"parentId,omitempty"`
	Kind       string  `json:"kind"`
	Status     string  `json:"status"`

	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`

	LastError   string     `json:"lastError,omitempty"`
	RetryCount  int        `json:"retryCount"`
	MaxRetries  int        `json:"maxRetries"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`

	ScheduledAt time.Time  `json:"scheduledAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FromTask creates TaskResponse from a task.
func FromTask(t *task.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID.String(),
		InstanceID:  t.InstanceID.String(),
		Kind:        string(t.Kind),
		Status:      string(t.Status),
		Payload:     t.Payload,
		Result:      t.Result,
		LastError:   t.LastError,
		RetryCount:  t.RetryCount,
		MaxRetries:  t.MaxRetries,
		NextRetryAt: t.NextRetryAt,
		ScheduledAt: t.ScheduledAt,
		StartedAt:   t.StartedAt,
		FinishedAt:  t.FinishedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
	if t.ParentID != nil {
		parent := t.ParentID.String()
		resp.ParentID = &parent
	}
	return resp
}

// FromTasks maps a slice of tasks.
func FromTasks(tasks []*task.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, FromTask(t))
	}
	return out
}
