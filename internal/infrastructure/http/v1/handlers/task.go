package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"storesync/internal/domain/catalog"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/task"
	"storesync/internal/infrastructure/http/v1/dto"
)

// TaskHandler exposes the task tracker: browsing, manual sync submission
// and revocation.
type TaskHandler struct {
	*BaseHandler
	tracker   *task.Tracker
	runner    task.Runner
	instances *instance.Service
}

// NewTaskHandler creates a task handler.
func NewTaskHandler(tracker *task.Tracker, runner task.Runner, instances *instance.Service) *TaskHandler {
	return &TaskHandler{
		BaseHandler: NewBaseHandler(),
		tracker:     tracker,
		runner:      runner,
		instances:   instances,
	}
}

// List retrieves an instance's tasks, newest first.
// GET /api/v1/instances/:id/tasks
func (h *TaskHandler) List(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var query dto.ListTasksQuery
	if !h.BindQuery(c, &query) {
		return
	}

	filter := task.ListFilter{
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	if query.Kind != "" {
		kind := task.Kind(query.Kind)
		filter.Kind = &kind
	}
	if query.Status != "" {
		status := task.Status(query.Status)
		filter.Status = &status
	}

	tasks, err := h.tracker.List(c.Request.Context(), instID, filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ListResponse{
		Items:  dto.FromTasks(tasks),
		Count:  len(tasks),
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// Get retrieves one task.
// GET /api/v1/tasks/:taskId
func (h *TaskHandler) Get(c *gin.Context) {
	taskID, ok := h.ParseID(c, "taskId")
	if !ok {
		return
	}
	t, err := h.tracker.GetByID(c.Request.Context(), taskID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromTask(t))
}

// Revoke cancels a task and its live children.
// POST /api/v1/tasks/:taskId/revoke
func (h *TaskHandler) Revoke(c *gin.Context) {
	taskID, ok := h.ParseID(c, "taskId")
	if !ok {
		return
	}
	if err := h.tracker.Revoke(c.Request.Context(), taskID); err != nil {
		h.Error(c, err)
		return
	}
	h.Success(c, "task revoked")
}

// SubmitSync enqueues a reconciliation pass. A kind in the body runs a
// single full_sync; no kind runs a batch_sync fanning out over the
// instance's configured kinds.
// POST /api/v1/instances/:id/sync
func (h *TaskHandler) SubmitSync(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.SubmitSyncRequest
	if !h.BindJSON(c, &req) {
		return
	}

	inst, err := h.instances.GetByID(c.Request.Context(), instID)
	if err != nil {
		h.Error(c, err)
		return
	}

	var t *task.Task
	if req.Kind != "" {
		kind, err := catalog.ParseKind(req.Kind)
		if err != nil {
			h.Error(c, err)
			return
		}
		var since time.Time
		if req.Since != nil {
			since = *req.Since
		}
		t, err = task.New(inst.ID, task.KindFullSync, task.FullSyncPayload{
			Kind:  string(kind),
			Since: since,
		})
		if err != nil {
			h.Error(c, err)
			return
		}
	} else {
		t, err = task.New(inst.ID, task.KindBatchSync, nil)
		if err != nil {
			h.Error(c, err)
			return
		}
	}

	if err := h.runner.Submit(c.Request.Context(), t); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, t.ID)
}
