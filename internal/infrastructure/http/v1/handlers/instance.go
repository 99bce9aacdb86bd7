package handlers

import (
	"github.com/gin-gonic/gin"

	"storesync/internal/core/apperror"
	"storesync/internal/domain/engine"
	"storesync/internal/domain/instance"
	"storesync/internal/domain/webhook"
	"storesync/internal/infrastructure/http/v1/dto"
)

// InstanceHandler manages the storefront connection registry and each
// connection's webhook subscriptions.
type InstanceHandler struct {
	*BaseHandler
	instances *instance.Service
	webhooks  *webhook.Service
	policies  *engine.PolicyEvaluator
}

// NewInstanceHandler creates an instance handler.
func NewInstanceHandler(instances *instance.Service, webhooks *webhook.Service, policies *engine.PolicyEvaluator) *InstanceHandler {
	return &InstanceHandler{
		BaseHandler: NewBaseHandler(),
		instances:   instances,
		webhooks:    webhooks,
		policies:    policies,
	}
}

// validateSkipPolicy compiles the expression so a broken policy is rejected
// at registration time instead of during a sync pass.
func (h *InstanceHandler) validateSkipPolicy(c *gin.Context, policy *string) bool {
	if policy == nil || *policy == "" {
		return true
	}
	if err := h.policies.Compile(*policy); err != nil {
		h.Error(c, err)
		return false
	}
	return true
}

// Create registers a new storefront connection.
// POST /api/v1/instances
func (h *InstanceHandler) Create(c *gin.Context) {
	var req dto.CreateInstanceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	inst := instance.New(req.Name, req.StoreURL, req.ConsumerKey, req.ConsumerSecret)
	inst.WebhookSecret = req.WebhookSecret
	inst.OwnerEmail = req.OwnerEmail
	inst.AutoSyncKinds = req.AutoSyncKinds
	if req.Direction != nil {
		inst.Direction = instance.Direction(*req.Direction)
	}
	if req.AutoSync != nil {
		inst.AutoSync = *req.AutoSync
	}
	if req.SkipPolicy != nil && *req.SkipPolicy != "" {
		inst.SkipPolicy = req.SkipPolicy
	}
	if !h.validateSkipPolicy(c, inst.SkipPolicy) {
		return
	}

	if err := h.instances.Create(c.Request.Context(), inst); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, inst.ID)
}

// Get retrieves one connection.
// GET /api/v1/instances/:id
func (h *InstanceHandler) Get(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	inst, err := h.instances.GetByID(c.Request.Context(), instID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromInstance(inst))
}

// List retrieves all connections.
// GET /api/v1/instances
func (h *InstanceHandler) List(c *gin.Context) {
	var (
		insts []*instance.Instance
		err   error
	)
	if c.Query("active") == "true" {
		insts, err = h.instances.ListActive(c.Request.Context())
	} else {
		insts, err = h.instances.List(c.Request.Context())
	}
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ListResponse{
		Items: dto.FromInstances(insts),
		Count: len(insts),
	})
}

// Update modifies a connection.
// PATCH /api/v1/instances/:id
func (h *InstanceHandler) Update(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateInstanceRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if (req.ConsumerKey == nil) != (req.ConsumerSecret == nil) {
		h.Error(c, apperror.NewValidation("credentials must be replaced as a pair").
			WithDetail("field", "consumerKey"))
		return
	}

	inst, err := h.instances.GetByID(c.Request.Context(), instID)
	if err != nil {
		h.Error(c, err)
		return
	}
	req.Apply(inst)
	if !h.validateSkipPolicy(c, inst.SkipPolicy) {
		return
	}

	if err := h.instances.Update(c.Request.Context(), inst); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromInstance(inst))
}

// Delete removes a connection and everything it owns.
// DELETE /api/v1/instances/:id
func (h *InstanceHandler) Delete(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	if err := h.instances.Delete(c.Request.Context(), instID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// --- Webhook subscriptions ---

// RegisterWebhook subscribes the connection to a storefront topic.
// POST /api/v1/instances/:id/webhooks
func (h *InstanceHandler) RegisterWebhook(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	var req dto.RegisterTopicRequest
	if !h.BindJSON(c, &req) {
		return
	}

	inst, err := h.instances.GetByID(c.Request.Context(), instID)
	if err != nil {
		h.Error(c, err)
		return
	}

	cfg, err := h.webhooks.RegisterTopic(c.Request.Context(), inst, req.Topic, req.DeliveryURL)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, cfg.ID)
}

// ListWebhooks retrieves the connection's subscriptions.
// GET /api/v1/instances/:id/webhooks
func (h *InstanceHandler) ListWebhooks(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	configs, err := h.webhooks.ListConfigs(c.Request.Context(), instID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.ListResponse{
		Items: configs,
		Count: len(configs),
	})
}

// SetWebhookStatus pauses, resumes or disables a subscription.
// PUT /api/v1/instances/:id/webhooks/:webhookId/status
func (h *InstanceHandler) SetWebhookStatus(c *gin.Context) {
	cfgID, ok := h.ParseID(c, "webhookId")
	if !ok {
		return
	}
	var req dto.SetTopicStatusRequest
	if !h.BindJSON(c, &req) {
		return
	}

	cfg, err := h.webhooks.SetStatus(c.Request.Context(), cfgID, webhook.ConfigStatus(req.Status))
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, cfg)
}

// RemoveWebhook removes a subscription and deprovisions its storefront side.
// DELETE /api/v1/instances/:id/webhooks/:webhookId
func (h *InstanceHandler) RemoveWebhook(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	cfgID, ok := h.ParseID(c, "webhookId")
	if !ok {
		return
	}

	inst, err := h.instances.GetByID(c.Request.Context(), instID)
	if err != nil {
		h.Error(c, err)
		return
	}
	if err := h.webhooks.RemoveTopic(c.Request.Context(), inst, cfgID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}
