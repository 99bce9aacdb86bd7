package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"storesync/internal/core/apperror"
	"storesync/internal/domain/webhook"
	"storesync/internal/infrastructure/http/v1/dto"
)

// Storefront webhook delivery headers.
const (
	HeaderWebhookTopic     = "X-WC-Webhook-Topic"
	HeaderWebhookSignature = "X-WC-Webhook-Signature"
	HeaderWebhookDelivery  = "X-WC-Webhook-Delivery-ID"
)

// WebhookHandler receives storefront webhook deliveries.
type WebhookHandler struct {
	*BaseHandler
	webhooks *webhook.Service
}

// NewWebhookHandler creates a webhook receipt handler.
func NewWebhookHandler(webhooks *webhook.Service) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: NewBaseHandler(),
		webhooks:    webhooks,
	}
}

// Receive ingests one delivery. The response status is what the storefront's
// delivery log records, so every ingestion result maps to a deliberate code:
// verification failures are 401, unknown instances or topics 404, and
// accepted, duplicate and paused deliveries all acknowledge with 200 so the
// storefront does not re-deliver.
// POST /api/v1/webhooks/:id
func (h *WebhookHandler) Receive(c *gin.Context) {
	instID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}

	topic := c.GetHeader(HeaderWebhookTopic)
	if topic == "" {
		h.Error(c, apperror.NewValidation("missing webhook topic header").
			WithDetail("header", HeaderWebhookTopic))
		return
	}
	eventID := c.GetHeader(HeaderWebhookDelivery)
	if eventID == "" {
		h.Error(c, apperror.NewValidation("missing webhook delivery id header").
			WithDetail("header", HeaderWebhookDelivery))
		return
	}
	signature := c.GetHeader(HeaderWebhookSignature)

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.Error(c, apperror.NewValidation("unreadable request body").WithCause(err))
		return
	}

	result, err := h.webhooks.Ingest(c.Request.Context(), instID, topic, eventID, payload, signature)

	switch result {
	case webhook.ResultAccepted, webhook.ResultDuplicate, webhook.ResultPaused:
		c.JSON(http.StatusOK, dto.IngestResponse{Result: string(result)})
	case webhook.ResultRejected:
		c.JSON(http.StatusUnauthorized, dto.IngestResponse{Result: string(result)})
	case webhook.ResultUnconfigured:
		c.JSON(http.StatusNotFound, dto.IngestResponse{Result: string(result)})
	default:
		if err == nil {
			err = apperror.NewInternal(nil)
		}
		h.Error(c, err)
	}
}
