package dto

// RegisterTopicRequest subscribes an instance to a storefront topic.
type RegisterTopicRequest struct {
	Topic       string `json:"topic" binding:"required"`
	DeliveryURL string `json:"deliveryUrl" binding:"required"`
}

// SetTopicStatusRequest pauses, resumes or disables a subscription.
type SetTopicStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// IngestResponse acknowledges a webhook delivery. The storefront only cares
// about the HTTP status; the body aids debugging from delivery logs.
type IngestResponse struct {
	Result string `json:"result"`
}
