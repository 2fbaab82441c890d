package settlement

const (
	webhookStatusSuccess = "SUCCESS"

	// retry budget for webhooks that arrive before the order exists
	webhookRetryDelaySeconds = 30
)

// WebhookNotification is the bare server-to-server notification pushed by
// both gateways.
type WebhookNotification struct {
	Status    string `json:"status"`
	PaymentID string `json:"paymentId"`
}

// WebhookResponse is always returned with http 200 to prevent gateway-side
// retry storms.
type WebhookResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
