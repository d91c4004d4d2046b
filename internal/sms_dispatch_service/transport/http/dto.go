package http

import "github.com/textgate/textgate/internal/sms_dispatch_service/domain"

// SendMessageRequest is the body of POST /v1/messages.
type SendMessageRequest struct {
	Instance  string              `json:"instance,omitempty"` // "default" if omitted
	Sender    string              `json:"sender,omitempty"`
	Recipient string              `json:"recipient"`
	Message   string              `json:"message"`
	Options   *domain.SendOptions `json:"options,omitempty"`
}

// BulkSendRequest is the body of POST /v1/messages/bulk.
type BulkSendRequest struct {
	Instance     string              `json:"instance,omitempty"`
	Message      string              `json:"message"`
	Recipients   []string            `json:"recipients"`
	Sender       string              `json:"sender,omitempty"`
	RegionHint   string              `json:"region_hint,omitempty"`
	ValidateOnly bool                `json:"validate_only,omitempty"`
	Options      *domain.SendOptions `json:"options,omitempty"`
}

// HealthResponse is the body of GET /v1/health/{instance}.
type HealthResponse struct {
	Instance    string              `json:"instance"`
	Status      domain.HealthStatus `json:"status"`
	Description string              `json:"description"`
}

// GenericErrorResponse for API errors.
type GenericErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
