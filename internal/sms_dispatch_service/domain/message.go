package domain

import "time"

// FailureKind classifies why a single send attempt (or a whole per-recipient
// unit of work) failed. Empty on success.
type FailureKind string

const (
	FailureInvalidNumber    FailureKind = "invalid_number"
	FailureRateLimited      FailureKind = "rate_limited"
	FailureClientError      FailureKind = "client_error"
	FailureTransport        FailureKind = "transport_error"
	FailureProvider         FailureKind = "provider_error"
	FailureRetriesExhausted FailureKind = "retries_exhausted"
	FailureCancelled        FailureKind = "cancelled"
)

// SendOptions carries optional, provider-specific settings for a send.
// Tag is the only option the provider supports; the remaining fields exist so
// the gateway can reject them explicitly instead of silently dropping them.
type SendOptions struct {
	Tag            string        `json:"tag,omitempty"`
	ScheduledAt    *time.Time    `json:"scheduled_at,omitempty"`
	MediaURLs      []string      `json:"media_urls,omitempty"`
	CallbackURL    string        `json:"callback_url,omitempty"`
	ValidityPeriod time.Duration `json:"validity_period,omitempty"`
}

// UnsupportedFeature returns the name of the first requested feature the
// provider cannot do, or "" if the options are fully supported.
func (o *SendOptions) UnsupportedFeature() string {
	if o == nil {
		return ""
	}
	switch {
	case o.ScheduledAt != nil:
		return "scheduled send time"
	case len(o.MediaURLs) > 0:
		return "media attachments"
	case o.CallbackURL != "":
		return "custom delivery callback URL"
	case o.ValidityPeriod != 0:
		return "validity period"
	}
	return ""
}

// BulkRequest describes one bulk dispatch call.
type BulkRequest struct {
	Message      string       `json:"message"`
	Recipients   []string     `json:"recipients"`
	Sender       string       `json:"sender,omitempty"`
	RegionHint   string       `json:"region_hint,omitempty"` // default region for numbers without a country code; "US" if empty
	ValidateOnly bool         `json:"validate_only,omitempty"`
	Options      *SendOptions `json:"options,omitempty"`
}

// MessageResult is the outcome for a single recipient. Recipient holds the
// number as submitted, replaced by its canonical E.164 form once validation
// succeeds.
type MessageResult struct {
	Recipient         string      `json:"recipient"`
	Success           bool        `json:"success"`
	ProviderMessageID string      `json:"provider_message_id,omitempty"`
	Error             string      `json:"error,omitempty"`
	Kind              FailureKind `json:"error_kind,omitempty"`
	Attempts          int         `json:"attempts,omitempty"`
}

// MessageResponse aggregates a bulk dispatch. Invariant:
// Sent+Failed == len(request.Recipients) == len(Results), regardless of
// partial failures or cancellation. Result order is completion order.
type MessageResponse struct {
	Sent    int             `json:"sent"`
	Failed  int             `json:"failed"`
	Results []MessageResult `json:"results"`
}

// HealthStatus is the cached outcome of a provider health probe.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)
