package provider

import (
	"context"
	"net/http"

	"github.com/textgate/textgate/internal/sms_dispatch_service/domain"
)

// SendRequest holds the data for a single provider send attempt. Recipient is
// always canonical E.164 by the time it reaches a transport.
type SendRequest struct {
	InternalMessageID string
	Sender            string
	Recipient         string
	Body              string
	Tag               string
}

// SendOutcome is the raw result of one transport call, before classification.
type SendOutcome struct {
	Success           bool
	ProviderMessageID string
	HTTPStatus        int
	ErrorCode         string
	ErrorMessage      string
	RetryAfterSeconds int // provider's explicit retry hint on 429, 0 if absent
}

// Transport abstracts the SMS provider's send API. Implementations perform
// exactly one network call per Send; retrying is layered on top by the
// dispatch engine's retry policy.
type Transport interface {
	Send(ctx context.Context, req SendRequest) (*SendOutcome, error)
	GetName() string
}

// Classify maps a raw transport outcome onto the gateway failure taxonomy.
// A non-nil err means the call never produced an HTTP response (connectivity
// failure). Returns "" for success.
func Classify(out *SendOutcome, err error) domain.FailureKind {
	if err != nil || out == nil {
		return domain.FailureTransport
	}
	if out.Success {
		return ""
	}
	switch out.HTTPStatus {
	case http.StatusTooManyRequests:
		return domain.FailureRateLimited
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusUnprocessableEntity:
		return domain.FailureClientError
	default:
		return domain.FailureProvider
	}
}
