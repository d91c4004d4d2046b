package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// RESTProvider talks to the SMS provider's JSON-over-HTTP send endpoint.
type RESTProvider struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiURL     string
	apiKey     string
}

func NewRESTProvider(logger *slog.Logger, apiURL, apiKey string, httpClient *http.Client) *RESTProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RESTProvider{
		logger:     logger.With("provider", "rest"),
		httpClient: httpClient,
		apiURL:     apiURL,
		apiKey:     apiKey,
	}
}

// restSendRequestBody is the provider's send payload. ClientReference carries
// our internal message ID so provider-side logs can be correlated with ours.
type restSendRequestBody struct {
	Sender          string `json:"sender"`
	Recipient       string `json:"recipient"`
	Body            string `json:"body"`
	Tag             string `json:"tag,omitempty"`
	ClientReference string `json:"client_reference,omitempty"`
}

type restSendResponseBody struct {
	MessageID string `json:"message_id"`
	Error     *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

func (p *RESTProvider) GetName() string { return "rest" }

// Send performs exactly one HTTP call. A returned error means the call never
// reached the provider (connectivity failure); any HTTP response, success or
// not, is reported through the SendOutcome.
func (p *RESTProvider) Send(ctx context.Context, req SendRequest) (*SendOutcome, error) {
	payload := restSendRequestBody{
		Sender:          req.Sender,
		Recipient:       req.Recipient,
		Body:            req.Body,
		Tag:             req.Tag,
		ClientReference: req.InternalMessageID,
	}
	reqBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	p.logger.DebugContext(ctx, "Sending HTTP request to provider", "url", p.apiURL, "recipient", req.Recipient, "internal_message_id", req.InternalMessageID)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.WarnContext(ctx, "Provider request failed at transport level", "error", err, "internal_message_id", req.InternalMessageID)
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	outcome := &SendOutcome{HTTPStatus: httpResp.StatusCode}

	var respBody restSendResponseBody
	if len(respBytes) > 0 {
		// A malformed body on an error status is tolerated; the status code
		// alone is enough to classify the outcome.
		if jsonErr := json.Unmarshal(respBytes, &respBody); jsonErr != nil && httpResp.StatusCode < 300 {
			return nil, fmt.Errorf("failed to decode provider response (status %d): %w", httpResp.StatusCode, jsonErr)
		}
	}

	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		outcome.Success = true
		outcome.ProviderMessageID = respBody.MessageID
		p.logger.InfoContext(ctx, "Provider accepted message", "provider_message_id", respBody.MessageID, "internal_message_id", req.InternalMessageID)
		return outcome, nil
	}

	if respBody.Error != nil {
		outcome.ErrorCode = respBody.Error.Code
		outcome.ErrorMessage = respBody.Error.Message
	}
	if outcome.ErrorMessage == "" {
		outcome.ErrorMessage = fmt.Sprintf("provider returned HTTP %d", httpResp.StatusCode)
	}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		outcome.RetryAfterSeconds = respBody.RetryAfterSeconds
		if hdr := httpResp.Header.Get("Retry-After"); outcome.RetryAfterSeconds == 0 && hdr != "" {
			if secs, convErr := strconv.Atoi(hdr); convErr == nil && secs > 0 {
				outcome.RetryAfterSeconds = secs
			}
		}
	}

	p.logger.WarnContext(ctx, "Provider rejected message",
		"status_code", httpResp.StatusCode,
		"error_code", outcome.ErrorCode,
		"error_message", outcome.ErrorMessage,
		"internal_message_id", req.InternalMessageID)
	return outcome, nil
}
