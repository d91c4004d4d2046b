package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textgate/textgate/internal/sms_dispatch_service/domain"
	"github.com/textgate/textgate/internal/sms_dispatch_service/provider"
	"github.com/textgate/textgate/internal/sms_dispatch_service/repository"
	"github.com/textgate/textgate/internal/sms_dispatch_service/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, cfg domain.InstanceConfig, transport provider.Transport) *DispatchService {
	t.Helper()
	logger := testLogger()
	return NewDispatchService("test", cfg, transport, retry.NewPolicy(logger), nil, nil, logger)
}

func defaultCfg() domain.InstanceConfig {
	return domain.InstanceConfig{SenderNumber: "+15005550006", MaxRetries: 3}
}

var validRecipients = []string{"+12025550123", "+12025550124", "+12025550125"}

func TestSendBulk_AllSuccess(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: validRecipients,
	})
	require.NoError(t, err)
	assert.Equal(t, len(validRecipients), resp.Sent)
	assert.Zero(t, resp.Failed)
	assert.Len(t, resp.Results, len(validRecipients))
	assert.Equal(t, len(validRecipients), mock.Calls())
	for _, res := range resp.Results {
		assert.True(t, res.Success)
		assert.NotEmpty(t, res.ProviderMessageID)
	}
}

func TestSendBulk_ResponseInvariantHoldsUnderPartialFailure(t *testing.T) {
	recipients := []string{"+12025550123", "not-a-number", "+12025550125", "also bad"}
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: recipients,
	})
	require.NoError(t, err)
	assert.Equal(t, len(recipients), resp.Sent+resp.Failed)
	assert.Len(t, resp.Results, len(recipients))
	assert.Equal(t, 2, resp.Sent)
	assert.Equal(t, 2, resp.Failed)
}

func TestSendBulk_InvalidNumberFailsFastWithoutTransportCall(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: []string{"not-a-number"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "invalid phone number format", resp.Results[0].Error)
	assert.Equal(t, domain.FailureInvalidNumber, resp.Results[0].Kind)
	assert.Equal(t, "not-a-number", resp.Results[0].Recipient)
	assert.Zero(t, mock.Calls(), "validation failures must not reach the transport")
}

func TestSendBulk_ValidateOnlyMakesNoTransportCalls(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:      "hello",
		Recipients:   validRecipients,
		ValidateOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, len(validRecipients), resp.Sent)
	assert.Zero(t, resp.Failed)
	assert.Zero(t, mock.Calls())
	for _, res := range resp.Results {
		assert.Contains(t, validRecipients, res.Recipient, "recipient replaced by canonical form")
	}
}

func TestSendBulk_NormalizesNationalNumbers(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:      "hello",
		Recipients:   []string{"(202) 555-0123"},
		RegionHint:   "US",
		ValidateOnly: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "+12025550123", resp.Results[0].Recipient)
}

func TestSendBulk_WholeCallErrors(t *testing.T) {
	scheduled := time.Now().Add(time.Hour)
	tests := []struct {
		name    string
		req     domain.BulkRequest
		cfg     domain.InstanceConfig
		wantErr error
		wantCap bool
	}{
		{
			name:    "empty message",
			req:     domain.BulkRequest{Recipients: validRecipients},
			cfg:     defaultCfg(),
			wantErr: domain.ErrEmptyMessage,
		},
		{
			name:    "no recipients",
			req:     domain.BulkRequest{Message: "hello"},
			cfg:     defaultCfg(),
			wantErr: domain.ErrNoRecipients,
		},
		{
			name:    "no sender anywhere",
			req:     domain.BulkRequest{Message: "hello", Recipients: validRecipients},
			cfg:     domain.InstanceConfig{},
			wantErr: domain.ErrNoSender,
		},
		{
			name: "scheduled send unsupported",
			req: domain.BulkRequest{
				Message:    "hello",
				Recipients: validRecipients,
				Options:    &domain.SendOptions{ScheduledAt: &scheduled},
			},
			cfg:     defaultCfg(),
			wantCap: true,
		},
		{
			name: "media unsupported",
			req: domain.BulkRequest{
				Message:    "hello",
				Recipients: validRecipients,
				Options:    &domain.SendOptions{MediaURLs: []string{"https://example.com/cat.png"}},
			},
			cfg:     defaultCfg(),
			wantCap: true,
		},
		{
			name: "callback URL unsupported",
			req: domain.BulkRequest{
				Message:    "hello",
				Recipients: validRecipients,
				Options:    &domain.SendOptions{CallbackURL: "https://example.com/dlr"},
			},
			cfg:     defaultCfg(),
			wantCap: true,
		},
		{
			name: "validity period unsupported",
			req: domain.BulkRequest{
				Message:    "hello",
				Recipients: validRecipients,
				Options:    &domain.SendOptions{ValidityPeriod: time.Minute},
			},
			cfg:     defaultCfg(),
			wantCap: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := provider.NewMockTransport(testLogger())
			svc := newTestService(t, tt.cfg, mock)

			resp, err := svc.SendBulk(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, resp, "whole-call errors produce no partial response")
			assert.Zero(t, mock.Calls(), "whole-call errors must precede any transport call")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantCap {
				assert.True(t, domain.IsCapabilityError(err))
			}
		})
	}
}

func TestSendBulk_RequestSenderOverridesConfigured(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	_, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: []string{"+12025550123"},
		Sender:     "+15005550009",
	})
	require.NoError(t, err)
	assert.Equal(t, "+15005550009", mock.LastRequest().Sender)
}

func TestSendBulk_ClientErrorIsImmediateAndTerminal(t *testing.T) {
	mock := provider.NewMockTransport(testLogger(), provider.ScriptedOutcome{
		Outcome: &provider.SendOutcome{HTTPStatus: 400, ErrorCode: "bad_request", ErrorMessage: "malformed body"},
	})
	svc := newTestService(t, defaultCfg(), mock)

	start := time.Now()
	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: []string{"+12025550123"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, mock.Calls(), "4xx must not be retried")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, domain.FailureClientError, resp.Results[0].Kind)
	assert.Equal(t, "malformed body", resp.Results[0].Error)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "no backoff delay for terminal failures")
}

func TestSendBulk_RateLimitRetriedThenExhausted(t *testing.T) {
	rateLimited := provider.ScriptedOutcome{
		Outcome: &provider.SendOutcome{HTTPStatus: 429, ErrorMessage: "too many requests", RetryAfterSeconds: 1},
	}
	mock := provider.NewMockTransport(testLogger(), rateLimited, rateLimited, rateLimited)
	cfg := defaultCfg()
	cfg.MaxRetries = 1
	svc := newTestService(t, cfg, mock)

	start := time.Now()
	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: []string{"+12025550123"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Calls(), "maxRetries+1 transport calls")
	require.Len(t, resp.Results, 1)
	assert.Equal(t, domain.FailureRetriesExhausted, resp.Results[0].Kind)
	assert.Equal(t, "rate limit exceeded, all retries exhausted", resp.Results[0].Error)
	assert.GreaterOrEqual(t, time.Since(start), time.Second, "retry-after hint honored before second attempt")
}

func TestSendBulk_RateLimitRecovery(t *testing.T) {
	mock := provider.NewMockTransport(testLogger(), provider.ScriptedOutcome{
		Outcome: &provider.SendOutcome{HTTPStatus: 429, RetryAfterSeconds: 1},
	})
	svc := newTestService(t, defaultCfg(), mock)

	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: []string{"+12025550123"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Calls())
	assert.Equal(t, 1, resp.Sent)
	assert.Equal(t, 2, resp.Results[0].Attempts)
}

// countingTransport tracks the peak number of in-flight Send calls.
type countingTransport struct {
	inFlight atomic.Int64
	peak     atomic.Int64
	calls    atomic.Int64
}

func (c *countingTransport) GetName() string { return "counting" }

func (c *countingTransport) Send(ctx context.Context, req provider.SendRequest) (*provider.SendOutcome, error) {
	c.calls.Add(1)
	cur := c.inFlight.Add(1)
	for {
		peak := c.peak.Load()
		if cur <= peak || c.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	c.inFlight.Add(-1)
	return &provider.SendOutcome{Success: true, ProviderMessageID: "ok", HTTPStatus: 202}, nil
}

func TestSendBulk_ConcurrencyIsBounded(t *testing.T) {
	transport := &countingTransport{}
	cfg := defaultCfg()
	cfg.MaxConcurrency = 2
	svc := newTestService(t, cfg, transport)

	recipients := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		recipients = append(recipients, validRecipients[i%len(validRecipients)])
	}
	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: recipients,
	})
	require.NoError(t, err)
	assert.Equal(t, len(recipients), resp.Sent)
	assert.Equal(t, int64(len(recipients)), transport.calls.Load())
	assert.LessOrEqual(t, transport.peak.Load(), int64(2), "worker pool width must not exceed maxConcurrency")
}

func TestSendBulk_CancellationStillYieldsCompleteResponse(t *testing.T) {
	transport := &countingTransport{}
	cfg := defaultCfg()
	cfg.MaxConcurrency = 1
	svc := newTestService(t, cfg, transport)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	recipients := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		recipients = append(recipients, "+12025550123")
	}
	resp, err := svc.SendBulk(ctx, domain.BulkRequest{
		Message:    "hello",
		Recipients: recipients,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, len(recipients), "every recipient resolves even under cancellation")
	assert.Equal(t, len(recipients), resp.Sent+resp.Failed)
	assert.Less(t, transport.calls.Load(), int64(len(recipients)), "cancellation must stop new dispatch")

	cancelled := 0
	for _, res := range resp.Results {
		if res.Kind == domain.FailureCancelled {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0)
}

func TestSendSingle_Success(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	res, err := svc.SendSingle(context.Background(), "", "+12025550123", "hello", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "+12025550123", res.Recipient)
	assert.Equal(t, "+15005550006", mock.LastRequest().Sender, "falls back to configured sender")
	assert.Equal(t, "hello", mock.LastRequest().Body)
}

func TestSendSingle_InvalidNumberIsResultNotError(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	res, err := svc.SendSingle(context.Background(), "", "not-a-number", "hello", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, domain.FailureInvalidNumber, res.Kind)
	assert.Zero(t, mock.Calls())
}

func TestSendSingle_CapabilityErrorIsFatal(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	svc := newTestService(t, defaultCfg(), mock)

	when := time.Now().Add(time.Hour)
	_, err := svc.SendSingle(context.Background(), "", "+12025550123", "hello", &domain.SendOptions{ScheduledAt: &when})
	require.Error(t, err)
	assert.True(t, domain.IsCapabilityError(err))
	assert.Zero(t, mock.Calls())
}

func TestSendSingle_OptionTagOverridesInstanceTag(t *testing.T) {
	mock := provider.NewMockTransport(testLogger())
	cfg := defaultCfg()
	cfg.Tag = "instance-tag"
	svc := newTestService(t, cfg, mock)

	_, err := svc.SendSingle(context.Background(), "", "+12025550123", "hello", &domain.SendOptions{Tag: "campaign-7"})
	require.NoError(t, err)
	assert.Equal(t, "campaign-7", mock.LastRequest().Tag)

	_, err = svc.SendSingle(context.Background(), "", "+12025550123", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "instance-tag", mock.LastRequest().Tag)
}

// capturingLog is a MessageLogRepository that remembers entries.
type capturingLog struct {
	mu      sync.Mutex
	entries []repository.MessageLogEntry
	err     error
}

func (c *capturingLog) Record(ctx context.Context, entry repository.MessageLogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return c.err
}

// capturingPublisher records published report payloads.
type capturingPublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (c *capturingPublisher) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestSendBulk_RecordsAuditLogAndPublishesReports(t *testing.T) {
	logRepo := &capturingLog{}
	pub := &capturingPublisher{}
	logger := testLogger()
	svc := NewDispatchService("test", defaultCfg(), provider.NewMockTransport(logger), retry.NewPolicy(logger), logRepo, pub, logger)

	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: []string{"+12025550123", "+12025550124"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Sent)

	require.Len(t, logRepo.entries, 2)
	for _, entry := range logRepo.entries {
		assert.Equal(t, "test", entry.Instance)
		assert.True(t, entry.Success)
		assert.NotEmpty(t, entry.ID)
		assert.NotEmpty(t, entry.ProviderMessageID)
		assert.Equal(t, 1, entry.Attempts)
	}
	require.Len(t, pub.subjects, 2)
	assert.Equal(t, ReportSubject, pub.subjects[0])
}

func TestSendBulk_AuditLogFailureDoesNotFailSend(t *testing.T) {
	logRepo := &capturingLog{err: errors.New("db down")}
	logger := testLogger()
	svc := NewDispatchService("test", defaultCfg(), provider.NewMockTransport(logger), retry.NewPolicy(logger), logRepo, nil, logger)

	resp, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:    "hello",
		Recipients: []string{"+12025550123"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Sent)
}

func TestSendBulk_ValidateOnlyIsNotAudited(t *testing.T) {
	logRepo := &capturingLog{}
	logger := testLogger()
	svc := NewDispatchService("test", defaultCfg(), provider.NewMockTransport(logger), retry.NewPolicy(logger), logRepo, nil, logger)

	_, err := svc.SendBulk(context.Background(), domain.BulkRequest{
		Message:      "hello",
		Recipients:   validRecipients,
		ValidateOnly: true,
	})
	require.NoError(t, err)
	assert.Empty(t, logRepo.entries)
}
