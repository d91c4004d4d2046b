package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/textgate/textgate/internal/sms_dispatch_service/domain"
	"github.com/textgate/textgate/internal/sms_dispatch_service/phone"
	"github.com/textgate/textgate/internal/sms_dispatch_service/provider"
	"github.com/textgate/textgate/internal/sms_dispatch_service/repository"
	"github.com/textgate/textgate/internal/sms_dispatch_service/retry"
)

// ReportSubject is the broker subject send reports are published on.
const ReportSubject = "sms.reports.sent"

// ReportPublisher publishes send reports to the message broker. Satisfied by
// *messagebroker.NatsClient.
type ReportPublisher interface {
	Publish(subject string, data []byte) error
}

// SendReport is the JSON event emitted after every completed real send.
type SendReport struct {
	Instance          string    `json:"instance"`
	InternalMessageID string    `json:"internal_message_id"`
	Recipient         string    `json:"recipient"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Success           bool      `json:"success"`
	Error             string    `json:"error,omitempty"`
	Attempts          int       `json:"attempts"`
	Tag               string    `json:"tag,omitempty"`
	SentAt            time.Time `json:"sent_at"`
}

// DispatchService fans a message out to many recipients through one provider
// transport with bounded concurrency, per-recipient validation, and
// rate-limit retries. One DispatchService serves one configured instance and
// holds its immutable InstanceConfig.
type DispatchService struct {
	name       string
	cfg        domain.InstanceConfig
	transport  provider.Transport
	retrier    *retry.Policy
	messageLog repository.MessageLogRepository // optional, nil skips auditing
	reports    ReportPublisher                 // optional, nil skips publishing
	logger     *slog.Logger
}

func NewDispatchService(
	name string,
	cfg domain.InstanceConfig,
	transport provider.Transport,
	retrier *retry.Policy,
	messageLog repository.MessageLogRepository,
	reports ReportPublisher,
	logger *slog.Logger,
) *DispatchService {
	return &DispatchService{
		name:       name,
		cfg:        cfg.Normalized(),
		transport:  transport,
		retrier:    retrier,
		messageLog: messageLog,
		reports:    reports,
		logger:     logger.With("component", "dispatch_service", "instance", name),
	}
}

func (s *DispatchService) Name() string                  { return s.name }
func (s *DispatchService) Config() domain.InstanceConfig { return s.cfg }

// checkCall validates whole-call preconditions shared by single and bulk
// sends, resolving the effective sender. These errors are surfaced to the
// caller before any per-recipient work starts.
func (s *DispatchService) checkCall(message, sender string, opts *domain.SendOptions) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", domain.ErrEmptyMessage
	}
	if feature := opts.UnsupportedFeature(); feature != "" {
		return "", &domain.CapabilityError{Feature: feature}
	}
	if sender == "" {
		sender = s.cfg.SenderNumber
	}
	if sender == "" {
		return "", domain.ErrNoSender
	}
	return sender, nil
}

// SendBulk dispatches message to every recipient. Per-recipient failures are
// recovered into the response; the returned error is reserved for whole-call
// misconfiguration (empty message, no recipients, no sender, unsupported
// options). The response always holds exactly one result per recipient with
// Sent+Failed equal to the recipient count, even under cancellation.
func (s *DispatchService) SendBulk(ctx context.Context, req domain.BulkRequest) (*domain.MessageResponse, error) {
	if len(req.Recipients) == 0 {
		return nil, domain.ErrNoRecipients
	}
	sender, err := s.checkCall(req.Message, req.Sender, req.Options)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	bulkBatchSizeHist.WithLabelValues(s.name).Observe(float64(len(req.Recipients)))
	s.logger.InfoContext(ctx, "Bulk dispatch started",
		"recipients", len(req.Recipients), "validate_only", req.ValidateOnly, "sender", sender)

	var (
		sent, failed atomic.Int64
		mu           sync.Mutex
		results      = make([]domain.MessageResult, 0, len(req.Recipients))
		wg           sync.WaitGroup
		sem          = make(chan struct{}, s.cfg.MaxConcurrency)
	)
	collect := func(res domain.MessageResult) {
		if res.Success {
			sent.Add(1)
			messagesDispatchedCounter.WithLabelValues(s.name, "sent").Inc()
		} else {
			failed.Add(1)
			messagesDispatchedCounter.WithLabelValues(s.name, string(res.Kind)).Inc()
		}
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	for _, recipient := range req.Recipients {
		select {
		case <-ctx.Done():
			// No new work once the batch is cancelled; the recipient still
			// gets a result so the response stays complete.
			collect(cancelledResult(recipient))
			continue
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(recipient string) {
			defer wg.Done()
			defer func() { <-sem }()
			collect(s.dispatchOne(ctx, sender, recipient, req))
		}(recipient)
	}
	wg.Wait()

	resp := &domain.MessageResponse{
		Sent:    int(sent.Load()),
		Failed:  int(failed.Load()),
		Results: results,
	}
	bulkDispatchDurationHist.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
	s.logger.InfoContext(ctx, "Bulk dispatch finished",
		"sent", resp.Sent, "failed", resp.Failed, "duration", time.Since(start))
	return resp, nil
}

// SendSingle sends one message to one recipient, with the retry policy
// layered on top of the single-shot transport attempt. The error return is
// reserved for whole-call configuration problems; a failed delivery comes
// back as an unsuccessful MessageResult.
func (s *DispatchService) SendSingle(ctx context.Context, sender, recipient, message string, opts *domain.SendOptions) (domain.MessageResult, error) {
	sender, err := s.checkCall(message, sender, opts)
	if err != nil {
		return domain.MessageResult{}, err
	}

	canonical, ok := phone.Validate(recipient, "")
	if !ok {
		return invalidNumberResult(recipient), nil
	}

	res := s.send(ctx, sender, canonical, message, s.tagFor(opts))
	if res.Success {
		messagesDispatchedCounter.WithLabelValues(s.name, "sent").Inc()
	} else {
		messagesDispatchedCounter.WithLabelValues(s.name, string(res.Kind)).Inc()
	}
	return res, nil
}

// dispatchOne is one bulk worker unit: validate, short-circuit for
// validate-only mode, then send through the retry policy.
func (s *DispatchService) dispatchOne(ctx context.Context, sender, recipient string, req domain.BulkRequest) domain.MessageResult {
	canonical, ok := phone.Validate(recipient, req.RegionHint)
	if !ok {
		return invalidNumberResult(recipient)
	}
	if req.ValidateOnly {
		return domain.MessageResult{Recipient: canonical, Success: true}
	}
	if ctx.Err() != nil {
		return cancelledResult(recipient)
	}
	return s.send(ctx, sender, canonical, req.Message, s.tagFor(req.Options))
}

// send runs the retry policy around single transport attempts for one
// already-canonical recipient, then records the outcome.
func (s *DispatchService) send(ctx context.Context, sender, recipient, message, tag string) domain.MessageResult {
	internalID := uuid.NewString()
	res := s.retrier.Execute(ctx, s.cfg.MaxRetries, func(ctx context.Context) (domain.MessageResult, time.Duration) {
		return s.sendAttempt(ctx, internalID, sender, recipient, message, tag)
	})
	s.record(ctx, internalID, sender, tag, res)
	return res
}

// sendAttempt invokes the transport exactly once and classifies the raw
// outcome. Retrying is the caller's (the retry policy's) responsibility.
func (s *DispatchService) sendAttempt(ctx context.Context, internalID, sender, recipient, message, tag string) (domain.MessageResult, time.Duration) {
	start := time.Now()
	out, err := s.transport.Send(ctx, provider.SendRequest{
		InternalMessageID: internalID,
		Sender:            sender,
		Recipient:         recipient,
		Body:              message,
		Tag:               tag,
	})
	transportRequestDurationHist.WithLabelValues(s.transport.GetName()).Observe(time.Since(start).Seconds())

	res := domain.MessageResult{Recipient: recipient}
	kind := provider.Classify(out, err)
	switch {
	case kind == "":
		res.Success = true
		res.ProviderMessageID = out.ProviderMessageID
	case err != nil:
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			kind = domain.FailureCancelled
		}
		res.Kind = kind
		res.Error = err.Error()
	default:
		res.Kind = kind
		res.Error = out.ErrorMessage
		if res.Error == "" {
			res.Error = fmt.Sprintf("provider returned HTTP %d", out.HTTPStatus)
		}
	}

	var retryAfter time.Duration
	if out != nil && out.RetryAfterSeconds > 0 {
		retryAfter = time.Duration(out.RetryAfterSeconds) * time.Second
	}
	return res, retryAfter
}

// record writes the audit log entry and publishes the send report. Both are
// best-effort: failures are logged, never folded into the send result. The
// detached context lets cancelled batches still be audited.
func (s *DispatchService) record(ctx context.Context, internalID, sender, tag string, res domain.MessageResult) {
	if s.messageLog == nil && s.reports == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	if s.messageLog != nil {
		entry := repository.MessageLogEntry{
			ID:                internalID,
			Instance:          s.name,
			Sender:            sender,
			Recipient:         res.Recipient,
			ProviderMessageID: res.ProviderMessageID,
			Success:           res.Success,
			FailureKind:       string(res.Kind),
			ErrorMessage:      res.Error,
			Attempts:          res.Attempts,
			Tag:               tag,
			CreatedAt:         now,
		}
		if err := s.messageLog.Record(ctx, entry); err != nil {
			s.logger.ErrorContext(ctx, "Failed to record message log entry", "error", err, "internal_message_id", internalID)
		}
	}

	if s.reports != nil {
		report := SendReport{
			Instance:          s.name,
			InternalMessageID: internalID,
			Recipient:         res.Recipient,
			ProviderMessageID: res.ProviderMessageID,
			Success:           res.Success,
			Error:             res.Error,
			Attempts:          res.Attempts,
			Tag:               tag,
			SentAt:            now,
		}
		data, err := json.Marshal(report)
		if err == nil {
			err = s.reports.Publish(ReportSubject, data)
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish send report", "error", err, "internal_message_id", internalID)
		}
	}
}

func (s *DispatchService) tagFor(opts *domain.SendOptions) string {
	if opts != nil && opts.Tag != "" {
		return opts.Tag
	}
	return s.cfg.Tag
}

func invalidNumberResult(recipient string) domain.MessageResult {
	return domain.MessageResult{
		Recipient: recipient,
		Error:     "invalid phone number format",
		Kind:      domain.FailureInvalidNumber,
	}
}

func cancelledResult(recipient string) domain.MessageResult {
	return domain.MessageResult{
		Recipient: recipient,
		Error:     "batch cancelled before send",
		Kind:      domain.FailureCancelled,
	}
}
