package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/textgate/textgate/internal/sms_dispatch_service/domain"
)

const (
	maxRetriesCeiling = 10
	maxBackoffShift   = 6 // caps exponential backoff at 2^6 = 64s

	jitterFloor = 250 * time.Millisecond
	jitterSpan  = 750 * time.Millisecond
)

// AttemptFunc performs one send attempt. It returns the attempt's result plus
// the provider's explicit retry-after hint, or 0 when the provider gave none.
type AttemptFunc func(ctx context.Context) (domain.MessageResult, time.Duration)

// Policy retries rate-limited send attempts with backoff. Everything else is
// terminal on the first attempt: client/config errors will fail identically on
// a retry, and transport failures are left for the caller to resubmit.
type Policy struct {
	logger *slog.Logger
}

func NewPolicy(logger *slog.Logger) *Policy {
	return &Policy{logger: logger.With("component", "retry_policy")}
}

// Execute runs attempt up to maxRetries+1 times. maxRetries is clamped to
// [0,10]. The backoff wait honors ctx cancellation; a cancelled wait resolves
// as a cancelled failure rather than blocking the batch.
func (p *Policy) Execute(ctx context.Context, maxRetries int, attempt AttemptFunc) domain.MessageResult {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries > maxRetriesCeiling {
		maxRetries = maxRetriesCeiling
	}

	var res domain.MessageResult
	for n := 0; n <= maxRetries; n++ {
		var retryAfter time.Duration
		res, retryAfter = attempt(ctx)
		res.Attempts = n + 1

		if res.Success || res.Kind != domain.FailureRateLimited {
			return res
		}
		if n == maxRetries {
			break
		}

		wait := p.backoffDelay(n, retryAfter)
		p.logger.DebugContext(ctx, "Rate limited, backing off before retry",
			"attempt", n, "wait", wait, "recipient", res.Recipient)

		select {
		case <-ctx.Done():
			res.Kind = domain.FailureCancelled
			res.Error = "send cancelled while waiting to retry"
			return res
		case <-time.After(wait):
		}
	}

	res.Kind = domain.FailureRetriesExhausted
	res.Error = "rate limit exceeded, all retries exhausted"
	return res
}

// backoffDelay computes the wait before retry attempt+1. An explicit provider
// retry-after hint is used literally; otherwise exponential backoff of
// 2^min(attempt,6) seconds plus 250-1000ms of random jitter.
func (p *Policy) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	shift := attempt
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	base := time.Duration(1<<uint(shift)) * time.Second
	jitter := jitterFloor + time.Duration(rand.Int63n(int64(jitterSpan)+1))
	return base + jitter
}
