package health

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/textgate/textgate/internal/sms_dispatch_service/domain"
)

const (
	// Failed probes cache for max(degradedTTLFloor, TTL/2) so recovery is
	// noticed faster without flapping.
	degradedTTLFloor = 35 * time.Second
	expiryJitterSpan = 5 * time.Second

	probeMessage = "health probe"
)

var healthProbesCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sms_dispatch",
		Name:      "health_probes_total",
		Help:      "Underlying health probes performed, by outcome.",
	},
	[]string{"instance", "status"},
)

// Dispatcher is the slice of the dispatch service the probe needs.
// Implemented by *app.DispatchService.
type Dispatcher interface {
	Name() string
	Config() domain.InstanceConfig
	SendBulk(ctx context.Context, req domain.BulkRequest) (*domain.MessageResponse, error)
	SendSingle(ctx context.Context, sender, recipient, message string, opts *domain.SendOptions) (domain.MessageResult, error)
}

type cacheEntry struct {
	status      domain.HealthStatus
	description string
	expires     time.Time
}

// Probe verifies that one instance's provider connection is usable, caching
// the result so monitoring checks cannot hammer the provider. Reads of a
// valid entry are lock-free; the refresh path is guarded by a per-instance
// mutex with a double-check after acquisition, so concurrent cache misses
// collapse into a single underlying probe.
type Probe struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time // injectable for tests

	refreshMu sync.Mutex
	entry     atomic.Pointer[cacheEntry]
}

func NewProbe(dispatcher Dispatcher, logger *slog.Logger) *Probe {
	return &Probe{
		dispatcher: dispatcher,
		logger:     logger.With("component", "health_probe", "instance", dispatcher.Name()),
		now:        time.Now,
	}
}

// Check returns the instance's health, from cache when a valid entry exists.
// The error return is reserved for fatal configuration problems (capability
// mismatches); operational failures come back as Degraded or Unhealthy.
func (p *Probe) Check(ctx context.Context) (domain.HealthStatus, string, error) {
	ttl := p.dispatcher.Config().CachedResultTTL
	if ttl == 0 {
		return p.probe(ctx)
	}

	if e := p.entry.Load(); e != nil && p.now().Before(e.expires) {
		return e.status, e.description, nil
	}

	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if e := p.entry.Load(); e != nil && p.now().Before(e.expires) {
		return e.status, e.description, nil
	}

	status, description, err := p.probe(ctx)
	if err != nil {
		return status, description, err
	}
	expires := p.now().Add(p.cacheDuration(status, ttl))
	p.entry.Store(&cacheEntry{status: status, description: description, expires: expires})
	p.logger.DebugContext(ctx, "Health probe cached", "status", status, "expires", expires)
	return status, description, nil
}

// probe performs the underlying check: a zero-network-cost validate-only
// dispatch against the configured test number and, when test sending is
// enabled, a real send to it. With test sending disabled the probe can only
// distinguish Healthy (configuration valid) from Unhealthy; Degraded is
// reachable only through real test sends.
func (p *Probe) probe(ctx context.Context) (domain.HealthStatus, string, error) {
	cfg := p.dispatcher.Config()
	if cfg.TestPhoneNumber == "" {
		return p.done(ctx, domain.HealthStatusUnhealthy, "no test phone number configured")
	}

	resp, err := p.dispatcher.SendBulk(ctx, domain.BulkRequest{
		Message:      probeMessage,
		Recipients:   []string{cfg.TestPhoneNumber},
		ValidateOnly: true,
	})
	if err != nil {
		if domain.IsCapabilityError(err) {
			// The instance is misconfigured, not unreachable; this must not
			// be masked as a health status.
			return "", "", err
		}
		return p.done(ctx, domain.HealthStatusUnhealthy, fmt.Sprintf("validate-only dispatch failed: %v", err))
	}
	if resp.Failed > 0 {
		return p.done(ctx, domain.HealthStatusUnhealthy, "test phone number failed validation: "+resp.Results[0].Error)
	}

	if !cfg.TestSending {
		return p.done(ctx, domain.HealthStatusHealthy, "configuration validated (test sending disabled)")
	}

	res, err := p.dispatcher.SendSingle(ctx, "", cfg.TestPhoneNumber, probeMessage, nil)
	if err != nil {
		if domain.IsCapabilityError(err) {
			return "", "", err
		}
		return p.done(ctx, domain.HealthStatusUnhealthy, fmt.Sprintf("test send rejected: %v", err))
	}
	if res.Success {
		return p.done(ctx, domain.HealthStatusHealthy, "test message accepted by provider")
	}

	switch res.Kind {
	case domain.FailureTransport, domain.FailureCancelled:
		return p.done(ctx, domain.HealthStatusDegraded, "provider unreachable: "+res.Error)
	default:
		return p.done(ctx, domain.HealthStatusUnhealthy, "test send failed: "+res.Error)
	}
}

func (p *Probe) done(ctx context.Context, status domain.HealthStatus, description string) (domain.HealthStatus, string, error) {
	healthProbesCounter.WithLabelValues(p.dispatcher.Name(), string(status)).Inc()
	if status == domain.HealthStatusHealthy {
		p.logger.DebugContext(ctx, "Health probe completed", "status", status, "description", description)
	} else {
		p.logger.WarnContext(ctx, "Health probe completed", "status", status, "description", description)
	}
	return status, description, nil
}

// cacheDuration picks how long an outcome stays cached: the full TTL for
// Healthy, max(35s, TTL/2) otherwise, both plus 0-5s of jitter so many
// instances probed together do not all expire at once.
func (p *Probe) cacheDuration(status domain.HealthStatus, ttl time.Duration) time.Duration {
	d := ttl
	if status != domain.HealthStatusHealthy {
		d = ttl / 2
		if d < degradedTTLFloor {
			d = degradedTTLFloor
		}
	}
	return d + time.Duration(rand.Int63n(int64(expiryJitterSpan)+1))
}
