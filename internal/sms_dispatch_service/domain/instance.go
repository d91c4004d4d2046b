package domain

import "time"

const (
	DefaultMaxConcurrency  = 10
	DefaultMaxRetries      = 3
	DefaultCachedResultTTL = 60 * time.Second

	maxRetriesCeiling = 10
)

// InstanceConfig is the per-instance dispatch configuration. It is immutable
// after construction: the composition root builds it once and the engine and
// health probe only ever read it.
type InstanceConfig struct {
	SenderNumber    string
	MaxConcurrency  int
	MaxRetries      int
	Tag             string
	CachedResultTTL time.Duration // 0 disables health-result caching
	TestSending     bool
	TestPhoneNumber string
}

// Normalized returns a copy with defaults applied and limits clamped:
// MaxConcurrency >= 1 (default 10), MaxRetries in [0,10] (negative means
// "use default 3"), negative TTL treated as disabled.
func (c InstanceConfig) Normalized() InstanceConfig {
	out := c
	if out.MaxConcurrency == 0 {
		out.MaxConcurrency = DefaultMaxConcurrency
	}
	if out.MaxConcurrency < 1 {
		out.MaxConcurrency = 1
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = DefaultMaxRetries
	}
	if out.MaxRetries > maxRetriesCeiling {
		out.MaxRetries = maxRetriesCeiling
	}
	if out.CachedResultTTL < 0 {
		out.CachedResultTTL = 0
	}
	return out
}
