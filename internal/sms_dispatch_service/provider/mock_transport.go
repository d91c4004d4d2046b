package provider

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// MockTransport is a scriptable Transport for tests. Outcomes are consumed in
// order; once the script is exhausted every further call succeeds. It is safe
// for concurrent use and counts every Send so tests can assert on the exact
// number of network calls.
type MockTransport struct {
	logger *slog.Logger

	mu      sync.Mutex
	script  []ScriptedOutcome
	calls   atomic.Int64
	lastReq SendRequest
}

// ScriptedOutcome is one pre-programmed Send result. When Err is non-nil the
// call simulates a transport-level (connectivity) failure.
type ScriptedOutcome struct {
	Outcome *SendOutcome
	Err     error
}

func NewMockTransport(logger *slog.Logger, script ...ScriptedOutcome) *MockTransport {
	return &MockTransport{
		logger: logger.With("provider", "mock"),
		script: script,
	}
}

func (m *MockTransport) GetName() string { return "mock" }

// Calls returns how many times Send has been invoked.
func (m *MockTransport) Calls() int { return int(m.calls.Load()) }

// LastRequest returns the most recent SendRequest seen.
func (m *MockTransport) LastRequest() SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}

func (m *MockTransport) Send(ctx context.Context, req SendRequest) (*SendOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.calls.Add(1)

	m.mu.Lock()
	m.lastReq = req
	var next *ScriptedOutcome
	if len(m.script) > 0 {
		next = &m.script[0]
		m.script = m.script[1:]
	}
	m.mu.Unlock()

	if next != nil {
		m.logger.DebugContext(ctx, "MockTransport: scripted outcome", "recipient", req.Recipient)
		return next.Outcome, next.Err
	}

	return &SendOutcome{
		Success:           true,
		ProviderMessageID: "mock-" + uuid.NewString(),
		HTTPStatus:        202,
	}, nil
}
