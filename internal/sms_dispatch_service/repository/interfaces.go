package repository

import (
	"context"
	"time"
)

// MessageLogEntry is one audited send outcome. One entry is written per
// completed real send (validate-only dispatches touch no transport and are
// not logged).
type MessageLogEntry struct {
	ID                string // internal message ID (uuid)
	Instance          string
	Sender            string
	Recipient         string
	ProviderMessageID string
	Success           bool
	FailureKind       string
	ErrorMessage      string
	Attempts          int
	Tag               string
	CreatedAt         time.Time
}

// MessageLogRepository persists send outcomes for auditing. Implementations
// must be safe for concurrent use; the dispatch engine records from its
// worker pool.
type MessageLogRepository interface {
	Record(ctx context.Context, entry MessageLogEntry) error
}
