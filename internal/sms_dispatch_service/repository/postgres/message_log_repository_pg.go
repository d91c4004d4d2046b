package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/textgate/textgate/internal/sms_dispatch_service/repository"
)

type pgMessageLogRepository struct {
	db *pgxpool.Pool
}

// NewPgMessageLogRepository creates the PostgreSQL-backed audit log.
// Expected schema:
//
//	CREATE TABLE message_log (
//	    id                  UUID PRIMARY KEY,
//	    instance            TEXT NOT NULL,
//	    sender              TEXT NOT NULL,
//	    recipient           TEXT NOT NULL,
//	    provider_message_id TEXT,
//	    success             BOOLEAN NOT NULL,
//	    failure_kind        TEXT,
//	    error_message       TEXT,
//	    attempts            INT NOT NULL,
//	    tag                 TEXT,
//	    created_at          TIMESTAMPTZ NOT NULL
//	);
func NewPgMessageLogRepository(db *pgxpool.Pool) repository.MessageLogRepository {
	return &pgMessageLogRepository{db: db}
}

func (r *pgMessageLogRepository) Record(ctx context.Context, entry repository.MessageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO message_log (
			id, instance, sender, recipient, provider_message_id, success,
			failure_kind, error_message, attempts, tag, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.Instance, entry.Sender, entry.Recipient, entry.ProviderMessageID, entry.Success,
		entry.FailureKind, entry.ErrorMessage, entry.Attempts, entry.Tag, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert message log entry: %w", err)
	}
	return nil
}
