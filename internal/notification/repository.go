package notification

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one rendered notification, keyed by the triggering event id.
type Record struct {
	EventID       string    `json:"eventId"`
	AggregateID   string    `json:"aggregateId"`
	Recipient     string    `json:"recipient"`
	Subject       string    `json:"subject"`
	Message       string    `json:"message"`
	Channel       string    `json:"channel"`
	CorrelationID string    `json:"correlationId"`
	SentAt        time.Time `json:"sentAt"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS notifications (
  id BIGSERIAL PRIMARY KEY,
  event_id UUID NOT NULL UNIQUE,
  aggregate_id UUID,
  recipient TEXT NOT NULL,
  subject TEXT NOT NULL,
  message TEXT NOT NULL,
  channel TEXT NOT NULL,
  correlation_id TEXT,
  sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_aggregate ON notifications (aggregate_id, sent_at);`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// InsertTx appends one notification row inside the handler's transaction.
// Duplicate event ids are idempotent skips.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, rec Record) error {
	var aggArg any
	if rec.AggregateID != "" {
		aggArg = rec.AggregateID
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO notifications (event_id, aggregate_id, recipient, subject,
		                           message, channel, correlation_id, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, rec.EventID, aggArg, rec.Recipient, rec.Subject,
		rec.Message, rec.Channel, rec.CorrelationID, rec.SentAt)
	return err
}
