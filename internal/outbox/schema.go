package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the outbox table and its indexes if missing.
// Idempotent; every publishing service runs it at startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id BIGSERIAL PRIMARY KEY,
  event_id UUID NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id UUID NOT NULL,
  correlation_id TEXT,
  routing_key TEXT NOT NULL,
  payload JSONB NOT NULL,
  status TEXT NOT NULL DEFAULT 'PENDING',
  retry_count INT NOT NULL DEFAULT 0,
  last_error TEXT,
  next_retry_at TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  sent_at TIMESTAMPTZ
);`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_pending
  ON outbox_events (status, created_at) WHERE status = 'PENDING';`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_retry
  ON outbox_events (status, next_retry_at) WHERE status = 'PENDING';`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_aggregate
  ON outbox_events (aggregate_id, created_at);`,
	}

	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
