package idempotency

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ledger records which event ids a consuming service has already applied.
// Presence of a row means the side effects of that event are durably
// committed; insertion happens in the same transaction as the side effects.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// EnsureSchema creates the processed-event table if missing. Idempotent.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS processed_events (
  event_id UUID PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_id UUID,
  processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`)
	return err
}

// markTx inserts the fence row inside tx.
// ok=true  -> first delivery of this event
// ok=false -> duplicate delivery (already processed)
func (l *Ledger) markTx(ctx context.Context, tx pgx.Tx, eventID, eventType, aggregateID string) (bool, error) {
	var aggArg any
	if s := strings.TrimSpace(aggregateID); s != "" {
		aggArg = s
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type, aggregate_id, processed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, eventID, eventType, aggArg, time.Now().UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// IsProcessed is the cheap pre-check consumers run before doing any work.
// The ProcessOnce fence still guards against the race between two
// concurrent deliveries of the same event id.
func (l *Ledger) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID,
	).Scan(&exists)
	return exists, err
}

// ProcessOnce runs fn inside a transaction guarded by the ledger fence.
//   - duplicate delivery: fn is NOT executed; returns processed=false, err=nil.
//   - fn fails: tx rolls back, the fence row does not persist, the message
//     can be retried.
func (l *Ledger) ProcessOnce(
	ctx context.Context,
	eventID, eventType, aggregateID string,
	fn func(tx pgx.Tx) error,
) (processed bool, err error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	first, err := l.markTx(ctx, tx, eventID, eventType, aggregateID)
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}

	if err := fn(tx); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}
