package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	appErrors "github.com/relialab/docpipe/internal/errors"
)

// Record is the immutable event-shaped projection the audit observer keeps.
type Record struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	RoutingKey    string          `json:"routingKey"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
	ReceivedAt    time.Time       `json:"receivedAt"`
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
  id BIGSERIAL PRIMARY KEY,
  event_id UUID NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_id UUID,
  routing_key TEXT NOT NULL,
  correlation_id TEXT,
  payload JSONB NOT NULL,
  received_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_aggregate ON audit_events (aggregate_id, received_at);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events (event_type, received_at);`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// InsertTx appends one projection row inside the handler's transaction.
// A duplicate event_id is an idempotent skip, not a failure.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, rec Record) error {
	var aggArg any
	if rec.AggregateID != "" {
		aggArg = rec.AggregateID
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO audit_events (event_id, event_type, aggregate_id, routing_key,
		                          correlation_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, rec.EventID, rec.EventType, aggArg, rec.RoutingKey,
		rec.CorrelationID, string(rec.Payload), rec.ReceivedAt)
	return err
}

func (r *Repository) GetByEventID(ctx context.Context, eventID string) (*Record, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT event_id, event_type, aggregate_id, routing_key, correlation_id, payload, received_at
		FROM audit_events WHERE event_id = $1
	`, eventID)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, appErrors.NewNotFound("audit record not found")
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Timeline returns the aggregate's events in receipt order.
func (r *Repository) Timeline(ctx context.Context, aggregateID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, event_type, aggregate_id, routing_key, correlation_id, payload, received_at
		FROM audit_events WHERE aggregate_id = $1
		ORDER BY received_at ASC, id ASC
	`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (r *Repository) ListByType(ctx context.Context, eventType string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, event_type, aggregate_id, routing_key, correlation_id, payload, received_at
		FROM audit_events WHERE event_type = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Counters returns per-event-type counts for one aggregate.
func (r *Repository) Counters(ctx context.Context, aggregateID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_type, COUNT(*) FROM audit_events
		WHERE aggregate_id = $1
		GROUP BY event_type
	`, aggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counters := map[string]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counters[t] = n
	}
	return counters, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var aggID *string
	var corrID *string
	if err := row.Scan(&rec.EventID, &rec.EventType, &aggID, &rec.RoutingKey,
		&corrID, &rec.Payload, &rec.ReceivedAt); err != nil {
		return nil, err
	}
	if aggID != nil {
		rec.AggregateID = *aggID
	}
	if corrID != nil {
		rec.CorrelationID = *corrID
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
