package outbox

import (
	"context"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/relialab/docpipe/internal/contracts/event"
	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

// Store drains the outbox table. Multiple instances coordinate purely
// through row-level locks; no leader election, no external locks.
type Store struct {
	pool    *pgxpool.Pool
	service string

	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func NewStore(pool *pgxpool.Pool, service string, maxRetries int, initialDelay, maxDelay time.Duration) *Store {
	if maxRetries <= 0 {
		maxRetries = 10
	}
	if initialDelay <= 0 {
		initialDelay = 10 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = time.Hour
	}
	return &Store{pool: pool, service: service, MaxRetries: maxRetries, InitialDelay: initialDelay, MaxDelay: maxDelay}
}

type claimedRow struct {
	ID         int64
	EventID    string
	EventType  string
	AggType    string
	AggID      string
	CorrID     string
	RoutingKey string
	Payload    []byte
	RetryCount int
}

// Rows already locked by a concurrent publisher are skipped, so N workers
// never double-publish within a healthy run.
const claimSQL = `
SELECT id, event_id, event_type, aggregate_type, aggregate_id,
       correlation_id, routing_key, payload, retry_count
FROM outbox_events
WHERE status = 'PENDING'
  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
ORDER BY created_at ASC
LIMIT $1
FOR UPDATE SKIP LOCKED
`

const markSentSQL = `
UPDATE outbox_events
SET status = 'SENT',
    sent_at = $2,
    last_error = NULL,
    next_retry_at = NULL
WHERE id = $1
`

const markFailedSQL = `
UPDATE outbox_events
SET status = 'PENDING',
    retry_count = $2,
    next_retry_at = $3,
    last_error = $4
WHERE id = $1
`

const markDeadSQL = `
UPDATE outbox_events
SET status = 'FAILED',
    retry_count = $2,
    next_retry_at = NULL,
    last_error = $3
WHERE id = $1
`

// Backoff computes the delay before the next drain attempt:
// min(initial * 2^(retryCount-1), max). retryCount is the value AFTER increment.
func (s *Store) Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	d := time.Duration(float64(s.InitialDelay) * math.Pow(2, float64(retryCount-1)))
	if d > s.MaxDelay || d < 0 {
		d = s.MaxDelay
	}
	return d
}

// DrainBatch claims up to limit drainable rows, publishes each through
// publish, and records the per-row outcome, all inside one transaction.
// The transaction is the publisher transaction the concurrency model allows
// to span broker I/O: the row locks are exactly what fences other workers.
func (s *Store) DrainBatch(ctx context.Context, limit int, publish func(ctx context.Context, m Message) error) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch, err := claimRows(ctx, tx, limit)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, tx.Commit(ctx)
	}

	sent := 0
	now := time.Now().UTC()
	for _, row := range batch {
		m := Message{
			EventID:       row.EventID,
			EventType:     event.Type(row.EventType),
			AggregateType: row.AggType,
			AggregateID:   row.AggID,
			CorrelationID: row.CorrID,
			RoutingKey:    row.RoutingKey,
			Payload:       row.Payload,
		}

		if pubErr := publish(ctx, m); pubErr != nil {
			if markErr := s.markFailure(ctx, tx, row, pubErr); markErr != nil {
				return sent, markErr
			}
			continue
		}

		if _, err := tx.Exec(ctx, markSentSQL, row.ID, now); err != nil {
			return sent, err
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return sent, nil
}

// rowExecer is the slice of pgx.Tx the failure path needs.
type rowExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (s *Store) markFailure(ctx context.Context, tx rowExecer, row claimedRow, pubErr error) error {
	retries := row.RetryCount + 1
	errMsg := truncateError(pubErr.Error())

	if retries >= s.MaxRetries {
		if _, err := tx.Exec(ctx, markDeadSQL, row.ID, retries, errMsg); err != nil {
			return err
		}
		metrics.RecordOutboxDead(s.service)
		logger.Logger.Error().
			Str("component", "outbox_worker").
			Str("service", s.service).
			Str("event_id", row.EventID).
			Int("retry_count", retries).
			Str("last_error", errMsg).
			Msg("outbox row moved to FAILED")
		return nil
	}

	nextRetry := time.Now().UTC().Add(s.Backoff(retries))
	_, err := tx.Exec(ctx, markFailedSQL, row.ID, retries, nextRetry, errMsg)
	return err
}

func claimRows(ctx context.Context, tx pgx.Tx, limit int) ([]claimedRow, error) {
	rows, err := tx.Query(ctx, claimSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batch []claimedRow
	for rows.Next() {
		var r claimedRow
		if err := rows.Scan(
			&r.ID, &r.EventID, &r.EventType, &r.AggType, &r.AggID,
			&r.CorrID, &r.RoutingKey, &r.Payload, &r.RetryCount,
		); err != nil {
			return nil, err
		}
		batch = append(batch, r)
	}
	return batch, rows.Err()
}
