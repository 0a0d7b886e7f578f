package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/relialab/docpipe/internal/contracts/event"
)

// Row statuses. FAILED is terminal; an operator has to intervene.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

const maxErrorLen = 500

// Message is one event staged for publication. The payload is stored
// verbatim and delivered byte-identical to the broker.
type Message struct {
	EventID       string
	EventType     event.Type
	AggregateType string
	AggregateID   string
	CorrelationID string
	RoutingKey    string
	Payload       []byte
}

// NewMessage stages an event payload. The payload struct must embed
// event.Envelope; the envelope fields become the broker message identity.
func NewMessage(env event.Envelope, payload any) (Message, error) {
	if strings.TrimSpace(env.EventID) == "" {
		return Message{}, fmt.Errorf("missing event id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Message{
		EventID:       env.EventID,
		EventType:     env.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   env.AggregateID,
		CorrelationID: env.CorrelationID,
		RoutingKey:    event.RoutingKeyFor(env.EventType),
		Payload:       body,
	}, nil
}

const insertOutboxSQL = `
INSERT INTO outbox_events (
  event_id, event_type, aggregate_type, aggregate_id,
  correlation_id, routing_key, payload, status, retry_count, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, 'PENDING', 0, $8)
`

// Emit appends a PENDING row inside the caller's transaction. It never
// touches the broker; the polling worker drains the table later.
func Emit(ctx context.Context, tx pgx.Tx, m Message) error {
	_, err := tx.Exec(ctx, insertOutboxSQL,
		m.EventID,
		string(m.EventType),
		m.AggregateType,
		m.AggregateID,
		m.CorrelationID,
		m.RoutingKey,
		string(m.Payload),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

// truncateError bounds last_error so a pathological driver message
// cannot bloat the table.
func truncateError(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}
