package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

const ServiceName = "audit-service"

type Ledger interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	ProcessOnce(ctx context.Context, eventID, eventType, aggregateID string, fn func(tx pgx.Tx) error) (bool, error)
}

// Handler is the wildcard observer: one immutable audit row per unique
// event id, for every document.* event, known or future.
type Handler struct {
	ledger Ledger
	repo   *Repository
}

func NewHandler(ledger Ledger, repo *Repository) *Handler {
	return &Handler{ledger: ledger, repo: repo}
}

func (h *Handler) Handle(ctx context.Context, d amqp.Delivery) error {
	log := logger.FromCtx(ctx)
	eventID := strings.TrimSpace(d.MessageId)

	done, err := h.ledger.IsProcessed(ctx, eventID)
	if err != nil {
		return appErrors.NewRetryable("ledger lookup failed", err)
	}
	if done {
		metrics.RecordDuplicateSkip(ServiceName, "document.audit.q")
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	// Only the base fields are needed; unknown event types still audit fine.
	env, envErr := event.ParseEnvelope(d.Body)
	if envErr != nil {
		return appErrors.NewInvalidEnvelope("payload is not a JSON object")
	}

	eventType := string(env.EventType)
	if eventType == "" {
		eventType = headerString(d.Headers, "eventType")
	}
	corrID := env.CorrelationID
	if corrID == "" {
		corrID = strings.TrimSpace(d.CorrelationId)
	}

	rec := Record{
		EventID:       eventID,
		EventType:     eventType,
		AggregateID:   env.AggregateID,
		RoutingKey:    d.RoutingKey,
		CorrelationID: corrID,
		Payload:       json.RawMessage(d.Body),
		ReceivedAt:    time.Now().UTC(),
	}

	processed, err := h.ledger.ProcessOnce(ctx, eventID, eventType, env.AggregateID, func(tx pgx.Tx) error {
		return h.repo.InsertTx(ctx, tx, rec)
	})
	if err != nil {
		return appErrors.NewRetryable("audit commit failed", err)
	}
	if !processed {
		metrics.RecordDuplicateSkip(ServiceName, "document.audit.q")
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	log.Info().Msg("audit record written")
	return nil
}

func headerString(h amqp.Table, key string) string {
	if h == nil {
		return ""
	}
	if s, ok := h[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
