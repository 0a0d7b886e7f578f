package enrichment

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/outbox"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

const ServiceName = "enrichment-service"

// EnrichmentType labels the simulated enrichment applied to each document.
const EnrichmentType = "metadata-extraction"

type Ledger interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	ProcessOnce(ctx context.Context, eventID, eventType, aggregateID string, fn func(tx pgx.Tx) error) (bool, error)
}

// Handler consumes DocumentValidated, simulates enrichment, and emits
// DocumentEnriched. Ledger row and outbox row commit together.
type Handler struct {
	ledger Ledger
}

func NewHandler(ledger Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) Handle(ctx context.Context, d amqp.Delivery) error {
	log := logger.FromCtx(ctx)
	eventID := strings.TrimSpace(d.MessageId)

	done, err := h.ledger.IsProcessed(ctx, eventID)
	if err != nil {
		return appErrors.NewRetryable("ledger lookup failed", err)
	}
	if done {
		metrics.RecordDuplicateSkip(ServiceName, "document.validated.q")
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	var payload event.ValidatedPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return appErrors.NewInvalidEnvelope("malformed DocumentValidated payload")
	}
	if strings.TrimSpace(payload.AggregateID) == "" {
		return appErrors.NewInvalidEnvelope("missing aggregateId")
	}

	evt := event.NewEnriched(payload.AggregateID, payload.CorrelationID, EnrichmentType)
	msg, err := outbox.NewMessage(evt.Envelope, evt)
	if err != nil {
		return appErrors.NewRetryable("stage event marshal failed", err)
	}

	processed, err := h.ledger.ProcessOnce(ctx, eventID, string(payload.EventType), payload.AggregateID, func(tx pgx.Tx) error {
		return outbox.Emit(ctx, tx, msg)
	})
	if err != nil {
		return appErrors.NewRetryable("enrichment commit failed", err)
	}
	if !processed {
		metrics.RecordDuplicateSkip(ServiceName, "document.validated.q")
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	log.Info().Str("outbound_event_id", msg.EventID).Msg("document enriched")
	return nil
}
