package validation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/outbox"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

const ServiceName = "validation-service"

// ValidatedBy identifies this stage in DocumentValidated events.
const ValidatedBy = "validation-service"

// Ledger is the slice of the idempotency store the handler needs.
type Ledger interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	ProcessOnce(ctx context.Context, eventID, eventType, aggregateID string, fn func(tx pgx.Tx) error) (bool, error)
}

// Handler consumes DocumentUploaded and emits DocumentValidated or
// DocumentRejected. Both outcomes are business-terminal: the ledger row
// and the outbound event commit in one transaction.
type Handler struct {
	ledger Ledger
}

func NewHandler(ledger Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) Handle(ctx context.Context, d amqp.Delivery) error {
	log := logger.FromCtx(ctx)
	eventID := strings.TrimSpace(d.MessageId)

	// Cheap pre-check; the ProcessOnce fence still guards the race.
	done, err := h.ledger.IsProcessed(ctx, eventID)
	if err != nil {
		return appErrors.NewRetryable("ledger lookup failed", err)
	}
	if done {
		metrics.RecordDuplicateSkip(ServiceName, "document.uploaded.q")
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	var payload event.UploadedPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		return appErrors.NewInvalidEnvelope("malformed DocumentUploaded payload")
	}
	if strings.TrimSpace(payload.AggregateID) == "" {
		return appErrors.NewInvalidEnvelope("missing aggregateId")
	}

	outcome := Validate(payload.DocumentName, payload.ContentType)

	var msg outbox.Message
	if outcome == nil {
		evt := event.NewValidated(payload.AggregateID, payload.CorrelationID, "passed", ValidatedBy)
		msg, err = outbox.NewMessage(evt.Envelope, evt)
	} else {
		evt := event.NewRejected(payload.AggregateID, payload.CorrelationID, rejectionReason(outcome), RuleOf(outcome))
		msg, err = outbox.NewMessage(evt.Envelope, evt)
	}
	if err != nil {
		return appErrors.NewRetryable("stage event marshal failed", err)
	}

	processed, err := h.ledger.ProcessOnce(ctx, eventID, string(payload.EventType), payload.AggregateID, func(tx pgx.Tx) error {
		return outbox.Emit(ctx, tx, msg)
	})
	if err != nil {
		// No ledger row persisted; the retry/DLQ machinery applies.
		return appErrors.NewRetryable("validation commit failed", err)
	}
	if !processed {
		metrics.RecordDuplicateSkip(ServiceName, "document.uploaded.q")
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	if outcome == nil {
		log.Info().Str("outbound_event_id", msg.EventID).Msg("document validated")
	} else {
		log.Info().Str("outbound_event_id", msg.EventID).Err(outcome).Msg("document rejected")
	}
	return nil
}

func rejectionReason(err error) string {
	var appErr *appErrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
