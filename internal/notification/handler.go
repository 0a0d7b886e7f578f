package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/relialab/docpipe/internal/contracts/event"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/metrics"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

const ServiceName = "notification-service"

// DefaultRecipient is used until a user-profile lookup exists.
const DefaultRecipient = "documents-team@example.com"

const (
	ChannelEmail      = "email"
	ChannelSuppressed = "suppressed" // rate-limited; recorded but not sent
)

type Ledger interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	ProcessOnce(ctx context.Context, eventID, eventType, aggregateID string, fn func(tx pgx.Tx) error) (bool, error)
}

// Handler consumes user-facing outcomes (validated, rejected, enriched),
// simulates a send, and records one notification per unique event id.
type Handler struct {
	ledger  Ledger
	repo    *Repository
	limiter *RateLimiter
}

func NewHandler(ledger Ledger, repo *Repository, limiter *RateLimiter) *Handler {
	return &Handler{ledger: ledger, repo: repo, limiter: limiter}
}

func (h *Handler) Handle(ctx context.Context, d amqp.Delivery) error {
	log := logger.FromCtx(ctx)
	eventID := strings.TrimSpace(d.MessageId)

	done, err := h.ledger.IsProcessed(ctx, eventID)
	if err != nil {
		return appErrors.NewRetryable("ledger lookup failed", err)
	}
	if done {
		metrics.RecordDuplicateSkip(ServiceName, "document.notification.q")
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	subject, message, parseErr := render(d.RoutingKey, d.Body)
	if parseErr != nil {
		return parseErr
	}

	env, _ := event.ParseEnvelope(d.Body)
	corrID := env.CorrelationID
	if corrID == "" {
		corrID = strings.TrimSpace(d.CorrelationId)
	}

	channel := ChannelEmail
	if h.limiter != nil {
		if err := h.limiter.Check(ctx, DefaultRecipient, 60, time.Hour); err != nil {
			log.Warn().Err(err).Msg("notification suppressed by rate limit")
			channel = ChannelSuppressed
		}
	}

	rec := Record{
		EventID:       eventID,
		AggregateID:   env.AggregateID,
		Recipient:     DefaultRecipient,
		Subject:       subject,
		Message:       message,
		Channel:       channel,
		CorrelationID: corrID,
		SentAt:        time.Now().UTC(),
	}

	processed, err := h.ledger.ProcessOnce(ctx, eventID, string(env.EventType), env.AggregateID, func(tx pgx.Tx) error {
		return h.repo.InsertTx(ctx, tx, rec)
	})
	if err != nil {
		return appErrors.NewRetryable("notification commit failed", err)
	}
	if !processed {
		metrics.RecordDuplicateSkip(ServiceName, "document.notification.q")
		log.Info().Msg("duplicate delivery ignored")
		return nil
	}

	if channel == ChannelEmail {
		// The send itself is simulated; the durable record is the effect.
		log.Info().Str("recipient", rec.Recipient).Str("subject", subject).Msg("notification sent")
	}
	return nil
}

func render(routingKey string, body []byte) (subject, message string, err error) {
	switch routingKey {
	case event.RKValidated:
		var p event.ValidatedPayload
		if jsonErr := json.Unmarshal(body, &p); jsonErr != nil {
			return "", "", appErrors.NewInvalidEnvelope("malformed DocumentValidated payload")
		}
		return "Document validated",
			fmt.Sprintf("Document %s passed validation (%s).", p.AggregateID, p.ValidationResult),
			nil

	case event.RKRejected:
		var p event.RejectedPayload
		if jsonErr := json.Unmarshal(body, &p); jsonErr != nil {
			return "", "", appErrors.NewInvalidEnvelope("malformed DocumentRejected payload")
		}
		return "Document rejected",
			fmt.Sprintf("Document %s was rejected: %s", p.AggregateID, p.RejectionReason),
			nil

	case event.RKEnriched:
		var p event.EnrichedPayload
		if jsonErr := json.Unmarshal(body, &p); jsonErr != nil {
			return "", "", appErrors.NewInvalidEnvelope("malformed DocumentEnriched payload")
		}
		return "Document enriched",
			fmt.Sprintf("Document %s was enriched (%s).", p.AggregateID, p.EnrichmentType),
			nil

	default:
		// Bindings should make this unreachable; treat it as undecodable.
		return "", "", appErrors.NewInvalidEnvelope("unexpected routing key " + routingKey)
	}
}
