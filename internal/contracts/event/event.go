package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Broker topology names shared by every service.
const (
	Exchange = "doc.events"
	DLX      = "doc.dlx"
)

// AggregateType carried in message headers; the pipeline only moves documents.
const AggregateType = "Document"

type Type string

const (
	TypeDocumentUploaded  Type = "DocumentUploaded"
	TypeDocumentValidated Type = "DocumentValidated"
	TypeDocumentRejected  Type = "DocumentRejected"
	TypeDocumentEnriched  Type = "DocumentEnriched"
)

// Routing keys on the topic exchange. The audit observer binds "document.*",
// so future event types MUST stay under the document. prefix.
const (
	RKUploaded  = "document.uploaded"
	RKValidated = "document.validated"
	RKRejected  = "document.rejected"
	RKEnriched  = "document.enriched"
	RKWildcard  = "document.*"
)

// RoutingKeyFor maps an event type to its routing key.
// Unknown types fall back to document.<lowercase-verb> so the wildcard
// audit binding still captures them.
func RoutingKeyFor(t Type) string {
	switch t {
	case TypeDocumentUploaded:
		return RKUploaded
	case TypeDocumentValidated:
		return RKValidated
	case TypeDocumentRejected:
		return RKRejected
	case TypeDocumentEnriched:
		return RKEnriched
	default:
		verb := strings.ToLower(strings.TrimPrefix(string(t), "Document"))
		return "document." + verb
	}
}

// Envelope is the base field set present in every event payload.
// Payloads are stored verbatim in the outbox and delivered byte-identical,
// so field names here ARE the wire contract.
type Envelope struct {
	EventID       string    `json:"eventId"`
	EventType     Type      `json:"eventType"`
	AggregateID   string    `json:"aggregateId"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlationId"`
}

type UploadedPayload struct {
	Envelope
	DocumentName string `json:"documentName"`
	ContentType  string `json:"contentType"`
	FileSize     int64  `json:"fileSize"`
}

type ValidatedPayload struct {
	Envelope
	ValidationResult string `json:"validationResult"`
	ValidatedBy      string `json:"validatedBy"`
}

type RejectedPayload struct {
	Envelope
	RejectionReason      string `json:"rejectionReason"`
	FailedValidationRule string `json:"failedValidationRule"`
}

type EnrichedPayload struct {
	Envelope
	EnrichedAt     time.Time `json:"enrichedAt"`
	EnrichmentType string    `json:"enrichmentType"`
}

func newEnvelope(t Type, aggregateID, correlationID string) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     t,
		AggregateID:   aggregateID,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}
}

func NewUploaded(aggregateID, correlationID, name, contentType string, fileSize int64) UploadedPayload {
	return UploadedPayload{
		Envelope:     newEnvelope(TypeDocumentUploaded, aggregateID, correlationID),
		DocumentName: name,
		ContentType:  contentType,
		FileSize:     fileSize,
	}
}

func NewValidated(aggregateID, correlationID, result, validatedBy string) ValidatedPayload {
	return ValidatedPayload{
		Envelope:         newEnvelope(TypeDocumentValidated, aggregateID, correlationID),
		ValidationResult: result,
		ValidatedBy:      validatedBy,
	}
}

func NewRejected(aggregateID, correlationID, reason, failedRule string) RejectedPayload {
	return RejectedPayload{
		Envelope:             newEnvelope(TypeDocumentRejected, aggregateID, correlationID),
		RejectionReason:      reason,
		FailedValidationRule: failedRule,
	}
}

func NewEnriched(aggregateID, correlationID, enrichmentType string) EnrichedPayload {
	now := time.Now().UTC()
	p := EnrichedPayload{
		Envelope:       newEnvelope(TypeDocumentEnriched, aggregateID, correlationID),
		EnrichedAt:     now,
		EnrichmentType: enrichmentType,
	}
	p.Timestamp = now
	return p
}

// ParseEnvelope decodes only the base fields from a raw payload.
// Observers need nothing more to do their job.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
