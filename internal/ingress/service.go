package ingress

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/relialab/docpipe/internal/contracts/event"
	"github.com/relialab/docpipe/internal/outbox"
	"github.com/relialab/docpipe/internal/pkg/logger"
)

// DocumentStore is the persistence surface the service needs.
type DocumentStore interface {
	CreateWithOutbox(ctx context.Context, doc *Document, msg outbox.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*Document, error)
}

type CreateRequest struct {
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	FileSize    int64             `json:"fileSize"` // bytes
	Metadata    map[string]string `json:"metadata,omitempty"`
	UploadedBy  string            `json:"uploadedBy,omitempty"`
}

type Service struct {
	store DocumentStore
}

func NewService(store DocumentStore) *Service {
	return &Service{store: store}
}

// Create persists the document and its DocumentUploaded event atomically.
// The correlation id has already been resolved by the HTTP middleware.
func (s *Service) Create(ctx context.Context, correlationID string, req CreateRequest) (*Document, error) {
	now := time.Now().UTC()
	doc := &Document{
		ID:            uuid.New(),
		Name:          req.Name,
		ContentType:   req.ContentType,
		FileSize:      req.FileSize,
		Status:        StatusUploaded,
		CorrelationID: correlationID,
		UploadedBy:    req.UploadedBy,
		Metadata:      req.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	evt := event.NewUploaded(doc.ID.String(), correlationID, doc.Name, doc.ContentType, doc.FileSize)
	msg, err := outbox.NewMessage(evt.Envelope, evt)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateWithOutbox(ctx, doc, msg); err != nil {
		return nil, err
	}

	l := logger.FromCtx(ctx)
	l.Info().
		Str("document_id", doc.ID.String()).
		Str("event_id", evt.EventID).
		Msg("document accepted")
	return doc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.store.GetByID(ctx, id)
}
