package ingress

import (
	"time"

	"github.com/google/uuid"
)

// Document statuses. Ingress only ever creates UPLOADED rows; downstream
// stages own their own projections, not this table.
const (
	StatusUploaded = "UPLOADED"
)

// Document is the aggregate owned by the ingress service.
type Document struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	ContentType   string            `json:"contentType"`
	FileSize      int64             `json:"fileSize"`
	Status        string            `json:"status"`
	CorrelationID string            `json:"correlationId"`
	UploadedBy    string            `json:"uploadedBy,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}
