package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	appErrors "github.com/relialab/docpipe/internal/errors"
	"github.com/relialab/docpipe/internal/outbox"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureSchema creates the documents table if missing. The outbox table
// is bootstrapped separately by the outbox package.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
  id UUID PRIMARY KEY,
  name TEXT NOT NULL,
  content_type TEXT NOT NULL,
  file_size BIGINT NOT NULL,
  status TEXT NOT NULL,
  correlation_id TEXT NOT NULL,
  uploaded_by TEXT,
  metadata JSONB,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents (created_at);`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

// CreateWithOutbox writes the document row and its DocumentUploaded outbox
// row in one transaction. Either both commit or neither does; the broker
// is never touched here.
func (r *Repository) CreateWithOutbox(ctx context.Context, doc *Document, msg outbox.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var metaJSON []byte
	if doc.Metadata != nil {
		metaJSON, err = json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, name, content_type, file_size, status,
		                       correlation_id, uploaded_by, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, doc.ID, doc.Name, doc.ContentType, doc.FileSize, doc.Status,
		doc.CorrelationID, nullIfEmpty(doc.UploadedBy), metaJSON, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if err := outbox.Emit(ctx, tx, msg); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	var doc Document
	var uploadedBy *string
	var metaJSON []byte

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, content_type, file_size, status,
		       correlation_id, uploaded_by, metadata, created_at, updated_at
		FROM documents WHERE id = $1
	`, id).Scan(
		&doc.ID, &doc.Name, &doc.ContentType, &doc.FileSize, &doc.Status,
		&doc.CorrelationID, &uploadedBy, &metaJSON, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, appErrors.NewNotFound("document not found")
	}
	if err != nil {
		return nil, err
	}

	if uploadedBy != nil {
		doc.UploadedBy = *uploadedBy
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &doc.Metadata)
	}
	return &doc, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
