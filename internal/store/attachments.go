package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AttachmentRepository stores attachment metadata; payloads live in the
// Blob Store, addressed by content_hash.
type AttachmentRepository struct {
	pool *pgxpool.Pool
}

func NewAttachmentRepository(pool *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{pool: pool}
}

// Upsert inserts an attachment row, or is a no-op if one already exists
// for (canonical_message_id, content_hash) — storing the same attachment
// payload twice across duplicate occurrences should not create duplicate
// metadata rows.
func (r *AttachmentRepository) Upsert(ctx context.Context, a *Attachment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO attachments (id, organization_id, canonical_message_id, content_hash, filename,
			content_type, size_bytes, is_inline, content_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (canonical_message_id, content_hash) DO NOTHING
	`, a.ID, a.OrganizationID, a.CanonicalMessageID, a.ContentHash, a.Filename, a.ContentType,
		a.SizeBytes, a.IsInline, a.ContentID)
	if err != nil {
		return fmt.Errorf("store: upsert attachment: %w", err)
	}
	return nil
}

// ListByCanonicalMessage returns every attachment of a canonical message.
func (r *AttachmentRepository) ListByCanonicalMessage(ctx context.Context, organizationID, canonicalMessageID string) ([]Attachment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, canonical_message_id, content_hash, filename, content_type,
		       size_bytes, is_inline, content_id, created_at
		FROM attachments WHERE organization_id = $1 AND canonical_message_id = $2
	`, organizationID, canonicalMessageID)
	if err != nil {
		return nil, fmt.Errorf("store: list attachments: %w", err)
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.CanonicalMessageID, &a.ContentHash, &a.Filename,
			&a.ContentType, &a.SizeBytes, &a.IsInline, &a.ContentID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
