package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CanonicalRepository stores deduped canonical messages, enforcing the
// core exactly-once invariant via a unique index on
// (organization_id, fingerprint_v1).
type CanonicalRepository struct {
	pool *pgxpool.Pool
}

func NewCanonicalRepository(pool *pgxpool.Pool) *CanonicalRepository {
	return &CanonicalRepository{pool: pool}
}

const canonicalColumns = `id, organization_id, fingerprint_v1, subject, from_address, to_addresses, cc_addresses,
	date_header, snippet, body_text, body_html_sanitized, body_text_hash_64k, collision_group_id,
	parser_version, sanitizer_version, x_oss_ticket_id, x_oss_message_id, rfc822_message_id,
	reference_ids, reply_to_addresses, has_threading_header, ticket_id, created_at, updated_at`

func scanCanonical(row pgx.Row) (*CanonicalMessage, error) {
	var c CanonicalMessage
	err := row.Scan(&c.ID, &c.OrganizationID, &c.FingerprintV1, &c.Subject, &c.FromAddress, &c.ToAddresses,
		&c.CCAddresses, &c.DateHeader, &c.Snippet, &c.BodyText, &c.BodyHTMLSanitized, &c.BodyTextHash64K,
		&c.CollisionGroupID, &c.ParserVersion, &c.SanitizerVersion, &c.XOSSTicketID, &c.XOSSMessageID,
		&c.RFC822MessageID, &c.ReferenceIDs, &c.ReplyToAddresses, &c.HasThreadingHdr, &c.TicketID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetByFingerprint looks up a canonical message by its dedup identity.
func (r *CanonicalRepository) GetByFingerprint(ctx context.Context, organizationID, fingerprint string) (*CanonicalMessage, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+canonicalColumns+` FROM canonical_messages WHERE organization_id = $1 AND fingerprint_v1 = $2`,
		organizationID, fingerprint)
	c, err := scanCanonical(row)
	if err != nil {
		return nil, fmt.Errorf("store: get canonical by fingerprint: %w", err)
	}
	return c, nil
}

// Get fetches a canonical message by ID.
func (r *CanonicalRepository) Get(ctx context.Context, organizationID, id string) (*CanonicalMessage, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+canonicalColumns+` FROM canonical_messages WHERE organization_id = $1 AND id = $2`,
		organizationID, id)
	c, err := scanCanonical(row)
	if err != nil {
		return nil, fmt.Errorf("store: get canonical %s: %w", id, err)
	}
	return c, nil
}

// Insert creates a brand-new canonical message row. Callers are
// responsible for first checking GetByFingerprint; a unique-violation
// here means a concurrent parse raced us and should be treated as "read
// the winner and link to it" per the concurrent-upserts design note.
func (r *CanonicalRepository) Insert(ctx context.Context, c *CanonicalMessage) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO canonical_messages (id, organization_id, fingerprint_v1, subject, from_address,
			to_addresses, cc_addresses, date_header, snippet, body_text, body_html_sanitized,
			body_text_hash_64k, collision_group_id, parser_version, sanitizer_version,
			x_oss_ticket_id, x_oss_message_id, rfc822_message_id, reference_ids, reply_to_addresses,
			has_threading_header, ticket_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, now(), now())
	`, c.ID, c.OrganizationID, c.FingerprintV1, c.Subject, c.FromAddress, c.ToAddresses, c.CCAddresses,
		c.DateHeader, c.Snippet, c.BodyText, c.BodyHTMLSanitized, c.BodyTextHash64K, c.CollisionGroupID,
		c.ParserVersion, c.SanitizerVersion, c.XOSSTicketID, c.XOSSMessageID, c.RFC822MessageID, c.ReferenceIDs,
		c.ReplyToAddresses, c.HasThreadingHdr, c.TicketID)
	if err != nil {
		return fmt.Errorf("store: insert canonical: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation, used by the pipeline to distinguish "I lost the insert race"
// from a genuine failure.
func IsUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

// AttachCollisionGroup links a canonical message to a (possibly
// newly-created) collision group, used when two candidates share
// fingerprint inputs but differ in body content.
func (r *CanonicalRepository) AttachCollisionGroup(ctx context.Context, organizationID, canonicalMessageID, groupID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE canonical_messages SET collision_group_id = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, canonicalMessageID, groupID)
	if err != nil {
		return fmt.Errorf("store: attach collision group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTicket records the ticket a canonical message belongs to, the
// authoritative side of the tickets<->canonical_messages relationship per
// the cyclic-reference design note.
func (r *CanonicalRepository) SetTicket(ctx context.Context, organizationID, canonicalMessageID, ticketID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE canonical_messages SET ticket_id = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, canonicalMessageID, ticketID)
	if err != nil {
		return fmt.Errorf("store: set ticket on canonical: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindTicketByXOSSTicketID resolves the marker-stitch priority-1 rule: it
// returns the id of the ticket whose x_oss_ticket_id_marker equals the
// X-OSS-Ticket-ID value a canonical message carries.
func (r *CanonicalRepository) FindTicketByXOSSTicketID(ctx context.Context, organizationID, xossTicketID string) (string, error) {
	var ticketID string
	err := r.pool.QueryRow(ctx, `
		SELECT id FROM tickets WHERE organization_id = $1 AND x_oss_ticket_id_marker = $2 LIMIT 1
	`, organizationID, xossTicketID).Scan(&ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: find ticket by x-oss-ticket-id: %w", err)
	}
	return ticketID, nil
}

// FindTicketByReferenceID resolves the priority-3 threading-graph rule by
// looking up any canonical message whose rfc822_message_id matches an
// In-Reply-To / References value, then returning its ticket.
func (r *CanonicalRepository) FindTicketByReferenceID(ctx context.Context, organizationID string, messageIDs []string) (string, error) {
	if len(messageIDs) == 0 {
		return "", ErrNotFound
	}
	var ticketID *string
	err := r.pool.QueryRow(ctx, `
		SELECT ticket_id FROM canonical_messages
		WHERE organization_id = $1 AND ticket_id IS NOT NULL
		  AND (x_oss_message_id = ANY($2) OR rfc822_message_id = ANY($2))
		LIMIT 1
	`, organizationID, messageIDs).Scan(&ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("store: find ticket by reference id: %w", err)
	}
	if ticketID == nil {
		return "", ErrNotFound
	}
	return *ticketID, nil
}

// ListOrphaned returns canonical messages older than cutoff with no
// occurrence still pointing at them, the retention sweep's candidate set.
// A canonical message loses its last occurrence only when every mailbox
// that ever surfaced it has since had that occurrence dropped, so an
// orphan here is never an in-flight ingestion, just stale content.
func (r *CanonicalRepository) ListOrphaned(ctx context.Context, organizationID string, cutoff time.Time, limit int) ([]CanonicalMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+canonicalColumns+` FROM canonical_messages c
		WHERE c.organization_id = $1 AND c.created_at < $2
		  AND NOT EXISTS (SELECT 1 FROM message_occurrences o WHERE o.canonical_message_id = c.id)
		ORDER BY c.created_at
		LIMIT $3
	`, organizationID, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list orphaned canonical messages: %w", err)
	}
	defer rows.Close()

	var out []CanonicalMessage
	for rows.Next() {
		c, err := scanCanonical(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Delete removes a canonical message and its attachment rows outright.
// Callers must have already fanned out deletion of the underlying blob
// content (the retention sweep does this first, via a delete-intent
// publish); this only drops the relational rows once that's confirmed
// queued.
func (r *CanonicalRepository) Delete(ctx context.Context, organizationID, canonicalMessageID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: delete canonical message %s: begin: %w", canonicalMessageID, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		DELETE FROM attachments WHERE organization_id = $1 AND canonical_message_id = $2
	`, organizationID, canonicalMessageID); err != nil {
		return fmt.Errorf("store: delete canonical message %s: attachments: %w", canonicalMessageID, err)
	}

	tag, err := tx.Exec(ctx, `
		DELETE FROM canonical_messages WHERE organization_id = $1 AND id = $2
	`, organizationID, canonicalMessageID)
	if err != nil {
		return fmt.Errorf("store: delete canonical message %s: %w", canonicalMessageID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}
