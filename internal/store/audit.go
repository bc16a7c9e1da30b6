package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepository records ticket/occurrence mutations for ops review,
// e.g. the auto_spam event required by the unknown-recipient scenario.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Record inserts an audit event.
func (r *AuditRepository) Record(ctx context.Context, organizationID string, ticketID, occurrenceID *string, kind, detail string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_events (id, organization_id, ticket_id, occurrence_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, uuid.NewString(), organizationID, ticketID, occurrenceID, kind, detail)
	if err != nil {
		return fmt.Errorf("store: record audit event: %w", err)
	}
	return nil
}

// ListByTicket returns audit events for a ticket, oldest first.
func (r *AuditRepository) ListByTicket(ctx context.Context, organizationID, ticketID string) ([]AuditEvent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, ticket_id, occurrence_id, kind, detail, created_at
		FROM audit_events WHERE organization_id = $1 AND ticket_id = $2
		ORDER BY created_at
	`, organizationID, ticketID)
	if err != nil {
		return nil, fmt.Errorf("store: list audit events: %w", err)
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.TicketID, &e.OccurrenceID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
