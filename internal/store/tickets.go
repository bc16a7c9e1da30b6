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

// ErrAmbiguousAssignment is returned when a caller tries to set both
// assignee_user_id and assignee_queue_id, violating the mutual-exclusion
// invariant.
var ErrAmbiguousAssignment = errors.New("store: ticket assignee_user_id and assignee_queue_id are mutually exclusive")

// TicketRepository is the Postgres-backed store for tickets.
type TicketRepository struct {
	pool *pgxpool.Pool
}

func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

const ticketColumns = `id, organization_id, code, subject, status, priority, requester_email,
	assignee_user_id, assignee_queue_id, stitch_reason, stitch_confidence,
	x_oss_ticket_id_marker, reply_to_token,
	last_activity_at, closed_at, created_at, updated_at`

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(&t.ID, &t.OrganizationID, &t.Code, &t.Subject, &t.Status, &t.Priority, &t.RequesterEmail,
		&t.AssigneeUserID, &t.AssigneeQueueID, &t.StitchReason, &t.StitchConfidence,
		&t.XOSSTicketIDMarker, &t.ReplyToToken,
		&t.LastActivityAt, &t.ClosedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// Get fetches a ticket by ID.
func (r *TicketRepository) Get(ctx context.Context, organizationID, ticketID string) (*Ticket, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE organization_id = $1 AND id = $2`,
		organizationID, ticketID)
	t, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("store: get ticket %s: %w", ticketID, err)
	}
	return t, nil
}

// GetByReplyToToken resolves the priority-2 Reply-To-token stitch rule:
// the opaque token in a reply's `ticket+<opaque>@…` Reply-To address.
func (r *TicketRepository) GetByReplyToToken(ctx context.Context, organizationID, token string) (*Ticket, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE organization_id = $1 AND reply_to_token = $2`,
		organizationID, token)
	t, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("store: get ticket by reply-to token %s: %w", token, err)
	}
	return t, nil
}

// Create inserts a new ticket with status=new, priority=normal per the
// ticket-creation default, and stitch_reason=new_ticket. It also mints
// the x_oss_ticket_id_marker and reply_to_token a future outbound reply
// on this ticket would carry, so the marker and reply-to-token stitch
// rules have something to match against.
func (r *TicketRepository) Create(ctx context.Context, organizationID, code, subject, requesterEmail string) (*Ticket, error) {
	id := uuid.NewString()
	marker := uuid.NewString()
	replyToken := uuid.NewString()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO tickets (id, organization_id, code, subject, status, priority, requester_email,
			stitch_reason, stitch_confidence, x_oss_ticket_id_marker, reply_to_token,
			last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'new', 'normal', $5, 'new_ticket', 'high', $6, $7, now(), now(), now())
		RETURNING `+ticketColumns, id, organizationID, code, subject, requesterEmail, marker, replyToken)
	t, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("store: create ticket: %w", err)
	}
	return t, nil
}

// FindOpenBySubjectAndRequester resolves the priority-4 subject_match
// fallback: an open ticket with the same normalized subject and requester
// within the given window.
func (r *TicketRepository) FindOpenBySubjectAndRequester(ctx context.Context, organizationID, normalizedSubject, requesterEmail string, window time.Duration) (*Ticket, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE organization_id = $1 AND requester_email = $2
		  AND status NOT IN ('resolved', 'closed', 'spam')
		  AND last_activity_at >= now() - $3::interval
		  AND lower(btrim(regexp_replace(btrim(subject), '^((re|fwd?):\s*)+', '', 'i'))) = $4
		ORDER BY last_activity_at DESC
		LIMIT 1
	`, organizationID, requesterEmail, window.String(), normalizedSubject)
	t, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("store: find ticket by subject match: %w", err)
	}
	return t, nil
}

// RecordStitch stamps the stitch reason/confidence that attached a
// canonical message to this ticket and bumps last_activity_at.
func (r *TicketRepository) RecordStitch(ctx context.Context, organizationID, ticketID string, reason StitchReason, confidence Confidence) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET stitch_reason = $3, stitch_confidence = $4, last_activity_at = now(), updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, ticketID, reason, confidence)
	if err != nil {
		return fmt.Errorf("store: record stitch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchActivity bumps last_activity_at without changing stitch metadata.
// The occurrence pipeline does not call it: a stitched occurrence of
// either direction goes through RecordStitch, which also bumps
// last_activity_at.
func (r *TicketRepository) TouchActivity(ctx context.Context, organizationID, ticketID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET last_activity_at = now(), updated_at = now() WHERE organization_id = $1 AND id = $2
	`, organizationID, ticketID)
	if err != nil {
		return fmt.Errorf("store: touch activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus transitions a ticket's status.
func (r *TicketRepository) SetStatus(ctx context.Context, organizationID, ticketID string, status TicketStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET status = $3, updated_at = now() WHERE organization_id = $1 AND id = $2
	`, organizationID, ticketID, status)
	if err != nil {
		return fmt.Errorf("store: set ticket status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close sets status=closed and closed_at=now, the auto_close routing
// action.
func (r *TicketRepository) Close(ctx context.Context, organizationID, ticketID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET status = 'closed', closed_at = now(), updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, ticketID)
	if err != nil {
		return fmt.Errorf("store: close ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignQueue sets assignee_queue_id and clears assignee_user_id, the two
// fields being mutually exclusive per the Data Model invariant.
func (r *TicketRepository) AssignQueue(ctx context.Context, organizationID, ticketID, queueID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET assignee_queue_id = $3, assignee_user_id = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, ticketID, queueID)
	if err != nil {
		return fmt.Errorf("store: assign queue: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AssignUser sets assignee_user_id and clears assignee_queue_id.
func (r *TicketRepository) AssignUser(ctx context.Context, organizationID, ticketID, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tickets SET assignee_user_id = $3, assignee_queue_id = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, ticketID, userID)
	if err != nil {
		return fmt.Errorf("store: assign user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Drop hard-deletes a ticket as part of a routing `drop` action.
func (r *TicketRepository) Drop(ctx context.Context, organizationID, ticketID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM tickets WHERE organization_id = $1 AND id = $2`, organizationID, ticketID)
	if err != nil {
		return fmt.Errorf("store: drop ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
