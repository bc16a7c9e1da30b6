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

// ErrNotFound is returned by any lookup that finds no row in scope.
var ErrNotFound = errors.New("store: not found")

// OccurrenceRepository is the Postgres-backed store for message
// occurrences, scoped to (mailbox_id, provider_message_id) uniqueness per
// the Data Model invariant.
type OccurrenceRepository struct {
	pool *pgxpool.Pool
}

func NewOccurrenceRepository(pool *pgxpool.Pool) *OccurrenceRepository {
	return &OccurrenceRepository{pool: pool}
}

const occurrenceColumns = `id, organization_id, mailbox_id, provider_message_id, provider_thread_id,
	state, blob_content_hash, canonical_message_id, original_recipient, recipient_source,
	recipient_confidence, direction, parse_error, stitch_error, route_error, created_at, updated_at`

func scanOccurrence(row pgx.Row) (*Occurrence, error) {
	var o Occurrence
	err := row.Scan(&o.ID, &o.OrganizationID, &o.MailboxID, &o.ProviderMessageID, &o.ProviderThreadID,
		&o.State, &o.BlobContentHash, &o.CanonicalMessageID, &o.OriginalRecipient, &o.RecipientSource,
		&o.RecipientConf, &o.Direction, &o.ParseError, &o.StitchError, &o.RouteError, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

// UpsertDiscovered inserts an occurrence in state=discovered for a newly
// seen provider_message_id, or returns the existing row untouched if one
// already exists for (mailbox_id, provider_message_id) — this is what
// makes running mailbox_backfill twice produce zero new occurrences the
// second time.
func (r *OccurrenceRepository) UpsertDiscovered(ctx context.Context, organizationID, mailboxID, providerMessageID, providerThreadID, direction string) (*Occurrence, bool, error) {
	id := uuid.NewString()
	row := r.pool.QueryRow(ctx, `
		INSERT INTO message_occurrences (id, organization_id, mailbox_id, provider_message_id, provider_thread_id,
			state, direction, recipient_source, recipient_confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'discovered', $6, 'unknown', 'low', now(), now())
		ON CONFLICT (mailbox_id, provider_message_id) DO UPDATE SET mailbox_id = EXCLUDED.mailbox_id
		RETURNING `+occurrenceColumns+`, (xmax = 0) AS inserted
	`, id, organizationID, mailboxID, providerMessageID, providerThreadID, direction)

	var o Occurrence
	var inserted bool
	err := row.Scan(&o.ID, &o.OrganizationID, &o.MailboxID, &o.ProviderMessageID, &o.ProviderThreadID,
		&o.State, &o.BlobContentHash, &o.CanonicalMessageID, &o.OriginalRecipient, &o.RecipientSource,
		&o.RecipientConf, &o.Direction, &o.ParseError, &o.StitchError, &o.RouteError, &o.CreatedAt, &o.UpdatedAt,
		&inserted)
	if err != nil {
		return nil, false, fmt.Errorf("store: upsert discovered occurrence: %w", err)
	}
	return &o, inserted, nil
}

// Get fetches an occurrence by ID, scoped to organizationID.
func (r *OccurrenceRepository) Get(ctx context.Context, organizationID, occurrenceID string) (*Occurrence, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+occurrenceColumns+` FROM message_occurrences WHERE organization_id = $1 AND id = $2`,
		organizationID, occurrenceID)
	o, err := scanOccurrence(row)
	if err != nil {
		return nil, fmt.Errorf("store: get occurrence %s: %w", occurrenceID, err)
	}
	return o, nil
}

// RecordFetched stores the raw blob pointer and advances state to fetched.
func (r *OccurrenceRepository) RecordFetched(ctx context.Context, organizationID, occurrenceID, contentHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE message_occurrences
		SET blob_content_hash = $3, state = 'fetched', updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, occurrenceID, contentHash)
	if err != nil {
		return fmt.Errorf("store: record fetched %s: %w", occurrenceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordParsed links the occurrence to its canonical message, records
// recipient evidence, and advances state to parsed.
func (r *OccurrenceRepository) RecordParsed(ctx context.Context, organizationID, occurrenceID, canonicalMessageID string,
	recipient string, source RecipientSource, confidence Confidence) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE message_occurrences
		SET canonical_message_id = $3, original_recipient = $4, recipient_source = $5,
		    recipient_confidence = $6, state = 'parsed', parse_error = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, occurrenceID, canonicalMessageID, recipient, source, confidence)
	if err != nil {
		return fmt.Errorf("store: record parsed %s: %w", occurrenceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordStitched advances state to stitched.
func (r *OccurrenceRepository) RecordStitched(ctx context.Context, organizationID, occurrenceID string) error {
	return r.advanceState(ctx, organizationID, occurrenceID, OccurrenceStitched, "stitch_error", nil)
}

// RecordRouted advances state to routed and clears route_error.
func (r *OccurrenceRepository) RecordRouted(ctx context.Context, organizationID, occurrenceID string) error {
	return r.advanceState(ctx, organizationID, occurrenceID, OccurrenceRouted, "route_error", nil)
}

// Fail marks an occurrence failed and records the stage-specific error
// column, per the "each stage isolates its own failures on its own
// column" error-handling rule.
func (r *OccurrenceRepository) Fail(ctx context.Context, organizationID, occurrenceID, stageColumn, errMsg string) error {
	if stageColumn != "parse_error" && stageColumn != "stitch_error" && stageColumn != "route_error" {
		return fmt.Errorf("store: unknown stage error column %q", stageColumn)
	}
	query := fmt.Sprintf(`
		UPDATE message_occurrences
		SET state = 'failed', %s = $3, updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, stageColumn)
	tag, err := r.pool.Exec(ctx, query, organizationID, occurrenceID, errMsg)
	if err != nil {
		return fmt.Errorf("store: fail occurrence %s: %w", occurrenceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OccurrenceRepository) advanceState(ctx context.Context, organizationID, occurrenceID string, state OccurrenceState, clearErrCol string, _ *time.Time) error {
	query := fmt.Sprintf(`
		UPDATE message_occurrences
		SET state = $3, %s = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, clearErrCol)
	tag, err := r.pool.Exec(ctx, query, organizationID, occurrenceID, state)
	if err != nil {
		return fmt.Errorf("store: advance occurrence %s to %s: %w", occurrenceID, state, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Drop hard-deletes an occurrence's stitched link as part of a routing
// `drop` action: the occurrence itself is kept (audit trail) but its
// canonical/ticket association is cleared and state set to routed.
func (r *OccurrenceRepository) Drop(ctx context.Context, organizationID, occurrenceID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE message_occurrences
		SET state = 'routed', canonical_message_id = NULL, route_error = NULL, updated_at = now()
		WHERE organization_id = $1 AND id = $2
	`, organizationID, occurrenceID)
	if err != nil {
		return fmt.Errorf("store: drop occurrence %s: %w", occurrenceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
