package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the organization-scoped Postgres store for mailboxes,
// generalizing the teacher's Repository interface
// (internal/mailbox/repository.go) off DynamoDB partition keys onto SQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an existing pgxpool.Pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const mailboxColumns = `id, organization_id, purpose, provider, external_email, encrypted_credential,
	history_cursor, last_full_sync_at, last_incremental_sync_at, last_sync_error,
	consecutive_sync_failures, paused_until, pause_reason, created_at, updated_at`

func scanMailbox(row pgx.Row) (*Mailbox, error) {
	var m Mailbox
	err := row.Scan(&m.ID, &m.OrganizationID, &m.Purpose, &m.Provider, &m.ExternalEmail, &m.EncryptedCredential,
		&m.HistoryCursor, &m.LastFullSyncAt, &m.LastIncrementalSyncAt, &m.LastSyncError,
		&m.ConsecutiveSyncFailures, &m.PausedUntil, &m.PauseReason, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// Get fetches a mailbox by ID, scoped to organizationID.
func (r *Repository) Get(ctx context.Context, organizationID, mailboxID string) (*Mailbox, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+mailboxColumns+` FROM mailboxes WHERE organization_id = $1 AND id = $2`,
		organizationID, mailboxID)
	m, err := scanMailbox(row)
	if err != nil {
		return nil, fmt.Errorf("mailbox: get %s: %w", mailboxID, err)
	}
	return m, nil
}

// ListAll returns every mailbox for an organization.
func (r *Repository) ListAll(ctx context.Context, organizationID string) ([]*Mailbox, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+mailboxColumns+` FROM mailboxes WHERE organization_id = $1 ORDER BY created_at`,
		organizationID)
	if err != nil {
		return nil, fmt.Errorf("mailbox: list all: %w", err)
	}
	defer rows.Close()

	var out []*Mailbox
	for rows.Next() {
		m, err := scanMailbox(rows)
		if err != nil {
			return nil, fmt.Errorf("mailbox: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create inserts a mailbox. A unique index on (organization_id, purpose)
// enforces the "exactly one journal mailbox per organization" invariant;
// a violation surfaces as ErrRoleAlreadyExists.
func (r *Repository) Create(ctx context.Context, m *Mailbox) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mailboxes (id, organization_id, purpose, provider, external_email, encrypted_credential,
			history_cursor, consecutive_sync_failures, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, now(), now())
	`, m.ID, m.OrganizationID, m.Purpose, m.Provider, m.ExternalEmail, m.EncryptedCredential, m.HistoryCursor)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrRoleAlreadyExists
		}
		return fmt.Errorf("mailbox: create: %w", err)
	}
	return nil
}

// RecordBackfillSuccess stores the cursor produced by a completed
// backfill, resets the failure counter, and clears any pause.
func (r *Repository) RecordBackfillSuccess(ctx context.Context, mailboxID, cursor string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailboxes
		SET history_cursor = $2, last_full_sync_at = $3, last_sync_error = '',
		    consecutive_sync_failures = 0, paused_until = NULL, pause_reason = '', updated_at = now()
		WHERE id = $1
	`, mailboxID, cursor, at)
	if err != nil {
		return fmt.Errorf("mailbox: record backfill success: %w", err)
	}
	return nil
}

// RecordIncrementalSuccess stores the cursor produced by a completed
// history-delta sync and resets the failure counter.
func (r *Repository) RecordIncrementalSuccess(ctx context.Context, mailboxID, cursor string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailboxes
		SET history_cursor = $2, last_incremental_sync_at = $3, last_sync_error = '',
		    consecutive_sync_failures = 0, updated_at = now()
		WHERE id = $1
	`, mailboxID, cursor, at)
	if err != nil {
		return fmt.Errorf("mailbox: record incremental success: %w", err)
	}
	return nil
}

// RecordSyncFailure increments the consecutive-failure counter and stores
// the error, tripping the circuit breaker once threshold is reached.
func (r *Repository) RecordSyncFailure(ctx context.Context, mailboxID, errMsg string, threshold int, pauseWindow time.Duration, now time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailboxes
		SET consecutive_sync_failures = consecutive_sync_failures + 1,
		    last_sync_error = $2,
		    paused_until = CASE WHEN consecutive_sync_failures + 1 >= $3 THEN $4 ELSE paused_until END,
		    pause_reason = CASE WHEN consecutive_sync_failures + 1 >= $3 THEN 'auto: repeated sync failures' ELSE pause_reason END,
		    updated_at = now()
		WHERE id = $1
	`, mailboxID, errMsg, threshold, now.Add(pauseWindow))
	if err != nil {
		return fmt.Errorf("mailbox: record sync failure: %w", err)
	}
	return nil
}

// RecordCursorRecovery stores the invalid-cursor error without touching
// the consecutive-failure counter or pause window: per the design note, a
// single cursor invalidation triggers a recovery backfill, not a breaker
// trip.
func (r *Repository) RecordCursorRecovery(ctx context.Context, mailboxID, errMsg string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE mailboxes SET last_sync_error = $2, updated_at = now() WHERE id = $1
	`, mailboxID, errMsg)
	if err != nil {
		return fmt.Errorf("mailbox: record cursor recovery: %w", err)
	}
	return nil
}

// Pause sets a manual pause window, as the admin "pause(minutes)" operation.
// Distinct from the circuit breaker's own auto-pause in RecordSyncFailure:
// this one is operator-initiated and always carries an explicit reason.
func (r *Repository) Pause(ctx context.Context, mailboxID string, until time.Time, reason string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mailboxes SET paused_until = $2, pause_reason = $3, updated_at = now()
		WHERE id = $1
	`, mailboxID, until, reason)
	if err != nil {
		return fmt.Errorf("mailbox: pause: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Resume clears a circuit-breaker pause, as the "manual resume" operation.
func (r *Repository) Resume(ctx context.Context, mailboxID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE mailboxes SET paused_until = NULL, pause_reason = '', updated_at = now()
		WHERE id = $1
	`, mailboxID)
	if err != nil {
		return fmt.Errorf("mailbox: resume: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
