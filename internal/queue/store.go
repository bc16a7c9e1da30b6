package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lease/complete/fail call targets a job
// row that no longer exists.
var ErrNotFound = errors.New("queue: job not found")

// DefaultMaxAttempts is used when Enqueue isn't given an explicit override;
// parse-stage jobs pass 1 to make malformed MIME terminal on first failure.
const DefaultMaxAttempts = 5

// VisibilityTimeout is how long a lease is held before the reaper
// considers it abandoned and makes the job eligible again.
const VisibilityTimeout = 5 * time.Minute

// pool is the narrow slice of pgxpool.Pool the store needs, kept as an
// interface (the teacher's HTTPDoer/BlobStreamer convention) so tests can
// substitute an in-memory fake instead of a live Postgres instance.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the Postgres-backed job queue.
type Store struct {
	pool pool
}

// NewStore wraps an existing pgxpool.Pool.
func NewStore(p *pgxpool.Pool) *Store {
	return &Store{pool: p}
}

// EnqueueOption customizes a single Enqueue call.
type EnqueueOption func(*enqueueOpts)

type enqueueOpts struct {
	runAt       time.Time
	maxAttempts int
}

// WithRunAt schedules the job for a future time rather than immediately.
func WithRunAt(t time.Time) EnqueueOption { return func(o *enqueueOpts) { o.runAt = t } }

// WithMaxAttempts overrides DefaultMaxAttempts, e.g. 1 for parse-stage
// jobs where malformed MIME should not be retried.
func WithMaxAttempts(n int) EnqueueOption { return func(o *enqueueOpts) { o.maxAttempts = n } }

// Enqueue inserts a job. If idempotencyKey is non-empty and a non-terminal
// job with the same (organization_id, type, idempotency_key) already
// exists, its id is returned without inserting a duplicate.
func (s *Store) Enqueue(ctx context.Context, organizationID, jobType string, payload any, idempotencyKey string, opts ...EnqueueOption) (string, error) {
	o := enqueueOpts{runAt: time.Now(), maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: marshal payload: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("queue: begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if idempotencyKey != "" {
		var existing string
		err := tx.QueryRow(ctx, `
			SELECT id FROM jobs
			WHERE organization_id = $1 AND type = $2 AND idempotency_key = $3
			  AND status IN ('queued', 'running')
			LIMIT 1
		`, organizationID, jobType, idempotencyKey).Scan(&existing)
		if err == nil {
			return existing, tx.Commit(ctx)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("queue: check idempotency key: %w", err)
		}
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, organization_id, type, payload, status, attempts, max_attempts, idempotency_key, run_at)
		VALUES ($1, $2, $3, $4, 'queued', 0, $5, $6, $7)
	`, id, organizationID, jobType, body, o.maxAttempts, nullIfEmpty(idempotencyKey), o.runAt)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", jobType, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("queue: commit enqueue tx: %w", err)
	}
	return id, nil
}

// Lease claims up to n queued-or-eligible jobs of jobType using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent workers never block on
// or double-claim the same row.
func (s *Store) Lease(ctx context.Context, jobType string, n int, workerID string) ([]Handle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: begin lease tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, organization_id, payload, attempts
		FROM jobs
		WHERE type = $1 AND status = 'queued' AND run_at <= now()
		ORDER BY run_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, jobType, n)
	if err != nil {
		return nil, fmt.Errorf("queue: select for lease: %w", err)
	}

	handles := make([]Handle, 0, n)
	for rows.Next() {
		var h Handle
		if err := rows.Scan(&h.JobID, &h.OrganizationID, &h.Payload, &h.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("queue: scan lease row: %w", err)
		}
		h.Type = jobType
		h.LockOwner = workerID
		handles = append(handles, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("queue: iterate lease rows: %w", err)
	}
	if len(handles) == 0 {
		return nil, tx.Commit(ctx)
	}

	lockExpires := time.Now().Add(VisibilityTimeout)
	for _, h := range handles {
		_, err := tx.Exec(ctx, `
			UPDATE jobs
			SET status = 'running', lock_owner = $1, lock_expires_at = $2, updated_at = now()
			WHERE id = $3
		`, workerID, lockExpires, h.JobID)
		if err != nil {
			return nil, fmt.Errorf("queue: mark running %s: %w", h.JobID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("queue: commit lease tx: %w", err)
	}
	return handles, nil
}

// Complete marks a leased job done.
func (s *Store) Complete(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = 'done', updated_at = now(), lock_expires_at = NULL, lock_owner = NULL
		WHERE id = $1
	`, jobID)
	if err != nil {
		return fmt.Errorf("queue: complete %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail increments the attempt counter. If attempts remain under
// max_attempts the job is rescheduled with exponential-backoff-with-full-
// jitter; otherwise it is moved to the dead-letter queue.
func (s *Store) Fail(ctx context.Context, jobID string, cause error) error {
	errMsg := cause.Error()

	var attempts, maxAttempts int
	err := s.pool.QueryRow(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = $1`, jobID).Scan(&attempts, &maxAttempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("queue: read attempts for %s: %w", jobID, err)
	}
	attempts++

	if attempts >= maxAttempts {
		tag, err := s.pool.Exec(ctx, `
			UPDATE jobs
			SET status = 'dead', attempts = $2, last_error = $3, updated_at = now(),
			    lock_expires_at = NULL, lock_owner = NULL
			WHERE id = $1
		`, jobID, attempts, errMsg)
		if err != nil {
			return fmt.Errorf("queue: deadletter %s: %w", jobID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	}

	delay := nextRetryDelay(attempts)
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued', attempts = $2, last_error = $3, run_at = now() + $4::interval,
		    updated_at = now(), lock_expires_at = NULL, lock_owner = NULL
		WHERE id = $1
	`, jobID, attempts, errMsg, delay.String())
	if err != nil {
		return fmt.Errorf("queue: reschedule %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDead returns dead-lettered jobs for operator inspection, newest first.
func (s *Store) ListDead(ctx context.Context, organizationID string, limit int) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, type, payload, status, attempts, max_attempts,
		       COALESCE(idempotency_key, ''), run_at, lock_expires_at, lock_owner, last_error, created_at, updated_at
		FROM jobs
		WHERE organization_id = $1 AND status = 'dead'
		ORDER BY updated_at DESC
		LIMIT $2
	`, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("queue: list dead: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.OrganizationID, &j.Type, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts,
			&j.IdempotencyKey, &j.RunAt, &j.LockExpiresAt, &j.LockOwner, &j.LastError,
			&j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("queue: scan dead job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Replay resets a dead job back to queued with a fresh attempt counter, so
// an operator can retry after fixing whatever caused the exhaustion.
func (s *Store) Replay(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = 'queued', attempts = 0, run_at = now(), last_error = NULL, updated_at = now()
		WHERE id = $1 AND status = 'dead'
	`, jobID)
	if err != nil {
		return fmt.Errorf("queue: replay %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TypeCounts is the queued/running job count for one job type, as surfaced
// by the admin sync-summary operation.
type TypeCounts struct {
	Queued  int
	Running int
}

// CountsByType returns queued/running counts per job type for an
// organization, for the admin mailbox sync summary.
func (s *Store) CountsByType(ctx context.Context, organizationID string) (map[string]TypeCounts, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT type, status, count(*)
		FROM jobs
		WHERE organization_id = $1 AND status IN ('queued', 'running')
		GROUP BY type, status
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("queue: counts by type: %w", err)
	}
	defer rows.Close()

	out := make(map[string]TypeCounts)
	for rows.Next() {
		var jobType, status string
		var n int
		if err := rows.Scan(&jobType, &status, &n); err != nil {
			return nil, fmt.Errorf("queue: scan counts by type: %w", err)
		}
		c := out[jobType]
		switch Status(status) {
		case StatusQueued:
			c.Queued = n
		case StatusRunning:
			c.Running = n
		}
		out[jobType] = c
	}
	return out, rows.Err()
}

// reapExpired is exercised by Reaper; exposed here so tests can drive a
// single sweep without spinning up a ticker. Matches the design note's
// "relock as if it had failed (error=lease expired)" by routing expired
// leases through the same Fail path.
func (s *Store) reapExpired(ctx context.Context) (int64, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM jobs WHERE status = 'running' AND lock_expires_at < now()
	`)
	if err != nil {
		return 0, fmt.Errorf("queue: select expired leases: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("queue: scan expired lease: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := s.Fail(ctx, id, errLeaseExpired); err != nil && !errors.Is(err, ErrNotFound) {
			return 0, fmt.Errorf("queue: reap %s: %w", id, err)
		}
	}
	return int64(len(ids)), nil
}

var errLeaseExpired = errors.New("lease expired")

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
