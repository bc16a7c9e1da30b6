package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CollisionRepository tracks ambiguity between canonical candidates that
// share fingerprint inputs but differ in deeper content.
type CollisionRepository struct {
	pool *pgxpool.Pool
}

func NewCollisionRepository(pool *pgxpool.Pool) *CollisionRepository {
	return &CollisionRepository{pool: pool}
}

// Create starts a new collision group.
func (r *CollisionRepository) Create(ctx context.Context, organizationID, reason string) (string, error) {
	id := uuid.NewString()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO collision_groups (id, organization_id, reason, created_at) VALUES ($1, $2, $3, now())
	`, id, organizationID, reason)
	if err != nil {
		return "", fmt.Errorf("store: create collision group: %w", err)
	}
	return id, nil
}

// GetGroup fetches a collision group by ID.
func (r *CollisionRepository) GetGroup(ctx context.Context, organizationID, groupID string) (*CollisionGroup, error) {
	var g CollisionGroup
	err := r.pool.QueryRow(ctx, `
		SELECT id, organization_id, reason, created_at FROM collision_groups WHERE organization_id = $1 AND id = $2
	`, organizationID, groupID).Scan(&g.ID, &g.OrganizationID, &g.Reason, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get collision group %s: %w", groupID, err)
	}
	return &g, nil
}

// ListGroups returns every collision group recorded for an organization,
// feeding the admin group-listing operation.
func (r *CollisionRepository) ListGroups(ctx context.Context, organizationID string) ([]CollisionGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, reason, created_at FROM collision_groups
		WHERE organization_id = $1 ORDER BY created_at
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("store: list collision groups: %w", err)
	}
	defer rows.Close()

	var out []CollisionGroup
	for rows.Next() {
		var g CollisionGroup
		if err := rows.Scan(&g.ID, &g.OrganizationID, &g.Reason, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan collision group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MessageCount reports how many canonical messages currently reference a
// collision group, used by the admin group-listing endpoint.
func (r *CollisionRepository) MessageCount(ctx context.Context, organizationID, groupID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM canonical_messages WHERE organization_id = $1 AND collision_group_id = $2
	`, organizationID, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count collision group messages: %w", err)
	}
	return n, nil
}

// ListUngroupedCandidates returns up to limit canonical messages lacking a
// collision_group_id, oldest first, feeding the admin "collision
// backfill" operation; grouping them by fingerprint is left to the caller.
func (r *CollisionRepository) ListUngroupedCandidates(ctx context.Context, organizationID string, limit int) ([]CanonicalMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+canonicalColumns+` FROM canonical_messages
		WHERE organization_id = $1 AND collision_group_id IS NULL
		ORDER BY created_at
		LIMIT $2
	`, organizationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list ungrouped candidates: %w", err)
	}
	defer rows.Close()

	var out []CanonicalMessage
	for rows.Next() {
		c, err := scanCanonical(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
