package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Organization is the tenancy root; every other entity carries a
// reference to one.
type Organization struct {
	ID   string
	Name string
}

// OrganizationRepository is the tenancy root store.
type OrganizationRepository struct {
	pool *pgxpool.Pool
}

func NewOrganizationRepository(pool *pgxpool.Pool) *OrganizationRepository {
	return &OrganizationRepository{pool: pool}
}

// Get fetches an organization by ID.
func (r *OrganizationRepository) Get(ctx context.Context, id string) (*Organization, error) {
	var o Organization
	err := r.pool.QueryRow(ctx, `SELECT id, name FROM organizations WHERE id = $1`, id).Scan(&o.ID, &o.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get organization %s: %w", id, err)
	}
	return &o, nil
}

// Exists reports whether an organization ID is registered, used to reject
// cross-organization operations at the boundary before they ever reach a
// scoped query.
func (r *OrganizationRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM organizations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("store: check organization exists: %w", err)
	}
	return exists, nil
}
