package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RoutingRepository stores the allowlist and ordered routing rules that
// the routing package evaluates against.
type RoutingRepository struct {
	pool *pgxpool.Pool
}

func NewRoutingRepository(pool *pgxpool.Pool) *RoutingRepository {
	return &RoutingRepository{pool: pool}
}

// ListEnabledAllowlist returns the enabled allowlist glob patterns for an
// organization.
func (r *RoutingRepository) ListEnabledAllowlist(ctx context.Context, organizationID string) ([]AllowlistEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, pattern, enabled FROM routing_allowlist_entries
		WHERE organization_id = $1 AND enabled = true
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("store: list allowlist: %w", err)
	}
	defer rows.Close()

	var out []AllowlistEntry
	for rows.Next() {
		var e AllowlistEntry
		if err := rows.Scan(&e.ID, &e.OrganizationID, &e.Pattern, &e.Enabled); err != nil {
			return nil, fmt.Errorf("store: scan allowlist entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListEnabledRulesByPriority returns routing rules in ascending priority
// order, as required by the deterministic-first-match evaluator.
func (r *RoutingRepository) ListEnabledRulesByPriority(ctx context.Context, organizationID string) ([]RoutingRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, organization_id, priority, enabled, recipient_pattern, sender_domain_pattern,
		       sender_email_pattern, direction, COALESCE(assign_queue_id, ''), COALESCE(assign_user_id, ''),
		       COALESCE(set_status, ''), drop_ticket, auto_close
		FROM routing_rules
		WHERE organization_id = $1 AND enabled = true
		ORDER BY priority ASC
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("store: list routing rules: %w", err)
	}
	defer rows.Close()

	var out []RoutingRule
	for rows.Next() {
		var rule RoutingRule
		if err := rows.Scan(&rule.ID, &rule.OrganizationID, &rule.Priority, &rule.Enabled,
			&rule.RecipientPattern, &rule.SenderDomainPattern, &rule.SenderEmailPattern, &rule.Direction,
			&rule.AssignQueueID, &rule.AssignUserID, &rule.SetStatus, &rule.Drop, &rule.AutoClose); err != nil {
			return nil, fmt.Errorf("store: scan routing rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}
