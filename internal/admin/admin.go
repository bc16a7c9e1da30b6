// Package admin implements the Admin control surface: enqueue/pause/resume
// per mailbox, dead-letter listing and replay, sync summaries, routing
// simulation, and collision backfill. These are exported methods on
// Surface in this package, not an HTTP API — the teacher's external Lambda
// handlers and API Gateway routing are the external API layer's job and
// are out of scope here, the same way the teacher's cmd/*/main.go
// handlers stay thin wrappers around package-level logic.
package admin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oss-support/journal-pipeline/internal/mailbox"
	"github.com/oss-support/journal-pipeline/internal/queue"
	"github.com/oss-support/journal-pipeline/internal/routing"
	"github.com/oss-support/journal-pipeline/internal/store"
)

func domainOf(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return ""
	}
	return strings.ToLower(addr[i+1:])
}

// Surface bundles the repositories/evaluators the admin operations need.
// Constructing one is the caller's (external API layer's) job; this
// package only holds what it's given.
type Surface struct {
	Jobs       *queue.Store
	Mailboxes  *mailbox.Repository
	Collisions *store.CollisionRepository
	Canonical  *store.CanonicalRepository
	RoutingEv  *routing.Evaluator
	Routing    *store.RoutingRepository
}

// NewSurface wires a Surface from already-constructed dependencies.
func NewSurface(jobs *queue.Store, mailboxes *mailbox.Repository, collisions *store.CollisionRepository,
	canonical *store.CanonicalRepository, routingEv *routing.Evaluator, routingRepo *store.RoutingRepository) *Surface {
	return &Surface{Jobs: jobs, Mailboxes: mailboxes, Collisions: collisions, Canonical: canonical, RoutingEv: routingEv, Routing: routingRepo}
}

// EnqueueBackfill enqueues a mailbox_backfill job for mailboxID.
func (s *Surface) EnqueueBackfill(ctx context.Context, organizationID, mailboxID string) (string, error) {
	return s.Jobs.Enqueue(ctx, organizationID, queue.TypeMailboxBackfill,
		mailbox.BackfillPayload{MailboxID: mailboxID}, "")
}

// EnqueueHistory enqueues a mailbox_history_sync job for mailboxID.
func (s *Surface) EnqueueHistory(ctx context.Context, organizationID, mailboxID string) (string, error) {
	return s.Jobs.Enqueue(ctx, organizationID, queue.TypeMailboxHistory,
		mailbox.HistorySyncPayload{MailboxID: mailboxID}, "")
}

// Pause manually pauses a mailbox's sync for the given duration, recording
// reason for SyncSummary to surface later.
func (s *Surface) Pause(ctx context.Context, organizationID, mailboxID string, minutes int, reason string) error {
	m, err := s.Mailboxes.Get(ctx, organizationID, mailboxID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "manual: admin pause"
	}
	return s.Mailboxes.Pause(ctx, m.ID, time.Now().Add(time.Duration(minutes)*time.Minute), reason)
}

// Resume clears a mailbox's pause, whether operator- or breaker-initiated,
// and enqueues one mailbox_history_sync to restart its cadence immediately
// rather than waiting for whatever run_at a stale job might still carry.
func (s *Surface) Resume(ctx context.Context, organizationID, mailboxID string) error {
	m, err := s.Mailboxes.Get(ctx, organizationID, mailboxID)
	if err != nil {
		return err
	}
	if err := s.Mailboxes.Resume(ctx, m.ID); err != nil {
		return err
	}
	_, err = s.Jobs.Enqueue(ctx, organizationID, queue.TypeMailboxHistory, mailbox.HistorySyncPayload{MailboxID: m.ID}, "")
	return err
}

// ListDeadJobs returns dead-lettered jobs for operator inspection.
func (s *Surface) ListDeadJobs(ctx context.Context, organizationID string, limit int) ([]queue.Job, error) {
	return s.Jobs.ListDead(ctx, organizationID, limit)
}

// Replay resets a dead job back to queued, per spec.md's replay(job_id).
func (s *Surface) Replay(ctx context.Context, jobID string) error {
	return s.Jobs.Replay(ctx, jobID)
}

// MailboxSummary is one mailbox's sync status for the admin summary view.
type MailboxSummary struct {
	MailboxID     string
	Purpose       string
	LagSeconds    float64
	HasLag        bool
	Paused        bool
	PausedUntil   *time.Time
	PauseReason   string
	LastSyncError string
	QueuedByType  map[string]int
	RunningByType map[string]int
}

// SyncSummary reports per-mailbox lag, pause state, and last errors, plus
// organization-wide queued/running job counts by type.
func (s *Surface) SyncSummary(ctx context.Context, organizationID string) ([]MailboxSummary, error) {
	mailboxes, err := s.Mailboxes.ListAll(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("admin: sync summary: list mailboxes: %w", err)
	}
	counts, err := s.Jobs.CountsByType(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("admin: sync summary: job counts: %w", err)
	}

	queuedByType := make(map[string]int, len(counts))
	runningByType := make(map[string]int, len(counts))
	for jobType, c := range counts {
		queuedByType[jobType] = c.Queued
		runningByType[jobType] = c.Running
	}

	now := time.Now()
	out := make([]MailboxSummary, 0, len(mailboxes))
	for _, m := range mailboxes {
		lag, hasLag := m.SyncLag(now)
		out = append(out, MailboxSummary{
			MailboxID:     m.ID,
			Purpose:       m.Purpose,
			LagSeconds:    lag.Seconds(),
			HasLag:        hasLag,
			Paused:        m.IsPaused(now),
			PausedUntil:   m.PausedUntil,
			PauseReason:   m.PauseReason,
			LastSyncError: m.LastSyncError,
			QueuedByType:  queuedByType,
			RunningByType: runningByType,
		})
	}
	return out, nil
}

// SimulationResult is the admin routing-simulate response shape.
type SimulationResult struct {
	Allowlisted     bool
	WouldMarkSpam   bool
	MatchedRule     *store.RoutingRule
	AppliedActions  routing.Action
	Explanation     string
}

// SimulateRouting runs the routing evaluator against hypothetical evidence
// without touching any occurrence or ticket, per spec.md's routing
// simulate operation. recipient is assumed resolved with the organization's
// strongest recipient-evidence source, since simulate tests rule/allowlist
// logic, not evidence-resolution confidence.
func (s *Surface) SimulateRouting(ctx context.Context, organizationID, recipient, senderEmail, direction string) (SimulationResult, error) {
	outcome, err := s.RoutingEv.Evaluate(ctx, organizationID, routing.Evidence{
		RecipientSource: store.SourceWorkspaceHeader,
		Recipient:       recipient,
		SenderEmail:     senderEmail,
		SenderDomain:    domainOf(senderEmail),
		Direction:       direction,
	})
	if err != nil {
		return SimulationResult{}, fmt.Errorf("admin: simulate routing: %w", err)
	}

	result := SimulationResult{
		Allowlisted:    !outcome.Spam,
		WouldMarkSpam:  outcome.Spam,
		MatchedRule:    outcome.MatchedRule,
		AppliedActions: outcome.Action,
	}
	switch {
	case outcome.Spam:
		result.Explanation = "recipient not on allowlist (or evidence source unknown): would be marked spam"
	case outcome.MatchedRule != nil:
		result.Explanation = fmt.Sprintf("matched routing rule %s", outcome.MatchedRule.ID)
	default:
		result.Explanation = "allowlisted, no routing rule matched"
	}
	return result, nil
}

// BackfillCollisions rescans canonical messages lacking a collision group
// and assigns one to every group of two-or-more sharing a fingerprint,
// per spec.md's collision-backfill operation. Returns the number of
// canonical messages newly assigned to a group.
func (s *Surface) BackfillCollisions(ctx context.Context, organizationID string, scanLimit int) (int, error) {
	candidates, err := s.Collisions.ListUngroupedCandidates(ctx, organizationID, scanLimit)
	if err != nil {
		return 0, fmt.Errorf("admin: backfill collisions: list candidates: %w", err)
	}

	byFingerprint := groupByFingerprint(candidates)

	assigned := 0
	for fp, group := range byFingerprint {
		if len(group) < 2 {
			continue
		}
		groupID, err := s.Collisions.Create(ctx, organizationID, "backfill: shared fingerprint "+fp)
		if err != nil {
			return assigned, fmt.Errorf("admin: backfill collisions: create group: %w", err)
		}
		for _, c := range group {
			if err := s.Canonical.AttachCollisionGroup(ctx, organizationID, c.ID, groupID); err != nil {
				return assigned, fmt.Errorf("admin: backfill collisions: attach group: %w", err)
			}
			assigned++
		}
	}
	return assigned, nil
}

// CollisionGroupSummary is one collision group's admin-listing shape:
// the group plus how many canonical messages currently reference it.
type CollisionGroupSummary struct {
	Group        store.CollisionGroup
	MessageCount int
}

// ListCollisionGroups returns every collision group for an organization
// with its current message count, per spec.md's admin collision-group
// listing operation.
func (s *Surface) ListCollisionGroups(ctx context.Context, organizationID string) ([]CollisionGroupSummary, error) {
	groups, err := s.Collisions.ListGroups(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("admin: list collision groups: %w", err)
	}
	out := make([]CollisionGroupSummary, 0, len(groups))
	for _, g := range groups {
		n, err := s.Collisions.MessageCount(ctx, organizationID, g.ID)
		if err != nil {
			return nil, fmt.Errorf("admin: list collision groups: count messages for %s: %w", g.ID, err)
		}
		out = append(out, CollisionGroupSummary{Group: g, MessageCount: n})
	}
	return out, nil
}

// GetCollisionGroup returns a single collision group with its current
// message count.
func (s *Surface) GetCollisionGroup(ctx context.Context, organizationID, groupID string) (CollisionGroupSummary, error) {
	g, err := s.Collisions.GetGroup(ctx, organizationID, groupID)
	if err != nil {
		return CollisionGroupSummary{}, fmt.Errorf("admin: get collision group %s: %w", groupID, err)
	}
	n, err := s.Collisions.MessageCount(ctx, organizationID, groupID)
	if err != nil {
		return CollisionGroupSummary{}, fmt.Errorf("admin: get collision group %s: count messages: %w", groupID, err)
	}
	return CollisionGroupSummary{Group: *g, MessageCount: n}, nil
}

// groupByFingerprint buckets candidates sharing a fingerprint, the pure
// part of BackfillCollisions kept separate so it's testable without a
// database.
func groupByFingerprint(candidates []store.CanonicalMessage) map[string][]store.CanonicalMessage {
	out := make(map[string][]store.CanonicalMessage)
	for _, c := range candidates {
		out[c.FingerprintV1] = append(out[c.FingerprintV1], c)
	}
	return out
}
