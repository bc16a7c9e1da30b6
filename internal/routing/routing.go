// Package routing implements the ticket_apply_routing pipeline stage: an
// allowlist gate followed by deterministic, priority-ordered rule
// evaluation, generalizing the teacher's ordered-predicate matching idiom
// (internal/filter) onto glob-matched recipient/sender patterns.
package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/oss-support/journal-pipeline/internal/store"
)

// Evidence is the information the evaluator needs about one occurrence to
// decide its routing outcome.
type Evidence struct {
	RecipientSource store.RecipientSource
	Recipient       string
	SenderEmail     string
	SenderDomain    string
	Direction       string
}

// Action is the set of mutually-exclusive-where-noted mutations a
// matching rule applies.
type Action struct {
	AssignQueueID string
	AssignUserID  string
	SetStatus     store.TicketStatus
	Drop          bool
	AutoClose     bool
}

// Outcome is the evaluator's decision for one occurrence.
type Outcome struct {
	Spam        bool
	MatchedRule *store.RoutingRule
	Action      Action
}

// Evaluator evaluates the allowlist and routing-rule tables. It holds no
// state of its own beyond the tables passed to Evaluate/Simulate, so the
// same evaluator instance is reused for every organization.
type Evaluator struct {
	routing *store.RoutingRepository
}

func NewEvaluator(routing *store.RoutingRepository) *Evaluator {
	return &Evaluator{routing: routing}
}

// Evaluate loads the allowlist and rules for organizationID and decides
// the outcome for ev. It is side-effect free; callers apply the Outcome.
func (e *Evaluator) Evaluate(ctx context.Context, organizationID string, ev Evidence) (Outcome, error) {
	allowlist, err := e.routing.ListEnabledAllowlist(ctx, organizationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("routing: load allowlist: %w", err)
	}
	rules, err := e.routing.ListEnabledRulesByPriority(ctx, organizationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("routing: load rules: %w", err)
	}
	return Evaluate(allowlist, rules, ev), nil
}

// Evaluate is the pure decision function: same allowlist, same rules,
// same evidence always produce the same Outcome, which is what makes
// Simulate possible without touching the database.
func Evaluate(allowlist []store.AllowlistEntry, rules []store.RoutingRule, ev Evidence) Outcome {
	if ev.RecipientSource == store.SourceUnknown || !matchesAnyAllowlist(allowlist, ev.Recipient) {
		return Outcome{Spam: true}
	}

	for i := range rules {
		rule := rules[i]
		if !ruleMatches(rule, ev) {
			continue
		}
		return Outcome{
			MatchedRule: &rule,
			Action: Action{
				AssignQueueID: rule.AssignQueueID,
				AssignUserID:  rule.AssignUserID,
				SetStatus:     store.TicketStatus(rule.SetStatus),
				Drop:          rule.Drop,
				AutoClose:     rule.AutoClose,
			},
		}
	}

	return Outcome{}
}

func matchesAnyAllowlist(allowlist []store.AllowlistEntry, recipient string) bool {
	if recipient == "" {
		return false
	}
	recipient = strings.ToLower(recipient)
	for _, e := range allowlist {
		if !e.Enabled {
			continue
		}
		if globMatch(e.Pattern, recipient) {
			return true
		}
	}
	return false
}

func ruleMatches(rule store.RoutingRule, ev Evidence) bool {
	if rule.Direction != "" && !strings.EqualFold(rule.Direction, ev.Direction) {
		return false
	}
	if rule.RecipientPattern != "" && !globMatch(rule.RecipientPattern, strings.ToLower(ev.Recipient)) {
		return false
	}
	if rule.SenderDomainPattern != "" && !globMatch(rule.SenderDomainPattern, strings.ToLower(ev.SenderDomain)) {
		return false
	}
	if rule.SenderEmailPattern != "" && !globMatch(rule.SenderEmailPattern, strings.ToLower(ev.SenderEmail)) {
		return false
	}
	return true
}

func globMatch(pattern, value string) bool {
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return false
	}
	return g.Match(value)
}
