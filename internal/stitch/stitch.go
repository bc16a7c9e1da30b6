// Package stitch implements the occurrence_stitch pipeline stage: the
// priority-ordered rule set that attaches an inbound occurrence's
// canonical message to a ticket, generalizing the teacher's "resolve one
// entity by trying several indexes in order" idiom
// (internal/mailbox/repository.go Get) onto the stitching decision.
package stitch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oss-support/journal-pipeline/internal/store"
)

// DefaultSubjectMatchWindow is the fallback rule's reopen lookback
// window.
const DefaultSubjectMatchWindow = 14 * 24 * time.Hour

// replyToTokenPattern matches the ticket alias pattern the outbound send
// path stamps on replies: ticket+<opaque>@anything.
var replyToTokenPattern = regexp.MustCompile(`(?i)^ticket\+([^@]+)@`)

// subjectPrefixPattern strips leading Re:/Fwd: noise, repeatedly, to
// match the normalization tickets.FindOpenBySubjectAndRequester applies
// in SQL.
var subjectPrefixPattern = regexp.MustCompile(`(?i)^(re|fwd?):\s*`)

// Input is everything the stitch stage knows about one occurrence's
// canonical message, extracted during occurrence_parse.
type Input struct {
	XOSSTicketID       string
	ReplyToAddresses   []string
	ThreadingMessageIDs []string // In-Reply-To + References, combined
	HasThreadingHeader bool
	RequesterEmail     string
	Subject            string
}

// Decision is the outcome of evaluating the priority rules: either an
// existing ticket to attach to, or an instruction to create one.
type Decision struct {
	TicketID    string
	Reason      store.StitchReason
	Confidence  store.Confidence
	IsNewTicket bool
}

// Resolver evaluates the stitch rules against the Canonical Store.
type Resolver struct {
	tickets   *store.TicketRepository
	canonical *store.CanonicalRepository
	window    time.Duration
}

func NewResolver(tickets *store.TicketRepository, canonical *store.CanonicalRepository, window time.Duration) *Resolver {
	if window <= 0 {
		window = DefaultSubjectMatchWindow
	}
	return &Resolver{tickets: tickets, canonical: canonical, window: window}
}

// Resolve evaluates priority 1 through 4 in order, first match wins. A
// Decision with IsNewTicket=true carries no TicketID; the caller creates
// the ticket and attaches it.
func (r *Resolver) Resolve(ctx context.Context, organizationID string, in Input) (Decision, error) {
	if in.XOSSTicketID != "" {
		ticketID, err := r.canonical.FindTicketByXOSSTicketID(ctx, organizationID, in.XOSSTicketID)
		if err == nil {
			return Decision{TicketID: ticketID, Reason: store.StitchXOSSMarker, Confidence: store.ConfidenceHigh}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Decision{}, fmt.Errorf("stitch: marker lookup: %w", err)
		}
	}

	if token := extractReplyToToken(in.ReplyToAddresses); token != "" {
		t, err := r.tickets.GetByReplyToToken(ctx, organizationID, token)
		if err == nil {
			return Decision{TicketID: t.ID, Reason: store.StitchReplyToToken, Confidence: store.ConfidenceHigh}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Decision{}, fmt.Errorf("stitch: reply-to token lookup: %w", err)
		}
	}

	if len(in.ThreadingMessageIDs) > 0 {
		ticketID, err := r.canonical.FindTicketByReferenceID(ctx, organizationID, in.ThreadingMessageIDs)
		if err == nil {
			return Decision{TicketID: ticketID, Reason: store.StitchReferenceGraph, Confidence: store.ConfidenceMedium}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Decision{}, fmt.Errorf("stitch: references graph lookup: %w", err)
		}
	}

	// The subject-match fallback is disabled whenever any threading
	// header was present at all, even if it didn't resolve to a ticket:
	// a broken/incomplete thread shouldn't be silently re-glued onto an
	// unrelated ticket by subject alone.
	if !in.HasThreadingHeader && in.RequesterEmail != "" {
		t, err := r.tickets.FindOpenBySubjectAndRequester(ctx, organizationID, normalizeSubject(in.Subject), in.RequesterEmail, r.window)
		if err == nil {
			return Decision{TicketID: t.ID, Reason: store.StitchSubjectMatch, Confidence: store.ConfidenceLow}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Decision{}, fmt.Errorf("stitch: subject match lookup: %w", err)
		}
	}

	return Decision{IsNewTicket: true, Reason: store.StitchNewTicket, Confidence: store.ConfidenceHigh}, nil
}

// extractReplyToToken pulls the opaque token out of the first
// ticket+<opaque>@… address, if any Reply-To address matches.
func extractReplyToToken(addresses []string) string {
	for _, addr := range addresses {
		addr = strings.TrimSpace(addr)
		if m := replyToTokenPattern.FindStringSubmatch(addr); m != nil {
			return m[1]
		}
	}
	return ""
}

func normalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for {
		stripped := subjectPrefixPattern.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = strings.TrimSpace(stripped)
	}
	return s
}
