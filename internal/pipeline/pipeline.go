// Package pipeline implements the four occurrence-pipeline job handlers
// (occurrence_fetch_raw, occurrence_parse, occurrence_stitch,
// ticket_apply_routing), wiring the Canonical Store, Blob Store, email
// parser, HTML sanitizer, fingerprint, stitch resolver, and routing
// evaluator together the way the teacher wires its Lambda handler
// constructors (cmd/*/main.go: a thin handler struct holding already-built
// dependencies, invoked by the job runner instead of API Gateway).
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/oss-support/journal-pipeline/internal/email"
	"github.com/oss-support/journal-pipeline/internal/fingerprint"
	"github.com/oss-support/journal-pipeline/internal/htmlsanitize"
	"github.com/oss-support/journal-pipeline/internal/mailbox"
	"github.com/oss-support/journal-pipeline/internal/obslog"
	"github.com/oss-support/journal-pipeline/internal/provider"
	"github.com/oss-support/journal-pipeline/internal/queue"
	"github.com/oss-support/journal-pipeline/internal/routing"
	"github.com/oss-support/journal-pipeline/internal/stitch"
	"github.com/oss-support/journal-pipeline/internal/store"
)

// snippetLength bounds the preview snippet stored alongside a canonical
// message, matching the teacher's list-view preview truncation
// (internal/email/preview_capture.go) without its DynamoDB projection.
const snippetLength = 280

// Handlers holds every dependency the four occurrence-pipeline job
// handlers need. One instance is shared across job executions; it carries
// no per-job state.
type Handlers struct {
	occurrences *store.OccurrenceRepository
	canonical   *store.CanonicalRepository
	attachments *store.AttachmentRepository
	tickets     *store.TicketRepository
	collisions  *store.CollisionRepository
	audit       *store.AuditRepository
	mailboxes   *mailbox.Repository
	box         mailbox.Decrypter
	factory     mailbox.ProviderFactory
	blobs       Blob
	jobs        *queue.Store
	stitcher    *stitch.Resolver
	routingEval *routing.Evaluator
	logger      *slog.Logger
}

// Blob is the subset of blob.Store the pipeline needs, kept narrow so
// tests can fake it without pulling in the S3/filesystem backends.
type Blob interface {
	Put(ctx context.Context, organizationID string, content []byte) (string, error)
	Get(ctx context.Context, organizationID, contentHash string) ([]byte, error)
}

// NewHandlers wires the pipeline's dependencies together.
func NewHandlers(
	occurrences *store.OccurrenceRepository,
	canonical *store.CanonicalRepository,
	attachments *store.AttachmentRepository,
	tickets *store.TicketRepository,
	collisions *store.CollisionRepository,
	audit *store.AuditRepository,
	mailboxes *mailbox.Repository,
	box mailbox.Decrypter,
	factory mailbox.ProviderFactory,
	blobs Blob,
	jobs *queue.Store,
	stitcher *stitch.Resolver,
	routingEval *routing.Evaluator,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		occurrences: occurrences,
		canonical:   canonical,
		attachments: attachments,
		tickets:     tickets,
		collisions:  collisions,
		audit:       audit,
		mailboxes:   mailboxes,
		box:         box,
		factory:     factory,
		blobs:       blobs,
		jobs:        jobs,
		stitcher:    stitcher,
		routingEval: routingEval,
		logger:      logger,
	}
}

// FetchRaw implements occurrence_fetch_raw: pull the RFC822 payload from
// the provider and content-address it into the Blob Store. Idempotent:
// if the occurrence already carries a blob_content_hash (a retried job,
// or a second discovery of the same provider_message_id), the fetch is
// skipped and only the next-stage enqueue happens.
func (h *Handlers) FetchRaw(ctx context.Context, organizationID string, payload json.RawMessage) error {
	var p FetchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("pipeline: decode fetch payload: %w", err)
	}

	occ, err := h.occurrences.Get(ctx, organizationID, p.OccurrenceID)
	if err != nil {
		return err
	}

	if occ.BlobContentHash == "" {
		mbox, err := h.mailboxes.Get(ctx, organizationID, occ.MailboxID)
		if err != nil {
			return err
		}
		prov, err := h.openProvider(ctx, mbox)
		if err != nil {
			return err
		}
		raw, err := prov.FetchRaw(ctx, occ.ProviderMessageID)
		if err != nil {
			return fmt.Errorf("pipeline: fetch raw message %s: %w", occ.ProviderMessageID, err)
		}
		contentHash, err := h.blobs.Put(ctx, organizationID, raw.RFC822)
		if err != nil {
			return fmt.Errorf("pipeline: store raw blob: %w", err)
		}
		if err := h.occurrences.RecordFetched(ctx, organizationID, occ.ID, contentHash); err != nil {
			return err
		}
		obslog.FromContext(ctx, h.logger).InfoContext(ctx, "occurrence fetched",
			"occurrence_id", occ.ID, "content_hash", contentHash)
	}

	// Malformed MIME is a property of the bytes, not of the attempt, so
	// the parse stage gets exactly one try: a retry would fail identically.
	if _, err := h.jobs.Enqueue(ctx, organizationID, queue.TypeOccurrenceParse,
		ParsePayload{OccurrenceID: occ.ID}, occ.ID, queue.WithMaxAttempts(1)); err != nil {
		return fmt.Errorf("pipeline: enqueue parse stage: %w", err)
	}
	return nil
}

// Parse implements occurrence_parse: decode the RFC5322 bytes, compute
// Fingerprint v1, upsert (or collision-link) the canonical message,
// resolve recipient evidence, persist attachments, and advance the
// occurrence to parsed.
func (h *Handlers) Parse(ctx context.Context, organizationID string, payload json.RawMessage) error {
	var p ParsePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("pipeline: decode parse payload: %w", err)
	}

	occ, err := h.occurrences.Get(ctx, organizationID, p.OccurrenceID)
	if err != nil {
		return err
	}

	raw, err := h.blobs.Get(ctx, organizationID, occ.BlobContentHash)
	if err != nil {
		return fmt.Errorf("pipeline: load raw blob: %w", err)
	}

	parsed, err := email.ParseRFC5322(raw)
	if err != nil {
		_ = h.occurrences.Fail(ctx, organizationID, occ.ID, "parse_error", err.Error())
		return fmt.Errorf("pipeline: parse rfc5322: %w", err)
	}

	sanitized := htmlsanitize.Sanitize(parsed.BodyHTML)
	bodyText := parsed.BodyText
	if strings.TrimSpace(bodyText) == "" {
		bodyText = sanitized.Text
	}

	canonicalID, err := h.resolveCanonical(ctx, organizationID, parsed, bodyText, sanitized)
	if err != nil {
		_ = h.occurrences.Fail(ctx, organizationID, occ.ID, "parse_error", err.Error())
		return fmt.Errorf("pipeline: resolve canonical message: %w", err)
	}

	for _, att := range parsed.Attachments {
		contentHash, err := h.blobs.Put(ctx, organizationID, att.Content)
		if err != nil {
			return fmt.Errorf("pipeline: store attachment blob: %w", err)
		}
		if err := h.attachments.Upsert(ctx, &store.Attachment{
			OrganizationID:     organizationID,
			CanonicalMessageID: canonicalID,
			ContentHash:        contentHash,
			Filename:           att.Name,
			ContentType:        att.Type,
			SizeBytes:          int64(len(att.Content)),
			IsInline:           att.Disposition == "inline",
			ContentID:          att.PartID,
		}); err != nil {
			return fmt.Errorf("pipeline: upsert attachment: %w", err)
		}
	}

	domains, err := h.orgDomains(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("pipeline: load organization domains: %w", err)
	}
	evidence := email.ResolveRecipient(parsed, domains)

	if err := h.occurrences.RecordParsed(ctx, organizationID, occ.ID, canonicalID,
		evidence.Address, store.RecipientSource(evidence.Source), store.Confidence(evidence.Confidence)); err != nil {
		return err
	}

	if _, err := h.jobs.Enqueue(ctx, organizationID, queue.TypeOccurrenceStitch,
		StitchPayload{OccurrenceID: occ.ID}, occ.ID); err != nil {
		return fmt.Errorf("pipeline: enqueue stitch stage: %w", err)
	}
	return nil
}

// resolveCanonical implements the dedup/collision decision: same
// fingerprint and same body hash is the same message seen again; same
// fingerprint, different body hash is a genuine collision that needs a
// human to look at it, never a silent overwrite.
func (h *Handlers) resolveCanonical(ctx context.Context, organizationID string, parsed *email.ParsedMessage, bodyText string, sanitized htmlsanitize.Result) (string, error) {
	fp := fingerprint.Compute(fingerprint.Input{
		Subject:  parsed.Subject,
		From:     firstAddress(parsed.From).Email,
		Date:     parsed.Date,
		To:       addrEmails(parsed.To),
		CC:       addrEmails(parsed.CC),
		BodyText: bodyText,
	})

	existing, err := h.canonical.GetByFingerprint(ctx, organizationID, fp)
	switch {
	case err == nil:
		bodyHash := fingerprint.BodyTextHash64K(bodyText)
		if existing.BodyTextHash64K == bodyHash {
			return existing.ID, nil
		}
		return h.insertAsCollision(ctx, organizationID, existing.ID, fp, bodyHash, parsed, bodyText, sanitized)
	case errors.Is(err, store.ErrNotFound):
		c := buildCanonical(organizationID, fp, parsed, bodyText, sanitized)
		if err := h.canonical.Insert(ctx, c); err != nil {
			if store.IsUniqueViolation(err) {
				winner, werr := h.canonical.GetByFingerprint(ctx, organizationID, fp)
				if werr != nil {
					return "", fmt.Errorf("read winning canonical after lost insert race: %w", werr)
				}
				return winner.ID, nil
			}
			return "", fmt.Errorf("insert canonical: %w", err)
		}
		return c.ID, nil
	default:
		return "", fmt.Errorf("lookup canonical by fingerprint: %w", err)
	}
}

// insertAsCollision creates a new collision group linking the existing
// canonical message to a freshly inserted one that carries the same
// fingerprint but a different body. A group already attached to the
// existing candidate is not reused; a new one is always created.
func (h *Handlers) insertAsCollision(ctx context.Context, organizationID, existingID, fp, bodyHash string, parsed *email.ParsedMessage, bodyText string, sanitized htmlsanitize.Result) (string, error) {
	groupID, err := h.collisions.Create(ctx, organizationID, "fingerprint match, body text differs")
	if err != nil {
		return "", fmt.Errorf("create collision group: %w", err)
	}
	if err := h.canonical.AttachCollisionGroup(ctx, organizationID, existingID, groupID); err != nil {
		return "", fmt.Errorf("attach collision group to existing candidate: %w", err)
	}

	c := buildCanonical(organizationID, fp, parsed, bodyText, sanitized)
	c.CollisionGroupID = &groupID
	if err := h.canonical.Insert(ctx, c); err != nil {
		return "", fmt.Errorf("insert colliding canonical: %w", err)
	}
	return c.ID, nil
}

func buildCanonical(organizationID, fp string, parsed *email.ParsedMessage, bodyText string, sanitized htmlsanitize.Result) *store.CanonicalMessage {
	referenceIDs := append(append([]string{}, parsed.InReplyTo...), parsed.References...)
	return &store.CanonicalMessage{
		ID:                uuid.NewString(),
		OrganizationID:    organizationID,
		FingerprintV1:     fp,
		Subject:           parsed.Subject,
		FromAddress:       strings.ToLower(firstAddress(parsed.From).Email),
		ToAddresses:       addrEmails(parsed.To),
		CCAddresses:       addrEmails(parsed.CC),
		DateHeader:        parsed.Date,
		Snippet:           truncate(bodyText, snippetLength),
		BodyText:          bodyText,
		BodyHTMLSanitized: sanitized.SafeHTML,
		BodyTextHash64K:   fingerprint.BodyTextHash64K(bodyText),
		ParserVersion:     "email/v1",
		SanitizerVersion:  sanitized.Version,
		XOSSTicketID:      parsed.XOSSTicketID,
		XOSSMessageID:     parsed.XOSSMessageID,
		RFC822MessageID:   parsed.MessageID,
		ReferenceIDs:      referenceIDs,
		ReplyToAddresses:  addrEmails(parsed.ReplyTo),
		HasThreadingHdr:   parsed.HasThreadingHeader(),
	}
}

// Stitch implements occurrence_stitch: evaluate the priority rules
// against the occurrence's canonical message and either attach it to an
// existing ticket or create a new one.
func (h *Handlers) Stitch(ctx context.Context, organizationID string, payload json.RawMessage) error {
	var p StitchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("pipeline: decode stitch payload: %w", err)
	}

	occ, err := h.occurrences.Get(ctx, organizationID, p.OccurrenceID)
	if err != nil {
		return err
	}
	if occ.CanonicalMessageID == nil {
		return fmt.Errorf("pipeline: occurrence %s reached stitch with no canonical message", occ.ID)
	}

	cm, err := h.canonical.Get(ctx, organizationID, *occ.CanonicalMessageID)
	if err != nil {
		return err
	}

	in := stitch.Input{
		XOSSTicketID:        cm.XOSSTicketID,
		ReplyToAddresses:    cm.ReplyToAddresses,
		ThreadingMessageIDs: cm.ReferenceIDs,
		HasThreadingHeader:  cm.HasThreadingHdr,
		RequesterEmail:      strings.ToLower(cm.FromAddress),
		Subject:             cm.Subject,
	}

	decision, err := h.stitcher.Resolve(ctx, organizationID, in)
	if err != nil {
		_ = h.occurrences.Fail(ctx, organizationID, occ.ID, "stitch_error", err.Error())
		return fmt.Errorf("pipeline: resolve stitch decision: %w", err)
	}

	ticketID := decision.TicketID
	if decision.IsNewTicket {
		t, err := h.tickets.Create(ctx, organizationID, ticketCode(), cm.Subject, strings.ToLower(cm.FromAddress))
		if err != nil {
			_ = h.occurrences.Fail(ctx, organizationID, occ.ID, "stitch_error", err.Error())
			return fmt.Errorf("pipeline: create ticket: %w", err)
		}
		ticketID = t.ID
	} else if err := h.tickets.RecordStitch(ctx, organizationID, ticketID, decision.Reason, decision.Confidence); err != nil {
		_ = h.occurrences.Fail(ctx, organizationID, occ.ID, "stitch_error", err.Error())
		return fmt.Errorf("pipeline: record stitch on ticket %s: %w", ticketID, err)
	}

	if err := h.canonical.SetTicket(ctx, organizationID, cm.ID, ticketID); err != nil {
		return fmt.Errorf("pipeline: link canonical message to ticket: %w", err)
	}
	if err := h.occurrences.RecordStitched(ctx, organizationID, occ.ID); err != nil {
		return err
	}

	if _, err := h.jobs.Enqueue(ctx, organizationID, queue.TypeTicketRouting,
		RoutePayload{OccurrenceID: occ.ID, TicketID: ticketID, IsNewTicket: decision.IsNewTicket}, occ.ID); err != nil {
		return fmt.Errorf("pipeline: enqueue routing stage: %w", err)
	}
	return nil
}

// Route implements ticket_apply_routing. Routing is only evaluated for
// inbound occurrences that just created their ticket: a reply landing on
// an already-routed ticket shouldn't re-run the allowlist/rule gate and
// potentially re-spam or re-drop an established conversation.
func (h *Handlers) Route(ctx context.Context, organizationID string, payload json.RawMessage) error {
	var p RoutePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("pipeline: decode route payload: %w", err)
	}

	occ, err := h.occurrences.Get(ctx, organizationID, p.OccurrenceID)
	if err != nil {
		return err
	}

	if occ.Direction != "inbound" || !p.IsNewTicket {
		return h.occurrences.RecordRouted(ctx, organizationID, occ.ID)
	}

	if occ.CanonicalMessageID == nil {
		return fmt.Errorf("pipeline: occurrence %s reached routing with no canonical message", occ.ID)
	}
	cm, err := h.canonical.Get(ctx, organizationID, *occ.CanonicalMessageID)
	if err != nil {
		return err
	}

	outcome, err := h.routingEval.Evaluate(ctx, organizationID, routing.Evidence{
		RecipientSource: occ.RecipientSource,
		Recipient:       occ.OriginalRecipient,
		SenderEmail:     cm.FromAddress,
		SenderDomain:    domainOf(cm.FromAddress),
		Direction:       occ.Direction,
	})
	if err != nil {
		_ = h.occurrences.Fail(ctx, organizationID, occ.ID, "route_error", err.Error())
		return fmt.Errorf("pipeline: evaluate routing: %w", err)
	}

	ticketID := p.TicketID
	if outcome.Spam {
		if err := h.tickets.SetStatus(ctx, organizationID, ticketID, store.TicketSpam); err != nil {
			return fmt.Errorf("pipeline: mark ticket %s spam: %w", ticketID, err)
		}
		_ = h.audit.Record(ctx, organizationID, &ticketID, &occ.ID, "auto_spam",
			fmt.Sprintf("recipient=%q source=%s", occ.OriginalRecipient, occ.RecipientSource))
		return h.occurrences.RecordRouted(ctx, organizationID, occ.ID)
	}

	if err := h.applyRoutingAction(ctx, organizationID, ticketID, occ.ID, outcome); err != nil {
		return err
	}
	return h.occurrences.RecordRouted(ctx, organizationID, occ.ID)
}

func (h *Handlers) applyRoutingAction(ctx context.Context, organizationID, ticketID, occurrenceID string, outcome routing.Outcome) error {
	action := outcome.Action

	if action.Drop {
		if err := h.tickets.Drop(ctx, organizationID, ticketID); err != nil {
			return fmt.Errorf("pipeline: drop ticket %s: %w", ticketID, err)
		}
		_ = h.audit.Record(ctx, organizationID, nil, &occurrenceID, "routing_drop", "matched drop rule")
		return nil
	}

	if action.AssignQueueID != "" {
		if err := h.tickets.AssignQueue(ctx, organizationID, ticketID, action.AssignQueueID); err != nil {
			return fmt.Errorf("pipeline: assign ticket %s to queue: %w", ticketID, err)
		}
	}
	if action.AssignUserID != "" {
		if err := h.tickets.AssignUser(ctx, organizationID, ticketID, action.AssignUserID); err != nil {
			return fmt.Errorf("pipeline: assign ticket %s to user: %w", ticketID, err)
		}
	}
	if action.SetStatus != "" {
		if err := h.tickets.SetStatus(ctx, organizationID, ticketID, action.SetStatus); err != nil {
			return fmt.Errorf("pipeline: set ticket %s status: %w", ticketID, err)
		}
	}
	if action.AutoClose {
		if err := h.tickets.Close(ctx, organizationID, ticketID); err != nil {
			return fmt.Errorf("pipeline: auto-close ticket %s: %w", ticketID, err)
		}
	}
	if outcome.MatchedRule != nil {
		_ = h.audit.Record(ctx, organizationID, &ticketID, &occurrenceID, "routing_applied",
			fmt.Sprintf("rule=%s", outcome.MatchedRule.ID))
	}
	return nil
}

// openProvider decrypts a mailbox's credential and opens a live provider,
// duplicating the Sync Controller's private method of the same name
// (internal/mailbox/controller.go openProvider) because the fetch stage
// needs the exact same ceremony from a different job-type dispatcher.
func (h *Handlers) openProvider(ctx context.Context, m *mailbox.Mailbox) (provider.Provider, error) {
	cred, err := h.box.Open(m.ID, m.EncryptedCredential)
	if err != nil {
		return nil, fmt.Errorf("pipeline: decrypt mailbox credential: %w", err)
	}
	prov, err := h.factory(ctx, m, cred)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open provider for mailbox %s: %w", m.ID, err)
	}
	return prov, nil
}

// orgDomains derives the set of domains the organization's journal
// mailboxes relay mail for, the evidence the lowest-confidence To/Cc scan
// needs (internal/email/recipient.go).
func (h *Handlers) orgDomains(ctx context.Context, organizationID string) (map[string]bool, error) {
	mailboxes, err := h.mailboxes.ListAll(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	domains := make(map[string]bool, len(mailboxes))
	for _, m := range mailboxes {
		if d := domainOf(m.ExternalEmail); d != "" {
			domains[d] = true
		}
	}
	return domains, nil
}

func domainOf(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 || i == len(addr)-1 {
		return ""
	}
	return strings.ToLower(addr[i+1:])
}

func firstAddress(addrs []email.EmailAddress) email.EmailAddress {
	if len(addrs) == 0 {
		return email.EmailAddress{}
	}
	return addrs[0]
}

func addrEmails(addrs []email.EmailAddress) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Email
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ticketCode mints a human-facing ticket code from a uuid4 prefix. The
// column is unique per organization; a duplicate code surfaces as a ticket
// Create error (and a job retry) rather than being retried here.
func ticketCode() string {
	return "T-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
}
