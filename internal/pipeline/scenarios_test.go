package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oss-support/journal-pipeline/internal/admin"
	"github.com/oss-support/journal-pipeline/internal/blob"
	"github.com/oss-support/journal-pipeline/internal/cryptoutil"
	"github.com/oss-support/journal-pipeline/internal/mailbox"
	"github.com/oss-support/journal-pipeline/internal/obslog"
	"github.com/oss-support/journal-pipeline/internal/provider"
	"github.com/oss-support/journal-pipeline/internal/queue"
	"github.com/oss-support/journal-pipeline/internal/routing"
	"github.com/oss-support/journal-pipeline/internal/stitch"
	"github.com/oss-support/journal-pipeline/internal/store"
)

// These tests exercise the six literal end-to-end scenarios against a
// real Postgres instance, since every repository in internal/store takes
// a concrete *pgxpool.Pool rather than an interface. They only run when
// TEST_DATABASE_DSN is set (migrations are applied once beforehand via
// cmd/migrate's own goose wiring, run out-of-band before `go test`); in
// any other environment they're skipped rather than faked, since faking
// the Canonical Store's SQL would test the fake, not the pipeline.
const testMasterKey = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=" // 32 zero bytes, base64

type scenarioEnv struct {
	pool       *pgxpool.Pool
	orgID      string
	mailboxID  string
	handlers   *Handlers
	controller *mailbox.Controller
	jobs       *queue.Store
	tickets    *store.TicketRepository
	occs       *store.OccurrenceRepository
	canonical  *store.CanonicalRepository
	collisions *store.CollisionRepository
	mailboxes  *mailbox.Repository
	prov       *provider.FakeProvider
	admin      *admin.Surface
}

func requireTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("TEST_DATABASE_DSN not set; skipping live-Postgres scenario test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// newScenarioEnv seeds one organization with one fake-provider journal
// mailbox and an allowlist entry covering its own domain, wiring the same
// dependency graph cmd/worker builds, minus the AWS/Gmail-specific pieces.
func newScenarioEnv(t *testing.T) *scenarioEnv {
	t.Helper()
	pool := requireTestDB(t)
	ctx := context.Background()

	orgID := uuid.NewString()
	if _, err := pool.Exec(ctx, `INSERT INTO organizations (id, name) VALUES ($1, $2)`, orgID, "scenario-org"); err != nil {
		t.Fatalf("seed organization: %v", err)
	}

	box, err := cryptoutil.NewBox(testMasterKey)
	if err != nil {
		t.Fatalf("new crypto box: %v", err)
	}

	mailboxID := uuid.NewString()
	sealed, err := box.Seal(mailboxID, []byte("fake-refresh-token"))
	if err != nil {
		t.Fatalf("seal credential: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO mailboxes (id, organization_id, purpose, provider, external_email, encrypted_credential)
		VALUES ($1, $2, 'journal', 'fake', 'support@example.com', $3)
	`, mailboxID, orgID, sealed); err != nil {
		t.Fatalf("seed mailbox: %v", err)
	}

	if _, err := pool.Exec(ctx, `
		INSERT INTO routing_allowlist_entries (id, organization_id, pattern, enabled)
		VALUES ($1, $2, '*@example.com', true)
	`, uuid.NewString(), orgID); err != nil {
		t.Fatalf("seed allowlist: %v", err)
	}

	prov := provider.NewFakeProvider(provider.Profile{EmailAddress: "support@example.com"})
	factory := mailbox.ProviderFactory(func(context.Context, *mailbox.Mailbox, []byte) (provider.Provider, error) {
		return prov, nil
	})

	mailboxes := mailbox.NewRepository(pool)
	jobs := queue.NewStore(pool)
	occs := store.NewOccurrenceRepository(pool)

	onNewRef := func(ctx context.Context, organizationID, mbID string, ref provider.MessageRef) error {
		occ, created, err := occs.UpsertDiscovered(ctx, organizationID, mbID, ref.ProviderMessageID, ref.ProviderThreadID, "inbound")
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		_, err = jobs.Enqueue(ctx, organizationID, queue.TypeOccurrenceFetch, FetchPayload{OccurrenceID: occ.ID}, occ.ID)
		return err
	}

	controller := mailbox.NewController(mailboxes, jobs, box, factory, mailbox.Breaker{
		Threshold:   3,
		PauseWindow: 30 * time.Minute,
		Cadence:     time.Minute,
	}, onNewRef)

	blobs, err := blob.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new fs blob store: %v", err)
	}

	canonical := store.NewCanonicalRepository(pool)
	tickets := store.NewTicketRepository(pool)
	collisions := store.NewCollisionRepository(pool)
	attachments := store.NewAttachmentRepository(pool)
	audit := store.NewAuditRepository(pool)
	routingRepo := store.NewRoutingRepository(pool)

	handlers := NewHandlers(occs, canonical, attachments, tickets, collisions, audit, mailboxes, box, factory,
		blobs, jobs, stitch.NewResolver(tickets, canonical, 0), routing.NewEvaluator(routingRepo), obslog.New())

	routingEv := routing.NewEvaluator(routingRepo)
	adminSurface := admin.NewSurface(jobs, mailboxes, collisions, canonical, routingEv, routingRepo)

	return &scenarioEnv{
		pool: pool, orgID: orgID, mailboxID: mailboxID, handlers: handlers, controller: controller,
		jobs: jobs, tickets: tickets, occs: occs, canonical: canonical, collisions: collisions,
		mailboxes: mailboxes, prov: prov, admin: adminSurface,
	}
}

func rawMessage(id, subject, from, to, body string, extraHeaders map[string]string) provider.RawMessage {
	msg := fmt.Sprintf("Subject: %s\r\nFrom: %s\r\nTo: %s\r\nDate: Mon, 2 Jan 2006 15:04:05 +0000\r\n", subject, from, to)
	for k, v := range extraHeaders {
		msg += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	msg += "\r\n" + body + "\r\n"
	return provider.RawMessage{ProviderMessageID: id, ProviderThreadID: id, RFC822: []byte(msg)}
}

// runOccurrenceToRoute drives one discovered occurrence through
// fetch/parse/stitch/route by calling the handlers directly, bypassing the
// queue lease loop so the test doesn't need a running worker host.
func (e *scenarioEnv) runOccurrenceToRoute(t *testing.T, occurrenceID string) {
	t.Helper()
	ctx := context.Background()
	mustJSON := func(v any) json.RawMessage {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		return b
	}
	if err := e.handlers.FetchRaw(ctx, e.orgID, mustJSON(FetchPayload{OccurrenceID: occurrenceID})); err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	if err := e.handlers.Parse(ctx, e.orgID, mustJSON(ParsePayload{OccurrenceID: occurrenceID})); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := e.handlers.Stitch(ctx, e.orgID, mustJSON(StitchPayload{OccurrenceID: occurrenceID})); err != nil {
		t.Fatalf("Stitch: %v", err)
	}
	occ, err := e.occs.Get(ctx, e.orgID, occurrenceID)
	if err != nil {
		t.Fatalf("get occurrence after stitch: %v", err)
	}
	if occ.CanonicalMessageID == nil {
		t.Fatalf("occurrence %s has no canonical message after stitch", occurrenceID)
	}
	cm, err := e.canonical.Get(ctx, e.orgID, *occ.CanonicalMessageID)
	if err != nil {
		t.Fatalf("get canonical after stitch: %v", err)
	}
	// IsNewTicket is always true here: these scenarios run one occurrence
	// through routing at a time and never need to prove the "a reply onto
	// an already-routed ticket skips re-evaluation" short-circuit, which
	// cmd/worker's real job flow exercises via Stitch's own decision value.
	if err := e.handlers.Route(ctx, e.orgID, mustJSON(RoutePayload{
		OccurrenceID: occurrenceID, TicketID: *cm.TicketID, IsNewTicket: true,
	})); err != nil {
		t.Fatalf("Route: %v", err)
	}
}

func (e *scenarioEnv) discover(t *testing.T, ref provider.MessageRef) string {
	t.Helper()
	ctx := context.Background()
	occ, created, err := e.occs.UpsertDiscovered(ctx, e.orgID, e.mailboxID, ref.ProviderMessageID, ref.ProviderThreadID, "inbound")
	if err != nil {
		t.Fatalf("upsert discovered: %v", err)
	}
	if !created {
		t.Fatalf("expected a new occurrence for %s", ref.ProviderMessageID)
	}
	return occ.ID
}

// Scenario 1: duplicate delivery of the same email, seen twice in the
// organization's journal mailbox under two provider message ids, produces
// one canonical message and one ticket in state new, with both
// occurrences routed.
func TestScenarioDuplicateDelivery(t *testing.T) {
	e := newScenarioEnv(t)
	ctx := context.Background()

	raw := rawMessage("msg-dup-1", "Help with login", "customer@example.com", "support@example.com", "I can't log in.", nil)
	e.prov.Seed(raw)

	occA := e.discover(t, provider.MessageRef{ProviderMessageID: "msg-dup-1", ProviderThreadID: "msg-dup-1"})
	e.runOccurrenceToRoute(t, occA)

	// the same mailbox sees the identical bytes again under a second
	// provider message id, giving it its own occurrence row.
	occB, created, err := e.occs.UpsertDiscovered(ctx, e.orgID, e.mailboxID, "msg-dup-1-mailboxB", "msg-dup-1", "inbound")
	if err != nil || !created {
		t.Fatalf("upsert discovered for mailbox B: created=%v err=%v", created, err)
	}
	e.prov.Seed(provider.RawMessage{ProviderMessageID: "msg-dup-1-mailboxB", ProviderThreadID: "msg-dup-1", RFC822: raw.RFC822})
	e.runOccurrenceToRoute(t, occB.ID)

	first, err := e.occs.Get(ctx, e.orgID, occA)
	if err != nil {
		t.Fatalf("get occurrence A: %v", err)
	}
	second, err := e.occs.Get(ctx, e.orgID, occB.ID)
	if err != nil {
		t.Fatalf("get occurrence B: %v", err)
	}
	if first.CanonicalMessageID == nil || second.CanonicalMessageID == nil || *first.CanonicalMessageID != *second.CanonicalMessageID {
		t.Fatalf("expected both occurrences to share one canonical message, got %v and %v", first.CanonicalMessageID, second.CanonicalMessageID)
	}
	if first.State != store.OccurrenceRouted || second.State != store.OccurrenceRouted {
		t.Fatalf("expected both occurrences routed, got %s and %s", first.State, second.State)
	}
	cm, err := e.canonical.Get(ctx, e.orgID, *first.CanonicalMessageID)
	if err != nil {
		t.Fatalf("get canonical: %v", err)
	}
	ticket, err := e.tickets.Get(ctx, e.orgID, *cm.TicketID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Status != store.TicketNew {
		t.Fatalf("expected ticket status new, got %s", ticket.Status)
	}
}

// Scenario 2: an invalid history cursor enqueues exactly one recovery
// backfill job and records the sync error, without tripping the breaker.
func TestScenarioInvalidHistoryCursor(t *testing.T) {
	e := newScenarioEnv(t)
	ctx := context.Background()

	e.prov.InvalidateCursor("bad-cursor")
	if err := e.pool.QueryRow(ctx, `UPDATE mailboxes SET history_cursor = 'bad-cursor' WHERE id = $1 RETURNING history_cursor`, e.mailboxID).Scan(new(string)); err != nil {
		t.Fatalf("seed bad cursor: %v", err)
	}

	outcome, err := e.controller.RunHistorySync(ctx, e.orgID, mustJSONFor(t, mailbox.HistorySyncPayload{MailboxID: e.mailboxID}))
	if err != nil {
		t.Fatalf("RunHistorySync: %v", err)
	}
	if outcome != mailbox.OutcomeRecovery {
		t.Fatalf("expected recovery outcome, got %s", outcome)
	}

	var count int
	if err := e.pool.QueryRow(ctx, `
		SELECT count(*) FROM jobs WHERE organization_id = $1 AND type = $2 AND idempotency_key = 'recovery'
	`, e.orgID, queue.TypeMailboxBackfill).Scan(&count); err != nil {
		t.Fatalf("count recovery jobs: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one recovery backfill job, got %d", count)
	}

	var lastErr string
	var pausedUntil *time.Time
	if err := e.pool.QueryRow(ctx, `SELECT last_sync_error, paused_until FROM mailboxes WHERE id = $1`, e.mailboxID).Scan(&lastErr, &pausedUntil); err != nil {
		t.Fatalf("read mailbox after recovery: %v", err)
	}
	if lastErr == "" {
		t.Fatal("expected last_sync_error to be recorded")
	}
	if pausedUntil != nil {
		t.Fatalf("expected paused_until to remain unset after a single cursor recovery, got %v", *pausedUntil)
	}
}

// Scenario 3: a reply carrying both In-Reply-To (pointing at an older
// ticket) and X-OSS-Ticket-ID (pointing at a different ticket) stitches
// to the marker's ticket with high confidence, not the threading one.
func TestScenarioMarkerStitchBeatsThreading(t *testing.T) {
	e := newScenarioEnv(t)
	ctx := context.Background()

	// Ticket T1: an original message that establishes a Message-ID a
	// later reply's In-Reply-To can point at.
	original := rawMessage("msg-t1-original", "Printer jam", "alice@example.com", "support@example.com",
		"My printer is jammed.", map[string]string{"Message-Id": "<t1-original@example.com>"})
	e.prov.Seed(original)
	occOriginal := e.discover(t, provider.MessageRef{ProviderMessageID: "msg-t1-original", ProviderThreadID: "msg-t1-original"})
	e.runOccurrenceToRoute(t, occOriginal)

	// Ticket T2: an unrelated ticket we'll target via the X-OSS marker.
	other := rawMessage("msg-t2-original", "Billing question", "bob@example.com", "support@example.com",
		"Why was I charged twice?", nil)
	e.prov.Seed(other)
	occOther := e.discover(t, provider.MessageRef{ProviderMessageID: "msg-t2-original", ProviderThreadID: "msg-t2-original"})
	e.runOccurrenceToRoute(t, occOther)

	occOriginalRow, err := e.occs.Get(ctx, e.orgID, occOriginal)
	if err != nil {
		t.Fatalf("get original occurrence: %v", err)
	}
	cmOriginal, err := e.canonical.Get(ctx, e.orgID, *occOriginalRow.CanonicalMessageID)
	if err != nil {
		t.Fatalf("get original canonical: %v", err)
	}
	t1ID := *cmOriginal.TicketID

	occOtherRow, err := e.occs.Get(ctx, e.orgID, occOther)
	if err != nil {
		t.Fatalf("get other occurrence: %v", err)
	}
	cmOther, err := e.canonical.Get(ctx, e.orgID, *occOtherRow.CanonicalMessageID)
	if err != nil {
		t.Fatalf("get other canonical: %v", err)
	}
	t2ID := *cmOther.TicketID
	t2, err := e.tickets.Get(ctx, e.orgID, t2ID)
	if err != nil {
		t.Fatalf("get t2 before reply: %v", err)
	}

	// The outbound send path stamps the ticket's minted marker, not its
	// row id, into X-OSS-Ticket-ID.
	reply := rawMessage("msg-reply", "Re: Printer jam", "alice@example.com", "support@example.com",
		"Still jammed, any update?", map[string]string{
			"In-Reply-To":     "<t1-original@example.com>",
			"X-OSS-Ticket-ID": t2.XOSSTicketIDMarker,
		})
	e.prov.Seed(reply)
	occReply := e.discover(t, provider.MessageRef{ProviderMessageID: "msg-reply", ProviderThreadID: "msg-reply"})
	e.runOccurrenceToRoute(t, occReply)

	replyRow, err := e.occs.Get(ctx, e.orgID, occReply)
	if err != nil {
		t.Fatalf("get reply occurrence: %v", err)
	}
	cmReply, err := e.canonical.Get(ctx, e.orgID, *replyRow.CanonicalMessageID)
	if err != nil {
		t.Fatalf("get reply canonical: %v", err)
	}
	if cmReply.TicketID == nil || *cmReply.TicketID != t2ID {
		t.Fatalf("expected reply stitched to marker ticket %s, got %v (t1=%s)", t2ID, cmReply.TicketID, t1ID)
	}

	ticket, err := e.tickets.Get(ctx, e.orgID, t2ID)
	if err != nil {
		t.Fatalf("get t2: %v", err)
	}
	if ticket.StitchReason != store.StitchXOSSMarker || ticket.StitchConfidence != store.ConfidenceHigh {
		t.Fatalf("expected stitch_reason=x_oss_marker confidence=high, got %s/%s", ticket.StitchReason, ticket.StitchConfidence)
	}
}

// Scenario 4: a parse yielding recipient_source=unknown is routed straight
// to spam, with an auto_spam audit event, without evaluating any rule.
func TestScenarioUnknownRecipientIsSpam(t *testing.T) {
	e := newScenarioEnv(t)
	ctx := context.Background()

	// No GmOriginalTo/DeliveredTo/X-Original-To, and the To/Cc addresses
	// don't match any organization-owned domain, so ResolveRecipient falls
	// through to source=unknown.
	raw := rawMessage("msg-unknown", "Newsletter", "marketing@unrelated.test", "someone@unrelated.test",
		"Check out our sale!", nil)
	e.prov.Seed(raw)
	occID := e.discover(t, provider.MessageRef{ProviderMessageID: "msg-unknown", ProviderThreadID: "msg-unknown"})
	e.runOccurrenceToRoute(t, occID)

	occ, err := e.occs.Get(ctx, e.orgID, occID)
	if err != nil {
		t.Fatalf("get occurrence: %v", err)
	}
	cm, err := e.canonical.Get(ctx, e.orgID, *occ.CanonicalMessageID)
	if err != nil {
		t.Fatalf("get canonical: %v", err)
	}
	ticket, err := e.tickets.Get(ctx, e.orgID, *cm.TicketID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Status != store.TicketSpam {
		t.Fatalf("expected ticket status spam, got %s", ticket.Status)
	}

	var auditCount int
	if err := e.pool.QueryRow(ctx, `
		SELECT count(*) FROM audit_events WHERE organization_id = $1 AND ticket_id = $2 AND kind = 'auto_spam'
	`, e.orgID, cm.TicketID).Scan(&auditCount); err != nil {
		t.Fatalf("count audit events: %v", err)
	}
	if auditCount != 1 {
		t.Fatalf("expected one auto_spam audit event, got %d", auditCount)
	}
}

// Scenario 5: two canonical candidates sharing fingerprint_v1 but with
// different body text land in the same collision group with
// message_count=2, both rows retained.
func TestScenarioCollisionGroup(t *testing.T) {
	e := newScenarioEnv(t)
	ctx := context.Background()

	first := rawMessage("msg-collide-1", "Order status", "carol@example.com", "support@example.com",
		"Where is my order?", nil)
	e.prov.Seed(first)
	occ1 := e.discover(t, provider.MessageRef{ProviderMessageID: "msg-collide-1", ProviderThreadID: "msg-collide-1"})
	e.runOccurrenceToRoute(t, occ1)

	// Same subject/from/date/to (same fingerprint input), different body.
	second := rawMessage("msg-collide-2", "Order status", "carol@example.com", "support@example.com",
		"Completely different body text here.", nil)
	e.prov.Seed(second)
	occ2 := e.discover(t, provider.MessageRef{ProviderMessageID: "msg-collide-2", ProviderThreadID: "msg-collide-2"})
	e.runOccurrenceToRoute(t, occ2)

	occ1Row, err := e.occs.Get(ctx, e.orgID, occ1)
	if err != nil {
		t.Fatalf("get occ1: %v", err)
	}
	occ2Row, err := e.occs.Get(ctx, e.orgID, occ2)
	if err != nil {
		t.Fatalf("get occ2: %v", err)
	}
	cm1, err := e.canonical.Get(ctx, e.orgID, *occ1Row.CanonicalMessageID)
	if err != nil {
		t.Fatalf("get cm1: %v", err)
	}
	cm2, err := e.canonical.Get(ctx, e.orgID, *occ2Row.CanonicalMessageID)
	if err != nil {
		t.Fatalf("get cm2: %v", err)
	}
	if cm1.ID == cm2.ID {
		t.Fatal("expected two distinct canonical messages for colliding bodies")
	}
	if cm1.CollisionGroupID == nil || cm2.CollisionGroupID == nil || *cm1.CollisionGroupID != *cm2.CollisionGroupID {
		t.Fatalf("expected both canonical messages to share a collision group, got %v and %v", cm1.CollisionGroupID, cm2.CollisionGroupID)
	}
	summary, err := e.admin.GetCollisionGroup(ctx, e.orgID, *cm1.CollisionGroupID)
	if err != nil {
		t.Fatalf("admin get collision group: %v", err)
	}
	if summary.MessageCount != 2 {
		t.Fatalf("expected message_count=2, got %d", summary.MessageCount)
	}
}

// Scenario 6: with this env's breaker threshold of three, three
// consecutive mailbox_history_sync failures trip the breaker; the fourth
// call observes paused_until in the future and returns
// early without calling the provider; a resume clears the pause.
func TestScenarioCircuitBreaker(t *testing.T) {
	e := newScenarioEnv(t)
	ctx := context.Background()

	e.prov.FailNext(3, fmt.Errorf("provider: transient upstream failure"))
	payload := mustJSONFor(t, mailbox.HistorySyncPayload{MailboxID: e.mailboxID})

	for i := 0; i < 3; i++ {
		if _, err := e.controller.RunHistorySync(ctx, e.orgID, payload); err == nil {
			t.Fatalf("expected failure %d to surface an error", i+1)
		}
	}

	var pausedUntil *time.Time
	if err := e.pool.QueryRow(ctx, `SELECT paused_until FROM mailboxes WHERE id = $1`, e.mailboxID).Scan(&pausedUntil); err != nil {
		t.Fatalf("read mailbox after breaker trip: %v", err)
	}
	if pausedUntil == nil || !pausedUntil.After(time.Now()) {
		t.Fatalf("expected breaker to trip after threshold failures, paused_until=%v", pausedUntil)
	}

	outcome, err := e.controller.RunHistorySync(ctx, e.orgID, payload)
	if err != nil {
		t.Fatalf("RunHistorySync while paused should not error: %v", err)
	}
	if outcome != mailbox.OutcomePaused {
		t.Fatalf("expected paused outcome, got %s", outcome)
	}

	if err := e.admin.Resume(ctx, e.orgID, e.mailboxID); err != nil {
		t.Fatalf("admin resume mailbox: %v", err)
	}
	var resumedPause *time.Time
	if err := e.pool.QueryRow(ctx, `SELECT paused_until FROM mailboxes WHERE id = $1`, e.mailboxID).Scan(&resumedPause); err != nil {
		t.Fatalf("read mailbox after resume: %v", err)
	}
	if resumedPause != nil {
		t.Fatalf("expected paused_until cleared after resume, got %v", *resumedPause)
	}

	var historyJobCount int
	if err := e.pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE organization_id = $1 AND type = $2 AND payload->>'mailbox_id' = $3`,
		e.orgID, queue.TypeMailboxHistory, e.mailboxID).Scan(&historyJobCount); err != nil {
		t.Fatalf("count history sync jobs after resume: %v", err)
	}
	if historyJobCount != 1 {
		t.Fatalf("expected exactly one mailbox_history_sync job after resume, got %d", historyJobCount)
	}
}

func mustJSONFor(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
