package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oss-support/journal-pipeline/internal/provider"
	"github.com/oss-support/journal-pipeline/internal/queue"
)

// Breaker configuration, defaults per the circuit-breaker design note.
type Breaker struct {
	Threshold   int
	PauseWindow time.Duration
	Cadence     time.Duration
}

// DefaultBreaker matches the spec's stated defaults: 5 consecutive
// failures trips the breaker, 30 minute pause, 60 second steady-state
// incremental-sync cadence.
var DefaultBreaker = Breaker{
	Threshold:   5,
	PauseWindow: 30 * time.Minute,
	Cadence:     60 * time.Second,
}

// ProviderFactory resolves a live provider.Provider for a mailbox, given
// its decrypted credential. Kept as a function value so the worker host
// can swap in provider.FakeProvider for tests without the controller
// knowing which provider kind it's driving.
type ProviderFactory func(ctx context.Context, m *Mailbox, credential []byte) (provider.Provider, error)

// Outcome reports what a sync job handler did, distinguishing a
// circuit-breaker no-op from a genuine completion so callers can decide
// whether to log at info or debug.
type Outcome string

const (
	OutcomePaused    Outcome = "paused"
	OutcomeCompleted Outcome = "completed"
	OutcomeRecovery  Outcome = "recovery_enqueued"
)

// Controller drives mailbox backfill and incremental sync, the circuit
// breaker, and cadence scheduling, grounded on the reference FullScan
// routine's page-at-a-time loop (niraj8-things gmail sync.go) generalized
// off a single Gmail call into the Provider interface, and on the
// teacher's constructor-with-dependencies pattern (cmd/email-import
// newHandler).
type Controller struct {
	repo     *Repository
	jobs     *queue.Store
	box      Decrypter
	factory  ProviderFactory
	breaker  Breaker
	onNewRef func(ctx context.Context, organizationID, mailboxID string, ref provider.MessageRef) error
}

// Decrypter opens a mailbox's encrypted credential; satisfied by
// *cryptoutil.Box.
type Decrypter interface {
	Open(mailboxID string, blob []byte) ([]byte, error)
}

// NewController builds a Controller. onNewRef is invoked once per
// discovered message (backfill or incremental) to enqueue an
// occurrence_fetch_raw job; it is injected rather than hardcoded so the
// controller doesn't need to know the occurrence store's shape.
func NewController(repo *Repository, jobs *queue.Store, box Decrypter, factory ProviderFactory, breaker Breaker,
	onNewRef func(ctx context.Context, organizationID, mailboxID string, ref provider.MessageRef) error) *Controller {
	return &Controller{repo: repo, jobs: jobs, box: box, factory: factory, breaker: breaker, onNewRef: onNewRef}
}

// BackfillPayload is the occurrence_fetch driving payload for a
// mailbox_backfill job.
type BackfillPayload struct {
	MailboxID string `json:"mailbox_id"`
	PageToken string `json:"page_token,omitempty"`
}

// HistorySyncPayload is the payload for a mailbox_history_sync job.
type HistorySyncPayload struct {
	MailboxID string `json:"mailbox_id"`
}

// RunBackfill pages through the provider's full message listing,
// enqueuing occurrence_fetch_raw per discovered message, then records the
// provider's current history cursor so future syncs can go incremental.
func (c *Controller) RunBackfill(ctx context.Context, organizationID string, payload json.RawMessage) (Outcome, error) {
	var p BackfillPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("mailbox: decode backfill payload: %w", err)
	}

	m, err := c.repo.Get(ctx, organizationID, p.MailboxID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if m.IsPaused(now) {
		return OutcomePaused, nil
	}

	prov, err := c.openProvider(ctx, m)
	if err != nil {
		return "", c.fail(ctx, m, err)
	}

	refs, next, err := prov.ListMessages(ctx, p.PageToken)
	if err != nil {
		return "", c.fail(ctx, m, err)
	}
	for _, ref := range refs {
		if err := c.onNewRef(ctx, organizationID, m.ID, ref); err != nil {
			return "", c.fail(ctx, m, err)
		}
	}

	if next != "" {
		_, err := c.jobs.Enqueue(ctx, organizationID, queue.TypeMailboxBackfill,
			BackfillPayload{MailboxID: m.ID, PageToken: next}, "")
		if err != nil {
			return "", fmt.Errorf("mailbox: enqueue next backfill page: %w", err)
		}
		return OutcomeCompleted, nil
	}

	prof, err := prov.Profile(ctx)
	if err != nil {
		return "", c.fail(ctx, m, err)
	}
	if err := c.repo.RecordBackfillSuccess(ctx, m.ID, prof.HistoryID, now); err != nil {
		return "", err
	}
	if _, err := c.jobs.Enqueue(ctx, organizationID, queue.TypeMailboxHistory,
		HistorySyncPayload{MailboxID: m.ID}, "", queue.WithRunAt(now.Add(c.breaker.Cadence))); err != nil {
		return "", fmt.Errorf("mailbox: enqueue first history sync: %w", err)
	}
	return OutcomeCompleted, nil
}

// RunHistorySync fetches the incremental delta since the mailbox's stored
// cursor. On ErrCursorInvalid it enqueues a recovery backfill (idempotency
// key "recovery") rather than tripping the breaker, since a single cursor
// invalidation is not itself a sync failure worth counting.
func (c *Controller) RunHistorySync(ctx context.Context, organizationID string, payload json.RawMessage) (Outcome, error) {
	var p HistorySyncPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("mailbox: decode history payload: %w", err)
	}

	m, err := c.repo.Get(ctx, organizationID, p.MailboxID)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if m.IsPaused(now) {
		return OutcomePaused, nil
	}

	prov, err := c.openProvider(ctx, m)
	if err != nil {
		return "", c.fail(ctx, m, err)
	}

	events, nextCursor, err := prov.HistoryDelta(ctx, m.HistoryCursor)
	if err != nil {
		if errors.Is(err, provider.ErrCursorInvalid) {
			if _, enqErr := c.jobs.Enqueue(ctx, organizationID, queue.TypeMailboxBackfill,
				BackfillPayload{MailboxID: m.ID}, "recovery"); enqErr != nil {
				return "", fmt.Errorf("mailbox: enqueue recovery backfill: %w", enqErr)
			}
			if recErr := c.repo.RecordCursorRecovery(ctx, m.ID, err.Error()); recErr != nil {
				return "", recErr
			}
			return OutcomeRecovery, nil
		}
		return "", c.fail(ctx, m, err)
	}

	for _, ev := range events {
		if ev.Type != "added" {
			continue
		}
		ref := provider.MessageRef{ProviderMessageID: ev.ProviderMessageID}
		if err := c.onNewRef(ctx, organizationID, m.ID, ref); err != nil {
			return "", c.fail(ctx, m, err)
		}
	}

	if err := c.repo.RecordIncrementalSuccess(ctx, m.ID, nextCursor, now); err != nil {
		return "", err
	}
	if _, err := c.jobs.Enqueue(ctx, organizationID, queue.TypeMailboxHistory,
		HistorySyncPayload{MailboxID: m.ID}, "", queue.WithRunAt(now.Add(c.breaker.Cadence))); err != nil {
		return "", fmt.Errorf("mailbox: enqueue next history sync: %w", err)
	}
	return OutcomeCompleted, nil
}

func (c *Controller) openProvider(ctx context.Context, m *Mailbox) (provider.Provider, error) {
	cred, err := c.box.Open(m.ID, m.EncryptedCredential)
	if err != nil {
		return nil, fmt.Errorf("mailbox: decrypt credential: %w", err)
	}
	return c.factory(ctx, m, cred)
}

// fail records a sync failure against the configured threshold and pause
// window (potentially tripping the breaker) and returns the original
// error. Cursor recovery does not come through here: it is recorded by
// RecordCursorRecovery, which leaves the failure counter untouched.
func (c *Controller) fail(ctx context.Context, m *Mailbox, cause error) error {
	if recErr := c.repo.RecordSyncFailure(ctx, m.ID, cause.Error(), c.breaker.Threshold, c.breaker.PauseWindow, time.Now()); recErr != nil {
		return fmt.Errorf("mailbox: record sync failure after %v: %w", cause, recErr)
	}
	return cause
}
