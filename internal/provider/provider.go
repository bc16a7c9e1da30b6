// Package provider defines the upstream mail source contract (the
// Provider external interface) and two implementations: a real Gmail API
// provider and a deterministic in-memory fake for tests.
package provider

import (
	"context"
	"errors"
	"time"
)

// ErrCursorInvalid is returned by HistoryDelta when the supplied cursor is
// no longer resolvable upstream (e.g. Gmail's historyId has aged out),
// signalling the Sync Controller to fall back to a backfill.
var ErrCursorInvalid = errors.New("provider: history cursor invalid")

// ErrMessageGone is returned by FetchRaw when the upstream message has
// been deleted since it was listed.
var ErrMessageGone = errors.New("provider: message no longer exists")

// MessageRef identifies one upstream message without fetching its body.
type MessageRef struct {
	ProviderMessageID string
	ProviderThreadID  string
}

// HistoryEvent describes one incremental change surfaced by HistoryDelta:
// a message added or removed from the set the mailbox ingests.
type HistoryEvent struct {
	Type              string // "added" or "removed"
	ProviderMessageID string
}

// RawMessage is the unparsed upstream payload plus the provider's own
// message/thread ids and label ids. It carries no separate
// recipient/envelope metadata.
type RawMessage struct {
	ProviderMessageID string
	ProviderThreadID  string
	RFC822            []byte
	LabelIDs          []string
}

// Profile is the mailbox-level identity the provider reports, used to
// detect the operator having pointed a mailbox config at a different
// inbox than the one it was originally authorized against.
type Profile struct {
	EmailAddress string
	HistoryID    string
}

// Provider is the upstream mail source contract. Implementations must be
// safe for concurrent use by multiple worker goroutines.
type Provider interface {
	// Profile reports the authenticated mailbox identity and its current
	// history cursor, used both for backfill bootstrapping and for
	// detecting account drift.
	Profile(ctx context.Context) (Profile, error)

	// ListMessages enumerates all messages for a full backfill, paging
	// until pageToken comes back empty. Returns the next page token to
	// resume with, or "" when exhausted.
	ListMessages(ctx context.Context, pageToken string) (refs []MessageRef, nextPageToken string, err error)

	// HistoryDelta returns incremental changes since cursor along with the
	// cursor to persist for the next call. Returns ErrCursorInvalid when
	// cursor can no longer be resolved.
	HistoryDelta(ctx context.Context, cursor string) (events []HistoryEvent, nextCursor string, err error)

	// FetchRaw retrieves the full RFC822 payload for one message.
	FetchRaw(ctx context.Context, providerMessageID string) (RawMessage, error)
}

// RateLimited is implemented by providers that expose their own
// retry-after hint, letting callers avoid guessing at backoff timing for
// 429/503 responses.
type RateLimited interface {
	RetryAfter(err error) (time.Duration, bool)
}
