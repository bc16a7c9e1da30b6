// Package mailbox holds the Mailbox domain type, its Postgres repository,
// and the Sync Controller that drives backfill/incremental sync, the
// per-mailbox circuit breaker, and cadence scheduling, generalized from
// the teacher's DynamoDB-keyed mailbox.Repository (internal/mailbox) onto
// an organization-scoped relational store.
package mailbox

import (
	"errors"
	"time"
)

// Error types for repository operations, kept from the teacher's naming
// convention (internal/mailbox/repository.go) with DynamoDB-specific
// ErrTransactionFailed dropped since Postgres transactions surface their
// own errors directly.
var (
	ErrNotFound          = errors.New("mailbox: not found")
	ErrRoleAlreadyExists = errors.New("mailbox: a mailbox with this purpose already exists for the organization")
)

// ProviderKind identifies which upstream mail source a mailbox is configured
// against.
type ProviderKind string

const (
	ProviderGmail ProviderKind = "gmail"
	ProviderFake  ProviderKind = "fake"
)

// Purpose distinguishes the one journal mailbox per organization from any
// other mailbox role the schema might grow.
const PurposeJournal = "journal"

// Mailbox is one journal-mailbox configuration: the provider identity, its
// encrypted refresh credential, sync cursor state, and circuit-breaker
// pause window.
type Mailbox struct {
	ID                      string
	OrganizationID          string
	Purpose                 string
	Provider                ProviderKind
	ExternalEmail           string
	EncryptedCredential     []byte // cryptoutil.Box-sealed refresh token
	HistoryCursor           string // "" until the first successful backfill
	LastFullSyncAt          *time.Time
	LastIncrementalSyncAt   *time.Time
	LastSyncError           string
	ConsecutiveSyncFailures int
	PausedUntil             *time.Time
	PauseReason             string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// SyncLag reports time since the most recent successful sync of either
// kind, preferring the incremental timestamp per the sync-lag design note.
func (m *Mailbox) SyncLag(now time.Time) (time.Duration, bool) {
	switch {
	case m.LastIncrementalSyncAt != nil:
		return now.Sub(*m.LastIncrementalSyncAt), true
	case m.LastFullSyncAt != nil:
		return now.Sub(*m.LastFullSyncAt), true
	default:
		return 0, false
	}
}

// IsPaused reports whether the circuit breaker is currently open.
func (m *Mailbox) IsPaused(now time.Time) bool {
	return m.PausedUntil != nil && now.Before(*m.PausedUntil)
}

// HasCursor reports whether the mailbox has completed at least one
// backfill and can use incremental history sync.
func (m *Mailbox) HasCursor() bool {
	return m.HistoryCursor != ""
}
