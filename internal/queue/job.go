// Package queue implements the durable Postgres-backed job queue: leasing
// with SELECT ... FOR UPDATE SKIP LOCKED, visibility-timeout-based
// reclaiming, exponential backoff with full jitter, and a dead-letter
// queue for exhausted jobs.
package queue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job row.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
	StatusDead    Status = "dead"
	StatusDone    Status = "done"
)

// Job types, one per Occurrence Pipeline stage plus mailbox sync stages.
const (
	TypeMailboxBackfill  = "mailbox_backfill"
	TypeMailboxHistory   = "mailbox_history_sync"
	TypeOccurrenceFetch  = "occurrence_fetch_raw"
	TypeOccurrenceParse  = "occurrence_parse"
	TypeOccurrenceStitch = "occurrence_stitch"
	TypeTicketRouting    = "ticket_apply_routing"
)

// Job is one unit of work. Payload is a job-type-specific JSON document
// validated by the pipeline package before a handler ever sees it.
type Job struct {
	ID             string
	OrganizationID string
	Type           string
	Payload        json.RawMessage
	Status         Status
	Attempts       int
	MaxAttempts    int
	IdempotencyKey string
	RunAt          time.Time
	LockExpiresAt  *time.Time
	LockOwner      *string
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Handle is the claim a worker holds on a leased job: enough to complete,
// fail, or extend the lease without re-reading the full row.
type Handle struct {
	JobID          string
	OrganizationID string
	Type           string
	Payload        json.RawMessage
	Attempts       int
	LockOwner      string
}
