// Package store is the Canonical Store: organization-scoped Postgres
// repositories for occurrences, canonical messages, attachments, tickets,
// collision groups, routing tables, and audit events. Every method takes
// organization_id as an explicit parameter and bakes it into the query so
// no access path can cross tenancy boundaries, generalizing the teacher's
// per-entity Repository interfaces (internal/mailbox/repository.go,
// internal/email/token_repository.go) from DynamoDB partition keys onto
// SQL WHERE clauses.
package store

import "time"

// OccurrenceState is the Message Occurrence lifecycle.
type OccurrenceState string

const (
	OccurrenceDiscovered OccurrenceState = "discovered"
	OccurrenceFetched    OccurrenceState = "fetched"
	OccurrenceParsed     OccurrenceState = "parsed"
	OccurrenceStitched   OccurrenceState = "stitched"
	OccurrenceRouted     OccurrenceState = "routed"
	OccurrenceFailed     OccurrenceState = "failed"
)

// RecipientSource is how original_recipient was determined.
type RecipientSource string

const (
	SourceWorkspaceHeader RecipientSource = "workspace_header"
	SourceDeliveredTo     RecipientSource = "delivered_to"
	SourceXOriginalTo     RecipientSource = "x_original_to"
	SourceToCCScan        RecipientSource = "to_cc_scan"
	SourceUnknown         RecipientSource = "unknown"
)

// Confidence grades how much to trust a derived fact (recipient evidence,
// stitch decision).
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Occurrence is a single appearance of a message in one mailbox.
type Occurrence struct {
	ID                string
	OrganizationID    string
	MailboxID         string
	ProviderMessageID string
	ProviderThreadID  string
	State             OccurrenceState
	BlobContentHash   string
	CanonicalMessageID *string
	OriginalRecipient string
	RecipientSource   RecipientSource
	RecipientConf     Confidence
	Direction         string // "inbound" or "outbound"
	ParseError        *string
	StitchError       *string
	RouteError        *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CanonicalMessage is the deduped logical email.
type CanonicalMessage struct {
	ID               string
	OrganizationID   string
	FingerprintV1    string
	Subject          string
	FromAddress      string
	ToAddresses      []string
	CCAddresses      []string
	DateHeader       time.Time
	Snippet          string
	BodyText         string
	BodyHTMLSanitized string
	BodyTextHash64K  string
	CollisionGroupID *string
	ParserVersion    string
	SanitizerVersion string
	XOSSTicketID     string
	XOSSMessageID    string
	RFC822MessageID  string
	ReferenceIDs     []string
	ReplyToAddresses []string
	HasThreadingHdr  bool
	TicketID         *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Attachment is a blob-backed attachment of a canonical message.
type Attachment struct {
	ID                 string
	OrganizationID     string
	CanonicalMessageID string
	ContentHash        string
	Filename           string
	ContentType        string
	SizeBytes          int64
	IsInline           bool
	ContentID          string
	CreatedAt          time.Time
}

// TicketStatus is the lifecycle of a Ticket.
type TicketStatus string

const (
	TicketNew      TicketStatus = "new"
	TicketOpen     TicketStatus = "open"
	TicketPending  TicketStatus = "pending"
	TicketResolved TicketStatus = "resolved"
	TicketClosed   TicketStatus = "closed"
	TicketSpam     TicketStatus = "spam"
)

// StitchReason records which rule attached a canonical message to a ticket.
type StitchReason string

const (
	StitchNewTicket      StitchReason = "new_ticket"
	StitchXOSSMarker     StitchReason = "x_oss_marker"
	StitchReplyToToken   StitchReason = "reply_to_token"
	StitchReferenceGraph StitchReason = "references_graph"
	StitchSubjectMatch   StitchReason = "subject_match"
)

// Ticket groups one or more canonical messages.
type Ticket struct {
	ID              string
	OrganizationID  string
	Code            string
	Subject         string
	Status          TicketStatus
	Priority        string
	RequesterEmail  string
	AssigneeUserID  *string
	AssigneeQueueID *string
	StitchReason    StitchReason
	StitchConfidence Confidence
	XOSSTicketIDMarker string
	ReplyToToken       string
	LastActivityAt  time.Time
	ClosedAt        *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CollisionGroup records ambiguity between canonical candidates that share
// fingerprint inputs but differ meaningfully.
type CollisionGroup struct {
	ID             string
	OrganizationID string
	Reason         string
	CreatedAt      time.Time
}

// AllowlistEntry is a glob pattern recipients must match to avoid the
// auto-spam path.
type AllowlistEntry struct {
	ID             string
	OrganizationID string
	Pattern        string
	Enabled        bool
}

// RoutingRule is one organization-scoped, priority-ordered routing rule:
// the patterns it matches on and the action it applies when it matches.
type RoutingRule struct {
	ID                   string
	OrganizationID       string
	Priority             int
	Enabled              bool
	RecipientPattern     string
	SenderDomainPattern  string
	SenderEmailPattern   string
	Direction            string
	AssignQueueID        string
	AssignUserID         string
	SetStatus            string
	Drop                 bool
	AutoClose            bool
}

// AuditEvent records a ticket/occurrence mutation for ops review.
type AuditEvent struct {
	ID             string
	OrganizationID string
	TicketID       *string
	OccurrenceID   *string
	Kind           string
	Detail         string
	CreatedAt      time.Time
}
