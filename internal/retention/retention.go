// Package retention implements the orphaned-canonical-message sweep:
// canonical messages every occurrence has since been dropped from (a
// mailbox re-sync that decided a message never belonged, or an operator
// drop) outlive their occurrences and would otherwise accumulate forever.
// Adapted from the teacher's async blob-delete idiom (internal/blobdelete):
// deletion is never inline here either — the sweep publishes a delete
// intent per orphan and only removes the relational rows once that
// publish succeeds, so a downstream SQS consumer remains the sole place
// blob bytes are actually freed.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/oss-support/journal-pipeline/internal/store"
)

// SQSSender abstracts SQS send operations for dependency inversion,
// mirroring the teacher's blobdelete.SQSSender.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// DeleteIntent is the SQS message body published per orphaned canonical
// message, naming the attachment payload blobs the downstream consumer
// must free. The raw RFC822 blob is not listed.
type DeleteIntent struct {
	OrganizationID      string   `json:"organization_id"`
	CanonicalMessageID  string   `json:"canonical_message_id"`
	AttachmentHashes     []string `json:"attachment_content_hashes"`
}

// Publisher publishes DeleteIntent messages for a Sweeper to consume.
type Publisher struct {
	client   SQSSender
	queueURL string
}

// NewPublisher builds a Publisher bound to one SQS queue.
func NewPublisher(client SQSSender, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// PublishDelete sends one orphan's delete intent.
func (p *Publisher) PublishDelete(ctx context.Context, intent DeleteIntent) error {
	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("retention: marshal delete intent: %w", err)
	}
	bodyStr := string(body)
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
	})
	if err != nil {
		return fmt.Errorf("retention: publish delete intent: %w", err)
	}
	return nil
}

// Sweeper finds canonical messages past the retention window with no
// remaining occurrence, publishes a delete intent for each, and removes
// the relational rows once the publish is acknowledged.
type Sweeper struct {
	canonical   *store.CanonicalRepository
	attachments *store.AttachmentRepository
	publisher   *Publisher
	window      time.Duration
}

// DefaultWindow matches the retention policy decided for orphaned
// canonical messages: ninety days gives an operator ample time to notice
// and re-backfill a mailbox before content is gone for good.
const DefaultWindow = 90 * 24 * time.Hour

// NewSweeper builds a Sweeper. window <= 0 falls back to DefaultWindow.
func NewSweeper(canonical *store.CanonicalRepository, attachments *store.AttachmentRepository, publisher *Publisher, window time.Duration) *Sweeper {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Sweeper{canonical: canonical, attachments: attachments, publisher: publisher, window: window}
}

// Sweep scans up to limit orphan candidates and purges every one it finds,
// returning the count actually removed.
func (s *Sweeper) Sweep(ctx context.Context, organizationID string, limit int) (int, error) {
	cutoff := time.Now().Add(-s.window)
	orphans, err := s.canonical.ListOrphaned(ctx, organizationID, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("retention: sweep: list orphaned: %w", err)
	}

	purged := 0
	for _, c := range orphans {
		atts, err := s.attachments.ListByCanonicalMessage(ctx, organizationID, c.ID)
		if err != nil {
			return purged, fmt.Errorf("retention: sweep: list attachments for %s: %w", c.ID, err)
		}
		hashes := make([]string, len(atts))
		for i, a := range atts {
			hashes[i] = a.ContentHash
		}

		// the raw RFC822 blob is addressed via message_occurrences.blob_content_hash,
		// already gone along with the last occurrence; only attachment
		// blobs can still be referenced once a canonical message is an orphan.
		intent := DeleteIntent{OrganizationID: organizationID, CanonicalMessageID: c.ID, AttachmentHashes: hashes}
		if err := s.publisher.PublishDelete(ctx, intent); err != nil {
			return purged, err
		}
		if err := s.canonical.Delete(ctx, organizationID, c.ID); err != nil {
			return purged, fmt.Errorf("retention: sweep: delete %s: %w", c.ID, err)
		}
		purged++
	}
	return purged, nil
}
