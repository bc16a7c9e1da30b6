// Package outbound publishes outbound-reply intents via SQS, grounded on
// the teacher's async-fan-out publisher idiom (internal/blobdelete,
// internal/mailboxcleanup): a narrow SQSSender interface for dependency
// inversion, a JSON message body, an error returned for a nil ticket or a
// failed send (no retry). Actually
// delivering the reply over SMTP is out of scope; this package's job
// ends at handing an external send worker everything it needs to stamp
// the X-OSS-Ticket-ID / X-OSS-Message-ID / Reply-To marker headers the
// stitch stage later recognizes.
package outbound

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"github.com/oss-support/journal-pipeline/internal/store"
)

// Intent is the SQS message body describing one ticket reply to send.
type Intent struct {
	OrganizationID     string `json:"organization_id"`
	TicketID           string `json:"ticket_id"`
	ToAddress          string `json:"to_address"`
	Subject            string `json:"subject"`
	BodyText           string `json:"body_text"`
	XOSSTicketIDMarker string `json:"x_oss_ticket_id_marker"`
	XOSSMessageID      string `json:"x_oss_message_id"`
	ReplyToAddress     string `json:"reply_to_address"`
}

// SQSSender abstracts SQS send operations for dependency inversion.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher publishes outbound-reply intents to an SQS queue.
type Publisher struct {
	client   SQSSender
	queueURL string
}

// NewPublisher creates a new Publisher.
func NewPublisher(client SQSSender, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

// PublishReplyIntent publishes one outbound-reply intent carrying the
// marker/reply-to-token values minted for ticket at creation time
// (store.Ticket.XOSSTicketIDMarker / ReplyToToken), so a reply landing
// back in the journal mailbox stitches onto the same ticket via the
// marker or reply-to-token priority rules.
func (p *Publisher) PublishReplyIntent(ctx context.Context, organizationID string, ticket *store.Ticket, toAddress, subject, bodyText, replyToDomain string) error {
	if ticket == nil {
		return fmt.Errorf("outbound: publish reply intent: nil ticket")
	}

	intent := Intent{
		OrganizationID:     organizationID,
		TicketID:           ticket.ID,
		ToAddress:          toAddress,
		Subject:            subject,
		BodyText:           bodyText,
		XOSSTicketIDMarker: ticket.XOSSTicketIDMarker,
		XOSSMessageID:      uuid.NewString(),
		ReplyToAddress:     fmt.Sprintf("ticket+%s@%s", ticket.ReplyToToken, replyToDomain),
	}

	body, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("outbound: marshal reply intent: %w", err)
	}

	bodyStr := string(body)
	if _, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &p.queueURL,
		MessageBody: &bodyStr,
	}); err != nil {
		return fmt.Errorf("outbound: send reply intent: %w", err)
	}
	return nil
}
