package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/oss-support/journal-pipeline/internal/store"
)

type mockSQSSender struct {
	sendFunc func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

func (m *mockSQSSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if m.sendFunc != nil {
		return m.sendFunc(ctx, params, optFns...)
	}
	return &sqs.SendMessageOutput{}, nil
}

func testTicket() *store.Ticket {
	return &store.Ticket{
		ID:                 "tick-1",
		XOSSTicketIDMarker: "OSS-ABCD1234",
		ReplyToToken:       "tok-xyz",
	}
}

func TestPublisherPublishReplyIntentSuccess(t *testing.T) {
	var capturedBody string
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			capturedBody = *params.MessageBody
			return &sqs.SendMessageOutput{}, nil
		},
	}

	pub := NewPublisher(mock, "https://sqs.example.com/queue")
	err := pub.PublishReplyIntent(context.Background(), "org-1", testTicket(), "customer@external.com", "Re: help", "thanks for writing in", "support.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msg Intent
	if err := json.Unmarshal([]byte(capturedBody), &msg); err != nil {
		t.Fatalf("failed to parse message body: %v", err)
	}
	if msg.OrganizationID != "org-1" {
		t.Errorf("OrganizationID = %q, want org-1", msg.OrganizationID)
	}
	if msg.TicketID != "tick-1" {
		t.Errorf("TicketID = %q, want tick-1", msg.TicketID)
	}
	if msg.XOSSTicketIDMarker != "OSS-ABCD1234" {
		t.Errorf("XOSSTicketIDMarker = %q, want OSS-ABCD1234", msg.XOSSTicketIDMarker)
	}
	if msg.ReplyToAddress != "ticket+tok-xyz@support.example.com" {
		t.Errorf("ReplyToAddress = %q, want ticket+tok-xyz@support.example.com", msg.ReplyToAddress)
	}
	if msg.XOSSMessageID == "" {
		t.Error("expected a generated message id")
	}
}

func TestPublisherPublishReplyIntentSQSError(t *testing.T) {
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			return nil, errors.New("sqs send failed")
		},
	}

	pub := NewPublisher(mock, "https://sqs.example.com/queue")
	err := pub.PublishReplyIntent(context.Background(), "org-1", testTicket(), "customer@external.com", "Re: help", "body", "support.example.com")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestPublisherPublishReplyIntentNilTicket(t *testing.T) {
	pub := NewPublisher(&mockSQSSender{}, "https://sqs.example.com/queue")
	err := pub.PublishReplyIntent(context.Background(), "org-1", nil, "customer@external.com", "Re: help", "body", "support.example.com")
	if err == nil {
		t.Fatal("expected error for nil ticket")
	}
}

func TestPublisherPublishReplyIntentEachCallGetsDistinctMessageID(t *testing.T) {
	var bodies []string
	mock := &mockSQSSender{
		sendFunc: func(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
			bodies = append(bodies, *params.MessageBody)
			return &sqs.SendMessageOutput{}, nil
		},
	}
	pub := NewPublisher(mock, "https://sqs.example.com/queue")
	ticket := testTicket()
	if err := pub.PublishReplyIntent(context.Background(), "org-1", ticket, "a@example.com", "s", "b", "support.example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pub.PublishReplyIntent(context.Background(), "org-1", ticket, "a@example.com", "s", "b", "support.example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var first, second Intent
	if err := json.Unmarshal([]byte(bodies[0]), &first); err != nil {
		t.Fatalf("unmarshal first: %v", err)
	}
	if err := json.Unmarshal([]byte(bodies[1]), &second); err != nil {
		t.Fatalf("unmarshal second: %v", err)
	}
	if first.XOSSMessageID == second.XOSSMessageID {
		t.Fatal("expected distinct message ids across publishes")
	}
}
