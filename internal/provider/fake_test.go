package provider

import (
	"context"
	"testing"
)

func TestFakeProviderListMessagesPaginates(t *testing.T) {
	ctx := context.Background()
	p := NewFakeProvider(Profile{EmailAddress: "support@example.com"})
	for i := 0; i < 5; i++ {
		p.Seed(RawMessage{ProviderMessageID: idFor(i), RFC822: []byte("msg")})
	}

	var seen []string
	token := ""
	for {
		refs, next, err := p.ListMessages(ctx, token)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		for _, r := range refs {
			seen = append(seen, r.ProviderMessageID)
		}
		if next == "" {
			break
		}
		token = next
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 messages across pages, got %d: %v", len(seen), seen)
	}
}

func TestFakeProviderHistoryDeltaReportsAddedAndRemoved(t *testing.T) {
	ctx := context.Background()
	p := NewFakeProvider(Profile{EmailAddress: "support@example.com"})
	p.Seed(RawMessage{ProviderMessageID: "m1"})

	profile, err := p.Profile(ctx)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	cursor := profile.HistoryID

	p.Seed(RawMessage{ProviderMessageID: "m2"})
	p.Delete("m1")

	events, _, err := p.HistoryDelta(ctx, cursor)
	if err != nil {
		t.Fatalf("history delta: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after cursor, got %d: %+v", len(events), events)
	}
	if events[0].Type != "added" || events[0].ProviderMessageID != "m2" {
		t.Errorf("expected first event to add m2, got %+v", events[0])
	}
	if events[1].Type != "removed" || events[1].ProviderMessageID != "m1" {
		t.Errorf("expected second event to remove m1, got %+v", events[1])
	}
}

func TestFakeProviderInvalidCursorTriggersRecovery(t *testing.T) {
	ctx := context.Background()
	p := NewFakeProvider(Profile{EmailAddress: "support@example.com"})
	p.Seed(RawMessage{ProviderMessageID: "m1"})
	p.InvalidateCursor("stale-cursor")

	_, _, err := p.HistoryDelta(ctx, "stale-cursor")
	if err == nil {
		t.Fatal("expected ErrCursorInvalid")
	}
}

func TestFakeProviderFetchRawMissingIsGone(t *testing.T) {
	ctx := context.Background()
	p := NewFakeProvider(Profile{EmailAddress: "support@example.com"})
	_, err := p.FetchRaw(ctx, "missing")
	if err != ErrMessageGone {
		t.Fatalf("expected ErrMessageGone, got %v", err)
	}
}

func idFor(i int) string {
	return "m" + string(rune('a'+i))
}
