package email

import "testing"

func TestResolveRecipientPrefersWorkspaceHeader(t *testing.T) {
	p := &ParsedMessage{
		GmOriginalTo: "team@example.com",
		DeliveredTo:  "other@example.com",
	}
	got := ResolveRecipient(p, nil)
	if got.Source != "workspace_header" || got.Confidence != "high" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveRecipientFallsBackToDeliveredTo(t *testing.T) {
	p := &ParsedMessage{DeliveredTo: "team@example.com"}
	got := ResolveRecipient(p, nil)
	if got.Source != "delivered_to" || got.Confidence != "medium" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveRecipientFallsBackToXOriginalTo(t *testing.T) {
	p := &ParsedMessage{XOriginalTo: "team@example.com"}
	got := ResolveRecipient(p, nil)
	if got.Source != "x_original_to" || got.Confidence != "medium" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveRecipientScansToAndCCDomains(t *testing.T) {
	p := &ParsedMessage{
		To: []EmailAddress{{Email: "someone@other.com"}},
		CC: []EmailAddress{{Email: "team@example.com"}},
	}
	got := ResolveRecipient(p, map[string]bool{"example.com": true})
	if got.Source != "to_cc_scan" || got.Confidence != "low" || got.Address != "team@example.com" {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveRecipientUnknownWhenNoEvidence(t *testing.T) {
	p := &ParsedMessage{To: []EmailAddress{{Email: "someone@other.com"}}}
	got := ResolveRecipient(p, map[string]bool{"example.com": true})
	if got.Source != "unknown" || got.Confidence != "low" || got.Address != "" {
		t.Fatalf("got %+v", got)
	}
}
