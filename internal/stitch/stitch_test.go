package stitch

import "testing"

func TestExtractReplyToTokenMatches(t *testing.T) {
	got := extractReplyToToken([]string{"Someone <other@example.com>", "ticket+abc123@support.example.com"})
	if got != "abc123" {
		t.Fatalf("got %q", got)
	}
}

func TestExtractReplyToTokenNoMatch(t *testing.T) {
	got := extractReplyToToken([]string{"nobody@example.com"})
	if got != "" {
		t.Fatalf("expected empty token, got %q", got)
	}
}

func TestNormalizeSubjectStripsRepeatedPrefixes(t *testing.T) {
	got := normalizeSubject("Re: Re: Fwd: Invoice #42")
	if got != "invoice #42" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeSubjectNoPrefix(t *testing.T) {
	got := normalizeSubject("  Invoice #42  ")
	if got != "invoice #42" {
		t.Fatalf("got %q", got)
	}
}
