package admin

import (
	"testing"

	"github.com/oss-support/journal-pipeline/internal/store"
)

func TestDomainOfLowercasesDomain(t *testing.T) {
	if got := domainOf("Sender@Example.COM"); got != "example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestDomainOfNoAtSignIsEmpty(t *testing.T) {
	if got := domainOf("not-an-address"); got != "" {
		t.Fatalf("expected empty domain, got %q", got)
	}
}

func TestGroupByFingerprintBucketsSharedFingerprints(t *testing.T) {
	candidates := []store.CanonicalMessage{
		{ID: "a", FingerprintV1: "fp1"},
		{ID: "b", FingerprintV1: "fp1"},
		{ID: "c", FingerprintV1: "fp2"},
	}
	groups := groupByFingerprint(candidates)
	if len(groups["fp1"]) != 2 {
		t.Fatalf("expected 2 candidates for fp1, got %d", len(groups["fp1"]))
	}
	if len(groups["fp2"]) != 1 {
		t.Fatalf("expected 1 candidate for fp2, got %d", len(groups["fp2"]))
	}
}

func TestGroupByFingerprintEmptyInput(t *testing.T) {
	if groups := groupByFingerprint(nil); len(groups) != 0 {
		t.Fatalf("expected no groups, got %d", len(groups))
	}
}
