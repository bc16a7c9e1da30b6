package pipeline

import (
	"strings"
	"testing"

	"github.com/oss-support/journal-pipeline/internal/email"
)

func TestDomainOfExtractsLowercaseDomain(t *testing.T) {
	if got := domainOf("Support@Example.COM"); got != "example.com" {
		t.Fatalf("got %q", got)
	}
}

func TestDomainOfNoAtSignIsEmpty(t *testing.T) {
	if got := domainOf("not-an-address"); got != "" {
		t.Fatalf("expected empty domain, got %q", got)
	}
}


func TestAddrEmailsExtractsEmailOnly(t *testing.T) {
	got := addrEmails([]email.EmailAddress{
		{Name: "Alice", Email: "alice@example.com"},
		{Name: "Bob", Email: "bob@example.com"},
	})
	if len(got) != 2 || got[0] != "alice@example.com" || got[1] != "bob@example.com" {
		t.Fatalf("got %+v", got)
	}
}

func TestTruncateLeavesShortStringsUntouched(t *testing.T) {
	if got := truncate("hello", 280); got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateCutsLongStrings(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := truncate(long, 280)
	if len(got) != 280 {
		t.Fatalf("expected 280 bytes, got %d", len(got))
	}
}

func TestTicketCodeHasExpectedPrefix(t *testing.T) {
	got := ticketCode()
	if !strings.HasPrefix(got, "T-") {
		t.Fatalf("got %q", got)
	}
	if strings.Count(got, "-") != 1 {
		t.Fatalf("expected exactly one separator, got %q", got)
	}
}

func TestTicketCodeIsNotConstant(t *testing.T) {
	a := ticketCode()
	b := ticketCode()
	if a == b {
		t.Fatal("expected distinct ticket codes across calls")
	}
}
