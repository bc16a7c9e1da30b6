// Package fingerprint computes Fingerprint v1, the stable hash over
// normalized message fields that gives a logical email its canonical
// identity, deliberately excluding Message-ID because Workspace rewrites
// it in transit. Text fields are collapsed to a single whitespace run and
// NFC-normalized before hashing (the teacher's header-text normalization,
// narrowed to the whitespace/Unicode concerns that matter once
// internal/email has already done RFC 2047 decoding upstream) so the same
// logical message always normalizes to the same tuple regardless of which
// mailbox or MIME client produced it.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// runsOfSpace matches two-or-more consecutive spaces/tabs, collapsed to
// one so re-folded or re-wrapped header text compares equal.
var runsOfSpace = regexp.MustCompile(`[ \t][ \t]+`)

// collapseWhitespace replaces tabs with spaces, collapses whitespace
// runs, trims the ends, and normalizes to NFC.
func collapseWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\t", " ")
	s = runsOfSpace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return norm.NFC.String(s)
}

// maxBodyBytes bounds how much of the body text enters the fingerprint,
// per the "body-text-sha256-first-64KB" rule — large bodies are
// prohibitively expensive to hash in full and the first 64KB is
// sufficient to distinguish genuinely different messages.
const maxBodyBytes = 64 * 1024

// Input is the normalized-at-the-boundary tuple Fingerprint hashes over.
// Callers supply already-decoded header values (e.g. from
// email.ParsedMessage's From/To/CC); normalization of text fields happens
// inside Compute.
type Input struct {
	Subject    string
	From       string
	Date       time.Time
	To         []string
	CC         []string
	BodyText   string
}

// Compute derives Fingerprint v1: hex-encoded SHA-256 over
// normalized-subject, normalized-from, normalized-date (second precision),
// sorted-normalized-to-and-cc, and the first 64KB of body text.
func Compute(in Input) string {
	h := sha256.New()

	writeField(h, normalizeText(in.Subject))
	writeField(h, normalizeAddress(in.From))
	writeField(h, in.Date.UTC().Truncate(time.Second).Format(time.RFC3339))

	recipients := make([]string, 0, len(in.To)+len(in.CC))
	for _, a := range in.To {
		recipients = append(recipients, normalizeAddress(a))
	}
	for _, a := range in.CC {
		recipients = append(recipients, normalizeAddress(a))
	}
	sort.Strings(recipients)
	writeField(h, strings.Join(recipients, ","))

	writeField(h, bodyHash(in.BodyText))

	return hex.EncodeToString(h.Sum(nil))
}

// bodyHash hashes the first 64KB of body text, matching what the dedup
// comparison uses to decide "same body" vs. a collision.
func bodyHash(body string) string {
	b := []byte(body)
	if len(b) > maxBodyBytes {
		b = b[:maxBodyBytes]
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// BodyTextHash64K exposes bodyHash for the canonical-message dedup
// comparison (same signature, same truncation rule) without re-running
// the full fingerprint.
func BodyTextHash64K(body string) string {
	return bodyHash(body)
}

func normalizeText(s string) string {
	return strings.ToLower(collapseWhitespace(s))
}

// normalizeAddress lowercases and collapses whitespace in an address-only
// value (the local-part@domain, no "Name <...>" wrapper is expected here
// — callers pass EmailAddress.Email, already extracted by
// email.ParsedMessage's address headers). It runs through the same
// collapsing as normalizeText so re-folded whitespace never changes the
// fingerprint.
func normalizeAddress(addr string) string {
	return strings.ToLower(collapseWhitespace(addr))
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}
