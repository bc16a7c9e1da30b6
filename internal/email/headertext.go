package email

import (
	"mime"
	"net/mail"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// foldedWhitespace matches a folded header continuation (CRLF/LF followed
// by a space or tab) and a run of two-or-more plain spaces, both of which
// collapse to a single space so re-folded or re-wrapped headers compare
// equal after decoding.
var foldedWhitespace = regexp.MustCompile(`\r?\n[ \t]|  +`)

// decodeHeaderText decodes RFC 2047 encoded words, unfolds and collapses
// whitespace, and normalizes to NFC, so Subject/From text compares equal
// regardless of which MTA re-wrapped or re-encoded it in transit.
func decodeHeaderText(value string) string {
	if value == "" {
		return ""
	}
	decoded, err := new(mime.WordDecoder).DecodeHeader(value)
	if err != nil {
		decoded = value
	}
	decoded = strings.ReplaceAll(decoded, "\t", " ")
	decoded = foldedWhitespace.ReplaceAllString(decoded, " ")
	decoded = strings.TrimSpace(decoded)
	return norm.NFC.String(decoded)
}

// parseAddressList decodes an RFC5322 address-list header (To/From/Cc/
// Reply-To) into its individual addresses, discarding the header on a
// parse error rather than failing the whole message.
func parseAddressList(value string) []EmailAddress {
	if value == "" {
		return nil
	}
	parsed, err := mail.ParseAddressList(value)
	if err != nil {
		return nil
	}
	out := make([]EmailAddress, len(parsed))
	for i, a := range parsed {
		out[i] = EmailAddress{Name: a.Name, Email: a.Address}
	}
	return out
}

// parseMessageIDRefs splits a Message-Id/In-Reply-To/References header
// into its individual angle-bracket-delimited identifiers, stripping the
// brackets from each.
func parseMessageIDRefs(value string) []string {
	if value == "" {
		return nil
	}
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		id := strings.TrimSuffix(strings.TrimPrefix(f, "<"), ">")
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}
