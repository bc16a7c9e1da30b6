// Package email parses RFC5322 journal-mailbox messages into the
// structured form the occurrence_parse pipeline stage needs: decoded
// headers, a walked MIME body-part tree, and charset-decoded body text.
// HTML bodies are returned as decoded, not sanitized.
package email

// EmailAddress is an address with its optional display name, as parsed
// from an RFC5322 address-list header.
type EmailAddress struct {
	Name  string
	Email string
}

// BodyPart is one node of a parsed MIME structure. Leaf parts carry
// decoded content; multipart containers carry only SubParts.
type BodyPart struct {
	PartID      string
	Type        string
	Charset     string
	Disposition string
	Name        string
	Size        int64
	Content     []byte
	SubParts    []BodyPart
}
