package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/oss-support/journal-pipeline/internal/charset"
)

// ParsedMessage is the structured result of parsing one raw RFC5322
// message pulled from a journal mailbox.
type ParsedMessage struct {
	Subject    string
	From       []EmailAddress
	To         []EmailAddress
	CC         []EmailAddress
	ReplyTo    []EmailAddress
	Date       time.Time
	MessageID  string
	InReplyTo  []string
	References []string

	// XOSSTicketID and XOSSMessageID carry the outbound-reply stitch
	// markers this system stamps on its own sent mail, read back when
	// the reply lands in the journal mailbox.
	XOSSTicketID  string
	XOSSMessageID string

	// Recipient evidence headers, present only on messages relayed
	// through a Workspace group/journal mailbox.
	GmOriginalTo string
	DeliveredTo  string
	XOriginalTo  string

	BodyStructure BodyPart
	BodyText      string
	BodyHTML      string
	Attachments   []BodyPart
}

// HasThreadingHeader reports whether In-Reply-To or References was
// present, which disables the subject-match stitch fallback.
func (p *ParsedMessage) HasThreadingHeader() bool {
	return len(p.InReplyTo) > 0 || len(p.References) > 0
}

// ParseRFC5322 parses raw RFC5322 message bytes, decoding each body part's
// content with its declared charset and collecting attachment bytes for
// content-addressed blob storage.
func ParseRFC5322(data []byte) (*ParsedMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("email: parse message: %w", err)
	}
	h := msg.Header

	parsed := &ParsedMessage{
		Subject:       decodeHeaderText(h.Get("Subject")),
		From:          parseAddressList(h.Get("From")),
		To:            parseAddressList(h.Get("To")),
		CC:            parseAddressList(h.Get("Cc")),
		ReplyTo:       parseAddressList(h.Get("Reply-To")),
		MessageID:     firstMessageID(h.Get("Message-Id")),
		InReplyTo:     parseMessageIDRefs(h.Get("In-Reply-To")),
		References:    parseMessageIDRefs(h.Get("References")),
		XOSSTicketID:  strings.TrimSpace(h.Get("X-OSS-Ticket-ID")),
		XOSSMessageID: firstMessageID(h.Get("X-OSS-Message-ID")),
		GmOriginalTo:  strings.TrimSpace(h.Get("X-Gm-Original-To")),
		DeliveredTo:   strings.TrimSpace(h.Get("Delivered-To")),
		XOriginalTo:   strings.TrimSpace(h.Get("X-Original-To")),
	}

	if dateStr := h.Get("Date"); dateStr != "" {
		if t, err := mail.ParseDate(dateStr); err == nil {
			parsed.Date = t.UTC()
		}
	}

	contentType := h.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=us-ascii"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, params = "text/plain", map[string]string{"charset": "us-ascii"}
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("email: read body: %w", err)
	}

	counter := 0
	root, err := parseBodyPart(mediaType, params, h.Get("Content-Transfer-Encoding"), body, &counter)
	if err != nil {
		return nil, fmt.Errorf("email: parse body structure: %w", err)
	}
	parsed.BodyStructure = root

	collectContent(parsed, &root)

	return parsed, nil
}

// collectContent walks the body-part tree, concatenating text/plain and
// text/html leaf content and collecting attachment parts (anything with
// an explicit attachment disposition, or a named leaf part that isn't
// inline text).
func collectContent(parsed *ParsedMessage, part *BodyPart) {
	if strings.HasPrefix(part.Type, "multipart/") {
		for i := range part.SubParts {
			collectContent(parsed, &part.SubParts[i])
		}
		return
	}

	if part.Disposition == "attachment" || (part.Name != "" && part.Type != "text/plain" && part.Type != "text/html") {
		parsed.Attachments = append(parsed.Attachments, *part)
		return
	}

	switch part.Type {
	case "text/plain":
		if parsed.BodyText != "" {
			parsed.BodyText += "\n"
		}
		parsed.BodyText += string(part.Content)
	case "text/html":
		if parsed.BodyHTML != "" {
			parsed.BodyHTML += "\n"
		}
		parsed.BodyHTML += string(part.Content)
	default:
		if part.Disposition == "" {
			return
		}
		parsed.Attachments = append(parsed.Attachments, *part)
	}
}

func firstMessageID(raw string) string {
	ids := parseMessageIDRefs(raw)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// parseBodyPart recursively walks a MIME structure, decoding leaf content
// with its transfer encoding and declared charset.
func parseBodyPart(mediaType string, params map[string]string, transferEncoding string, body []byte, counter *int) (BodyPart, error) {
	*counter++
	part := BodyPart{
		PartID:  fmt.Sprintf("%d", *counter),
		Type:    mediaType,
		Charset: params["charset"],
		Size:    int64(len(body)),
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary, ok := params["boundary"]
		if !ok {
			return part, nil
		}
		mr := multipart.NewReader(bytes.NewReader(body), boundary)
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				break
			}

			partContentType := p.Header.Get("Content-Type")
			if partContentType == "" {
				partContentType = "text/plain; charset=us-ascii"
			}
			partMediaType, partParams, err := mime.ParseMediaType(partContentType)
			if err != nil {
				partMediaType, partParams = "text/plain", map[string]string{"charset": "us-ascii"}
			}

			partBody, err := io.ReadAll(p)
			if err != nil {
				continue
			}

			sub, err := parseBodyPart(partMediaType, partParams, p.Header.Get("Content-Transfer-Encoding"), partBody, counter)
			if err != nil {
				return part, err
			}

			if disposition := p.Header.Get("Content-Disposition"); disposition != "" {
				dispType, dispParams, _ := mime.ParseMediaType(disposition)
				sub.Disposition = dispType
				if filename, ok := dispParams["filename"]; ok {
					sub.Name = filename
				}
			}
			if sub.Name == "" {
				if name, ok := partParams["name"]; ok {
					sub.Name = name
				}
			}

			part.SubParts = append(part.SubParts, sub)
		}
		return part, nil
	}

	decoded, err := decodeTransferEncoding(transferEncoding, body)
	if err != nil {
		return part, fmt.Errorf("decode transfer encoding %q: %w", transferEncoding, err)
	}

	if strings.HasPrefix(mediaType, "text/") {
		var err error
		decoded, _, err = charset.Decode(decoded, part.Charset)
		if err != nil {
			return part, fmt.Errorf("decode charset %q: %w", part.Charset, err)
		}
	}

	part.Content = decoded
	part.Size = int64(len(decoded))
	return part, nil
}

func decodeTransferEncoding(encoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(bytes.NewReader(body)))
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, bytes.NewReader(body)))
	default:
		return body, nil
	}
}
