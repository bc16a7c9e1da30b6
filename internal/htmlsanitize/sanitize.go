// Package htmlsanitize allowlist-sanitizes HTML message bodies: it blocks
// script execution, event-handler attributes, and remote resource loads
// (images, stylesheets, fonts, frames), emitting both a safe-HTML
// rendering and a plain-text extraction. Adapted from the teacher's
// streaming HTML-to-text tokenizer (internal/htmlstrip/strip.go) by
// rewriting tokens into a filtered output stream instead of discarding
// all markup.
package htmlsanitize

import (
	"strings"

	"golang.org/x/net/html"
)

// Version is recorded on every canonical message's sanitizer_version
// column so a later allowlist revision can be distinguished from the one
// that actually produced a given row.
const Version = "htmlsanitize/v1"

// blockedElements are stripped entirely, including their text content:
// script can execute, style can exfiltrate via CSS, and noscript/iframe
// bring in content this system doesn't want to render.
var blockedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"object": true, "embed": true, "applet": true, "frame": true, "frameset": true,
}

// allowedElements may pass through (with their attributes filtered);
// everything else has its tags dropped but its text content kept.
var allowedElements = map[string]bool{
	"a": true, "b": true, "i": true, "u": true, "strong": true, "em": true,
	"p": true, "div": true, "span": true, "br": true, "hr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "blockquote": true, "pre": true, "code": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "td": true, "th": true,
}

// remoteResourceAttrs are attributes that would cause the mail client to
// fetch external content (tracking pixels, remote stylesheets/fonts) and
// are dropped from every element regardless of allowlist membership.
var remoteResourceAttrs = map[string]bool{
	"src": true, "srcset": true, "background": true, "poster": true,
}

// Result is the sanitized output of one HTML body.
type Result struct {
	SafeHTML string
	Text     string
	Version  string
}

// Sanitize allowlist-filters htmlBody, deterministically: the same input
// and the same Version always produce the same output.
func Sanitize(htmlBody string) Result {
	z := html.NewTokenizer(strings.NewReader(htmlBody))
	var safe, text strings.Builder
	var skipDepth int
	var lastWasSpace bool

	writeText := func(s string) {
		for _, r := range s {
			isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
			if isSpace {
				if !lastWasSpace && text.Len() > 0 {
					text.WriteByte(' ')
					lastWasSpace = true
				}
				continue
			}
			text.WriteRune(r)
			lastWasSpace = false
		}
	}

loop:
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			break loop

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			if blockedElements[tag] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			if allowedElements[tag] {
				attrs := filteredAttrs(z, hasAttr)
				writeOpenTag(&safe, tag, attrs, tt == html.SelfClosingTagToken)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if blockedElements[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			if allowedElements[tag] {
				safe.WriteString("</" + tag + ">")
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			raw := string(z.Text())
			safe.WriteString(html.EscapeString(raw))
			writeText(raw)
		}
	}

	return Result{
		SafeHTML: safe.String(),
		Text:     strings.TrimSpace(text.String()),
		Version:  Version,
	}
}

// filteredAttrs keeps only attributes that don't load remote resources or
// execute script (event handlers, javascript: URLs).
func filteredAttrs(z *html.Tokenizer, hasAttr bool) []html.Attribute {
	var out []html.Attribute
	for hasAttr {
		var a html.Attribute
		var key, val []byte
		key, val, hasAttr = z.TagAttr()
		a.Key = string(key)
		a.Val = string(val)

		if remoteResourceAttrs[a.Key] {
			continue
		}
		if strings.HasPrefix(a.Key, "on") {
			continue
		}
		if (a.Key == "href" || a.Key == "cite") && strings.HasPrefix(strings.ToLower(strings.TrimSpace(a.Val)), "javascript:") {
			continue
		}
		out = append(out, a)
	}
	return out
}

func writeOpenTag(b *strings.Builder, tag string, attrs []html.Attribute, selfClosing bool) {
	b.WriteString("<" + tag)
	for _, a := range attrs {
		b.WriteString(" " + a.Key + `="` + html.EscapeString(a.Val) + `"`)
	}
	if selfClosing {
		b.WriteString(" />")
	} else {
		b.WriteString(">")
	}
}
