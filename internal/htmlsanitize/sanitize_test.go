package htmlsanitize

import (
	"strings"
	"testing"
)

func TestSanitizeDropsScriptAndEventHandlers(t *testing.T) {
	in := `<p onclick="evil()">hello <script>alert(1)</script>world</p>`
	r := Sanitize(in)

	if strings.Contains(r.SafeHTML, "onclick") {
		t.Fatalf("event handler attribute survived sanitization: %s", r.SafeHTML)
	}
	if strings.Contains(r.SafeHTML, "alert(1)") {
		t.Fatalf("script content survived sanitization: %s", r.SafeHTML)
	}
	if !strings.Contains(r.Text, "hello") || !strings.Contains(r.Text, "world") {
		t.Fatalf("text extraction wrong: %q", r.Text)
	}
}

func TestSanitizeDropsRemoteResourceLoads(t *testing.T) {
	in := `<p>see <img src="https://evil.example/track.gif"> this</p>`
	r := Sanitize(in)

	if strings.Contains(r.SafeHTML, "src=") {
		t.Fatalf("remote src attribute survived sanitization: %s", r.SafeHTML)
	}
}

func TestSanitizeBlocksJavascriptHref(t *testing.T) {
	in := `<a href="javascript:alert(1)">click</a>`
	r := Sanitize(in)

	if strings.Contains(r.SafeHTML, "javascript:") {
		t.Fatalf("javascript: href survived sanitization: %s", r.SafeHTML)
	}
}

func TestSanitizeIsDeterministic(t *testing.T) {
	in := `<div>Hello <b>World</b></div>`
	a := Sanitize(in)
	b := Sanitize(in)

	if a.SafeHTML != b.SafeHTML || a.Text != b.Text {
		t.Fatal("sanitize must be deterministic for the same input")
	}
	if a.Version != Version {
		t.Fatalf("expected version %s, got %s", Version, a.Version)
	}
}

func TestSanitizeStripsUnknownTagsButKeepsText(t *testing.T) {
	in := `<marquee>blink text</marquee>`
	r := Sanitize(in)

	if strings.Contains(r.SafeHTML, "marquee") {
		t.Fatalf("unknown element tag survived: %s", r.SafeHTML)
	}
	if !strings.Contains(r.Text, "blink text") {
		t.Fatalf("text content of unknown element should be kept: %q", r.Text)
	}
}
