// Package charset converts a MIME body part's raw bytes to UTF-8 using
// its declared charset, falling back through UTF-8 validation and then
// Latin-1 when the declared charset is unusable.
package charset

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

// Decode converts data from the named charset to UTF-8. An empty name
// defaults to us-ascii. If the name can't be resolved, or the declared
// charset turns out not to describe the bytes, it falls back to Latin-1
// (which never rejects a byte) and reports ok=false so the caller can
// flag the part as having an encoding problem.
func Decode(data []byte, name string) (decoded []byte, ok bool, err error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "us-ascii"
	}

	if isUTF8Name(name) || name == "ascii" || name == "us-ascii" {
		if utf8.Valid(data) {
			return data, true, nil
		}
		return toLatin1(data), false, nil
	}

	enc, resolved := resolveCharset(name)
	if !resolved {
		return toLatin1(data), false, nil
	}
	if enc == nil {
		// utf8/ascii aliases resolved with a nil encoding: pass through.
		return data, true, nil
	}

	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return toLatin1(data), false, nil
	}
	return out, true, nil
}

// isUTF8Name reports whether name is a spelling of UTF-8.
func isUTF8Name(name string) bool {
	return name == "utf-8" || name == "utf8"
}

// resolveCharset looks up the golang.org/x/text encoding for a charset
// name, handling the common aliases IANA's index doesn't carry directly.
// The second return is false when the name is unrecognized entirely.
func resolveCharset(name string) (encoding.Encoding, bool) {
	switch name {
	case "utf8", "ascii", "us-ascii":
		return nil, true
	case "latin1", "latin-1":
		return charmap.ISO8859_1, true
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, false
	}
	return enc, true
}

// toLatin1 reinterprets data as ISO-8859-1, the fallback of last resort
// since every byte value is a valid Latin-1 code point.
func toLatin1(data []byte) []byte {
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return data
	}
	return out
}
