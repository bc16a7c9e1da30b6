package charset

import "testing"

func TestDecodeUTF8(t *testing.T) {
	input := "Hello, 世界! Привет мир!"

	decoded, ok, err := Decode([]byte(input), "utf-8")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !ok {
		t.Error("ok should be true for valid UTF-8")
	}
	if string(decoded) != input {
		t.Errorf("got %q, want %q", string(decoded), input)
	}
}

func TestDecodeISO88591(t *testing.T) {
	// ISO-8859-1: é = 0xE9, ñ = 0xF1
	input := []byte{0xE9, 0xF1}

	decoded, ok, err := Decode(input, "iso-8859-1")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !ok {
		t.Error("ok should be true for valid ISO-8859-1")
	}
	expected := "éñ"
	if string(decoded) != expected {
		t.Errorf("got %q (%x), want %q (%x)", string(decoded), decoded, expected, []byte(expected))
	}
}

func TestDecodeWindows1252(t *testing.T) {
	// Windows-1252: € = 0x80
	input := []byte{0x80}

	decoded, ok, err := Decode(input, "windows-1252")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !ok {
		t.Error("ok should be true for valid Windows-1252")
	}
	expected := "€"
	if string(decoded) != expected {
		t.Errorf("got %q (%x), want %q (%x)", string(decoded), decoded, expected, []byte(expected))
	}
}

func TestDecodeUnknownCharsetFallsBack(t *testing.T) {
	input := "Hello, World!"

	decoded, ok, err := Decode([]byte(input), "unknown-charset-xyz")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ok {
		t.Error("ok should be false for unknown charset")
	}
	if string(decoded) != input {
		t.Errorf("got %q, want %q", string(decoded), input)
	}
}

func TestDecodeEmptyCharsetDefaultsToUSASCII(t *testing.T) {
	input := "Hello, World!"

	decoded, ok, err := Decode([]byte(input), "")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !ok {
		t.Error("ok should be true for ASCII content with empty charset")
	}
	if string(decoded) != input {
		t.Errorf("got %q, want %q", string(decoded), input)
	}
}

func TestDecodeCaseInsensitive(t *testing.T) {
	input := "Hello"
	names := []string{"UTF-8", "utf-8", "Utf-8", "UTF8"}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			decoded, ok, err := Decode([]byte(input), name)
			if err != nil {
				t.Fatalf("Decode failed for charset %q: %v", name, err)
			}
			if !ok {
				t.Errorf("ok should be true for charset %q", name)
			}
			if string(decoded) != input {
				t.Errorf("got %q, want %q", string(decoded), input)
			}
		})
	}
}

func TestDecodeInvalidBytesWithFallback(t *testing.T) {
	// Continuation byte without a lead byte: invalid UTF-8.
	input := []byte{0x80, 0x81, 0x82}

	decoded, ok, err := Decode(input, "utf-8")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if ok {
		t.Error("ok should be false for invalid UTF-8 bytes")
	}
	if len(decoded) == 0 {
		t.Error("decoded should not be empty")
	}
	runeCount := 0
	for range string(decoded) {
		runeCount++
	}
	if runeCount != len(input) {
		t.Errorf("rune count = %d, want %d", runeCount, len(input))
	}
}

func TestDecodeEmptyInput(t *testing.T) {
	decoded, ok, err := Decode(nil, "utf-8")
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !ok {
		t.Error("ok should be true for empty input")
	}
	if len(decoded) != 0 {
		t.Errorf("got %q, want empty", string(decoded))
	}
}

func TestDecodeCharsetAliases(t *testing.T) {
	cases := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"latin1", []byte{0xE9}, "é"},
		{"ascii", []byte("Hello"), "Hello"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decoded, _, err := Decode(tc.input, tc.name)
			if err != nil {
				t.Fatalf("Decode failed for charset %q: %v", tc.name, err)
			}
			if string(decoded) != tc.expected {
				t.Errorf("got %q, want %q", string(decoded), tc.expected)
			}
		})
	}
}
