package email

import "testing"

func TestBodyPartLocateTopLevel(t *testing.T) {
	root := BodyPart{PartID: "1", Type: "text/plain", Content: []byte("hi")}

	part := root.Locate("1")
	if part == nil {
		t.Fatal("expected to find part 1")
	}
	if string(part.Content) != "hi" {
		t.Errorf("content = %q", part.Content)
	}
}

func TestBodyPartLocateNested(t *testing.T) {
	root := BodyPart{
		PartID: "0",
		Type:   "multipart/alternative",
		SubParts: []BodyPart{
			{PartID: "1", Type: "text/plain", Content: []byte("a")},
			{PartID: "2", Type: "text/html", Content: []byte("b")},
		},
	}

	part := root.Locate("2")
	if part == nil {
		t.Fatal("expected to find part 2")
	}
	if part.Type != "text/html" {
		t.Errorf("type = %q", part.Type)
	}
}

func TestBodyPartLocateMissing(t *testing.T) {
	root := BodyPart{PartID: "1", Type: "text/plain"}
	if root.Locate("99") != nil {
		t.Fatal("expected nil for missing part id")
	}
}
