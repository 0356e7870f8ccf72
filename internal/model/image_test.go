package model

import "testing"

func TestAddImageBlockSetsProps(t *testing.T) {
	doc := newTestDoc()
	Bootstrap(doc, "Doc", "alice")
	noteID, _ := NoteID(doc)

	id, err := AddImageBlock(doc, noteID, ImageParams{
		SourceID: "blob-123",
		Width:    640,
		Height:   480,
		Caption:  "a cat",
	}, "alice")
	if err != nil {
		t.Fatalf("AddImageBlock: %v", err)
	}

	tree := NewTree(doc)
	view, ok := tree.Get(id)
	if !ok {
		t.Fatalf("image block %q not found", id)
	}
	if view.Flavour != FlavourImage {
		t.Fatalf("flavour = %q, want %q", view.Flavour, FlavourImage)
	}
	if view.Props["sourceId"] != "blob-123" {
		t.Fatalf("sourceId = %v, want %q", view.Props["sourceId"], "blob-123")
	}
	if view.Props["width"] != 640.0 || view.Props["height"] != 480.0 {
		t.Fatalf("dimensions = %v/%v, want 640/480", view.Props["width"], view.Props["height"])
	}
	if view.Props["caption"] != "a cat" {
		t.Fatalf("caption = %v, want %q", view.Props["caption"], "a cat")
	}

	note, _ := tree.Get(noteID)
	found := false
	for _, c := range note.Children {
		if c == id {
			found = true
		}
	}
	if !found {
		t.Fatal("image block not attached as note's child")
	}
}
