package crdt

import "testing"

func TestRichTextAppendAndString(t *testing.T) {
	doc := NewDoc("actor-a")
	text := doc.GetText("title")
	text.Append("Hello")
	if got := text.String(); got != "Hello" {
		t.Fatalf("expected Hello, got %q", got)
	}
}

func TestRichTextReplaceIsAtomic(t *testing.T) {
	doc := NewDoc("actor-a")
	text := doc.GetText("title")
	text.Append("first draft")
	text.Replace("final")
	if got := text.String(); got != "final" {
		t.Fatalf("expected final, got %q", got)
	}
}

func TestRichTextDeleteSingleRune(t *testing.T) {
	doc := NewDoc("actor-a")
	text := doc.GetText("title")
	last := text.Append("abc")
	text.Delete(last)
	if got := text.String(); got != "ab" {
		t.Fatalf("expected ab, got %q", got)
	}
}

func TestRichTextAttributes(t *testing.T) {
	doc := NewDoc("actor-a")
	text := doc.GetText("body")
	node := text.InsertRune(RGANodeID{}, 'x')
	text.SetAttr(node, "bold", "true")
	v, ok := text.Attr(node, "bold")
	if !ok || v != "true" {
		t.Fatalf("expected bold=true, got %q ok=%v", v, ok)
	}
}

func TestRichTextConvergesAcrossReplicas(t *testing.T) {
	a := NewDoc("actor-a")
	text := a.GetText("title")
	text.Append("hello world")

	b := NewDoc("actor-b")
	update, _ := a.EncodeUpdateSince(nil)
	if err := b.ApplyUpdate(update); err != nil {
		t.Fatalf("apply: %v", err)
	}
	btext := b.GetText("title")
	if got := btext.String(); got != "hello world" {
		t.Fatalf("expected replicated text, got %q", got)
	}
}
