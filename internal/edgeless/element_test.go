package edgeless

import (
	"testing"

	"github.com/affine-collab/cte/internal/crdt"
)

func newTestInner() (*crdt.Doc, *crdt.OMap) {
	doc := crdt.NewDoc("test-actor")
	wrapped := NewElementsWrapper(doc)
	inner, err := Inner(wrapped.Map())
	if err != nil {
		panic(err)
	}
	return doc, inner
}

func TestNewElementsWrapperShape(t *testing.T) {
	doc := crdt.NewDoc("test-actor")
	wrapped := NewElementsWrapper(doc)
	if wrapped.Kind() != crdt.KindMap {
		t.Fatalf("wrapper kind = %v, want map", wrapped.Kind())
	}
	typeVal, ok := wrapped.Map().Get("type")
	if !ok || typeVal.String() != elementsTypeSentinel {
		t.Fatalf("wrapper type = %v, want %q", typeVal, elementsTypeSentinel)
	}
	inner, err := Inner(wrapped.Map())
	if err != nil {
		t.Fatalf("Inner: %v", err)
	}
	if inner.Len() != 0 {
		t.Fatalf("fresh inner map should be empty, has %d entries", inner.Len())
	}
}

func TestInnerRejectsNonMapValue(t *testing.T) {
	doc := crdt.NewDoc("test-actor")
	wrapper := doc.NewMap()
	wrapper.Set("value", crdt.StringValue("not a map"))
	if _, err := Inner(wrapper); err == nil {
		t.Fatal("expected error when value is not a CRDT map")
	}
}

func TestXYWHRoundTrip(t *testing.T) {
	box := [4]float64{1, 2, 300, 400}
	s := XYWHToJSON(box)
	got, err := JSONToXYWH(s)
	if err != nil {
		t.Fatalf("JSONToXYWH: %v", err)
	}
	if got != box {
		t.Fatalf("round-trip = %v, want %v", got, box)
	}
}

func TestJSONToXYWHRejectsMalformed(t *testing.T) {
	if _, err := JSONToXYWH("not json"); err == nil {
		t.Fatal("expected error for malformed xywh")
	}
	if _, err := JSONToXYWH("[1,2,3]"); err == nil {
		t.Fatal("expected error for short xywh array")
	}
}
