package crdt

import "testing"

func TestOMapSetGet(t *testing.T) {
	doc := NewDoc("actor-a")
	m := doc.GetMap("meta")
	m.Set("title", StringValue("Hello"))
	v, ok := m.Get("title")
	if !ok || v.String() != "Hello" {
		t.Fatalf("expected title=Hello, got %+v ok=%v", v, ok)
	}
}

func TestOMapDeleteHidesKey(t *testing.T) {
	doc := NewDoc("actor-a")
	m := doc.GetMap("meta")
	m.Set("k", NumberValue(1))
	m.Delete("k")
	if _, ok := m.Get("k"); ok {
		t.Fatal("expected key to be hidden after delete")
	}
}

func TestOMapNestedMapInvariant(t *testing.T) {
	doc := NewDoc("actor-a")
	outer := doc.GetMap("root")
	inner := doc.NewMap()
	inner.Set("x", NumberValue(1))
	outer.Set("nested", MapValue(inner))

	v, ok := outer.Get("nested")
	if !ok || v.Kind() != KindMap {
		t.Fatalf("expected nested map, got %+v", v)
	}
	x, ok := v.Map().Get("x")
	if !ok || x.Number() != 1 {
		t.Fatal("expected to read through the nested CRDT map")
	}
}

func TestOMapGetMapIsIdempotentByName(t *testing.T) {
	doc := NewDoc("actor-a")
	a := doc.GetMap("meta")
	b := doc.GetMap("meta")
	if a.id() != b.id() {
		t.Fatal("expected the same root map on repeated GetMap calls")
	}
}

func TestOMapConvergesAcrossReplicas(t *testing.T) {
	a := NewDoc("actor-a")
	m := a.GetMap("meta")
	m.Set("title", StringValue("first"))

	b := NewDoc("actor-b")
	update, err := a.EncodeUpdateSince(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := b.ApplyUpdate(update); err != nil {
		t.Fatalf("apply: %v", err)
	}

	bm := b.GetMap("meta")
	v, ok := bm.Get("title")
	if !ok || v.String() != "first" {
		t.Fatalf("expected replicated title, got %+v ok=%v", v, ok)
	}
}

func TestOMapConcurrentSetLastWriteWinsByLamport(t *testing.T) {
	a := NewDoc("actor-a")
	b := NewDoc("actor-b")

	// a creates the root map and sets title; b applies that update, so it
	// shares a's root binding, then sets title itself. b's op has a lower
	// seq than a's but a higher Lamport timestamp, so it wins on a.
	am := a.GetMap("meta")
	am.Set("title", StringValue("from-a"))

	updateFromA, _ := a.EncodeUpdateSince(nil)
	_ = b.ApplyUpdate(updateFromA)
	bm := b.GetMap("meta")
	bm.Set("title", StringValue("from-b"))

	updateFromB, _ := b.EncodeUpdateSince(a.StateVector())
	_ = a.ApplyUpdate(updateFromB)

	v, ok := am.Get("title")
	if !ok || v.String() != "from-b" {
		t.Fatalf("expected later op (from-b) to win, got %+v", v)
	}
}
