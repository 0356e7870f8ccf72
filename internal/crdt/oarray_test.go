package crdt

import "testing"

func TestOArrayAppendPreservesOrder(t *testing.T) {
	doc := NewDoc("actor-a")
	arr := doc.GetArray("items")
	arr.Append(StringValue("a"))
	arr.Append(StringValue("b"))
	arr.Append(StringValue("c"))

	values := arr.Values()
	if len(values) != 3 {
		t.Fatalf("expected 3 values, got %d", len(values))
	}
	for i, want := range []string{"a", "b", "c"} {
		if values[i].String() != want {
			t.Fatalf("index %d: want %q, got %q", i, want, values[i].String())
		}
	}
}

func TestOArrayDeleteHidesElement(t *testing.T) {
	doc := NewDoc("actor-a")
	arr := doc.GetArray("items")
	arr.Append(StringValue("a"))
	id := arr.Append(StringValue("b"))
	arr.Append(StringValue("c"))

	arr.Delete(id)
	values := arr.Values()
	if len(values) != 2 || values[0].String() != "a" || values[1].String() != "c" {
		t.Fatalf("unexpected values after delete: %+v", values)
	}
}

func TestOArrayInsertAfterMidSequence(t *testing.T) {
	doc := NewDoc("actor-a")
	arr := doc.GetArray("items")
	first := arr.Append(StringValue("a"))
	arr.Append(StringValue("c"))
	arr.InsertAfter(first, StringValue("b"))

	values := arr.Values()
	got := make([]string, len(values))
	for i, v := range values {
		got[i] = v.String()
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestOArrayConvergesAcrossReplicas(t *testing.T) {
	a := NewDoc("actor-a")
	arr := a.GetArray("items")
	arr.Append(StringValue("x"))
	arr.Append(StringValue("y"))

	b := NewDoc("actor-b")
	update, _ := a.EncodeUpdateSince(nil)
	if err := b.ApplyUpdate(update); err != nil {
		t.Fatalf("apply: %v", err)
	}

	barr := b.GetArray("items")
	values := barr.Values()
	if len(values) != 2 || values[0].String() != "x" || values[1].String() != "y" {
		t.Fatalf("unexpected replicated values: %+v", values)
	}
}

func TestOArrayNestedArrayInvariant(t *testing.T) {
	doc := NewDoc("actor-a")
	outer := doc.GetArray("outer")
	inner := doc.NewArray()
	inner.Append(StringValue("leaf"))
	outer.Append(ArrayValue(inner))

	values := outer.Values()
	if len(values) != 1 || values[0].Kind() != KindArray {
		t.Fatalf("expected a nested array value, got %+v", values)
	}
	leaves := values[0].Array().Values()
	if len(leaves) != 1 || leaves[0].String() != "leaf" {
		t.Fatal("expected to read through the nested CRDT array")
	}
}
