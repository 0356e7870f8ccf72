package edgeless

import (
	"testing"

	"github.com/affine-collab/cte/internal/apperrors"
)

// propXYWH asserts a view's xywh prop is the decoded four-number array
// form.
func propXYWH(t *testing.T, v interface{}) [4]float64 {
	t.Helper()
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 4 {
		t.Fatalf("xywh = %v, want a 4-number array", v)
	}
	var out [4]float64
	for i := range out {
		f, ok := arr[i].(float64)
		if !ok {
			t.Fatalf("xywh[%d] = %v, want float64", i, arr[i])
		}
		out[i] = f
	}
	return out
}

func TestCreateShapeDefaults(t *testing.T) {
	doc, inner := newTestInner()
	view := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{0, 0, 100, 50}})

	if view.Type != TypeShape {
		t.Fatalf("type = %q, want %q", view.Type, TypeShape)
	}
	if view.Props["fillColor"] != "#fff" {
		t.Fatalf("default fillColor = %v, want #fff", view.Props["fillColor"])
	}
	if view.Props["strokeColor"] != "#000" {
		t.Fatalf("default strokeColor = %v, want #000", view.Props["strokeColor"])
	}
	if view.Props["strokeWidth"] != 2.0 {
		t.Fatalf("default strokeWidth = %v, want 2", view.Props["strokeWidth"])
	}
	if view.Props["filled"] != true {
		t.Fatalf("default filled = %v, want true", view.Props["filled"])
	}
	if view.Index == "" {
		t.Fatal("expected non-empty layer index")
	}
}

func TestCreateShapeOverridesDefaults(t *testing.T) {
	doc, inner := newTestInner()
	filled := false
	view := CreateShape(doc, inner, ShapeParams{
		ShapeType:   "ellipse",
		XYWH:        [4]float64{1, 1, 1, 1},
		Fill:        "#f00",
		Stroke:      map[string]interface{}{"dark": "#111", "light": "#eee"},
		StrokeWidth: 5,
		Filled:      &filled,
	})
	if view.Props["fillColor"] != "#f00" {
		t.Fatalf("fillColor = %v, want #f00", view.Props["fillColor"])
	}
	strokeColor, ok := view.Props["strokeColor"].(map[string]interface{})
	if !ok || strokeColor["dark"] != "#111" || strokeColor["light"] != "#eee" {
		t.Fatalf("strokeColor = %v, want themed map", view.Props["strokeColor"])
	}
	if view.Props["strokeWidth"] != 5.0 {
		t.Fatalf("strokeWidth = %v, want 5", view.Props["strokeWidth"])
	}
	if view.Props["filled"] != false {
		t.Fatalf("filled = %v, want false", view.Props["filled"])
	}
}

func TestCreateConnectorDefaults(t *testing.T) {
	doc, inner := newTestInner()
	view := CreateConnector(doc, inner, ConnectorParams{SourceID: "a", TargetID: "b"})
	sourcePos, ok := view.Props["sourcePos"].([]interface{})
	if !ok || len(sourcePos) != 2 || sourcePos[0] != 1.0 || sourcePos[1] != 0.5 {
		t.Fatalf("default sourcePos = %v, want [1 0.5]", view.Props["sourcePos"])
	}
	targetPos, ok := view.Props["targetPos"].([]interface{})
	if !ok || len(targetPos) != 2 || targetPos[0] != 0.0 || targetPos[1] != 0.5 {
		t.Fatalf("default targetPos = %v, want [0 0.5]", view.Props["targetPos"])
	}
	if view.Props["strokeColor"] != "#929292" {
		t.Fatalf("default stroke = %v, want #929292", view.Props["strokeColor"])
	}
	if view.Props["arrow"] != "tail" {
		t.Fatalf("default arrow = %v, want tail", view.Props["arrow"])
	}
}

func TestCreateTextDefaults(t *testing.T) {
	doc, inner := newTestInner()
	view := CreateText(doc, inner, TextParams{Text: "hello"})
	if view.Props["text"] != "hello" {
		t.Fatalf("text = %v, want hello", view.Props["text"])
	}
	if view.Props["fontSize"] != 16.0 {
		t.Fatalf("default fontSize = %v, want 16", view.Props["fontSize"])
	}
	if view.Props["fontFamily"] != "Inter" {
		t.Fatalf("default fontFamily = %v, want Inter", view.Props["fontFamily"])
	}
	color, ok := view.Props["color"].(map[string]interface{})
	if !ok || color["dark"] != "#ffffff" || color["light"] != "#000000" {
		t.Fatalf("default color = %v", view.Props["color"])
	}
}

func TestCreateBrushBoundingBoxAndDefaults(t *testing.T) {
	doc, inner := newTestInner()
	points := [][3]float64{{10, 10, 0.5}, {20, 30, 0.8}, {5, 15, 1}}
	view := CreateBrush(doc, inner, BrushParams{Points: points})

	xywh := propXYWH(t, view.Props["xywh"])
	want := [4]float64{5, 10, 15, 20}
	if xywh != want {
		t.Fatalf("bounding box = %v, want %v", xywh, want)
	}
	if view.Props["lineWidth"] != 4.0 {
		t.Fatalf("default lineWidth = %v, want 4", view.Props["lineWidth"])
	}
	if view.Props["color"] != "#000000" {
		t.Fatalf("default brush color = %v, want #000000", view.Props["color"])
	}
}

func TestCreateGroupAndMindmapChildren(t *testing.T) {
	doc, inner := newTestInner()
	a := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
	b := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})

	group := CreateGroup(doc, inner, GroupParams{Title: "g1", Children: []string{a.ID, b.ID}})
	children, ok := group.Props["children"].(map[string]bool)
	if !ok || !children[a.ID] || !children[b.ID] {
		t.Fatalf("group children = %v, want both %q and %q", group.Props["children"], a.ID, b.ID)
	}

	mindmap := CreateMindmap(doc, inner, MindmapParams{RootNodeID: a.ID, Children: []string{a.ID, b.ID}})
	if mindmap.Props["layoutType"] != "radial" || mindmap.Props["style"] != "default" {
		t.Fatalf("mindmap defaults = %+v", mindmap.Props)
	}
}

func TestLayerIndexIsMonotonic(t *testing.T) {
	doc, inner := newTestInner()
	var indices []string
	for i := 0; i < 10; i++ {
		v := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
		indices = append(indices, v.Index)
	}
	for i := 1; i < len(indices); i++ {
		if indices[i] <= indices[i-1] {
			t.Fatalf("layer index not strictly increasing at %d: %q <= %q", i, indices[i], indices[i-1])
		}
	}
}

func TestUpdateElement(t *testing.T) {
	doc, inner := newTestInner()
	v := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{0, 0, 10, 10}})

	err := Update(doc, inner, v.ID, map[string]interface{}{
		"xywh":      []interface{}{1.0, 2.0, 30.0, 40.0},
		"fillColor": "#abc",
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok := Get(inner, v.ID)
	if !ok {
		t.Fatal("updated element not found")
	}
	if xywh := propXYWH(t, got.Props["xywh"]); xywh != [4]float64{1, 2, 30, 40} {
		t.Fatalf("xywh after update = %v", xywh)
	}
	if got.Props["fillColor"] != "#abc" {
		t.Fatalf("fillColor after update = %v, want #abc", got.Props["fillColor"])
	}
}

func TestUpdateUnknownElementFails(t *testing.T) {
	doc, inner := newTestInner()
	err := Update(doc, inner, "missing", map[string]interface{}{"fillColor": "#abc"})
	if err == nil {
		t.Fatal("expected error updating unknown element")
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeElementNotFound {
		t.Fatalf("expected ELEMENT_NOT_FOUND, got %v", err)
	}
}

func TestDeleteElement(t *testing.T) {
	doc, inner := newTestInner()
	v := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
	if err := Delete(inner, v.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := Get(inner, v.ID); ok {
		t.Fatal("element still present after Delete")
	}
}

func TestDeleteUnknownElementFails(t *testing.T) {
	_, inner := newTestInner()
	if err := Delete(inner, "missing"); err == nil {
		t.Fatal("expected error deleting unknown element")
	}
}

func TestScrubReferencesClearsConnectorEndpoints(t *testing.T) {
	doc, inner := newTestInner()
	a := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
	b := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
	conn := CreateConnector(doc, inner, ConnectorParams{SourceID: a.ID, TargetID: b.ID})

	ScrubReferences(inner, []string{a.ID})

	got, ok := Get(inner, conn.ID)
	if !ok {
		t.Fatal("connector disappeared")
	}
	if got.Props["sourceId"] != "" {
		t.Fatalf("sourceId after scrub = %v, want empty", got.Props["sourceId"])
	}
	if got.Props["targetId"] != b.ID {
		t.Fatalf("targetId after scrub = %v, want unchanged %q", got.Props["targetId"], b.ID)
	}
}

func TestScrubReferencesClearsGroupChildren(t *testing.T) {
	doc, inner := newTestInner()
	a := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
	b := CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
	group := CreateGroup(doc, inner, GroupParams{Title: "g", Children: []string{a.ID, b.ID}})

	ScrubReferences(inner, []string{a.ID})

	got, ok := Get(inner, group.ID)
	if !ok {
		t.Fatal("group disappeared")
	}
	children := got.Props["children"].(map[string]bool)
	if children[a.ID] {
		t.Fatal("deleted child id still referenced by group")
	}
	if !children[b.ID] {
		t.Fatal("surviving child id was incorrectly scrubbed")
	}
}

func TestListReturnsAllElements(t *testing.T) {
	doc, inner := newTestInner()
	CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
	CreateShape(doc, inner, ShapeParams{ShapeType: "rect", XYWH: [4]float64{}})
	CreateText(doc, inner, TextParams{Text: "hi"})

	got := List(inner)
	if len(got) != 3 {
		t.Fatalf("List returned %d elements, want 3", len(got))
	}
}
