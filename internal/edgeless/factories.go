package edgeless

import (
	"encoding/json"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
)

// ShapeParams constructs a shape element.
type ShapeParams struct {
	ShapeType   string
	XYWH        [4]float64
	Fill        interface{} // string or {dark,light}
	Stroke      interface{}
	StrokeWidth float64
	Filled      *bool
}

// CreateShape inserts a shape element with its defaults (fill
// #fff, stroke #000, strokeWidth 2, filled true) overridden by any
// non-zero field in params.
func CreateShape(doc *crdt.Doc, inner *crdt.OMap, p ShapeParams) View {
	_, entry := newElementBase(doc, inner, TypeShape)
	entry.Set("shapeType", crdt.StringValue(p.ShapeType))
	entry.Set("xywh", crdt.StringValue(XYWHToJSON(p.XYWH)))

	fill := p.Fill
	if fill == nil {
		fill = "#fff"
	}
	setColor(entry, doc, "fillColor", fill)

	stroke := p.Stroke
	if stroke == nil {
		stroke = "#000"
	}
	setColor(entry, doc, "strokeColor", stroke)

	strokeWidth := p.StrokeWidth
	if strokeWidth == 0 {
		strokeWidth = 2
	}
	entry.Set("strokeWidth", crdt.NumberValue(strokeWidth))

	filled := true
	if p.Filled != nil {
		filled = *p.Filled
	}
	entry.Set("filled", crdt.BoolValue(filled))

	return decodeElement(entry)
}

// ConnectorParams constructs a connector element.
type ConnectorParams struct {
	SourceID   string
	TargetID   string
	SourcePos  [2]float64
	TargetPos  [2]float64
	Stroke     interface{}
	Arrow      string
}

// CreateConnector inserts a connector (defaults: sourcePos [1,0.5],
// targetPos [0,0.5], stroke #929292, arrow "tail").
func CreateConnector(doc *crdt.Doc, inner *crdt.OMap, p ConnectorParams) View {
	_, entry := newElementBase(doc, inner, TypeConnector)
	entry.Set("sourceId", crdt.StringValue(p.SourceID))
	entry.Set("targetId", crdt.StringValue(p.TargetID))

	sourcePos := p.SourcePos
	if sourcePos == ([2]float64{}) {
		sourcePos = [2]float64{1, 0.5}
	}
	targetPos := p.TargetPos
	if targetPos == ([2]float64{}) {
		targetPos = [2]float64{0, 0.5}
	}
	entry.Set("sourcePos", crdt.StringValue(xyJSON(sourcePos)))
	entry.Set("targetPos", crdt.StringValue(xyJSON(targetPos)))

	stroke := p.Stroke
	if stroke == nil {
		stroke = "#929292"
	}
	setColor(entry, doc, "strokeColor", stroke)

	arrow := p.Arrow
	if arrow == "" {
		arrow = "tail"
	}
	entry.Set("arrow", crdt.StringValue(arrow))

	return decodeElement(entry)
}

// TextParams constructs a text element.
type TextParams struct {
	Text     string
	XYWH     [4]float64
	FontSize float64
	Family   string
	Color    interface{}
}

// CreateText inserts a text element (defaults: fontSize 16, default font
// family, black/white theme color).
func CreateText(doc *crdt.Doc, inner *crdt.OMap, p TextParams) View {
	_, entry := newElementBase(doc, inner, TypeText)
	text := doc.NewText()
	if p.Text != "" {
		text.Append(p.Text)
	}
	entry.Set("text", crdt.TextValue(text))
	entry.Set("xywh", crdt.StringValue(XYWHToJSON(p.XYWH)))

	fontSize := p.FontSize
	if fontSize == 0 {
		fontSize = 16
	}
	entry.Set("fontSize", crdt.NumberValue(fontSize))

	family := p.Family
	if family == "" {
		family = "Inter"
	}
	entry.Set("fontFamily", crdt.StringValue(family))

	color := p.Color
	if color == nil {
		color = map[string]interface{}{"dark": "#ffffff", "light": "#000000"}
	}
	setColor(entry, doc, "color", color)

	return decodeElement(entry)
}

// BrushParams constructs a brush (freehand) element.
type BrushParams struct {
	Points    [][3]float64 // [x,y,pressure]
	Color     interface{}
	LineWidth float64
}

// CreateBrush inserts a brush element. Points are rebased to be
// relative to their computed bounding box.
func CreateBrush(doc *crdt.Doc, inner *crdt.OMap, p BrushParams) View {
	_, entry := newElementBase(doc, inner, TypeBrush)

	xywh, rebased := boundingBoxAndRebase(p.Points)
	entry.Set("xywh", crdt.StringValue(XYWHToJSON(xywh)))
	entry.Set("points", crdt.StringValue(pointsJSON(rebased)))

	color := p.Color
	if color == nil {
		color = "#000000"
	}
	setColor(entry, doc, "color", color)

	lineWidth := p.LineWidth
	if lineWidth == 0 {
		lineWidth = 4
	}
	entry.Set("lineWidth", crdt.NumberValue(lineWidth))

	return decodeElement(entry)
}

// GroupParams constructs a group element.
type GroupParams struct {
	Title    string
	Children []string
}

// CreateGroup inserts a group with no geometry of its own
func CreateGroup(doc *crdt.Doc, inner *crdt.OMap, p GroupParams) View {
	_, entry := newElementBase(doc, inner, TypeGroup)
	entry.Set("title", crdt.StringValue(p.Title))
	entry.Set("children", childIDMap(doc, p.Children))
	return decodeElement(entry)
}

// MindmapParams constructs a mindmap element.
type MindmapParams struct {
	RootNodeID string
	Children   []string
}

// CreateMindmap inserts a mindmap with radial layout and default style.
func CreateMindmap(doc *crdt.Doc, inner *crdt.OMap, p MindmapParams) View {
	_, entry := newElementBase(doc, inner, TypeMindmap)
	entry.Set("rootNodeId", crdt.StringValue(p.RootNodeID))
	entry.Set("children", childIDMap(doc, p.Children))
	entry.Set("layoutType", crdt.StringValue("radial"))
	entry.Set("style", crdt.StringValue("default"))
	return decodeElement(entry)
}

func childIDMap(doc *crdt.Doc, ids []string) crdt.Value {
	m := doc.NewMap()
	for _, id := range ids {
		m.Set(id, crdt.BoolValue(true))
	}
	return crdt.MapValue(m)
}

// Get returns the decoded view of an element by id.
func Get(inner *crdt.OMap, id string) (View, bool) {
	v, ok := inner.Get(id)
	if !ok || v.Kind() != crdt.KindMap {
		return View{}, false
	}
	return decodeElement(v.Map()), true
}

// List returns every live element, in map-key order (the engine does not
// promise a particular z-order from List; callers sort by Index when one
// is needed).
func List(inner *crdt.OMap) []View {
	out := make([]View, 0, inner.Len())
	for _, id := range inner.Keys() {
		if v, ok := Get(inner, id); ok {
			out = append(out, v)
		}
	}
	return out
}

// Update shallow-merges changes into id's element entry; arrays and
// nested objects replace atomically.
func Update(doc *crdt.Doc, inner *crdt.OMap, id string, changes map[string]interface{}) error {
	v, ok := inner.Get(id)
	if !ok || v.Kind() != crdt.KindMap {
		return apperrors.New(apperrors.CodeElementNotFound, "element not found: "+id)
	}
	entry := v.Map()
	for k, val := range changes {
		switch k {
		case "xywh":
			if arr, ok := val.([]interface{}); ok && len(arr) == 4 {
				var xywh [4]float64
				for i, n := range arr {
					if f, ok := n.(float64); ok {
						xywh[i] = f
					}
				}
				entry.Set("xywh", crdt.StringValue(XYWHToJSON(xywh)))
			}
		case "points", "sourcePos", "targetPos":
			// Geometry arrays replace atomically, re-encoded to the
			// stored JSON-string form.
			if b, err := json.Marshal(val); err == nil {
				entry.Set(k, crdt.StringValue(string(b)))
			}
		case "fillColor", "strokeColor", "color":
			setColor(entry, doc, k, val)
		case "children":
			if ids, ok := val.([]string); ok {
				entry.Set("children", childIDMap(doc, ids))
			}
		case "text":
			if s, ok := val.(string); ok {
				if tv, has := entry.Get("text"); has && tv.Kind() == crdt.KindText {
					tv.Text().Replace(s)
				}
			}
		case "id", "type", "index", "seed":
			// immutable identity fields; ignored on update
		default:
			setScalar(entry, k, val)
		}
	}
	return nil
}

func setScalar(entry *crdt.OMap, key string, v interface{}) {
	switch val := v.(type) {
	case string:
		entry.Set(key, crdt.StringValue(val))
	case bool:
		entry.Set(key, crdt.BoolValue(val))
	case float64:
		entry.Set(key, crdt.NumberValue(val))
	}
}

// Delete removes id from inner. Dangling references elsewhere are left
// for ScrubReferences to handle when the caller wants cleanup.
func Delete(inner *crdt.OMap, id string) error {
	if _, ok := inner.Get(id); !ok {
		return apperrors.New(apperrors.CodeElementNotFound, "element not found: "+id)
	}
	inner.Delete(id)
	return nil
}

// ScrubReferences clears connector endpoints and group/mindmap child
// entries referencing any id in deletedIDs: the cascading clean-up pass.
func ScrubReferences(inner *crdt.OMap, deletedIDs []string) {
	deleted := make(map[string]bool, len(deletedIDs))
	for _, id := range deletedIDs {
		deleted[id] = true
	}
	for _, id := range inner.Keys() {
		v, ok := inner.Get(id)
		if !ok || v.Kind() != crdt.KindMap {
			continue
		}
		entry := v.Map()
		typeVal, _ := entry.Get("type")
		switch Type(typeVal.String()) {
		case TypeConnector:
			if sv, ok := entry.Get("sourceId"); ok && deleted[sv.String()] {
				entry.Set("sourceId", crdt.StringValue(""))
			}
			if tv, ok := entry.Get("targetId"); ok && deleted[tv.String()] {
				entry.Set("targetId", crdt.StringValue(""))
			}
		case TypeGroup, TypeMindmap:
			if cv, ok := entry.Get("children"); ok && cv.Kind() == crdt.KindMap {
				for _, childID := range cv.Map().Keys() {
					if deleted[childID] {
						cv.Map().Delete(childID)
					}
				}
			}
		}
	}
}

func decodeElement(entry *crdt.OMap) View {
	view := View{Props: map[string]interface{}{}}
	if v, ok := entry.Get("id"); ok {
		view.ID = v.String()
	}
	if v, ok := entry.Get("type"); ok {
		view.Type = Type(v.String())
	}
	if v, ok := entry.Get("index"); ok {
		view.Index = v.String()
	}
	if v, ok := entry.Get("seed"); ok {
		view.Seed = uint32(v.Number())
	}
	for _, key := range entry.Keys() {
		switch key {
		case "id", "type", "index", "seed":
			continue
		}
		v, ok := entry.Get(key)
		if !ok {
			continue
		}
		switch v.Kind() {
		case crdt.KindString:
			// Geometry is stored JSON-string-encoded but exposed to
			// callers as number arrays.
			switch key {
			case "xywh", "points", "sourcePos", "targetPos":
				var arr interface{}
				if err := json.Unmarshal([]byte(v.String()), &arr); err == nil {
					view.Props[key] = arr
					continue
				}
			}
			view.Props[key] = v.String()
		case crdt.KindNumber:
			view.Props[key] = v.Number()
		case crdt.KindBool:
			view.Props[key] = v.Bool()
		case crdt.KindText:
			view.Props[key] = v.Text().String()
		case crdt.KindMap:
			if key == "fillColor" || key == "strokeColor" || key == "color" {
				view.Props[key] = getColor(entry, key)
			} else {
				children := map[string]bool{}
				for _, k := range v.Map().Keys() {
					children[k] = true
				}
				view.Props[key] = children
			}
		}
	}
	return view
}
