// Package edgeless implements CRUD over the spatial elements embedded
// in a document's surface block: shapes, connectors, text, brushes,
// groups, and mindmaps living in a CRDT map at
// surface.prop:elements.value. The wrapper and its inner map are both
// constructed as CRDT maps here, never a plain Go map standing in for
// one.
package edgeless

import (
	"encoding/json"
	"fmt"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/idgen"
)

// elementsTypeSentinel is the upstream's tag marking prop:elements as a
// native structure.
const elementsTypeSentinel = "$blocksuite:internal:elements$"

// Type enumerates the edgeless element variants.
type Type string

const (
	TypeShape     Type = "shape"
	TypeConnector Type = "connector"
	TypeText      Type = "text"
	TypeBrush     Type = "brush"
	TypeGroup     Type = "group"
	TypeMindmap   Type = "mindmap"
)

// NewElementsWrapper builds the CRDT-map-wrapped-CRDT-map structure for a
// fresh surface block's prop:elements: { type: sentinel,
// value: <elements map> }, both levels genuine CRDT maps.
func NewElementsWrapper(doc *crdt.Doc) crdt.Value {
	wrapper := doc.NewMap()
	inner := doc.NewMap()
	wrapper.Set("type", crdt.StringValue(elementsTypeSentinel))
	wrapper.Set("value", crdt.MapValue(inner))
	return crdt.MapValue(wrapper)
}

// Inner returns the elements map nested under a prop:elements wrapper;
// both levels must already be CRDT maps.
func Inner(wrapper *crdt.OMap) (*crdt.OMap, error) {
	v, ok := wrapper.Get("value")
	if !ok || v.Kind() != crdt.KindMap {
		return nil, apperrors.New(apperrors.CodeCRDTApplyFailed, "prop:elements.value is not a CRDT map")
	}
	return v.Map(), nil
}

// View is the caller-facing decoded projection of one element.
type View struct {
	ID    string                 `json:"id"`
	Type  Type                   `json:"type"`
	Index string                 `json:"index"`
	Seed  uint32                 `json:"seed"`
	Props map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Props alongside the identity fields, so an element
// serialises as one flat object matching what a canvas client expects
//.
func (v View) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(v.Props)+4)
	for k, val := range v.Props {
		out[k] = val
	}
	out["id"] = v.ID
	out["type"] = v.Type
	out["index"] = v.Index
	out["seed"] = v.Seed
	return json.Marshal(out)
}

// maxIndex scans the elements map for the lexicographically greatest
// layer index currently in use.
func maxIndex(inner *crdt.OMap) string {
	max := ""
	for _, key := range inner.Keys() {
		v, ok := inner.Get(key)
		if !ok || v.Kind() != crdt.KindMap {
			continue
		}
		if idxVal, ok := v.Map().Get("index"); ok && idxVal.Kind() == crdt.KindString {
			if idxVal.String() > max {
				max = idxVal.String()
			}
		}
	}
	return max
}

// nextIndex allocates a token strictly greater than every existing index.
func nextIndex(inner *crdt.OMap) string {
	return idgen.NextToken(maxIndex(inner))
}

func setColor(entry *crdt.OMap, doc *crdt.Doc, key string, color interface{}) {
	switch c := color.(type) {
	case string:
		entry.Set(key, crdt.StringValue(c))
	case map[string]interface{}:
		m := doc.NewMap()
		if dark, ok := c["dark"].(string); ok {
			m.Set("dark", crdt.StringValue(dark))
		}
		if light, ok := c["light"].(string); ok {
			m.Set("light", crdt.StringValue(light))
		}
		entry.Set(key, crdt.MapValue(m))
	}
}

func getColor(entry *crdt.OMap, key string) interface{} {
	v, ok := entry.Get(key)
	if !ok {
		return nil
	}
	switch v.Kind() {
	case crdt.KindString:
		return v.String()
	case crdt.KindMap:
		out := map[string]interface{}{}
		if dark, ok := v.Map().Get("dark"); ok {
			out["dark"] = dark.String()
		}
		if light, ok := v.Map().Get("light"); ok {
			out["light"] = light.String()
		}
		return out
	default:
		return nil
	}
}

// XYWHToJSON encodes a bounding box as the JSON-string form the upstream
// stores.
func XYWHToJSON(xywh [4]float64) string {
	b, _ := json.Marshal([]float64{xywh[0], xywh[1], xywh[2], xywh[3]})
	return string(b)
}

// JSONToXYWH decodes the stored string form back into a four-number array.
func JSONToXYWH(s string) ([4]float64, error) {
	var arr []float64
	if err := json.Unmarshal([]byte(s), &arr); err != nil || len(arr) != 4 {
		return [4]float64{}, fmt.Errorf("edgeless: invalid xywh %q", s)
	}
	return [4]float64{arr[0], arr[1], arr[2], arr[3]}, nil
}

func newElementBase(doc *crdt.Doc, inner *crdt.OMap, typ Type) (string, *crdt.OMap) {
	id := idgen.NanoID()
	entry := doc.NewMap()
	entry.Set("id", crdt.StringValue(id))
	entry.Set("type", crdt.StringValue(string(typ)))
	entry.Set("index", crdt.StringValue(nextIndex(inner)))
	entry.Set("seed", crdt.NumberValue(float64(idgen.Seed31())))
	inner.Set(id, crdt.MapValue(entry))
	return id, entry
}
