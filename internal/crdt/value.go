package crdt

// Value is the recursive sum type backing every map entry and array/text
// element: a scalar, or one of the three CRDT container types. Every
// nested container inside a document must itself be a CRDT container,
// and that invariant is enforced structurally here: no constructor
// accepts a plain Go map or slice as a stand-in for a container. A caller who wants a nested
// map must first create one with Doc.NewMap and wrap it with MapValue.
type Value struct {
	kind  Kind
	b     bool
	n     float64
	s     string
	m     *OMap
	a     *OArray
	t     *RichText
}

func NullValue() Value { return Value{kind: KindNull} }

func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

func NumberValue(n float64) Value { return Value{kind: KindNumber, n: n} }

func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// MapValue wraps an existing CRDT map so it can be stored as a value
// (e.g. nested inside another map, or as an array element).
func MapValue(m *OMap) Value { return Value{kind: KindMap, m: m} }

// ArrayValue wraps an existing CRDT array.
func ArrayValue(a *OArray) Value { return Value{kind: KindArray, a: a} }

// TextValue wraps an existing CRDT rich-text node.
func TextValue(t *RichText) Value { return Value{kind: KindText, t: t} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload; zero value if Kind() != KindBool.
func (v Value) Bool() bool { return v.b }

// Number returns the numeric payload; zero value if Kind() != KindNumber.
func (v Value) Number() float64 { return v.n }

// String returns the string payload; empty if Kind() != KindString.
func (v Value) String() string { return v.s }

// Map returns the nested map, or nil if Kind() != KindMap.
func (v Value) Map() *OMap { return v.m }

// Array returns the nested array, or nil if Kind() != KindArray.
func (v Value) Array() *OArray { return v.a }

// Text returns the nested rich text, or nil if Kind() != KindText.
func (v Value) Text() *RichText { return v.t }

// encode projects v into its wire-safe form. Containers must already be
// registered with a Doc (true of anything built via Doc.NewMap/NewArray/
// NewText) so the receiver can resolve ContainerID back to a live
// container once its own create-op has been applied.
func (v Value) encode() EncodedValue {
	switch v.kind {
	case KindBool:
		return EncodedValue{Kind: KindBool, Bool: v.b}
	case KindNumber:
		return EncodedValue{Kind: KindNumber, Num: v.n}
	case KindString:
		return EncodedValue{Kind: KindString, Str: v.s}
	case KindMap:
		return EncodedValue{Kind: KindMap, ContainerID: v.m.id()}
	case KindArray:
		return EncodedValue{Kind: KindArray, ContainerID: v.a.id()}
	case KindText:
		return EncodedValue{Kind: KindText, ContainerID: v.t.id()}
	default:
		return EncodedValue{Kind: KindNull}
	}
}

// decodeValue reverses encode, resolving container references against doc's
// registry. Returns false if a referenced container has not yet been
// created locally (caller should retry once the create op is applied).
func decodeValue(doc *Doc, ev EncodedValue) (Value, bool) {
	switch ev.Kind {
	case KindBool:
		return BoolValue(ev.Bool), true
	case KindNumber:
		return NumberValue(ev.Num), true
	case KindString:
		return StringValue(ev.Str), true
	case KindMap:
		c, ok := doc.container(ev.ContainerID)
		if !ok {
			return Value{}, false
		}
		m, ok := c.(*OMap)
		return MapValue(m), ok
	case KindArray:
		c, ok := doc.container(ev.ContainerID)
		if !ok {
			return Value{}, false
		}
		a, ok := c.(*OArray)
		return ArrayValue(a), ok
	case KindText:
		c, ok := doc.container(ev.ContainerID)
		if !ok {
			return Value{}, false
		}
		t, ok := c.(*RichText)
		return TextValue(t), ok
	default:
		return NullValue(), true
	}
}
