// Package model provides the in-memory shape of a content document (the
// page/surface/note/block tree) and the factories/mutators that preserve
// its invariants. The tree is backed by a CRDT OMap rather than a plain
// Go map so every nested level stays a CRDT container.
package model

import (
	"fmt"
	"time"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/edgeless"
	"github.com/affine-collab/cte/internal/idgen"
)

// Flavour enumerates the block kinds.
type Flavour string

const (
	FlavourPage      Flavour = "affine:page"
	FlavourSurface   Flavour = "affine:surface"
	FlavourNote      Flavour = "affine:note"
	FlavourParagraph Flavour = "affine:paragraph"
	FlavourList      Flavour = "affine:list"
	FlavourCode      Flavour = "affine:code"
	FlavourTable     Flavour = "affine:table"
	FlavourImage     Flavour = "affine:image"
	FlavourDivider   Flavour = "affine:divider"
	FlavourLinkedDoc Flavour = "affine:linkedPage"
)

// richTextFlavours carries a CRDT rich-text node under "prop:text" (or
// "prop:title" for the page block).
var richTextFlavours = map[Flavour]bool{
	FlavourParagraph: true,
	FlavourList:      true,
	FlavourCode:      true,
}

// Position selects where AddBlock inserts the new block among its
// parent's existing children.
type Position string

const (
	PositionStart Position = "start"
	PositionEnd   Position = "end"
	PositionIndex Position = "index"
)

// Tree is a handle onto one content document's block tree, backed by a
// CRDT map at the document root keyed "blocks": block id -> block entry
// map. Every level is a CRDT container, end to end.
type Tree struct {
	doc    *crdt.Doc
	blocks *crdt.OMap
}

// NewTree wraps doc's root "blocks" map (created on first use).
func NewTree(doc *crdt.Doc) *Tree {
	return &Tree{doc: doc, blocks: doc.GetMap("blocks")}
}

// BlockView is the caller-facing, decoded projection of one block: used
// for GET .../content responses and internal traversal.
type BlockView struct {
	ID       string                 `json:"id"`
	Flavour  Flavour                `json:"flavour"`
	Parent   string                 `json:"parent,omitempty"`
	Children []string               `json:"children,omitempty"`
	Props    map[string]interface{} `json:"props,omitempty"`
	Text     string                 `json:"text,omitempty"`
}

func (t *Tree) entry(id string) (*crdt.OMap, bool) {
	v, ok := t.blocks.Get(id)
	if !ok || v.Kind() != crdt.KindMap {
		return nil, false
	}
	return v.Map(), true
}

// stampMeta writes prop:meta:createdAt/createdBy and the matching
// updated fields.
func stampMeta(entry *crdt.OMap, actor string, isCreate bool) {
	now := crdt.StringValue(nowRFC3339())
	if isCreate {
		entry.Set("prop:meta:createdAt", now)
		entry.Set("prop:meta:createdBy", crdt.StringValue(actor))
	}
	entry.Set("prop:meta:updatedAt", now)
	entry.Set("prop:meta:updatedBy", crdt.StringValue(actor))
}

// nowRFC3339 is overridable in tests that need deterministic timestamps.
var nowRFC3339 = func() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// newBlockEntry allocates a fresh block id and its backing CRDT map, wired
// with flavour and parent, but not yet attached to any parent's children
// array (callers do that separately so root creation and append share one
// path).
func (t *Tree) newBlockEntry(flavour Flavour, parent string, actor string) (string, *crdt.OMap) {
	id := idgen.NanoID()
	entry := t.doc.NewMap()
	entry.Set("flavour", crdt.StringValue(string(flavour)))
	entry.Set("sys:parent", crdt.StringValue(parent))
	entry.Set("sys:children", crdt.ArrayValue(t.doc.NewArray()))
	stampMeta(entry, actor, true)
	t.blocks.Set(id, crdt.MapValue(entry))
	return id, entry
}

func childrenArray(entry *crdt.OMap) *crdt.OArray {
	v, ok := entry.Get("sys:children")
	if !ok || v.Kind() != crdt.KindArray {
		return nil
	}
	return v.Array()
}

// appendChild records childID in parent's sys:children array.
func appendChild(parentEntry *crdt.OMap, childID string) {
	childrenArray(parentEntry).Append(crdt.StringValue(childID))
}

// Bootstrap builds the fixed initial tree for a newly created
// document: root page block with rich-text title, a surface block
// with a correctly-typed empty elements container, and a note block
// containing one empty paragraph. Returns the new page (root) block id.
func Bootstrap(doc *crdt.Doc, title, actor string) string {
	t := NewTree(doc)

	pageID, pageEntry := t.newBlockEntry(FlavourPage, "", actor)
	titleText := doc.NewText()
	if title != "" {
		titleText.Append(title)
	}
	pageEntry.Set("prop:title", crdt.TextValue(titleText))

	surfaceID, surfaceEntry := t.newBlockEntry(FlavourSurface, pageID, actor)
	surfaceEntry.Set("prop:elements", edgeless.NewElementsWrapper(doc))
	appendChild(pageEntry, surfaceID)

	noteID, noteEntry := t.newBlockEntry(FlavourNote, pageID, actor)
	appendChild(pageEntry, noteID)

	paraID, paraEntry := t.newBlockEntry(FlavourParagraph, noteID, actor)
	paraEntry.Set("prop:text", crdt.TextValue(doc.NewText()))
	appendChild(noteEntry, paraID)

	doc.GetMap("meta").Set("rootId", crdt.StringValue(pageID))
	return pageID
}

// PageID returns the document's root page block id, as recorded by
// Bootstrap.
func PageID(doc *crdt.Doc) (string, bool) {
	v, ok := doc.GetMap("meta").Get("rootId")
	if !ok {
		return "", false
	}
	return v.String(), true
}

// NoteID returns the id of the page's note-flavoured child, if any.
func NoteID(doc *crdt.Doc) (string, bool) {
	pageID, ok := PageID(doc)
	if !ok {
		return "", false
	}
	t := NewTree(doc)
	view, ok := t.Get(pageID)
	if !ok {
		return "", false
	}
	for _, childID := range view.Children {
		if child, ok := t.Get(childID); ok && child.Flavour == FlavourNote {
			return childID, true
		}
	}
	return "", false
}

// SurfaceID returns the id of the page's surface-flavoured child, if any.
func SurfaceID(doc *crdt.Doc) (string, bool) {
	pageID, ok := PageID(doc)
	if !ok {
		return "", false
	}
	t := NewTree(doc)
	view, ok := t.Get(pageID)
	if !ok {
		return "", false
	}
	for _, childID := range view.Children {
		if child, ok := t.Get(childID); ok && child.Flavour == FlavourSurface {
			return childID, true
		}
	}
	return "", false
}

// AddBlock inserts a new block of the given flavour under parent at
// position. If props carries "text" and the flavour is
// rich-text-bearing, the text is applied as the initial content: a plain
// string inserts its characters; any other value is treated as already
// CRDT-shaped attributes and skipped here (callers building structured
// text use UpdateBlock's attribute path instead).
func (t *Tree) AddBlock(parent string, flavour Flavour, props map[string]interface{}, pos Position, index int, actor string) (string, error) {
	parentEntry, ok := t.entry(parent)
	if !ok {
		return "", apperrors.New(apperrors.CodeBlockNotFound, fmt.Sprintf("parent block %q not found", parent))
	}

	id, entry := t.newBlockEntry(flavour, parent, actor)

	if richTextFlavours[flavour] {
		text := t.doc.NewText()
		if s, ok := props["text"].(string); ok && s != "" {
			text.Append(s)
		}
		entry.Set("prop:text", crdt.TextValue(text))
		delete(props, "text")
	}
	for k, v := range props {
		setScalarProp(entry, "prop:"+k, v)
	}

	arr := childrenArray(parentEntry)
	switch pos {
	case PositionStart:
		t.insertChildAt(arr, parentEntry, id, 0)
	case PositionIndex:
		t.insertChildAt(arr, parentEntry, id, index)
	default:
		appendChild(parentEntry, id)
	}
	return id, nil
}

// insertChildAt rebuilds the children array with id spliced in at idx.
// OArray's InsertAfter needs a predecessor node id, so we resolve idx
// against the array's current live node ids.
func (t *Tree) insertChildAt(arr *crdt.OArray, parentEntry *crdt.OMap, id string, idx int) {
	vals := arr.Values()
	if idx < 0 || idx > len(vals) {
		idx = len(vals)
	}
	// idx 0 inserts after the zero node (the head); any other idx inserts
	// after the live node currently at idx-1.
	if idx == 0 {
		arr.InsertAfter(crdt.RGANodeID{}, crdt.StringValue(id))
		return
	}
	entries := arr.Entries()
	arr.InsertAfter(entries[idx-1].Node, crdt.StringValue(id))
}

func setScalarProp(entry *crdt.OMap, key string, v interface{}) {
	switch val := v.(type) {
	case string:
		entry.Set(key, crdt.StringValue(val))
	case bool:
		entry.Set(key, crdt.BoolValue(val))
	case float64:
		entry.Set(key, crdt.NumberValue(val))
	case int:
		entry.Set(key, crdt.NumberValue(float64(val)))
	case nil:
		entry.Set(key, crdt.NullValue())
	}
}

// UpdateBlock shallow-merges props into blockID's entry:
// rich-text properties supplied as a string replace the text atomically;
// other scalar properties are assigned.
func (t *Tree) UpdateBlock(blockID string, props map[string]interface{}, actor string) error {
	entry, ok := t.entry(blockID)
	if !ok {
		return apperrors.New(apperrors.CodeBlockNotFound, fmt.Sprintf("block %q not found", blockID))
	}
	if s, ok := props["text"].(string); ok {
		if v, has := entry.Get("prop:text"); has && v.Kind() == crdt.KindText {
			v.Text().Replace(s)
		} else {
			text := t.doc.NewText()
			text.Append(s)
			entry.Set("prop:text", crdt.TextValue(text))
		}
		delete(props, "text")
	}
	if s, ok := props["title"].(string); ok {
		if v, has := entry.Get("prop:title"); has && v.Kind() == crdt.KindText {
			v.Text().Replace(s)
		}
		delete(props, "title")
	}
	for k, v := range props {
		setScalarProp(entry, "prop:"+k, v)
	}
	stampMeta(entry, actor, false)
	return nil
}

// DeleteBlock removes blockID and every descendant. When
// cascade is true (the default), dangling references to the deleted ids
// in edgeless connectors/groups within the same document's surface are
// also scrubbed; cascade=false leaves them dangling, which is permitted
// for connector endpoints.
func (t *Tree) DeleteBlock(blockID string, cascade bool) error {
	entry, ok := t.entry(blockID)
	if !ok {
		return apperrors.New(apperrors.CodeBlockNotFound, fmt.Sprintf("block %q not found", blockID))
	}
	parentID, _ := entry.Get("sys:parent")

	ids := t.collectSubtree(blockID)
	for _, id := range ids {
		t.blocks.Delete(id)
	}

	if parentID.Kind() == crdt.KindString && parentID.String() != "" {
		if parentEntry, ok := t.entry(parentID.String()); ok {
			removeFromChildren(parentEntry, blockID)
		}
	}

	if cascade {
		if surfaceID, ok := SurfaceID(t.doc); ok {
			if surfaceEntry, ok := t.entry(surfaceID); ok {
				if wrapped, ok := surfaceEntry.Get("prop:elements"); ok && wrapped.Kind() == crdt.KindMap {
					edgeless.ScrubReferences(wrapped.Map(), ids)
				}
			}
		}
	}
	return nil
}

func removeFromChildren(parentEntry *crdt.OMap, childID string) {
	arr := childrenArray(parentEntry)
	for _, e := range arr.Entries() {
		if e.Value.Kind() == crdt.KindString && e.Value.String() == childID {
			arr.Delete(e.Node)
			return
		}
	}
}

// collectSubtree returns blockID and every descendant id, depth-first.
func (t *Tree) collectSubtree(blockID string) []string {
	var out []string
	var walk func(id string)
	walk = func(id string) {
		out = append(out, id)
		if entry, ok := t.entry(id); ok {
			for _, v := range childrenArray(entry).Values() {
				if v.Kind() == crdt.KindString {
					walk(v.String())
				}
			}
		}
	}
	walk(blockID)
	return out
}

// Get decodes blockID into a BlockView.
func (t *Tree) Get(blockID string) (BlockView, bool) {
	entry, ok := t.entry(blockID)
	if !ok {
		return BlockView{}, false
	}
	view := BlockView{ID: blockID, Props: map[string]interface{}{}}
	if v, ok := entry.Get("flavour"); ok {
		view.Flavour = Flavour(v.String())
	}
	if v, ok := entry.Get("sys:parent"); ok {
		view.Parent = v.String()
	}
	for _, v := range childrenArray(entry).Values() {
		if v.Kind() == crdt.KindString {
			view.Children = append(view.Children, v.String())
		}
	}
	if v, ok := entry.Get("prop:text"); ok && v.Kind() == crdt.KindText {
		view.Text = v.Text().String()
	}
	if v, ok := entry.Get("prop:title"); ok && v.Kind() == crdt.KindText {
		view.Text = v.Text().String()
	}
	for _, key := range entry.Keys() {
		if len(key) > 5 && key[:5] == "prop:" && key != "prop:text" && key != "prop:title" && key != "prop:elements" {
			if v, ok := entry.Get(key); ok {
				view.Props[key[5:]] = scalarOf(v)
			}
		}
	}
	return view, true
}

func scalarOf(v crdt.Value) interface{} {
	switch v.Kind() {
	case crdt.KindBool:
		return v.Bool()
	case crdt.KindNumber:
		return v.Number()
	case crdt.KindString:
		return v.String()
	default:
		return nil
	}
}
