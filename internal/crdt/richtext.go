package crdt

import "strings"

// RichText is the rich-text container: "a sequence of
// characters with insertion/deletion ops and per-position attributes." The
// character sequence is an RGA of runes (same convergence rule as
// OArray); formatting is a parallel CRDT map keyed by node id, so the
// nested-container invariant holds for attributes too —
// there is no plain Go map anywhere in this type.
type RichText struct {
	doc   *Doc
	cid   string
	nodes []textNode
	index map[RGANodeID]int
	attrs *OMap // node id (string) -> attribute OMap
}

type textNode struct {
	id      RGANodeID
	after   RGANodeID
	r       rune
	deleted bool
}

func newRichText(doc *Doc, id string) *RichText {
	return &RichText{doc: doc, cid: id, index: make(map[RGANodeID]int)}
}

func (t *RichText) id() string { return t.cid }

// attrsMap lazily creates the backing attribute map the first time
// formatting is requested, itself a CRDT map nested under this container.
func (t *RichText) attrsMap() *OMap {
	t.doc.mu.Lock()
	if t.attrs != nil {
		m := t.attrs
		t.doc.mu.Unlock()
		return m
	}
	t.doc.mu.Unlock()
	m := t.doc.NewMap()
	t.doc.mu.Lock()
	if t.attrs == nil {
		t.attrs = m
	}
	winner := t.attrs
	t.doc.mu.Unlock()
	return winner
}

// InsertString inserts s as individual rune nodes starting after the given
// node (zero means "at the head"), returning the id of the last node
// inserted so the caller can chain further insertions after it.
func (t *RichText) InsertString(after RGANodeID, s string) RGANodeID {
	last := after
	for _, r := range s {
		last = t.InsertRune(last, r)
	}
	return last
}

// InsertRune inserts a single rune after the given node.
func (t *RichText) InsertRune(after RGANodeID, r rune) RGANodeID {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	id := RGANodeID{Actor: t.doc.actor, Seq: t.doc.stamp().Seq}
	op := Op{ID: opIDOf(id), Kind: OpTextInsert, Container: t.cid, Node: id, InsertAfter: after, Rune: r}
	_ = t.doc.emit(op)
	return id
}

// Append inserts s after the current last live rune.
func (t *RichText) Append(s string) RGANodeID {
	t.doc.mu.Lock()
	last := t.lastLiveLocked()
	t.doc.mu.Unlock()
	return t.InsertString(last, s)
}

// Delete tombstones a single rune node.
func (t *RichText) Delete(node RGANodeID) {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	op := Op{ID: t.doc.stamp(), Kind: OpTextDelete, Container: t.cid, Node: node}
	_ = t.doc.emit(op)
}

// Clear deletes every currently live rune, the first half of the
// delete-all-insert-new atomic text replace.
func (t *RichText) Clear() {
	t.doc.mu.Lock()
	ids := make([]RGANodeID, 0, len(t.nodes))
	for _, n := range t.nodes {
		if !n.deleted {
			ids = append(ids, n.id)
		}
	}
	t.doc.mu.Unlock()
	for _, id := range ids {
		t.Delete(id)
	}
}

// Replace clears the current text and inserts s in its place.
func (t *RichText) Replace(s string) {
	t.Clear()
	t.Append(s)
}

// String returns the current live text.
func (t *RichText) String() string {
	t.doc.mu.Lock()
	defer t.doc.mu.Unlock()
	var b strings.Builder
	for _, n := range t.nodes {
		if !n.deleted {
			b.WriteRune(n.r)
		}
	}
	return b.String()
}

// SetAttr attaches a formatting attribute to a rune node (e.g. "bold" ->
// "true" "per-position attributes").
func (t *RichText) SetAttr(node RGANodeID, key, value string) {
	m := t.attrsMap()
	entry, ok := m.Get(nodeKey(node))
	var attrMap *OMap
	if ok && entry.Kind() == KindMap {
		attrMap = entry.Map()
	} else {
		attrMap = t.doc.NewMap()
		m.Set(nodeKey(node), MapValue(attrMap))
	}
	attrMap.Set(key, StringValue(value))
}

// Attr returns a formatting attribute previously set on node.
func (t *RichText) Attr(node RGANodeID, key string) (string, bool) {
	m := t.attrsMap()
	entry, ok := m.Get(nodeKey(node))
	if !ok || entry.Kind() != KindMap {
		return "", false
	}
	v, ok := entry.Map().Get(key)
	if !ok {
		return "", false
	}
	return v.String(), true
}

func nodeKey(id RGANodeID) string {
	return id.Actor + ":" + itoa(id.Seq)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func (t *RichText) lastLiveLocked() RGANodeID {
	for i := len(t.nodes) - 1; i >= 0; i-- {
		if !t.nodes[i].deleted {
			return t.nodes[i].id
		}
	}
	if len(t.nodes) > 0 {
		return t.nodes[len(t.nodes)-1].id
	}
	return RGANodeID{}
}

func (t *RichText) applyOp(doc *Doc, op Op) error {
	switch op.Kind {
	case OpTextInsert:
		t.insertNode(textNode{id: op.Node, after: op.InsertAfter, r: op.Rune})
	case OpTextDelete:
		if i, ok := t.index[op.Node]; ok {
			t.nodes[i].deleted = true
		}
	}
	return nil
}

func (t *RichText) insertNode(n textNode) {
	if _, exists := t.index[n.id]; exists {
		return
	}
	pos := 0
	if !n.after.Zero() {
		if i, ok := t.index[n.after]; ok {
			pos = i + 1
		} else {
			pos = len(t.nodes)
		}
	}
	for pos < len(t.nodes) && t.nodes[pos].after == n.after {
		if opIDOf(t.nodes[pos].id).Less(opIDOf(n.id)) {
			break
		}
		pos++
	}
	t.nodes = append(t.nodes, textNode{})
	copy(t.nodes[pos+1:], t.nodes[pos:])
	t.nodes[pos] = n
	for i := pos; i < len(t.nodes); i++ {
		t.index[t.nodes[i].id] = i
	}
}
