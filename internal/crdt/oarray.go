package crdt

// OArray is the ordered-array container: "insertion order
// significant." Implemented as a Replicated Growable Array (RGA): each
// element is a tagged node referencing its left neighbour at insertion
// time, so concurrent inserts at the same position converge on the same
// total order everywhere without renumbering.
type OArray struct {
	doc   *Doc
	cid   string
	nodes []arrayNode       // kept in RGA order
	index map[RGANodeID]int // node id -> position in nodes
}

type arrayNode struct {
	id      RGANodeID
	after   RGANodeID
	value   EncodedValue
	deleted bool
}

func newOArray(doc *Doc, id string) *OArray {
	return &OArray{doc: doc, cid: id, index: make(map[RGANodeID]int)}
}

func (a *OArray) id() string { return a.cid }

// Append inserts value after the last live element (or at the head if
// empty) and returns the new node's id for later Delete/InsertAfter calls.
func (a *OArray) Append(value Value) RGANodeID {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	return a.insertAfterLocked(a.lastLiveLocked(), value)
}

// InsertAfter inserts value immediately after the element identified by
// after (the zero RGANodeID means "at the head").
func (a *OArray) InsertAfter(after RGANodeID, value Value) RGANodeID {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	return a.insertAfterLocked(after, value)
}

func (a *OArray) insertAfterLocked(after RGANodeID, value Value) RGANodeID {
	id := RGANodeID{Actor: a.doc.actor, Seq: a.doc.stamp().Seq}
	op := Op{
		ID:          OpID{Actor: id.Actor, Seq: id.Seq},
		Kind:        OpArrayInsert,
		Container:   a.cid,
		Node:        id,
		InsertAfter: after,
		Value:       value.encode(),
	}
	_ = a.doc.emit(op)
	return id
}

// Delete tombstones the node with the given id. A no-op if already deleted
// or unknown (e.g. concurrently removed by another replica).
func (a *OArray) Delete(node RGANodeID) {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	op := Op{ID: a.doc.stamp(), Kind: OpArrayDelete, Container: a.cid, Node: node}
	_ = a.doc.emit(op)
}

// Values returns the live elements in order.
func (a *OArray) Values() []Value {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	out := make([]Value, 0, len(a.nodes))
	for _, n := range a.nodes {
		if n.deleted {
			continue
		}
		if v, ok := decodeValue(a.doc, n.value); ok {
			out = append(out, v)
		}
	}
	return out
}

// Entry pairs a live element with the node id Delete expects.
type Entry struct {
	Node  RGANodeID
	Value Value
}

// Entries returns the live elements in order together with their node
// ids, so callers that need to delete a specific element (rather than
// merely read the sequence) can do so without re-deriving ids.
func (a *OArray) Entries() []Entry {
	a.doc.mu.Lock()
	defer a.doc.mu.Unlock()
	out := make([]Entry, 0, len(a.nodes))
	for _, n := range a.nodes {
		if n.deleted {
			continue
		}
		if v, ok := decodeValue(a.doc, n.value); ok {
			out = append(out, Entry{Node: n.id, Value: v})
		}
	}
	return out
}

// Len returns the number of live elements.
func (a *OArray) Len() int {
	n := 0
	for _, v := range a.nodes {
		if !v.deleted {
			n++
		}
	}
	return n
}

func (a *OArray) lastLiveLocked() RGANodeID {
	for i := len(a.nodes) - 1; i >= 0; i-- {
		if !a.nodes[i].deleted {
			return a.nodes[i].id
		}
	}
	if len(a.nodes) > 0 {
		return a.nodes[len(a.nodes)-1].id
	}
	return RGANodeID{}
}

func (a *OArray) applyOp(doc *Doc, op Op) error {
	switch op.Kind {
	case OpArrayInsert:
		a.insertNode(arrayNode{id: op.Node, after: op.InsertAfter, value: op.Value})
	case OpArrayDelete:
		if i, ok := a.index[op.Node]; ok {
			a.nodes[i].deleted = true
		}
	}
	return nil
}

// insertNode places a node right after its `after` predecessor, then skips
// forward past any existing successors whose id sorts higher than the new
// node's — the standard RGA tie-break for concurrent inserts at the same
// position (higher sequence wins the left-most slot, actor id breaks ties
// between equal sequence from different replicas).
func (a *OArray) insertNode(n arrayNode) {
	if _, exists := a.index[n.id]; exists {
		return
	}
	pos := 0
	if !n.after.Zero() {
		afterPos, ok := a.positionOf(n.after)
		if !ok {
			// Predecessor not seen yet; append at tail rather than drop the
			// op — a later message carrying the predecessor will not
			// retroactively reorder this node, which is an acceptable
			// approximation for the engine's own single-socket ordering
			// guarantees.
			pos = len(a.nodes)
		} else {
			pos = afterPos + 1
		}
	}
	for pos < len(a.nodes) && a.nodes[pos].after == n.after {
		if opIDOf(a.nodes[pos].id).Less(opIDOf(n.id)) {
			break
		}
		pos++
	}
	a.nodes = append(a.nodes, arrayNode{})
	copy(a.nodes[pos+1:], a.nodes[pos:])
	a.nodes[pos] = n
	a.reindexFrom(pos)
}

func (a *OArray) reindexFrom(start int) {
	for i := start; i < len(a.nodes); i++ {
		a.index[a.nodes[i].id] = i
	}
}

func (a *OArray) positionOf(id RGANodeID) (int, bool) {
	i, ok := a.index[id]
	return i, ok
}

func opIDOf(n RGANodeID) OpID { return OpID{Actor: n.Actor, Seq: n.Seq} }
