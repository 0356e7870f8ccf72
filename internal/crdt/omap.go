package crdt

import "sort"

// OMap is the ordered-map container: "insertion order
// insignificant, keys unique." Each key holds the value from the op with
// the highest Lamport timestamp that has touched it (actor id breaking
// ties): per-key LWW rather than a full tag-set OR-Map, since only key
// convergence is required, not surviving concurrent re-add after delete
// with distinct tags.
type OMap struct {
	doc     *Doc
	cid     string
	entries map[string]omapEntry
}

type omapEntry struct {
	id      OpID
	lamport uint64
	value   EncodedValue
	deleted bool
}

// wins reports whether a candidate (lamport, actor) pair should replace
// the current entry: higher Lamport timestamp wins; a tie (only possible
// between ops generated on different replicas, since nextLamport is
// strictly increasing per replica) breaks on actor id.
func wins(curLamport uint64, curActor string, lamport uint64, actor string) bool {
	if lamport != curLamport {
		return lamport > curLamport
	}
	return actor > curActor
}

func newOMap(doc *Doc, id string) *OMap {
	return &OMap{doc: doc, cid: id, entries: make(map[string]omapEntry)}
}

func (m *OMap) id() string { return m.cid }

// Set assigns key to value, stamping and recording the op immediately.
func (m *OMap) Set(key string, value Value) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	op := Op{ID: m.doc.stamp(), Lamport: m.doc.nextLamport(), Kind: OpMapSet, Container: m.cid, Key: key, Value: value.encode()}
	_ = m.doc.emit(op)
}

// Delete removes key.
func (m *OMap) Delete(key string) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	op := Op{ID: m.doc.stamp(), Lamport: m.doc.nextLamport(), Kind: OpMapDelete, Container: m.cid, Key: key}
	_ = m.doc.emit(op)
}

// Get returns the current value for key and whether it is present
// (absent both when never set and when deleted).
func (m *OMap) Get(key string) (Value, bool) {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.deleted {
		return Value{}, false
	}
	v, ok := decodeValue(m.doc, e.value)
	return v, ok
}

// Has reports whether key currently holds a live (non-deleted) value.
func (m *OMap) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the live keys in sorted order (the container itself has no
// intrinsic order; callers that need one impose it, e.g. over the folder
// document's node ids).
func (m *OMap) Keys() []string {
	m.doc.mu.Lock()
	defer m.doc.mu.Unlock()
	keys := make([]string, 0, len(m.entries))
	for k, e := range m.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of live entries.
func (m *OMap) Len() int {
	return len(m.Keys())
}

func (m *OMap) applyOp(doc *Doc, op Op) error {
	switch op.Kind {
	case OpMapSet:
		cur, exists := m.entries[op.Key]
		if !exists || wins(cur.lamport, cur.id.Actor, op.Lamport, op.ID.Actor) {
			m.entries[op.Key] = omapEntry{id: op.ID, lamport: op.Lamport, value: op.Value}
		}
	case OpMapDelete:
		cur, exists := m.entries[op.Key]
		if !exists || wins(cur.lamport, cur.id.Actor, op.Lamport, op.ID.Actor) {
			m.entries[op.Key] = omapEntry{id: op.ID, lamport: op.Lamport, deleted: true}
		}
	}
	return nil
}
