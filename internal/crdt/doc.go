package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/affine-collab/cte/internal/idgen"
)

// container is implemented by every CRDT container type (OMap, OArray,
// RichText). It lets Doc dispatch a remote Op to the right container
// without a type switch at every call site.
type container interface {
	id() string
	applyOp(doc *Doc, op Op) error
}

// Doc is a single replica of one CRDT document, exposing apply-update,
// encode-update-since, encode-state-vector and the typed container
// accessors. One Doc exists per
// (workspaceId, docId) a live session or transaction currently holds open;
// the Transaction Composer serialises all mutation through a per-document
// lock, and this type additionally guards its own state so a stray
// concurrent read (e.g. a health check) never races a writer.
type Doc struct {
	mu sync.Mutex

	actor   string
	seq     uint64
	lamport uint64
	clock   VClock

	containers map[string]container
	roots      map[string]string // root name -> container id
	log        []Op
}

// NewDoc creates an empty replica. actor should be stable for the lifetime
// of the local process's authorship of this replica (the engine uses its
// own node identity, e.g. "cte-<pid>" or a per-session nanoid).
func NewDoc(actor string) *Doc {
	return &Doc{
		actor:      actor,
		containers: make(map[string]container),
		roots:      make(map[string]string),
		clock:      make(VClock),
	}
}

func (d *Doc) stamp() OpID {
	// A replica rebuilt from an update that already holds ops by this actor
	// continues past that actor's known seq, so its new ops are not taken
	// for ones already seen and dropped from later updates.
	if known := d.clock.Get(d.actor); known > d.seq {
		d.seq = known
	}
	d.seq++
	return OpID{Actor: d.actor, Seq: d.seq}
}

// nextLamport returns the Lamport timestamp for the next locally-generated
// op: one past the highest timestamp this replica has observed from any
// actor, local or remote. Used for LWW tie-breaking in OMap, where the
// actor-local Seq alone would be meaningless across actors — a newly
// joined actor's Seq starts at 1 even when its edit is causally the most
// recent thing the replica has seen.
func (d *Doc) nextLamport() uint64 {
	d.lamport++
	return d.lamport
}

func (d *Doc) observeLamport(ts uint64) {
	if ts > d.lamport {
		d.lamport = ts
	}
}

// emit applies a locally-generated op (already stamped with this replica's
// actor) and records it in the log so later EncodeUpdateSince calls can
// relay it.
func (d *Doc) emit(op Op) error {
	if err := d.dispatch(op); err != nil {
		return err
	}
	d.record(op)
	return nil
}

func (d *Doc) record(op Op) {
	d.clock = d.clock.Advance(op.ID.Actor, op.ID.Seq)
	d.observeLamport(op.Lamport)
	d.log = append(d.log, op)
}

func (d *Doc) dispatch(op Op) error {
	switch op.Kind {
	case OpContainerCreate:
		return d.instantiate(op.Container, op.ContainerKind)
	case OpRootBind:
		if _, exists := d.roots[op.Key]; !exists {
			d.roots[op.Key] = op.Container
		}
		return nil
	default:
		c, ok := d.containers[op.Container]
		if !ok {
			return fmt.Errorf("crdt: op references unknown container %q", op.Container)
		}
		return c.applyOp(d, op)
	}
}

func (d *Doc) instantiate(id string, kind Kind) error {
	if _, exists := d.containers[id]; exists {
		return nil
	}
	switch kind {
	case KindMap:
		d.containers[id] = newOMap(d, id)
	case KindArray:
		d.containers[id] = newOArray(d, id)
	case KindText:
		d.containers[id] = newRichText(d, id)
	default:
		return fmt.Errorf("crdt: cannot create container of kind %d", kind)
	}
	return nil
}

func (d *Doc) container(id string) (container, bool) {
	c, ok := d.containers[id]
	return c, ok
}

func (d *Doc) newContainerID() string {
	return idgen.NanoID()
}

// createContainer stamps and applies the OpContainerCreate op that must
// precede any op referencing a freshly made container, whether root-level
// or nested inside a map/array/text value.
func (d *Doc) createContainer(kind Kind) string {
	id := d.newContainerID()
	op := Op{ID: d.stamp(), Lamport: d.nextLamport(), Kind: OpContainerCreate, Container: id, ContainerKind: kind}
	// Creation never fails: the container id is fresh by construction.
	_ = d.emit(op)
	return id
}

// NewMap creates a fresh, empty CRDT map not yet attached to anything. The
// caller wraps it with MapValue to nest it inside another container; root
// maps are created by name through GetMap instead.
func (d *Doc) NewMap() *OMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.createContainer(KindMap)
	return d.containers[id].(*OMap)
}

// NewArray creates a fresh, empty CRDT array.
func (d *Doc) NewArray() *OArray {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.createContainer(KindArray)
	return d.containers[id].(*OArray)
}

// NewText creates a fresh, empty CRDT rich-text node.
func (d *Doc) NewText() *RichText {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.createContainer(KindText)
	return d.containers[id].(*RichText)
}

// GetMap returns the named root-level map, creating and binding it on
// first use (the binding itself travels as an op so a peer applying the same update resolves the same
// name to the same container id).
func (d *Doc) GetMap(name string) *OMap {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getRoot(name, KindMap).(*OMap)
}

// GetArray returns the named root-level array, creating it on first use.
func (d *Doc) GetArray(name string) *OArray {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getRoot(name, KindArray).(*OArray)
}

// GetText returns the named root-level rich-text node, creating it on
// first use.
func (d *Doc) GetText(name string) *RichText {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getRoot(name, KindText).(*RichText)
}

func (d *Doc) getRoot(name string, kind Kind) container {
	if id, ok := d.roots[name]; ok {
		return d.containers[id]
	}
	id := d.createContainer(kind)
	bind := Op{ID: d.stamp(), Lamport: d.nextLamport(), Kind: OpRootBind, Key: name, Container: id}
	_ = d.emit(bind)
	d.roots[name] = id
	return d.containers[id]
}

// Actor returns this replica's authoring identity.
func (d *Doc) Actor() string { return d.actor }

// ApplyUpdate merges a remote update (as produced by another replica's
// EncodeUpdateSince) into this replica. Ops already known (by sequence
// number per actor) are skipped, making repeated application of the same
// bytes a no-op.
func (d *Doc) ApplyUpdate(data []byte) error {
	ops, err := decodeOps(data)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		if op.ID.Seq != 0 && op.ID.Seq <= d.clock.Get(op.ID.Actor) {
			continue
		}
		if err := d.dispatch(op); err != nil {
			return err
		}
		d.record(op)
	}
	return nil
}

// EncodeUpdateSince encodes every op this replica knows about that the
// given state vector does not, i.e. the minimal catch-up update for a peer
// at that state. A nil vector encodes the full history (used for
// load-document's "missing" payload against a brand-new replica).
func (d *Doc) EncodeUpdateSince(sv VClock) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var missing []Op
	for _, op := range d.log {
		if sv.Get(op.ID.Actor) < op.ID.Seq {
			missing = append(missing, op)
		}
	}
	return encodeOps(missing)
}

// EncodeStateVector encodes this replica's current state vector.
func (d *Doc) EncodeStateVector() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return encodeVClock(d.clock)
}

// StateVector returns a copy of the current in-memory state vector, for
// callers that need it without the gob round-trip (e.g. the upstream
// client retaining it alongside a freshly loaded document).
func (d *Doc) StateVector() VClock {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clock.Clone()
}

func encodeVClock(v VClock) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("crdt: encode state vector: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeStateVector decodes bytes produced by EncodeStateVector.
func DecodeStateVector(data []byte) (VClock, error) {
	var v VClock
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&v); err != nil {
		return nil, fmt.Errorf("crdt: decode state vector: %w", err)
	}
	return v, nil
}
