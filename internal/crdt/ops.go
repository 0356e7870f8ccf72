package crdt

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// OpID stamps every mutation with the actor that produced it and that
// actor's local sequence number, giving a total order for tie-breaking
// (higher Seq wins; Actor breaks ties between equal Seq from different
// replicas, which cannot otherwise happen since Seq is actor-local).
type OpID struct {
	Actor string
	Seq   uint64
}

// Less reports whether id sorts before other under the LWW tie-break order:
// higher sequence wins, and on a tie the lexicographically greater actor
// wins: deterministic, with no wall-clock dependency.
func (id OpID) Less(other OpID) bool {
	if id.Seq != other.Seq {
		return id.Seq < other.Seq
	}
	return id.Actor < other.Actor
}

// RGANodeID identifies one inserted element in an OArray or RichText.
type RGANodeID struct {
	Actor string
	Seq   uint64
}

// Zero reports whether this is the sentinel "no node" id, used as
// InsertAfter when inserting at the head of a sequence.
func (id RGANodeID) Zero() bool {
	return id.Actor == "" && id.Seq == 0
}

// Kind tags the variant a Value currently holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMap
	KindArray
	KindText
)

// EncodedValue is the wire-safe projection of a Value: scalars are carried
// inline, containers are carried by reference (ContainerID) since the
// container's own ops travel separately in the update log. Decoding an
// EncodedValue back into a Value therefore requires a container registry
// (see decodeValue), which is why this type lives only inside Op, never
// handed to callers directly.
type EncodedValue struct {
	Kind        Kind
	Bool        bool
	Num         float64
	Str         string
	ContainerID string
}

// OpKind enumerates the mutation types recorded in a replica's op log.
type OpKind uint8

const (
	OpContainerCreate OpKind = iota
	OpRootBind
	OpMapSet
	OpMapDelete
	OpArrayInsert
	OpArrayDelete
	OpTextInsert
	OpTextDelete
)

// Op is one entry in a replica's operation log. Only the fields relevant to
// Kind are populated; the rest are zero value.
type Op struct {
	ID OpID

	// Lamport is a logical clock used only for OMap's last-write-wins
	// tie-break; unlike ID.Seq (actor-local, used for causal dedupe) it
	// reflects this replica's full causal knowledge at the time of the op,
	// so a late-joining actor's edits still correctly outrank earlier ones.
	Lamport uint64

	Kind OpKind

	// Container is the target container's id for every kind except
	// OpContainerCreate, where it is the id of the container being created.
	Container string

	// ContainerKind is set on OpContainerCreate: which kind of container to
	// instantiate (Map/Array/Text) before later ops can reference it.
	ContainerKind Kind

	// Map ops.
	Key   string
	Value EncodedValue

	// Array/Text ops.
	Node        RGANodeID // the node this op creates or targets
	InsertAfter RGANodeID // Array/Text insert: predecessor node (zero = head)
	Rune        rune      // Text insert payload
}

// updatePayload is the gob envelope pushed over the wire by
// Doc.EncodeUpdateSince and consumed by Doc.ApplyUpdate.
type updatePayload struct {
	Ops []Op
}

func encodeOps(ops []Op) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(updatePayload{Ops: ops}); err != nil {
		return nil, fmt.Errorf("crdt: encode update: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeOps(data []byte) ([]Op, error) {
	var payload updatePayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("crdt: decode update: %w", err)
	}
	return payload.Ops, nil
}
