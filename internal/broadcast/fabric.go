// Package broadcast implements the Broadcast Fabric: the
// component that joins per-client live canvas WebSockets into shared
// upstream document sessions, relaying high-level add/update/remove
// events derived from diffing CRDT updates.
//
// Each (workspace,doc) key owns one shared replica and one upstream
// subscription; clients attach and detach under a per-key lock.
package broadcast

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/edgeless"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/upstream"
)

// Event is one high-level message the fabric fans out to clients.
type Event struct {
	Kind      string // "add", "update", "remove"
	Element   *edgeless.View
	ElementID string
	Changes   map[string]interface{}
}

// Client is anything the fabric can deliver an Event to — satisfied by
// internal/wsapi's canvas connection wrapper. Keeping this an interface
// (rather than depending on wsapi, which depends on broadcast) avoids an
// import cycle.
type Client interface {
	ID() string
	Deliver(Event)
}

// slot is the per-(workspaceId,docId) state: the live shared replica, its
// subscribed clients, and the upstream update subscription that feeds
// diffs to them.
type slot struct {
	mu          sync.Mutex
	doc         *crdt.Doc
	sess        *upstream.Session
	workspaceID string
	docID       string
	baseline    crdt.VClock // state already pushed upstream, for the next diff
	clients     map[string]Client
	lastElement map[string]edgeless.View // for diffing the next update
}

// Fabric is the process-wide broadcast fabric. It is a constructed,
// dependency-injected registry rather than a package-level global, so
// tests can spin up an independent fabric per case.
type Fabric struct {
	actorID string

	mu    sync.Mutex
	slots map[string]*slot
	// reverse maps a client id to the key it is attached to, for O(1)
	// cleanup on disconnect.
	reverse map[string]string
}

// New constructs an empty Fabric.
func New(actorID string) *Fabric {
	return &Fabric{
		actorID: actorID,
		slots:   make(map[string]*slot),
		reverse: make(map[string]string),
	}
}

func key(workspaceID, docID string) string { return workspaceID + "::" + docID }

// Join attaches client to the (workspaceId,docId) session, opening and
// loading the shared replica on first join and subscribing to upstream
// updates. Returns the current element list for the caller's `init`
// message.
func (f *Fabric) Join(ctx context.Context, sess *upstream.Session, workspaceID, docID string, client Client) ([]edgeless.View, error) {
	f.mu.Lock()
	k := key(workspaceID, docID)
	s, existed := f.slots[k]
	if !existed {
		s = &slot{clients: make(map[string]Client), lastElement: make(map[string]edgeless.View)}
		f.slots[k] = s
	}
	f.reverse[client.ID()] = k
	f.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.doc == nil {
		doc, sv, err := sess.LoadDocument(ctx, workspaceID, docID, f.actorID)
		if err != nil {
			f.Leave(client.ID())
			return nil, err
		}
		s.doc = doc
		s.sess = sess
		s.workspaceID = workspaceID
		s.docID = docID
		s.baseline = sv
		for _, v := range currentElements(doc) {
			s.lastElement[v.ID] = v
		}
		sess.SubscribeUpdates(docID, func(update []byte) {
			f.onUpstreamUpdate(k, update, "")
		})
	}
	s.clients[client.ID()] = client

	return currentElements(s.doc), nil
}

// Leave detaches a client and drops the slot from the fabric when the last
// client leaves. The upstream session and its update subscription are not
// closed here.
func (f *Fabric) Leave(clientID string) {
	f.mu.Lock()
	k, ok := f.reverse[clientID]
	if !ok {
		f.mu.Unlock()
		return
	}
	delete(f.reverse, clientID)
	s, ok := f.slots[k]
	f.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	delete(s.clients, clientID)
	remaining := len(s.clients)
	s.mu.Unlock()

	if remaining == 0 {
		f.mu.Lock()
		// Re-check under the fabric lock: a concurrent Join may have
		// repopulated the slot between the unlock above and here.
		if s2, ok := f.slots[k]; ok {
			s2.mu.Lock()
			empty := len(s2.clients) == 0
			s2.mu.Unlock()
			if empty {
				delete(f.slots, k)
			}
		}
		f.mu.Unlock()
	}
}

// ClientCount reports how many clients share workspaceID/docID.
func (f *Fabric) ClientCount(workspaceID, docID string) int {
	f.mu.Lock()
	s, ok := f.slots[key(workspaceID, docID)]
	f.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Mutate runs fn against the shared replica under the slot's lock, pushes
// the resulting diff upstream so REST callers and other replicas observe
// it too, diffs the result against the pre-mutation element snapshot,
// and fans the derived events out to every client except originatorID.
// The slot lock makes the replica single-writer: client mutations and
// upstream update application share one linearisation order.
func (f *Fabric) Mutate(ctx context.Context, workspaceID, docID, originatorID string, fn func(doc *crdt.Doc) error) error {
	f.mu.Lock()
	s, ok := f.slots[key(workspaceID, docID)]
	f.mu.Unlock()
	if !ok {
		return apperrors.New(apperrors.CodeDocNotFound, "no live canvas session for this document")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.lastElement
	if err := fn(s.doc); err != nil {
		return err
	}
	if _, err := s.sess.PushUpdate(ctx, s.workspaceID, s.docID, s.doc, s.baseline); err != nil {
		return err
	}
	s.baseline = s.doc.StateVector()
	after := currentElements(s.doc)
	f.diffAndFanOut(s, before, after, originatorID)
	return nil
}

// onUpstreamUpdate applies a remote CRDT update to the shared replica and
// fans out the derived events.
func (f *Fabric) onUpstreamUpdate(k string, update []byte, originatorID string) {
	f.mu.Lock()
	s, ok := f.slots[k]
	f.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.lastElement
	if err := s.doc.ApplyUpdate(update); err != nil {
		slog.Warn("broadcast: failed to apply upstream update", "key", k, "error", err)
		return
	}
	s.baseline = s.doc.StateVector()
	after := currentElements(s.doc)
	f.diffAndFanOut(s, before, after, originatorID)
}

// diffAndFanOut compares before/after element snapshots and emits
// add/update/remove events to every registered client but originatorID.
// Must be called with s.mu held.
func (f *Fabric) diffAndFanOut(s *slot, before map[string]edgeless.View, after []edgeless.View, originatorID string) {
	afterByID := make(map[string]edgeless.View, len(after))
	for _, v := range after {
		afterByID[v.ID] = v
		if prev, existed := before[v.ID]; !existed {
			f.fanOut(s, originatorID, Event{Kind: "add", Element: &v})
		} else if !propsEqual(prev, v) {
			f.fanOut(s, originatorID, Event{Kind: "update", ElementID: v.ID, Changes: v.Props})
		}
	}
	for id := range before {
		if _, stillThere := afterByID[id]; !stillThere {
			f.fanOut(s, originatorID, Event{Kind: "remove", ElementID: id})
		}
	}
	s.lastElement = afterByID
}

func (f *Fabric) fanOut(s *slot, originatorID string, ev Event) {
	for id, c := range s.clients {
		if id == originatorID {
			continue
		}
		c.Deliver(ev)
	}
}

func propsEqual(a, b edgeless.View) bool {
	if a.Index != b.Index || len(a.Props) != len(b.Props) {
		return false
	}
	for k, av := range a.Props {
		bv, ok := b.Props[k]
		// Prop values include decoded geometry arrays, so plain ==
		// would panic on uncomparable types.
		if !ok || !reflect.DeepEqual(av, bv) {
			return false
		}
	}
	return true
}

func currentElements(doc *crdt.Doc) []edgeless.View {
	surfaceID, ok := model.SurfaceID(doc)
	if !ok {
		return nil
	}
	v, ok := doc.GetMap("blocks").Get(surfaceID)
	if !ok || v.Kind() != crdt.KindMap {
		return nil
	}
	wrapped, ok := v.Map().Get("prop:elements")
	if !ok || wrapped.Kind() != crdt.KindMap {
		return nil
	}
	inner, err := edgeless.Inner(wrapped.Map())
	if err != nil {
		return nil
	}
	return edgeless.List(inner)
}

// NewClientID mints a unique canvas client/session identifier.
func NewClientID() string { return uuid.NewString() }

// IdleTimeout bounds how long a canvas session may sit without traffic
// before the caller should close it.
const IdleTimeout = 10 * time.Minute
