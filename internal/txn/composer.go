// Package txn implements the Transaction Composer: turning one
// user intent into a coordinated, strictly-ordered, cross-document CRDT
// transaction (content doc + workspace index doc + document-properties
// doc + folder-tree doc). The transaction model is monotonic: there is
// no rollback, earlier steps stay durable, and partial failure is
// surfaced to the caller rather than compensated.
package txn

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/idgen"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/upstream"
)

// Composer is the transaction composer. One instance per process,
// shared across all HTTP requests and live canvas sessions; its
// per-document lock registry keeps each replica single-writer, with
// client-originated mutations and upstream-update application
// serialised through the same lock.
type Composer struct {
	upstream *upstream.Manager

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// ActorID names this process's authorship for every CRDT op it
	// produces locally.
	ActorID string
}

// New constructs a Composer bound to an upstream Manager.
func New(up *upstream.Manager, actorID string) *Composer {
	return &Composer{
		upstream: up,
		locks:    make(map[string]*sync.Mutex),
		ActorID:  actorID,
	}
}

func docKey(workspaceID, docID string) string { return workspaceID + "::" + docID }

// lockFor returns (creating if needed) the mutex guarding workspaceID/docID.
func (c *Composer) lockFor(workspaceID, docID string) *sync.Mutex {
	key := docKey(workspaceID, docID)
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// Auxiliary document ids per workspace: the index document is
// the workspace root itself; properties and folders are keyed documents.
func propertiesDocID(workspaceID string) string { return fmt.Sprintf("db$%s$docProperties", workspaceID) }
func foldersDocID(workspaceID string) string     { return fmt.Sprintf("db$%s$folders", workspaceID) }

// withDoc loads workspaceID/docID under its lock, runs fn against the
// replica, and — if fn returns nil — pushes the resulting diff upstream.
// fn's error is returned unchanged (no upstream traffic on failure).
func (c *Composer) withDoc(ctx context.Context, sess *upstream.Session, workspaceID, docID string, fn func(doc *crdt.Doc) error) (int64, error) {
	lock := c.lockFor(workspaceID, docID)
	lock.Lock()
	defer lock.Unlock()

	doc, sv, err := sess.LoadDocument(ctx, workspaceID, docID, c.ActorID)
	if err != nil {
		return 0, err
	}
	if err := fn(doc); err != nil {
		return 0, err
	}
	return sess.PushUpdate(ctx, workspaceID, docID, doc, sv)
}

// CreateDocumentSpec is the caller's declarative intent.
type CreateDocumentSpec struct {
	DocID    string // optional; idempotency key
	Title    string
	Markdown string
	FolderID string
	Actor    string // author identity stamped into properties/meta
}

// CreateDocumentResult is CreateDocument's caller-facing result.
type CreateDocumentResult struct {
	DocID        string `json:"docId"`
	FolderNodeID string `json:"folderNodeId,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Title        string `json:"title"`
}

// CreateDocument executes the four-step cross-document transaction:
// content, index, properties, then folder placement. Step 1 must succeed
// before any later step; if a later step fails, the error carries the
// already-durable docID and nothing is compensated.
func (c *Composer) CreateDocument(ctx context.Context, sess *upstream.Session, workspaceID string, spec CreateDocumentSpec) (*CreateDocumentResult, error) {
	docID := spec.DocID
	if docID == "" {
		docID = idgen.NanoID()
	} else if err := c.checkNotExists(ctx, sess, workspaceID, docID); err != nil {
		return nil, err
	}

	// Step 1: content document.
	contentDoc := crdt.NewDoc(c.ActorID)
	model.Bootstrap(contentDoc, spec.Title, spec.Actor)
	if spec.Markdown != "" {
		if noteID, ok := model.NoteID(contentDoc); ok {
			specs, err := model.DefaultParser{}.Parse(spec.Markdown)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeValidation, "parse markdown", err).WithStep("content", "")
			}
			if err := model.Lower(contentDoc, noteID, specs, spec.Actor); err != nil {
				return nil, apperrors.Wrap(apperrors.CodeValidation, "lower markdown", err).WithStep("content", "")
			}
		}
	}
	lock := c.lockFor(workspaceID, docID)
	lock.Lock()
	timestamp, err := sess.PushUpdate(ctx, workspaceID, docID, contentDoc, nil)
	lock.Unlock()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "push content document", err).WithStep("content", "")
	}

	// Step 2: workspace index document.
	now := time.Now().UTC()
	_, err = c.withDoc(ctx, sess, workspaceID, workspaceID, func(doc *crdt.Doc) error {
		pages := doc.GetArray("meta:pages")
		entry := doc.NewMap()
		entry.Set("id", crdt.StringValue(docID))
		entry.Set("title", crdt.StringValue(spec.Title))
		entry.Set("createDate", crdt.NumberValue(float64(now.UnixMilli())))
		entry.Set("updatedDate", crdt.NumberValue(float64(now.UnixMilli())))
		entry.Set("tags", crdt.ArrayValue(doc.NewArray()))
		pages.Append(crdt.MapValue(entry))
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "update workspace index", err).WithStep("index", docID)
	}

	// Step 3: document-properties document.
	_, err = c.withDoc(ctx, sess, workspaceID, propertiesDocID(workspaceID), func(doc *crdt.Doc) error {
		props := doc.GetMap("properties")
		entry := doc.NewMap()
		entry.Set("id", crdt.StringValue(docID))
		entry.Set("primaryMode", crdt.StringValue("page"))
		entry.Set("edgelessColorTheme", crdt.StringValue("light"))
		entry.Set("createdBy", crdt.StringValue(spec.Actor))
		entry.Set("updatedBy", crdt.StringValue(spec.Actor))
		entry.Set("updatedAt", crdt.NumberValue(float64(now.UnixMilli())))
		props.Set(docID, crdt.MapValue(entry))
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "update properties document", err).WithStep("properties", docID)
	}

	// Step 4: folder placement, if requested.
	var folderNodeID string
	if spec.FolderID != "" {
		nodeID := idgen.NanoID()
		_, err = c.withDoc(ctx, sess, workspaceID, foldersDocID(workspaceID), func(doc *crdt.Doc) error {
			nodes := doc.GetMap("nodes")
			token := idgen.NextToken(maxFolderIndex(nodes))
			entry := doc.NewMap()
			entry.Set("id", crdt.StringValue(nodeID))
			entry.Set("parentId", crdt.StringValue(spec.FolderID))
			entry.Set("type", crdt.StringValue("doc"))
			entry.Set("data", crdt.StringValue(docID))
			entry.Set("index", crdt.StringValue(token))
			nodes.Set(nodeID, crdt.MapValue(entry))
			return nil
		})
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "update folder document", err).WithStep("folder", docID)
		}
		folderNodeID = nodeID
	}

	return &CreateDocumentResult{DocID: docID, FolderNodeID: folderNodeID, Timestamp: timestamp, Title: spec.Title}, nil
}

// checkNotExists enforces the creation idempotency rule: a
// caller-supplied document id that already exists upstream fails with
// DOCUMENT_ALREADY_EXISTS rather than silently overwriting.
func (c *Composer) checkNotExists(ctx context.Context, sess *upstream.Session, workspaceID, docID string) error {
	_, sv, err := sess.LoadDocument(ctx, workspaceID, docID, c.ActorID)
	if err != nil {
		if ae, ok := apperrors.As(err); ok && ae.Code == apperrors.CodeDocNotFound {
			return nil
		}
		return err
	}
	if len(sv) > 0 {
		return apperrors.New(apperrors.CodeDocumentAlreadyExists, fmt.Sprintf("document %q already exists", docID))
	}
	return nil
}

func maxFolderIndex(nodes *crdt.OMap) string {
	max := ""
	for _, key := range nodes.Keys() {
		v, ok := nodes.Get(key)
		if !ok || v.Kind() != crdt.KindMap {
			continue
		}
		if idx, ok := v.Map().Get("index"); ok && idx.Kind() == crdt.KindString && idx.String() > max {
			max = idx.String()
		}
	}
	return max
}
