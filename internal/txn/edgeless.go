package txn

import (
	"context"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/edgeless"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/upstream"
)

// surfaceInner returns the elements map inside doc's surface block
// (unwrapped from prop:elements), failing if the surface block or its
// wrapper is missing.
func (c *Composer) surfaceInner(doc *crdt.Doc) (*crdt.OMap, error) {
	surfaceID, ok := model.SurfaceID(doc)
	if !ok {
		return nil, apperrors.New(apperrors.CodeDocNotFound, "document has no surface block")
	}
	entry, ok := surfaceEntry(doc, surfaceID)
	if !ok {
		return nil, apperrors.New(apperrors.CodeDocNotFound, "surface block entry missing")
	}
	wrapped, ok := entry.Get("prop:elements")
	if !ok || wrapped.Kind() != crdt.KindMap {
		return nil, apperrors.New(apperrors.CodeCRDTApplyFailed, "prop:elements wrapper missing or not a CRDT map")
	}
	return edgeless.Inner(wrapped.Map())
}

func surfaceEntry(doc *crdt.Doc, surfaceID string) (*crdt.OMap, bool) {
	v, ok := doc.GetMap("blocks").Get(surfaceID)
	if !ok || v.Kind() != crdt.KindMap {
		return nil, false
	}
	return v.Map(), true
}

// ListElements returns every live edgeless element in the document.
func (c *Composer) ListElements(ctx context.Context, sess *upstream.Session, workspaceID, docID string) ([]edgeless.View, error) {
	lock := c.lockFor(workspaceID, docID)
	lock.Lock()
	defer lock.Unlock()

	doc, _, err := sess.LoadDocument(ctx, workspaceID, docID, c.ActorID)
	if err != nil {
		return nil, err
	}
	inner, err := c.surfaceInner(doc)
	if err != nil {
		return nil, err
	}
	return edgeless.List(inner), nil
}

// CreateElement runs the given factory closure against the document's
// elements map and pushes the resulting diff. factory is one of
// edgeless.CreateShape/CreateConnector/CreateText/CreateBrush/
// CreateGroup/CreateMindmap, partially applied by the caller.
func (c *Composer) CreateElement(ctx context.Context, sess *upstream.Session, workspaceID, docID string, factory func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View) (edgeless.View, error) {
	var view edgeless.View
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		inner, err := c.surfaceInner(doc)
		if err != nil {
			return err
		}
		view = factory(doc, inner)
		return nil
	})
	return view, err
}

// UpdateElement shallow-merges changes into elementID.
func (c *Composer) UpdateElement(ctx context.Context, sess *upstream.Session, workspaceID, docID, elementID string, changes map[string]interface{}) error {
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		inner, err := c.surfaceInner(doc)
		if err != nil {
			return err
		}
		return edgeless.Update(doc, inner, elementID, changes)
	})
	return err
}

// DeleteElement removes elementID, scrubbing dangling references when
// cascade is true.
func (c *Composer) DeleteElement(ctx context.Context, sess *upstream.Session, workspaceID, docID, elementID string, cascade bool) error {
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		inner, err := c.surfaceInner(doc)
		if err != nil {
			return err
		}
		if err := edgeless.Delete(inner, elementID); err != nil {
			return err
		}
		if cascade {
			edgeless.ScrubReferences(inner, []string{elementID})
		}
		return nil
	})
	return err
}
