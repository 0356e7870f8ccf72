package txn

import (
	"context"

	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/upstream"
)

// AddBlock inserts a new block into the content document,
// single-document transaction (content doc only).
func (c *Composer) AddBlock(ctx context.Context, sess *upstream.Session, workspaceID, docID, parentID string, flavour model.Flavour, props map[string]interface{}, pos model.Position, index int, actor string) (string, error) {
	var newID string
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		id, err := model.NewTree(doc).AddBlock(parentID, flavour, props, pos, index, actor)
		if err != nil {
			return err
		}
		newID = id
		return nil
	})
	return newID, err
}

// UpdateBlock shallow-merges props into blockID.
func (c *Composer) UpdateBlock(ctx context.Context, sess *upstream.Session, workspaceID, docID, blockID string, props map[string]interface{}, actor string) error {
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		return model.NewTree(doc).UpdateBlock(blockID, props, actor)
	})
	return err
}

// DeleteBlock removes blockID and its descendants.
func (c *Composer) DeleteBlock(ctx context.Context, sess *upstream.Session, workspaceID, docID, blockID string, cascade bool) error {
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		return model.NewTree(doc).DeleteBlock(blockID, cascade)
	})
	return err
}

// GetContent loads the content document read-only and returns its full
// block tree, rooted at the page block.
func (c *Composer) GetContent(ctx context.Context, sess *upstream.Session, workspaceID, docID string) ([]model.BlockView, error) {
	lock := c.lockFor(workspaceID, docID)
	lock.Lock()
	defer lock.Unlock()

	doc, _, err := sess.LoadDocument(ctx, workspaceID, docID, c.ActorID)
	if err != nil {
		return nil, err
	}
	tree := model.NewTree(doc)
	pageID, ok := model.PageID(doc)
	if !ok {
		return nil, nil
	}
	var out []model.BlockView
	var walk func(id string)
	walk = func(id string) {
		v, ok := tree.Get(id)
		if !ok {
			return
		}
		out = append(out, v)
		for _, childID := range v.Children {
			walk(childID)
		}
	}
	walk(pageID)
	return out, nil
}
