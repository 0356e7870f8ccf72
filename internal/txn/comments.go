package txn

import (
	"context"
	"time"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/idgen"
	"github.com/affine-collab/cte/internal/upstream"
)

// Comment is the decoded projection of one entry in a content document's
// meta:comments map. Comment CRUD is a single-document transaction: it
// never touches the index/properties/folder documents.
type Comment struct {
	ID        string `json:"id"`
	BlockID   string `json:"blockId,omitempty"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
	Resolved  bool   `json:"resolved"`
}

func commentsMap(doc *crdt.Doc) *crdt.OMap {
	return doc.GetMap("meta:comments")
}

// AddComment creates a comment attached to blockID.
func (c *Composer) AddComment(ctx context.Context, sess *upstream.Session, workspaceID, docID, blockID, author, body string) (Comment, error) {
	comment := Comment{
		ID:        idgen.NanoID(),
		BlockID:   blockID,
		Author:    author,
		Body:      body,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		entry := doc.NewMap()
		entry.Set("id", crdt.StringValue(comment.ID))
		entry.Set("blockId", crdt.StringValue(comment.BlockID))
		entry.Set("author", crdt.StringValue(comment.Author))
		entry.Set("body", crdt.StringValue(comment.Body))
		entry.Set("createdAt", crdt.StringValue(comment.CreatedAt))
		entry.Set("resolved", crdt.BoolValue(false))
		commentsMap(doc).Set(comment.ID, crdt.MapValue(entry))
		return nil
	})
	return comment, err
}

// ListComments returns every comment on a document.
func (c *Composer) ListComments(ctx context.Context, sess *upstream.Session, workspaceID, docID string) ([]Comment, error) {
	lock := c.lockFor(workspaceID, docID)
	lock.Lock()
	defer lock.Unlock()

	doc, _, err := sess.LoadDocument(ctx, workspaceID, docID, c.ActorID)
	if err != nil {
		return nil, err
	}
	cm := commentsMap(doc)
	out := make([]Comment, 0, cm.Len())
	for _, id := range cm.Keys() {
		if v, ok := cm.Get(id); ok && v.Kind() == crdt.KindMap {
			out = append(out, decodeComment(v.Map()))
		}
	}
	return out, nil
}

// UpdateComment edits a comment's body.
func (c *Composer) UpdateComment(ctx context.Context, sess *upstream.Session, workspaceID, docID, commentID, body string) error {
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		v, ok := commentsMap(doc).Get(commentID)
		if !ok || v.Kind() != crdt.KindMap {
			return apperrors.New(apperrors.CodeCommentNotFound, "comment not found: "+commentID)
		}
		v.Map().Set("body", crdt.StringValue(body))
		return nil
	})
	return err
}

// ResolveComment marks a comment resolved.
func (c *Composer) ResolveComment(ctx context.Context, sess *upstream.Session, workspaceID, docID, commentID string) error {
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		v, ok := commentsMap(doc).Get(commentID)
		if !ok || v.Kind() != crdt.KindMap {
			return apperrors.New(apperrors.CodeCommentNotFound, "comment not found: "+commentID)
		}
		v.Map().Set("resolved", crdt.BoolValue(true))
		return nil
	})
	return err
}

// DeleteComment removes a comment.
func (c *Composer) DeleteComment(ctx context.Context, sess *upstream.Session, workspaceID, docID, commentID string) error {
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		if _, ok := commentsMap(doc).Get(commentID); !ok {
			return apperrors.New(apperrors.CodeCommentNotFound, "comment not found: "+commentID)
		}
		commentsMap(doc).Delete(commentID)
		return nil
	})
	return err
}

func decodeComment(m *crdt.OMap) Comment {
	get := func(k string) string {
		if v, ok := m.Get(k); ok {
			return v.String()
		}
		return ""
	}
	resolved := false
	if v, ok := m.Get("resolved"); ok {
		resolved = v.Bool()
	}
	return Comment{
		ID:        get("id"),
		BlockID:   get("blockId"),
		Author:    get("author"),
		Body:      get("body"),
		CreatedAt: get("createdAt"),
		Resolved:  resolved,
	}
}
