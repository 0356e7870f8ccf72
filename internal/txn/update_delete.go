package txn

import (
	"context"
	"time"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/upstream"
)

// UpdateDocumentPatch is a partial document update; nil fields are left
// unchanged. Title updates the content document and the index entry,
// Markdown the content document, Tags the index and properties entries,
// Mode the properties entry, and FolderID the folder node.
type UpdateDocumentPatch struct {
	Title    *string
	Tags     []string
	FolderID *string // new parent folder node id; nil leaves placement unchanged
	Mode     *string // "page" | "edgeless"
	Markdown *string // replaces the note's block tree entirely
	Actor    string
}

// UpdateDocument mirrors create-document's ordering but touches only the
// documents the patch requires.
func (c *Composer) UpdateDocument(ctx context.Context, sess *upstream.Session, workspaceID, docID string, patch UpdateDocumentPatch) error {
	now := time.Now().UTC()

	if patch.Title != nil || patch.Markdown != nil {
		_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
			if patch.Title != nil {
				pageID, ok := model.PageID(doc)
				if !ok {
					return apperrors.New(apperrors.CodeDocNotFound, "document has no root page block")
				}
				if err := model.NewTree(doc).UpdateBlock(pageID, map[string]interface{}{"title": *patch.Title}, patch.Actor); err != nil {
					return err
				}
			}
			if patch.Markdown != nil {
				noteID, ok := model.NoteID(doc)
				if !ok {
					return apperrors.New(apperrors.CodeDocNotFound, "document has no note block")
				}
				tree := model.NewTree(doc)
				note, _ := tree.Get(noteID)
				for _, childID := range append([]string{}, note.Children...) {
					if err := tree.DeleteBlock(childID, true); err != nil {
						return err
					}
				}
				specs, err := model.DefaultParser{}.Parse(*patch.Markdown)
				if err != nil {
					return apperrors.Wrap(apperrors.CodeValidation, "parse markdown", err)
				}
				return model.Lower(doc, noteID, specs, patch.Actor)
			}
			return nil
		})
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "update content document", err).WithStep("content", docID)
		}
	}

	if patch.Title != nil || patch.Tags != nil {
		_, err := c.withDoc(ctx, sess, workspaceID, workspaceID, func(doc *crdt.Doc) error {
			return updatePageEntry(doc, docID, patch.Title, patch.Tags, now)
		})
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "update workspace index", err).WithStep("index", docID)
		}
	}

	if patch.Tags != nil || patch.Mode != nil {
		_, err := c.withDoc(ctx, sess, workspaceID, propertiesDocID(workspaceID), func(doc *crdt.Doc) error {
			props := doc.GetMap("properties")
			v, ok := props.Get(docID)
			if !ok || v.Kind() != crdt.KindMap {
				return apperrors.New(apperrors.CodeDocNotFound, "no properties entry for document")
			}
			entry := v.Map()
			if patch.Mode != nil {
				entry.Set("primaryMode", crdt.StringValue(*patch.Mode))
			}
			if patch.Tags != nil {
				entry.Set("tags", tagsArray(doc, patch.Tags))
			}
			entry.Set("updatedBy", crdt.StringValue(patch.Actor))
			entry.Set("updatedAt", crdt.NumberValue(float64(now.UnixMilli())))
			return nil
		})
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "update properties document", err).WithStep("properties", docID)
		}
	}

	if patch.FolderID != nil {
		_, err := c.withDoc(ctx, sess, workspaceID, foldersDocID(workspaceID), func(doc *crdt.Doc) error {
			nodes := doc.GetMap("nodes")
			nodeID, ok := findFolderNodeForDoc(nodes, docID)
			if !ok {
				return apperrors.New(apperrors.CodeFolderNotFound, "no folder node references this document")
			}
			v, _ := nodes.Get(nodeID)
			v.Map().Set("parentId", crdt.StringValue(*patch.FolderID))
			return nil
		})
		if err != nil {
			return apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "update folder document", err).WithStep("folder", docID)
		}
	}

	return nil
}

// DeleteDocument marks the content document, its properties entry and its
// folder node deleted, and removes its entry from the workspace index.
func (c *Composer) DeleteDocument(ctx context.Context, sess *upstream.Session, workspaceID, docID string) error {
	_, err := c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		doc.GetMap("meta").Set("deleted", crdt.BoolValue(true))
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "mark content document deleted", err).WithStep("content", docID)
	}

	_, err = c.withDoc(ctx, sess, workspaceID, workspaceID, func(doc *crdt.Doc) error {
		pages := doc.GetArray("meta:pages")
		for _, e := range pages.Entries() {
			if e.Value.Kind() == crdt.KindMap {
				if id, ok := e.Value.Map().Get("id"); ok && id.String() == docID {
					pages.Delete(e.Node)
				}
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "remove workspace index entry", err).WithStep("index", docID)
	}

	_, err = c.withDoc(ctx, sess, workspaceID, propertiesDocID(workspaceID), func(doc *crdt.Doc) error {
		props := doc.GetMap("properties")
		if v, ok := props.Get(docID); ok && v.Kind() == crdt.KindMap {
			v.Map().Set("deleted", crdt.BoolValue(true))
			v.Map().Set("tags", crdt.ArrayValue(doc.NewArray()))
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "mark properties deleted", err).WithStep("properties", docID)
	}

	_, err = c.withDoc(ctx, sess, workspaceID, foldersDocID(workspaceID), func(doc *crdt.Doc) error {
		nodes := doc.GetMap("nodes")
		if nodeID, ok := findFolderNodeForDoc(nodes, docID); ok {
			v, _ := nodes.Get(nodeID)
			v.Map().Set("deleted", crdt.BoolValue(true))
			v.Map().Set("parentId", crdt.StringValue(""))
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDocUpdateBlocked, "mark folder node deleted", err).WithStep("folder", docID)
	}

	return nil
}

func updatePageEntry(doc *crdt.Doc, docID string, title *string, tags []string, now time.Time) error {
	pages := doc.GetArray("meta:pages")
	for _, e := range pages.Entries() {
		if e.Value.Kind() != crdt.KindMap {
			continue
		}
		if id, ok := e.Value.Map().Get("id"); ok && id.String() == docID {
			if title != nil {
				e.Value.Map().Set("title", crdt.StringValue(*title))
			}
			if tags != nil {
				e.Value.Map().Set("tags", tagsArray(doc, tags))
			}
			e.Value.Map().Set("updatedDate", crdt.NumberValue(float64(now.UnixMilli())))
			return nil
		}
	}
	return apperrors.New(apperrors.CodeDocNotFound, "no workspace index entry for document")
}

func tagsArray(doc *crdt.Doc, tags []string) crdt.Value {
	arr := doc.NewArray()
	for _, t := range tags {
		arr.Append(crdt.StringValue(t))
	}
	return crdt.ArrayValue(arr)
}

func findFolderNodeForDoc(nodes *crdt.OMap, docID string) (string, bool) {
	for _, key := range nodes.Keys() {
		v, ok := nodes.Get(key)
		if !ok || v.Kind() != crdt.KindMap {
			continue
		}
		if data, ok := v.Map().Get("data"); ok && data.String() == docID {
			if typ, ok := v.Map().Get("type"); ok && typ.String() == "doc" {
				return key, true
			}
		}
	}
	return "", false
}
