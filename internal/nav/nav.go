// Package nav implements the query/navigation layer: read-only views
// synthesised by joining multiple CRDT indices and the upstream control
// plane, kept as a standalone layer the HTTP handlers call into rather
// than building ad-hoc joins inline.
package nav

import (
	"context"

	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/upstream"
)

// Navigator answers workspace/document/folder queries. It holds no
// transactional locks of its own — reads go through sess.LoadDocument
// directly, since navigation never mutates a replica.
type Navigator struct {
	upstream *upstream.Manager
	actorID  string

	// LinkedPageMaxDepth bounds GetHierarchy's linked-page scan; zero
	// disables the scan.
	LinkedPageMaxDepth int
}

// New constructs a Navigator.
func New(up *upstream.Manager, actorID string, linkedPageMaxDepth int) *Navigator {
	return &Navigator{upstream: up, actorID: actorID, LinkedPageMaxDepth: linkedPageMaxDepth}
}

// WorkspaceSummary is list-workspaces' per-entry shape.
type WorkspaceSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar,omitempty"`
	MemberCount int    `json:"memberCount"`
}

// ListWorkspaces joins the control-plane workspace list with each
// workspace's root document, since the control plane never exposes a
// human-readable name.
func (n *Navigator) ListWorkspaces(ctx context.Context, sess *upstream.Session) ([]WorkspaceSummary, error) {
	ids, err := n.upstream.ListWorkspaces(ctx, sess)
	if err != nil {
		return nil, err
	}
	out := make([]WorkspaceSummary, 0, len(ids.Workspaces))
	for _, ws := range ids.Workspaces {
		summary := WorkspaceSummary{ID: ws.ID, MemberCount: ws.MemberCount}
		// Loading a workspace's root document requires having joined
		// that workspace's room first; skip the name/avatar
		// lookup rather than failing the whole listing if a join is
		// rejected for one workspace.
		if err := sess.JoinWorkspace(ctx, ws.ID); err != nil {
			out = append(out, summary)
			continue
		}
		doc, _, err := sess.LoadDocument(ctx, ws.ID, ws.ID, n.actorID)
		if err == nil {
			meta := doc.GetMap("meta")
			if v, ok := meta.Get("name"); ok {
				summary.Name = v.String()
			}
			if v, ok := meta.Get("avatar"); ok {
				summary.Avatar = v.String()
			}
		}
		out = append(out, summary)
	}
	return out, nil
}

// DocumentSummary is list-documents' per-entry, merged-source shape
// (index entries + properties + folder nodes, keyed by doc id).
type DocumentSummary struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Tags        []string `json:"tags"`
	CreateDate  float64  `json:"createDate"`
	UpdatedDate float64  `json:"updatedDate"`
	PrimaryMode string   `json:"primaryMode"`
	FolderID    string   `json:"folderId,omitempty"`
	Deleted     bool     `json:"-"`
	Trash       bool     `json:"-"`
}

// ListDocuments merges the workspace index (meta:pages), the properties
// document, and the folder document, filtering deleted/trash entries
// from the default view.
func (n *Navigator) ListDocuments(ctx context.Context, sess *upstream.Session, workspaceID string) ([]DocumentSummary, error) {
	byID := make(map[string]*DocumentSummary)

	indexDoc, _, err := sess.LoadDocument(ctx, workspaceID, workspaceID, n.actorID)
	if err != nil {
		return nil, err
	}
	pages := indexDoc.GetArray("meta:pages")
	for _, v := range pages.Values() {
		if v.Kind() != crdt.KindMap {
			continue
		}
		entry := v.Map()
		id := getString(entry, "id")
		if id == "" {
			continue
		}
		s := &DocumentSummary{
			ID:          id,
			Title:       getString(entry, "title"),
			CreateDate:  getNumber(entry, "createDate"),
			UpdatedDate: getNumber(entry, "updatedDate"),
		}
		if tv, ok := entry.Get("tags"); ok && tv.Kind() == crdt.KindArray {
			for _, tag := range tv.Array().Values() {
				if tag.Kind() == crdt.KindString {
					s.Tags = append(s.Tags, tag.String())
				}
			}
		}
		byID[id] = s
	}

	propsDoc, _, err := sess.LoadDocument(ctx, workspaceID, propertiesDocID(workspaceID), n.actorID)
	if err == nil {
		props := propsDoc.GetMap("properties")
		for _, id := range props.Keys() {
			v, ok := props.Get(id)
			if !ok || v.Kind() != crdt.KindMap {
				continue
			}
			entry := v.Map()
			s, ok := byID[id]
			if !ok {
				s = &DocumentSummary{ID: id}
				byID[id] = s
			}
			s.PrimaryMode = getString(entry, "primaryMode")
			if b, ok := entry.Get("deleted"); ok {
				s.Deleted = b.Bool()
			}
		}
	}

	foldersDoc, _, err := sess.LoadDocument(ctx, workspaceID, foldersDocID(workspaceID), n.actorID)
	if err == nil {
		nodes := foldersDoc.GetMap("nodes")
		for _, nodeID := range nodes.Keys() {
			v, ok := nodes.Get(nodeID)
			if !ok || v.Kind() != crdt.KindMap {
				continue
			}
			entry := v.Map()
			if getString(entry, "type") != "doc" {
				continue
			}
			docID := getString(entry, "data")
			s, ok := byID[docID]
			if !ok {
				continue
			}
			s.FolderID = getString(entry, "parentId")
			if b, ok := entry.Get("deleted"); ok {
				s.Trash = s.Trash || b.Bool()
			}
		}
	}

	out := make([]DocumentSummary, 0, len(byID))
	for _, s := range byID {
		if s.Deleted || s.Trash {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// FolderNode is one node of get-hierarchy's folder tree.
type FolderNode struct {
	ID          string        `json:"id"`
	Type        string        `json:"type"`
	Title       string        `json:"title,omitempty"`
	DocID       string        `json:"docId,omitempty"`
	LinkedPages []FolderNode  `json:"linkedPages,omitempty"`
	Children    []FolderNode  `json:"children,omitempty"`
}

// GetHierarchy builds the folder tree and, for each document node,
// follows linked-page references embedded in its content, bounded-depth
// and cycle-safe.
func (n *Navigator) GetHierarchy(ctx context.Context, sess *upstream.Session, workspaceID string) ([]FolderNode, error) {
	foldersDoc, _, err := sess.LoadDocument(ctx, workspaceID, foldersDocID(workspaceID), n.actorID)
	if err != nil {
		return nil, err
	}
	docs, err := n.ListDocuments(ctx, sess, workspaceID)
	if err != nil {
		return nil, err
	}
	titleByDoc := make(map[string]string, len(docs))
	for _, d := range docs {
		titleByDoc[d.ID] = d.Title
	}

	nodes := foldersDoc.GetMap("nodes")
	children := make(map[string][]string)
	var roots []string
	typeOf := make(map[string]string)
	dataOf := make(map[string]string)
	titleOf := make(map[string]string)
	for _, nodeID := range nodes.Keys() {
		v, ok := nodes.Get(nodeID)
		if !ok || v.Kind() != crdt.KindMap {
			continue
		}
		entry := v.Map()
		if b, ok := entry.Get("deleted"); ok && b.Bool() {
			continue
		}
		parentID := getString(entry, "parentId")
		typeOf[nodeID] = getString(entry, "type")
		dataOf[nodeID] = getString(entry, "data")
		titleOf[nodeID] = getString(entry, "title")
		if parentID == "" {
			roots = append(roots, nodeID)
		} else {
			children[parentID] = append(children[parentID], nodeID)
		}
	}

	var build func(nodeID string) FolderNode
	build = func(nodeID string) FolderNode {
		node := FolderNode{ID: nodeID, Type: typeOf[nodeID], Title: titleOf[nodeID]}
		if node.Type == "doc" {
			node.DocID = dataOf[nodeID]
			node.Title = titleByDoc[node.DocID]
			if n.LinkedPageMaxDepth > 0 {
				node.LinkedPages = n.scanLinkedPages(ctx, sess, workspaceID, node.DocID, titleByDoc, map[string]bool{node.DocID: true}, 0)
			}
		}
		for _, childID := range children[nodeID] {
			node.Children = append(node.Children, build(childID))
		}
		return node
	}

	out := make([]FolderNode, 0, len(roots))
	for _, rootID := range roots {
		out = append(out, build(rootID))
	}
	return out, nil
}

// scanLinkedPages walks docID's block tree for affine:linkedPage blocks
// referencing other documents, recursing up to n.LinkedPageMaxDepth.
// visited is shared by the whole scan and never cleared, so a document
// already reached anywhere in it, not only on the current path, is not
// followed again.
func (n *Navigator) scanLinkedPages(ctx context.Context, sess *upstream.Session, workspaceID, docID string, titleByDoc map[string]string, visited map[string]bool, depth int) []FolderNode {
	if depth >= n.LinkedPageMaxDepth {
		return nil
	}
	doc, _, err := sess.LoadDocument(ctx, workspaceID, docID, n.actorID)
	if err != nil {
		return nil
	}
	tree := model.NewTree(doc)
	pageID, ok := model.PageID(doc)
	if !ok {
		return nil
	}

	var linked []FolderNode
	var walk func(id string)
	walk = func(id string) {
		view, ok := tree.Get(id)
		if !ok {
			return
		}
		if view.Flavour == model.FlavourLinkedDoc {
			if target, ok := view.Props["pageId"].(string); ok && target != "" && !visited[target] {
				visited[target] = true
				child := FolderNode{ID: target, Type: "linkedPage", DocID: target, Title: titleByDoc[target]}
				child.LinkedPages = n.scanLinkedPages(ctx, sess, workspaceID, target, titleByDoc, visited, depth+1)
				linked = append(linked, child)
			}
		}
		for _, childID := range view.Children {
			walk(childID)
		}
	}
	walk(pageID)
	return linked
}

// GetFolderContents returns folderID's direct children, resolved against
// the document index for title/mode.
func (n *Navigator) GetFolderContents(ctx context.Context, sess *upstream.Session, workspaceID, folderID string) ([]DocumentSummary, error) {
	foldersDoc, _, err := sess.LoadDocument(ctx, workspaceID, foldersDocID(workspaceID), n.actorID)
	if err != nil {
		return nil, err
	}
	docs, err := n.ListDocuments(ctx, sess, workspaceID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]DocumentSummary, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	nodes := foldersDoc.GetMap("nodes")
	var out []DocumentSummary
	for _, nodeID := range nodes.Keys() {
		v, ok := nodes.Get(nodeID)
		if !ok || v.Kind() != crdt.KindMap {
			continue
		}
		entry := v.Map()
		if getString(entry, "parentId") != folderID || getString(entry, "type") != "doc" {
			continue
		}
		if d, ok := byID[getString(entry, "data")]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func propertiesDocID(workspaceID string) string { return "db$" + workspaceID + "$docProperties" }
func foldersDocID(workspaceID string) string     { return "db$" + workspaceID + "$folders" }

func getString(m *crdt.OMap, key string) string {
	if v, ok := m.Get(key); ok {
		return v.String()
	}
	return ""
}

func getNumber(m *crdt.OMap, key string) float64 {
	if v, ok := m.Get(key); ok && v.Kind() == crdt.KindNumber {
		return v.Number()
	}
	return 0
}
