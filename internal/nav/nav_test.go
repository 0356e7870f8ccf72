package nav_test

import (
	"context"
	"testing"
	"time"

	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/nav"
	"github.com/affine-collab/cte/internal/txn"
	"github.com/affine-collab/cte/internal/upstream"
	"github.com/affine-collab/cte/internal/upstreamfake"
)

func newNavFixture(t *testing.T) (*upstreamfake.Server, *upstream.Session, *txn.Composer, *nav.Navigator) {
	t.Helper()
	fake := upstreamfake.NewServer("alice@example.com", "hunter2")
	t.Cleanup(fake.Close)
	fake.SeedDoc("ws1", "ws1", func(doc *crdt.Doc) {
		meta := doc.GetMap("meta")
		meta.Set("name", crdt.StringValue("Team Space"))
		meta.Set("avatar", crdt.StringValue("blob-avatar-1"))
	})
	fake.SeedDoc("ws1", "db$ws1$docProperties", nil)
	fake.SeedDoc("ws1", "db$ws1$folders", nil)

	mgr := upstream.NewManager(upstream.Config{BaseURL: fake.BaseURL(), Timeout: 5 * time.Second})
	sess, err := mgr.SignIn(context.Background(), "alice@example.com", "hunter2")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	t.Cleanup(sess.Disconnect)
	if err := mgr.Connect(context.Background(), sess); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("JoinWorkspace: %v", err)
	}

	composer := txn.New(mgr, "cte-test")
	navigator := nav.New(mgr, "cte-test", 8)
	return fake, sess, composer, navigator
}

func TestListWorkspacesReadsNameFromRootDocument(t *testing.T) {
	_, sess, _, navigator := newNavFixture(t)

	summaries, err := navigator.ListWorkspaces(context.Background(), sess)
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}

	var found bool
	for _, s := range summaries {
		if s.ID == "ws1" {
			found = true
			if s.Name != "Team Space" {
				t.Fatalf("workspace name = %q, want %q", s.Name, "Team Space")
			}
			if s.Avatar != "blob-avatar-1" {
				t.Fatalf("workspace avatar = %q, want %q", s.Avatar, "blob-avatar-1")
			}
		}
	}
	if !found {
		t.Fatalf("ws1 not in listing: %+v", summaries)
	}
}

func TestListDocumentsMergesIndexPropertiesAndFolders(t *testing.T) {
	_, sess, composer, navigator := newNavFixture(t)

	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{
		Title:    "Merged",
		FolderID: "folder-1",
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := composer.UpdateDocument(context.Background(), sess, "ws1", created.DocID, txn.UpdateDocumentPatch{
		Tags:  []string{"a", "b"},
		Actor: "alice",
	}); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	docs, err := navigator.ListDocuments(context.Background(), sess, "ws1")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("ListDocuments returned %d entries, want 1", len(docs))
	}
	d := docs[0]
	if d.ID != created.DocID || d.Title != "Merged" {
		t.Fatalf("entry = %+v", d)
	}
	if d.PrimaryMode != "page" {
		t.Fatalf("primaryMode = %q, want page", d.PrimaryMode)
	}
	if d.FolderID != "folder-1" {
		t.Fatalf("folderId = %q, want folder-1", d.FolderID)
	}
	if len(d.Tags) != 2 || d.Tags[0] != "a" || d.Tags[1] != "b" {
		t.Fatalf("tags = %v, want [a b]", d.Tags)
	}
}

func TestListDocumentsFiltersDeleted(t *testing.T) {
	_, sess, composer, navigator := newNavFixture(t)

	keep, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{Title: "Keep", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateDocument keep: %v", err)
	}
	gone, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{Title: "Gone", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateDocument gone: %v", err)
	}
	if err := composer.DeleteDocument(context.Background(), sess, "ws1", gone.DocID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	docs, err := navigator.ListDocuments(context.Background(), sess, "ws1")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != keep.DocID {
		t.Fatalf("listing after delete = %+v, want only %q", docs, keep.DocID)
	}
}

func TestGetFolderContentsResolvesTitles(t *testing.T) {
	_, sess, composer, navigator := newNavFixture(t)

	folderID, err := composer.CreateFolder(context.Background(), sess, "ws1", "Projects", "")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{
		Title:    "Inside",
		FolderID: folderID,
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	contents, err := navigator.GetFolderContents(context.Background(), sess, "ws1", folderID)
	if err != nil {
		t.Fatalf("GetFolderContents: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("GetFolderContents returned %d entries, want 1", len(contents))
	}
	if contents[0].ID != created.DocID || contents[0].Title != "Inside" {
		t.Fatalf("entry = %+v", contents[0])
	}
}

func TestGetHierarchyBuildsFolderTree(t *testing.T) {
	_, sess, composer, navigator := newNavFixture(t)

	folderID, err := composer.CreateFolder(context.Background(), sess, "ws1", "Projects", "")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{
		Title:    "Nested Doc",
		FolderID: folderID,
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	roots, err := navigator.GetHierarchy(context.Background(), sess, "ws1")
	if err != nil {
		t.Fatalf("GetHierarchy: %v", err)
	}
	if len(roots) != 1 {
		t.Fatalf("hierarchy has %d roots, want 1", len(roots))
	}
	root := roots[0]
	if root.Type != "folder" || root.Title != "Projects" {
		t.Fatalf("root = %+v", root)
	}
	if len(root.Children) != 1 {
		t.Fatalf("root has %d children, want 1", len(root.Children))
	}
	child := root.Children[0]
	if child.Type != "doc" || child.DocID != created.DocID || child.Title != "Nested Doc" {
		t.Fatalf("child = %+v", child)
	}
}

func TestGetHierarchyOmitsDeletedNodes(t *testing.T) {
	_, sess, composer, navigator := newNavFixture(t)

	folderID, err := composer.CreateFolder(context.Background(), sess, "ws1", "Projects", "")
	if err != nil {
		t.Fatalf("CreateFolder: %v", err)
	}
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{
		Title:    "Doomed",
		FolderID: folderID,
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := composer.DeleteDocument(context.Background(), sess, "ws1", created.DocID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	roots, err := navigator.GetHierarchy(context.Background(), sess, "ws1")
	if err != nil {
		t.Fatalf("GetHierarchy: %v", err)
	}
	if len(roots) != 1 {
		t.Fatalf("hierarchy has %d roots, want 1 (the folder)", len(roots))
	}
	if len(roots[0].Children) != 0 {
		t.Fatalf("folder still has %d children after delete, want 0", len(roots[0].Children))
	}
}
