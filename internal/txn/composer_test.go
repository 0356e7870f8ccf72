package txn_test

import (
	"context"
	"testing"
	"time"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/edgeless"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/txn"
	"github.com/affine-collab/cte/internal/upstream"
	"github.com/affine-collab/cte/internal/upstreamfake"
)

// newTestWorkspace seeds the three auxiliary documents a real workspace
// already carries (index, properties, folders) before any doc creation —
// mirroring that these are provisioned at workspace-creation time, not
// lazily by the Transaction Composer.
func newTestWorkspace(t *testing.T) (*upstream.Session, *upstreamfake.Server, *txn.Composer) {
	t.Helper()
	fake := upstreamfake.NewServer("alice@example.com", "hunter2")
	t.Cleanup(fake.Close)
	fake.SeedDoc("ws1", "ws1", nil)
	fake.SeedDoc("ws1", "db$ws1$docProperties", nil)
	fake.SeedDoc("ws1", "db$ws1$folders", nil)

	mgr := upstream.NewManager(upstream.Config{BaseURL: fake.BaseURL(), Timeout: 5 * time.Second})
	sess, err := mgr.SignIn(context.Background(), "alice@example.com", "hunter2")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := mgr.Connect(context.Background(), sess); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sess.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("JoinWorkspace: %v", err)
	}
	composer := txn.New(mgr, "cte-test")
	return sess, fake, composer
}

func TestCreateDocumentFourStepTransaction(t *testing.T) {
	sess, fake, composer := newTestWorkspace(t)

	result, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{
		Title:    "My Doc",
		Markdown: "# Heading\n\nBody text",
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if result.DocID == "" {
		t.Fatal("expected a generated DocID")
	}
	if result.Title != "My Doc" {
		t.Fatalf("result.Title = %q, want %q", result.Title, "My Doc")
	}

	contentDoc, ok := fake.Snapshot("ws1", result.DocID)
	if !ok {
		t.Fatal("content document was never pushed upstream")
	}
	pageID, ok := model.PageID(contentDoc)
	if !ok {
		t.Fatal("content document has no root page block")
	}
	tree := model.NewTree(contentDoc)
	page, _ := tree.Get(pageID)
	if page.Text != "My Doc" {
		t.Fatalf("page title = %q, want %q", page.Text, "My Doc")
	}

	indexDoc, ok := fake.Snapshot("ws1", "ws1")
	if !ok {
		t.Fatal("workspace index document missing")
	}
	found := false
	for _, v := range indexDoc.GetArray("meta:pages").Values() {
		if v.Kind() == crdt.KindMap {
			if id, ok := v.Map().Get("id"); ok && id.String() == result.DocID {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("workspace index has no entry for the new document")
	}

	propsDoc, ok := fake.Snapshot("ws1", "db$ws1$docProperties")
	if !ok {
		t.Fatal("properties document missing")
	}
	propsEntry, ok := propsDoc.GetMap("properties").Get(result.DocID)
	if !ok || propsEntry.Kind() != crdt.KindMap {
		t.Fatal("properties document has no entry for the new document")
	}
}

func TestCreateDocumentWithFolderPlacement(t *testing.T) {
	sess, fake, composer := newTestWorkspace(t)

	result, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{
		Title:    "In a folder",
		FolderID: "folder-1",
		Actor:    "alice",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if result.FolderNodeID == "" {
		t.Fatal("expected a folder node id when FolderID is set")
	}

	foldersDoc, ok := fake.Snapshot("ws1", "db$ws1$folders")
	if !ok {
		t.Fatal("folders document missing")
	}
	node, ok := foldersDoc.GetMap("nodes").Get(result.FolderNodeID)
	if !ok || node.Kind() != crdt.KindMap {
		t.Fatal("folder node was not recorded")
	}
	if data, _ := node.Map().Get("data"); data.String() != result.DocID {
		t.Fatalf("folder node data = %q, want %q", data.String(), result.DocID)
	}
}

func TestCreateDocumentIdempotency(t *testing.T) {
	sess, _, composer := newTestWorkspace(t)

	spec := txn.CreateDocumentSpec{DocID: "fixed-id", Title: "First", Actor: "alice"}
	if _, err := composer.CreateDocument(context.Background(), sess, "ws1", spec); err != nil {
		t.Fatalf("first CreateDocument: %v", err)
	}

	_, err := composer.CreateDocument(context.Background(), sess, "ws1", spec)
	if err == nil {
		t.Fatal("expected second CreateDocument with the same DocID to fail")
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeDocumentAlreadyExists {
		t.Fatalf("expected DOCUMENT_ALREADY_EXISTS, got %v", err)
	}
}

func TestCreateDocumentPartialFailureSurfacesDurableDocID(t *testing.T) {
	sess, fake, composer := newTestWorkspace(t)
	fake.RejectNextPush("ws1", "ws1", "DOC_UPDATE_BLOCKED")

	_, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{
		Title: "Will partially fail",
		Actor: "alice",
	})
	if err == nil {
		t.Fatal("expected CreateDocument to fail at the index-update step")
	}
	ae, ok := apperrors.As(err)
	if !ok {
		t.Fatalf("expected a typed error, got %v", err)
	}
	if ae.FailedStep != "index" {
		t.Fatalf("FailedStep = %q, want %q", ae.FailedStep, "index")
	}
	if ae.StepDocID == "" {
		t.Fatal("expected StepDocID to carry the already-durable content document id")
	}

	// The content document step is monotonic: it must already be durable
	// upstream even though the overall transaction reported failure.
	if _, ok := fake.Snapshot("ws1", ae.StepDocID); !ok {
		t.Fatal("content document should remain durable after a later step's failure")
	}
}

func TestUpdateDocumentTitleAndTags(t *testing.T) {
	sess, fake, composer := newTestWorkspace(t)
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{Title: "Old Title", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	newTitle := "New Title"
	err = composer.UpdateDocument(context.Background(), sess, "ws1", created.DocID, txn.UpdateDocumentPatch{
		Title: &newTitle,
		Tags:  []string{"x", "y"},
		Actor: "alice",
	})
	if err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	contentDoc, _ := fake.Snapshot("ws1", created.DocID)
	pageID, _ := model.PageID(contentDoc)
	page, _ := model.NewTree(contentDoc).Get(pageID)
	if page.Text != newTitle {
		t.Fatalf("content document title = %q, want %q", page.Text, newTitle)
	}

	propsDoc, _ := fake.Snapshot("ws1", "db$ws1$docProperties")
	entry, _ := propsDoc.GetMap("properties").Get(created.DocID)
	tagsVal, ok := entry.Map().Get("tags")
	if !ok || tagsVal.Kind() != crdt.KindArray || len(tagsVal.Array().Values()) != 2 {
		t.Fatalf("expected 2 tags recorded, got %v", tagsVal)
	}
}

func TestDeleteDocumentMarksDeletedEverywhere(t *testing.T) {
	sess, fake, composer := newTestWorkspace(t)
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{
		Title: "To be deleted", FolderID: "folder-1", Actor: "alice",
	})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	if err := composer.DeleteDocument(context.Background(), sess, "ws1", created.DocID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	contentDoc, _ := fake.Snapshot("ws1", created.DocID)
	if v, ok := contentDoc.GetMap("meta").Get("deleted"); !ok || !v.Bool() {
		t.Fatal("content document not marked deleted")
	}

	indexDoc, _ := fake.Snapshot("ws1", "ws1")
	for _, v := range indexDoc.GetArray("meta:pages").Values() {
		if v.Kind() == crdt.KindMap {
			if id, ok := v.Map().Get("id"); ok && id.String() == created.DocID {
				t.Fatal("workspace index still lists the deleted document")
			}
		}
	}

	foldersDoc, _ := fake.Snapshot("ws1", "db$ws1$folders")
	node, ok := foldersDoc.GetMap("nodes").Get(created.FolderNodeID)
	if !ok || node.Kind() != crdt.KindMap {
		t.Fatal("folder node disappeared entirely; expected tombstone-style deleted flag")
	}
	if v, ok := node.Map().Get("deleted"); !ok || !v.Bool() {
		t.Fatal("folder node not marked deleted")
	}
}

func TestUploadImageComposite(t *testing.T) {
	sess, fake, composer := newTestWorkspace(t)
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{Title: "Doc", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	contentDoc, _ := fake.Snapshot("ws1", created.DocID)
	noteID, ok := model.NoteID(contentDoc)
	if !ok {
		t.Fatal("document has no note block")
	}

	result, err := composer.UploadImage(context.Background(), sess, "ws1", created.DocID, noteID, []byte("fake-image-bytes"), "image/png", 640, 480, "a caption", "alice")
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if result.BlobID == "" || result.BlockID == "" {
		t.Fatalf("result = %+v", result)
	}

	updated, _ := fake.Snapshot("ws1", created.DocID)
	tree := model.NewTree(updated)
	view, ok := tree.Get(result.BlockID)
	if !ok {
		t.Fatal("image block not present in the pushed document")
	}
	if view.Props["sourceId"] != result.BlobID {
		t.Fatalf("image block sourceId = %v, want %q", view.Props["sourceId"], result.BlobID)
	}
}

func TestUploadImageTooLargeRejected(t *testing.T) {
	sess, _, composer := newTestWorkspace(t)
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{Title: "Doc", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	huge := make([]byte, 11*1024*1024)
	_, err = composer.UploadImage(context.Background(), sess, "ws1", created.DocID, "whatever", huge, "image/png", 1, 1, "", "alice")
	if err == nil {
		t.Fatal("expected oversized upload to be rejected")
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodePayloadTooLarge {
		t.Fatalf("expected PAYLOAD_TOO_LARGE, got %v", err)
	}
}

func TestComposerElementCRUD(t *testing.T) {
	sess, _, composer := newTestWorkspace(t)
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{Title: "Doc", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	view, err := composer.CreateElement(context.Background(), sess, "ws1", created.DocID, func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
		return edgeless.CreateShape(doc, inner, edgeless.ShapeParams{ShapeType: "rect", XYWH: [4]float64{0, 0, 10, 10}})
	})
	if err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	if view.ID == "" {
		t.Fatal("expected a generated element id")
	}

	listed, err := composer.ListElements(context.Background(), sess, "ws1", created.DocID)
	if err != nil {
		t.Fatalf("ListElements: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("ListElements returned %d elements, want 1", len(listed))
	}

	if err := composer.UpdateElement(context.Background(), sess, "ws1", created.DocID, view.ID, map[string]interface{}{"fillColor": "#abc"}); err != nil {
		t.Fatalf("UpdateElement: %v", err)
	}
	listed, _ = composer.ListElements(context.Background(), sess, "ws1", created.DocID)
	if listed[0].Props["fillColor"] != "#abc" {
		t.Fatalf("fillColor after update = %v, want #abc", listed[0].Props["fillColor"])
	}

	if err := composer.DeleteElement(context.Background(), sess, "ws1", created.DocID, view.ID, true); err != nil {
		t.Fatalf("DeleteElement: %v", err)
	}
	listed, _ = composer.ListElements(context.Background(), sess, "ws1", created.DocID)
	if len(listed) != 0 {
		t.Fatalf("expected 0 elements after delete, got %d", len(listed))
	}
}

func TestDeleteElementUnknownFails(t *testing.T) {
	sess, _, composer := newTestWorkspace(t)
	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{Title: "Doc", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	err = composer.DeleteElement(context.Background(), sess, "ws1", created.DocID, "missing-element", true)
	if err == nil {
		t.Fatal("expected error deleting unknown element")
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeElementNotFound {
		t.Fatalf("expected ELEMENT_NOT_FOUND, got %v", err)
	}
}

func TestElementsSurviveSnapshotEncoding(t *testing.T) {
	fake := upstreamfake.NewServer("alice@example.com", "hunter2")
	t.Cleanup(fake.Close)
	fake.SeedDoc("ws1", "ws1", nil)
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

	created, err := composer.CreateDocument(context.Background(), sess, "ws1", txn.CreateDocumentSpec{Title: "Doc", Actor: "alice"})
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	view, err := composer.CreateElement(context.Background(), sess, "ws1", created.DocID, func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
		return edgeless.CreateShape(doc, inner, edgeless.ShapeParams{ShapeType: "rect", XYWH: [4]float64{0, 0, 10, 10}})
	})
	if err != nil {
		t.Fatalf("CreateElement: %v", err)
	}

	// Round-trip through the upstream's own snapshot encoding: a fresh
	// replica that applies the snapshot must see the element by id, which
	// only holds if every wrapper level is a genuine CRDT map.
	raw, err := mgr.Snapshot(context.Background(), sess, "ws1", created.DocID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	replica := crdt.NewDoc("verifier")
	if err := replica.ApplyUpdate(raw); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	surfaceID, ok := model.SurfaceID(replica)
	if !ok {
		t.Fatal("decoded replica has no surface block")
	}
	sv, ok := replica.GetMap("blocks").Get(surfaceID)
	if !ok || sv.Kind() != crdt.KindMap {
		t.Fatal("surface block entry missing in decoded replica")
	}
	wrapper, ok := sv.Map().Get("prop:elements")
	if !ok || wrapper.Kind() != crdt.KindMap {
		t.Fatalf("prop:elements wrapper is not a CRDT map after round-trip")
	}
	inner, err := edgeless.Inner(wrapper.Map())
	if err != nil {
		t.Fatalf("Inner: %v", err)
	}
	if _, ok := edgeless.Get(inner, view.ID); !ok {
		t.Fatalf("element %q not addressable by id after snapshot round-trip", view.ID)
	}
}
