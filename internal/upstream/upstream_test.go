package upstream_test

import (
	"context"
	"testing"
	"time"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/upstream"
	"github.com/affine-collab/cte/internal/upstreamfake"
)

func newTestManager(t *testing.T) (*upstream.Manager, *upstreamfake.Server) {
	t.Helper()
	fake := upstreamfake.NewServer("alice@example.com", "hunter2")
	t.Cleanup(fake.Close)
	mgr := upstream.NewManager(upstream.Config{BaseURL: fake.BaseURL(), Timeout: 5 * time.Second})
	return mgr, fake
}

func TestSignInSuccess(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess, err := mgr.SignIn(context.Background(), "alice@example.com", "hunter2")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if sess.UserID == "" {
		t.Fatal("expected non-empty UserID after sign-in")
	}
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.SignIn(context.Background(), "alice@example.com", "wrong-password")
	if err == nil {
		t.Fatal("expected sign-in to fail with bad credentials")
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeAuthRejected {
		t.Fatalf("expected AUTH_REJECTED, got %v", err)
	}
}

func connectedSession(t *testing.T, mgr *upstream.Manager) *upstream.Session {
	t.Helper()
	sess, err := mgr.SignIn(context.Background(), "alice@example.com", "hunter2")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := mgr.Connect(context.Background(), sess); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return sess
}

func TestConnectSocketIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := connectedSession(t, mgr)
	if !sess.Connected() {
		t.Fatal("expected session to be connected")
	}
	if err := mgr.Connect(context.Background(), sess); err != nil {
		t.Fatalf("second Connect call should be a no-op, got error: %v", err)
	}
}

func TestJoinWorkspaceIdempotent(t *testing.T) {
	mgr, fake := newTestManager(t)
	sess := connectedSession(t, mgr)

	if err := sess.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("first JoinWorkspace: %v", err)
	}
	if err := sess.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("second JoinWorkspace: %v", err)
	}
	if !sess.HasJoined("ws1") {
		t.Fatal("expected HasJoined(ws1) to be true")
	}
	if got := fake.JoinCount("ws1"); got != 1 {
		t.Fatalf("fake server observed %d space:join events, want exactly 1 (idempotent)", got)
	}
}

func TestJoinWorkspaceRejected(t *testing.T) {
	mgr, fake := newTestManager(t)
	sess := connectedSession(t, mgr)
	fake.RejectJoin("forbidden-ws")

	err := sess.JoinWorkspace(context.Background(), "forbidden-ws")
	if err == nil {
		t.Fatal("expected join-workspace to fail")
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodePermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
	if sess.HasJoined("forbidden-ws") {
		t.Fatal("rejected join should not be recorded as joined")
	}
}

func TestLoadDocumentNotFound(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := connectedSession(t, mgr)
	if err := sess.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("JoinWorkspace: %v", err)
	}

	_, _, err := sess.LoadDocument(context.Background(), "ws1", "doc-does-not-exist", "actor-1")
	if err == nil {
		t.Fatal("expected LoadDocument to fail for a document that was never created")
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeDocNotFound {
		t.Fatalf("expected DOC_NOT_FOUND, got %v", err)
	}
}

func TestLoadDocumentExplicitlyMissing(t *testing.T) {
	mgr, fake := newTestManager(t)
	sess := connectedSession(t, mgr)
	if err := sess.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("JoinWorkspace: %v", err)
	}
	fake.SeedDoc("ws1", "doc1", nil)
	fake.MarkMissing("ws1", "doc1")

	_, _, err := sess.LoadDocument(context.Background(), "ws1", "doc1", "actor-1")
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeDocNotFound {
		t.Fatalf("expected DOC_NOT_FOUND on the forced-missing load, got %v", err)
	}

	// MarkMissing is a one-shot: the next load should succeed normally.
	if _, _, err := sess.LoadDocument(context.Background(), "ws1", "doc1", "actor-1"); err != nil {
		t.Fatalf("expected second LoadDocument to succeed, got %v", err)
	}
}

func TestPushAndLoadDocumentRoundTrip(t *testing.T) {
	mgr, _ := newTestManager(t)
	sess := connectedSession(t, mgr)
	if err := sess.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("JoinWorkspace: %v", err)
	}

	doc := crdt.NewDoc("actor-1")
	m := doc.GetMap("blocks")
	m.Set("hello", crdt.StringValue("world"))

	if _, err := sess.PushUpdate(context.Background(), "ws1", "doc1", doc, nil); err != nil {
		t.Fatalf("PushUpdate: %v", err)
	}

	loaded, _, err := sess.LoadDocument(context.Background(), "ws1", "doc1", "actor-2")
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	v, ok := loaded.GetMap("blocks").Get("hello")
	if !ok || v.String() != "world" {
		t.Fatalf("loaded replica missing pushed content: %v, %v", v, ok)
	}
}

func TestPushDocumentRejected(t *testing.T) {
	mgr, fake := newTestManager(t)
	sess := connectedSession(t, mgr)
	if err := sess.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("JoinWorkspace: %v", err)
	}
	fake.RejectNextPush("ws1", "doc1", "DOC_UPDATE_BLOCKED")

	doc := crdt.NewDoc("actor-1")
	doc.GetMap("blocks").Set("k", crdt.StringValue("v"))

	_, err := sess.PushUpdate(context.Background(), "ws1", "doc1", doc, nil)
	if err == nil {
		t.Fatal("expected push to fail")
	}
	if ae, ok := apperrors.As(err); !ok || ae.Code != apperrors.CodeDocUpdateBlocked {
		t.Fatalf("expected DOC_UPDATE_BLOCKED, got %v", err)
	}
}

func TestSubscribeUpdatesDelivery(t *testing.T) {
	mgr, _ := newTestManager(t)
	writer := connectedSession(t, mgr)
	reader := connectedSession(t, mgr)

	if err := writer.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("writer JoinWorkspace: %v", err)
	}
	if err := reader.JoinWorkspace(context.Background(), "ws1"); err != nil {
		t.Fatalf("reader JoinWorkspace: %v", err)
	}

	received := make(chan []byte, 1)
	reader.SubscribeUpdates("doc1", func(update []byte) {
		received <- update
	})

	doc := crdt.NewDoc("writer-actor")
	doc.GetMap("blocks").Set("k", crdt.StringValue("v"))
	if _, err := writer.PushUpdate(context.Background(), "ws1", "doc1", doc, nil); err != nil {
		t.Fatalf("PushUpdate: %v", err)
	}

	select {
	case update := <-received:
		applied := crdt.NewDoc("reader-actor")
		if err := applied.ApplyUpdate(update); err != nil {
			t.Fatalf("ApplyUpdate: %v", err)
		}
		v, ok := applied.GetMap("blocks").Get("k")
		if !ok || v.String() != "v" {
			t.Fatalf("broadcast update did not carry the pushed content: %v, %v", v, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast update")
	}
}
