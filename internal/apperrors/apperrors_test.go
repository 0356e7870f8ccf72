package apperrors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusMapping(t *testing.T) {
	err := New(CodeDocNotFound, "document not found")
	if got := StatusFor(err); got != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := Wrap(CodeUpstreamUnreachable, "sign-in failed", cause)
	if err.Unwrap() != cause {
		t.Fatal("expected wrapped cause to be preserved")
	}
	if StatusFor(err) != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status: %d", StatusFor(err))
	}
}

func TestWithStepAttachesPartialFailure(t *testing.T) {
	err := New(CodeDocUpdateBlocked, "index update rejected").WithStep("update-index", "doc-123")
	if err.StepDocID != "doc-123" || err.FailedStep != "update-index" {
		t.Fatalf("expected step context to be attached, got %+v", err)
	}
}

func TestUntypedErrorDefaultsTo500(t *testing.T) {
	err := fmt.Errorf("plain error")
	if StatusFor(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500 for untyped error, got %d", StatusFor(err))
	}
	if CodeFor(err) != "" {
		t.Fatalf("expected empty code for untyped error, got %s", CodeFor(err))
	}
}
