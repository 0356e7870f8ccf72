package httpapi

import (
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
)

// handlePublish serves POST .../documents/{docId}/publish: a
// control-plane operation via the upstream GraphQL.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	var body struct {
		Mode string `json:"mode"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	if body.Mode == "" {
		body.Mode = "page"
	}
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	result, err := s.composer.Publish(r.Context(), sess, workspaceID, docID, body.Mode)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleRevoke serves POST .../documents/{docId}/revoke.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.Revoke(r.Context(), sess, workspaceID, docID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
