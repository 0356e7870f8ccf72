package httpapi

import (
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
)

// handleListComments serves GET .../documents/{docId}/comments.
func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	comments, err := s.composer.ListComments(r.Context(), sess, workspaceID, docID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

// handleAddComment serves POST .../documents/{docId}/comments.
func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	var body struct {
		BlockID string `json:"blockId"`
		Body    string `json:"body"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	if body.Body == "" {
		writeError(w, http.StatusBadRequest, "body is required", apperrors.CodeValidation)
		return
	}
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	comment, err := s.composer.AddComment(r.Context(), sess, workspaceID, docID, body.BlockID, ownerFrom(r), body.Body)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

// handleUpdateComment serves PATCH .../comments/{commentId}.
func (s *Server) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID, commentID := r.PathValue("workspaceId"), r.PathValue("docId"), r.PathValue("commentId")
	var body struct {
		Body string `json:"body"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.UpdateComment(r.Context(), sess, workspaceID, docID, commentID, body.Body); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleResolveComment serves POST .../comments/{commentId}/resolve.
func (s *Server) handleResolveComment(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID, commentID := r.PathValue("workspaceId"), r.PathValue("docId"), r.PathValue("commentId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.ResolveComment(r.Context(), sess, workspaceID, docID, commentID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteComment serves DELETE .../comments/{commentId}.
func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID, commentID := r.PathValue("workspaceId"), r.PathValue("docId"), r.PathValue("commentId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.DeleteComment(r.Context(), sess, workspaceID, docID, commentID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
