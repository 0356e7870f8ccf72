package httpapi

import (
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/model"
)

// handleAddBlock serves POST .../documents/{docId}/blocks.
func (s *Server) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	var body struct {
		ParentID string                 `json:"parentId"`
		Flavour  string                 `json:"flavour"`
		Props    map[string]interface{} `json:"props"`
		Position string                 `json:"position"`
		Index    int                    `json:"index"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	if body.Flavour == "" {
		writeError(w, http.StatusBadRequest, "flavour is required", apperrors.CodeValidation)
		return
	}
	pos := model.PositionEnd
	switch body.Position {
	case string(model.PositionStart):
		pos = model.PositionStart
	case string(model.PositionIndex):
		pos = model.PositionIndex
	}
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	blockID, err := s.composer.AddBlock(r.Context(), sess, workspaceID, docID, body.ParentID, model.Flavour(body.Flavour), body.Props, pos, body.Index, ownerFrom(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": blockID})
}

// handleUpdateBlock serves PATCH .../blocks/{blockId}.
func (s *Server) handleUpdateBlock(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID, blockID := r.PathValue("workspaceId"), r.PathValue("docId"), r.PathValue("blockId")
	var props map[string]interface{}
	if err := decodeJSON(r, &props); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.UpdateBlock(r.Context(), sess, workspaceID, docID, blockID, props, ownerFrom(r)); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteBlock serves DELETE .../blocks/{blockId};
// ?cascade=false opts out of the default dangling-reference scrub.
func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID, blockID := r.PathValue("workspaceId"), r.PathValue("docId"), r.PathValue("blockId")
	cascade := r.URL.Query().Get("cascade") != "false"
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.DeleteBlock(r.Context(), sess, workspaceID, docID, blockID, cascade); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
