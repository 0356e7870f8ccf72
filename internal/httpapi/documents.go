package httpapi

import (
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/txn"
)

// handleListDocuments serves GET /workspaces/{workspaceId}/documents
//.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	docs, err := s.navigator.ListDocuments(r.Context(), sess, workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleCreateDocument serves POST /workspaces/{workspaceId}/documents
//.
func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceId")
	var body struct {
		DocID    string `json:"docId"`
		Title    string `json:"title"`
		Markdown string `json:"markdown"`
		FolderID string `json:"folderId"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	if body.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required", apperrors.CodeValidation)
		return
	}
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	result, err := s.composer.CreateDocument(r.Context(), sess, workspaceID, txn.CreateDocumentSpec{
		DocID:    body.DocID,
		Title:    body.Title,
		Markdown: body.Markdown,
		FolderID: body.FolderID,
		Actor:    ownerFrom(r),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleGetDocument serves GET .../documents/{docId}: a rendered
// snapshot (title + markdown), not the decoded block tree (see
// handleGetContent for that).
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	doc, _, err := sess.LoadDocument(r.Context(), workspaceID, docID, actorID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	pageID, ok := model.PageID(doc)
	if !ok {
		writeAppError(w, apperrors.New(apperrors.CodeDocNotFound, "document has no root page block"))
		return
	}
	tree := model.NewTree(doc)
	page, _ := tree.Get(pageID)
	title := page.Text

	var markdown string
	if noteID, ok := model.NoteID(doc); ok {
		markdown, _ = model.Render(doc, noteID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          docID,
		"workspaceId": workspaceID,
		"title":       title,
		"markdown":    markdown,
	})
}

// handleUpdateDocument serves PATCH .../documents/{docId}.
func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	var body struct {
		Title    *string  `json:"title"`
		Tags     []string `json:"tags"`
		FolderID *string  `json:"folderId"`
		Mode     *string  `json:"mode"`
		Markdown *string  `json:"markdown"`
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
	err = s.composer.UpdateDocument(r.Context(), sess, workspaceID, docID, txn.UpdateDocumentPatch{
		Title:    body.Title,
		Tags:     body.Tags,
		FolderID: body.FolderID,
		Mode:     body.Mode,
		Markdown: body.Markdown,
		Actor:    ownerFrom(r),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteDocument serves DELETE .../documents/{docId}.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.DeleteDocument(r.Context(), sess, workspaceID, docID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetContent serves GET .../documents/{docId}/content: the
// decoded block tree.
func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	blocks, err := s.composer.GetContent(r.Context(), sess, workspaceID, docID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}
