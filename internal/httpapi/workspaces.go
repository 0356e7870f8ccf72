package httpapi

import (
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/nav"
)

// handleListWorkspaces serves GET /workspaces. No single
// workspace is joined up front — nav.ListWorkspaces joins each workspace
// it discovers from the control plane before loading its root document.
func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	sess, cleanup, err := s.openSession(r.Context(), "")
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	list, err := s.navigator.ListWorkspaces(r.Context(), sess)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleGetWorkspace serves GET /workspaces/{workspaceId}: the same
// per-workspace summary entry, looked up by id.
func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	list, err := s.navigator.ListWorkspaces(r.Context(), sess)
	if err != nil {
		writeAppError(w, err)
		return
	}
	for _, ws := range list {
		if ws.ID == workspaceID {
			writeJSON(w, http.StatusOK, ws)
			return
		}
	}
	writeAppError(w, apperrors.New(apperrors.CodeDocNotFound, "workspace not found: "+workspaceID))
}

// handleGetHierarchy serves GET /workspaces/{workspaceId}/hierarchy
//.
func (s *Server) handleGetHierarchy(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	tree, err := s.navigator.GetHierarchy(r.Context(), sess, workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

// handleListFolders serves GET /workspaces/{workspaceId}/folders: the
// folder-type nodes flattened out of get-hierarchy's tree,
// omitting doc entries (those are documents, listed separately).
func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	tree, err := s.navigator.GetHierarchy(r.Context(), sess, workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	var folders []nav.FolderNode
	for _, root := range tree {
		collectFolders(root, &folders)
	}
	writeJSON(w, http.StatusOK, folders)
}

func collectFolders(n nav.FolderNode, out *[]nav.FolderNode) {
	if n.Type != "doc" {
		flat := n
		flat.Children = nil
		*out = append(*out, flat)
	}
	for _, child := range n.Children {
		collectFolders(child, out)
	}
}

// handleCreateFolder serves POST /workspaces/{workspaceId}/folders.
func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.PathValue("workspaceId")
	var body struct {
		Title    string `json:"title"`
		ParentID string `json:"parentId"`
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
	nodeID, err := s.composer.CreateFolder(r.Context(), sess, workspaceID, body.Title, body.ParentID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": nodeID})
}

// handleGetFolderContents serves GET
// /workspaces/{workspaceId}/folders/{folderId}: the folder's direct
// children, resolved against the document index.
func (s *Server) handleGetFolderContents(w http.ResponseWriter, r *http.Request) {
	workspaceID, folderID := r.PathValue("workspaceId"), r.PathValue("folderId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	docs, err := s.navigator.GetFolderContents(r.Context(), sess, workspaceID, folderID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}
