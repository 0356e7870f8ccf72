package httpapi

import (
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
)

// handleListTokens serves GET /users/me/tokens: purely local bearer-
// token administration, never touching the upstream.
func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tokens.List(ownerFrom(r)))
}

// handleCreateToken serves POST /users/me/tokens, returning the signed
// token string once alongside its metadata record.
func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Label string `json:"label"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	signed, rec, err := s.tokens.Issue(ownerFrom(r), body.Label)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"token":  signed,
		"record": rec,
	})
}

// handleRevokeToken serves DELETE /users/me/tokens/{tokenId}.
func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	if err := s.tokens.Revoke(ownerFrom(r), r.PathValue("tokenId")); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
