package httpapi

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/affine-collab/cte/internal/apperrors"
)

// handleUploadImage serves POST .../documents/{docId}/images: the
// two-step image composite (upload blob, insert image block) offered as
// one operation.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	var body struct {
		Content       string  `json:"content"` // base64
		Mime          string  `json:"mime"`
		ParentBlockID string  `json:"parentBlockId"`
		Width         float64 `json:"width"`
		Height        float64 `json:"height"`
		Caption       string  `json:"caption"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	if body.ParentBlockID == "" {
		writeError(w, http.StatusBadRequest, "parentBlockId is required", apperrors.CodeValidation)
		return
	}
	if int64(len(body.Content)) > s.cfg.MaxUploadBase64Bytes {
		msg := fmt.Sprintf("image exceeds base64 upload cap of %s", humanize.IBytes(uint64(s.cfg.MaxUploadBase64Bytes)))
		writeError(w, http.StatusRequestEntityTooLarge, msg, apperrors.CodePayloadTooLarge)
		return
	}
	content, err := base64.StdEncoding.DecodeString(body.Content)
	if err != nil {
		writeError(w, http.StatusBadRequest, "content is not valid base64", apperrors.CodeValidation)
		return
	}
	if int64(len(content)) > s.cfg.MaxUploadBytes {
		msg := fmt.Sprintf("image exceeds upload cap of %s (got %s)", humanize.IBytes(uint64(s.cfg.MaxUploadBytes)), humanize.IBytes(uint64(len(content))))
		writeError(w, http.StatusRequestEntityTooLarge, msg, apperrors.CodePayloadTooLarge)
		return
	}

	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()

	result, err := s.composer.UploadImage(r.Context(), sess, workspaceID, docID, body.ParentBlockID, content, body.Mime, body.Width, body.Height, body.Caption, ownerFrom(r))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"blockId": result.BlockID, "blobId": result.BlobID})
}
