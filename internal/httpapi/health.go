package httpapi

import (
	"net/http"
	"time"
)

// handleHealthz is the liveness probe. Unauthenticated.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(startedAt).String(),
	})
}
