package httpapi

import "net/http"

// handleListNotifications serves GET /notifications. This
// is a pure upstream GraphQL query (internal/upstream/graphql.go's
// ListNotifications), not a CRDT operation, so it only needs the
// cookie-authenticated Session from signIn — no socket connect or
// workspace join.
func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	sess, err := s.signIn(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	notifications, err := s.upstream.ListNotifications(r.Context(), sess)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}
