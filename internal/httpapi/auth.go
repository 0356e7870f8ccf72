package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/affine-collab/cte/internal/apperrors"
)

type ctxKey int

const ownerCtxKey ctxKey = iota

// withAuth validates the caller's engine-issued bearer token and
// attaches its owner to the request context. This engine has no browser
// session, only a bearer credential.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			writeError(w, http.StatusUnauthorized, "missing bearer token", apperrors.CodeAuthRejected)
			return
		}
		rec, err := s.tokens.Validate(strings.TrimPrefix(authz, prefix))
		if err != nil {
			writeAppError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ownerCtxKey, rec.Owner)
		next(w, r.WithContext(ctx))
	}
}

// withAuthWS is withAuth's WebSocket counterpart: a browser/native
// canvas client cannot always attach a custom Authorization header to a
// WebSocket handshake, so a ?token= query parameter is accepted too.
func (s *Server) withAuthWS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			authz := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if strings.HasPrefix(authz, prefix) {
				token = strings.TrimPrefix(authz, prefix)
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token", apperrors.CodeAuthRejected)
			return
		}
		rec, err := s.tokens.Validate(token)
		if err != nil {
			writeAppError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ownerCtxKey, rec.Owner)
		next(w, r.WithContext(ctx))
	}
}

func ownerFrom(r *http.Request) string {
	if v, ok := r.Context().Value(ownerCtxKey).(string); ok {
		return v
	}
	return ""
}
