// Package httpapi provides the caller-facing REST surface: a
// stdlib http.ServeMux of workspace/document/block/edgeless/comment/
// notification/token routes translating HTTP requests into transaction
// composer and navigator calls.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/affine-collab/cte/internal/apitoken"
	"github.com/affine-collab/cte/internal/broadcast"
	"github.com/affine-collab/cte/internal/config"
	"github.com/affine-collab/cte/internal/nav"
	"github.com/affine-collab/cte/internal/txn"
	"github.com/affine-collab/cte/internal/upstream"
	"github.com/affine-collab/cte/internal/wsapi"
)

// Server is the REST surface's HTTP server.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server

	upstream  *upstream.Manager
	composer  *txn.Composer
	navigator *nav.Navigator
	tokens    *apitoken.Issuer
	fabric    *broadcast.Fabric
	canvas    *wsapi.Handler
}

// actorID names this process's authorship for locally-produced CRDT ops
// and live-canvas replica loads, distinct from
// the upstream account identity carried by each short-lived Session.
const actorID = "cte-engine"

// New constructs a Server wired to its upstream Manager, transaction
// composer, navigator, broadcast fabric, and token issuer: build
// collaborators, mint a root bootstrap token, lay out routes, wrap with
// CORS.
func New(cfg *config.Config) (*Server, error) {
	upMgr := upstream.NewManager(upstream.Config{BaseURL: cfg.UpstreamBaseURL})
	composer := txn.New(upMgr, actorID)
	navigator := nav.New(upMgr, actorID, cfg.LinkedPageMaxDepth)
	fabric := broadcast.New(actorID)
	tokens := apitoken.New(cfg.APITokenSecret, cfg.APITokenTTL)
	canvas := wsapi.New(cfg, upMgr, fabric)

	s := &Server{
		cfg:       cfg,
		upstream:  upMgr,
		composer:  composer,
		navigator: navigator,
		tokens:    tokens,
		fabric:    fabric,
		canvas:    canvas,
	}

	// A service has no browser session to hand a token back through, so
	// the root caller token is minted once at startup and logged for
	// out-of-band provisioning.
	rootToken, _, err := tokens.Issue("root", "bootstrap")
	if err != nil {
		return nil, fmt.Errorf("mint bootstrap token: %w", err)
	}
	slog.Info("minted bootstrap API token; use it as the Authorization: Bearer credential", "token", rootToken)

	mux := http.NewServeMux()
	s.setupRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      corsMiddleware(mux, cfg.AllowedOrigins),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return s, nil
}

// Fabric exposes the Broadcast Fabric for internal/wsapi to join against.
func (s *Server) Fabric() *broadcast.Fabric { return s.fabric }

// Start starts the HTTP server; it blocks until Stop's Shutdown unwinds
// ListenAndServe, matching net/http's ErrServerClosed convention.
func (s *Server) Start() error {
	slog.Info("starting collaboration translation engine", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes lays out the REST surface route table, using Go 1.22+
// stdlib mux method+path patterns.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	mux.HandleFunc("GET /workspaces", s.withAuth(s.handleListWorkspaces))
	mux.HandleFunc("GET /workspaces/{workspaceId}", s.withAuth(s.handleGetWorkspace))
	mux.HandleFunc("GET /workspaces/{workspaceId}/hierarchy", s.withAuth(s.handleGetHierarchy))

	mux.HandleFunc("GET /workspaces/{workspaceId}/folders", s.withAuth(s.handleListFolders))
	mux.HandleFunc("POST /workspaces/{workspaceId}/folders", s.withAuth(s.handleCreateFolder))
	mux.HandleFunc("GET /workspaces/{workspaceId}/folders/{folderId}", s.withAuth(s.handleGetFolderContents))

	mux.HandleFunc("GET /workspaces/{workspaceId}/documents", s.withAuth(s.handleListDocuments))
	mux.HandleFunc("POST /workspaces/{workspaceId}/documents", s.withAuth(s.handleCreateDocument))
	mux.HandleFunc("GET /workspaces/{workspaceId}/documents/{docId}", s.withAuth(s.handleGetDocument))
	mux.HandleFunc("PATCH /workspaces/{workspaceId}/documents/{docId}", s.withAuth(s.handleUpdateDocument))
	mux.HandleFunc("DELETE /workspaces/{workspaceId}/documents/{docId}", s.withAuth(s.handleDeleteDocument))
	mux.HandleFunc("GET /workspaces/{workspaceId}/documents/{docId}/content", s.withAuth(s.handleGetContent))

	mux.HandleFunc("POST /workspaces/{workspaceId}/documents/{docId}/blocks", s.withAuth(s.handleAddBlock))
	mux.HandleFunc("PATCH /workspaces/{workspaceId}/documents/{docId}/blocks/{blockId}", s.withAuth(s.handleUpdateBlock))
	mux.HandleFunc("DELETE /workspaces/{workspaceId}/documents/{docId}/blocks/{blockId}", s.withAuth(s.handleDeleteBlock))

	mux.HandleFunc("GET /workspaces/{workspaceId}/documents/{docId}/edgeless", s.withAuth(s.handleListElements))
	mux.HandleFunc("POST /workspaces/{workspaceId}/documents/{docId}/edgeless/elements", s.withAuth(s.handleCreateElement))
	mux.HandleFunc("GET /workspaces/{workspaceId}/documents/{docId}/edgeless/elements/{elementId}", s.withAuth(s.handleGetElement))
	mux.HandleFunc("PATCH /workspaces/{workspaceId}/documents/{docId}/edgeless/elements/{elementId}", s.withAuth(s.handleUpdateElement))
	mux.HandleFunc("DELETE /workspaces/{workspaceId}/documents/{docId}/edgeless/elements/{elementId}", s.withAuth(s.handleDeleteElement))

	mux.HandleFunc("POST /workspaces/{workspaceId}/documents/{docId}/images", s.withAuth(s.handleUploadImage))

	mux.HandleFunc("POST /workspaces/{workspaceId}/documents/{docId}/publish", s.withAuth(s.handlePublish))
	mux.HandleFunc("POST /workspaces/{workspaceId}/documents/{docId}/revoke", s.withAuth(s.handleRevoke))

	mux.HandleFunc("GET /workspaces/{workspaceId}/documents/{docId}/comments", s.withAuth(s.handleListComments))
	mux.HandleFunc("POST /workspaces/{workspaceId}/documents/{docId}/comments", s.withAuth(s.handleAddComment))
	mux.HandleFunc("PATCH /workspaces/{workspaceId}/documents/{docId}/comments/{commentId}", s.withAuth(s.handleUpdateComment))
	mux.HandleFunc("POST /workspaces/{workspaceId}/documents/{docId}/comments/{commentId}/resolve", s.withAuth(s.handleResolveComment))
	mux.HandleFunc("DELETE /workspaces/{workspaceId}/documents/{docId}/comments/{commentId}", s.withAuth(s.handleDeleteComment))

	mux.HandleFunc("GET /notifications", s.withAuth(s.handleListNotifications))

	mux.HandleFunc("GET /users/me/tokens", s.withAuth(s.handleListTokens))
	mux.HandleFunc("POST /users/me/tokens", s.withAuth(s.handleCreateToken))
	mux.HandleFunc("DELETE /users/me/tokens/{tokenId}", s.withAuth(s.handleRevokeToken))

	mux.HandleFunc("GET /canvas", s.withAuthWS(s.canvas.ServeHTTP))
}

// signIn opens a fresh short-lived upstream Session for one HTTP
// request. The engine itself holds one upstream account's credentials;
// caller identity is this engine's own bearer token, checked separately
// by withAuth.
func (s *Server) signIn(ctx context.Context) (*upstream.Session, error) {
	return s.upstream.SignIn(ctx, s.cfg.UpstreamEmail, s.cfg.UpstreamPass)
}

// openSession signs in, opens the upstream socket, and (if workspaceID
// is non-empty) joins that workspace — the full precondition chain for
// any CRDT operation scoped to a workspace. The returned cleanup leaves
// the workspace and disconnects the socket, since this Session does not
// outlive the HTTP request; internal/wsapi's live canvas Sessions
// instead keep this chain open for the connection's lifetime.
func (s *Server) openSession(ctx context.Context, workspaceID string) (*upstream.Session, func(), error) {
	sess, err := s.signIn(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := s.upstream.Connect(ctx, sess); err != nil {
		return nil, nil, err
	}
	if workspaceID != "" {
		if err := sess.JoinWorkspace(ctx, workspaceID); err != nil {
			sess.Disconnect()
			return nil, nil, err
		}
	}
	cleanup := func() {
		if workspaceID != "" {
			_ = sess.LeaveWorkspace(context.Background(), workspaceID)
		}
		sess.Disconnect()
	}
	return sess, cleanup, nil
}

// corsMiddleware applies the allowlist with wildcard-subdomain
// matching.
func corsMiddleware(next http.Handler, allowedOrigins []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false
		for _, o := range allowedOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
			if strings.Contains(o, "*.") {
				idx := strings.Index(o, "*.")
				prefix, suffix := o[:idx], o[idx+1:]
				if strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) {
					allowed = true
					break
				}
			}
		}
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

var startedAt = time.Now()
