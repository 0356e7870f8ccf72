// Package upstream owns the authenticated channel to the upstream
// collaboration server: sign-in, the multiplexed CRDT socket, and the
// emit-with-ack primitive the rest of the engine builds on: a
// gorilla/websocket connection with a read pump and request/response
// correlation over a single socket.
package upstream

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/affine-collab/cte/internal/apperrors"
)

// cookieJar is a minimal owned type holding the two well-known cookies the
// upstream sign-in response sets. A plain struct rather than
// net/http/cookiejar because exactly two named cookies are ever tracked.
type cookieJar struct {
	mu      sync.RWMutex
	session string
	userID  string
}

func (j *cookieJar) set(sessionCookie, userIDCookie string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.session = sessionCookie
	j.userID = userIDCookie
}

func (j *cookieJar) header() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.session == "" {
		return ""
	}
	return "affine_session=" + j.session + "; affine_user_id=" + j.userID
}

// Session is the authenticated bond with the upstream:
// an opaque credential, a user identifier, a live bidirectional socket
// (once ConnectSocket is called), a set of joined workspaces, and a
// per-session emit rate limiter. Short-lived per HTTP request unless attached to a live
// canvas WebSocket, in which case it outlives many client messages.
type Session struct {
	ID     string // local correlation id, not sent upstream
	UserID string

	jar    *cookieJar
	sock   *socketConn
	mu     sync.Mutex
	joined map[string]bool

	limiter *rate.Limiter

	createdAt time.Time
}

func newSession(userID string) *Session {
	return &Session{
		ID:        generateLocalID(),
		UserID:    userID,
		jar:       &cookieJar{},
		joined:    make(map[string]bool),
		limiter:   rate.NewLimiter(rate.Limit(10), 20),
		createdAt: time.Now(),
	}
}

func generateLocalID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "sess-fallback"
	}
	return hex.EncodeToString(b)
}

// HasJoined reports whether this session has already joined workspaceID,
// backing JoinWorkspace's idempotence.
func (s *Session) HasJoined(workspaceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined[workspaceID]
}

func (s *Session) markJoined(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.joined[workspaceID] = true
}

func (s *Session) markLeft(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.joined, workspaceID)
}

// Connected reports whether ConnectSocket has successfully established a
// socket for this session.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sock != nil
}

// authError wraps a sign-in failure as a typed AUTH_REJECTED error.
func authError(cause error) error {
	return apperrors.Wrap(apperrors.CodeAuthRejected, "upstream rejected credentials", cause)
}
