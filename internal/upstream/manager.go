package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/affine-collab/cte/internal/apperrors"
)

// Manager is the Session Manager component: it owns the HTTP
// client used for sign-in and REST/GraphQL calls, and mints Sessions.
// One Manager per process; each HTTP request gets its own short-lived
// Session (sign-in per request scheduling model), while a
// live canvas connection keeps one Session for its lifetime.
type Manager struct {
	baseURL string
	http    *http.Client
}

// Config configures the Manager's HTTP behaviour.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// NewManager constructs a Manager bound to the upstream base URL.
func NewManager(cfg Config) *Manager {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Manager{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SocketURL derives the upstream's WebSocket socket-channel URL
// (/socket.io/) from the HTTP(S) base URL, swapping scheme the way a browser's socket.io client
// would.
func (m *Manager) SocketURL() string {
	url := m.baseURL
	switch {
	case strings.HasPrefix(url, "https://"):
		url = "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url + "/socket.io/"
}

// Connect opens sess's upstream socket if it is not already connected
//.
func (m *Manager) Connect(ctx context.Context, sess *Session) error {
	return m.ConnectSocket(ctx, sess, m.SocketURL())
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SignIn authenticates against the upstream and returns a new Session
// carrying the two response cookies in its jar. Fails with
// AUTH_REJECTED on bad credentials, UPSTREAM_UNREACHABLE on network error.
func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	body, err := json.Marshal(signInRequest{Email: email, Password: password})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "encode sign-in request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/auth/sign-in", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "build sign-in request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "sign-in request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, authError(fmt.Errorf("upstream returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, fmt.Sprintf("sign-in returned %d", resp.StatusCode), nil)
	}

	var sessionCookie, userIDCookie string
	for _, c := range resp.Cookies() {
		switch c.Name {
		case "affine_session":
			sessionCookie = c.Value
		case "affine_user_id":
			userIDCookie = c.Value
		}
	}
	if sessionCookie == "" {
		return nil, authError(fmt.Errorf("sign-in response carried no session cookie"))
	}

	var sr signInResponse
	_ = json.NewDecoder(resp.Body).Decode(&sr)
	userID := sr.ID
	if userID == "" {
		userID = userIDCookie
	}

	sess := newSession(userID)
	sess.jar.set(sessionCookie, userIDCookie)
	return sess, nil
}

// newAuthedRequest builds an HTTP request carrying the session's cookie
// header, for REST/GraphQL calls made outside the socket channel.
func (m *Manager) newAuthedRequest(ctx context.Context, sess *Session, method, path string, body []byte) (*http.Request, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if h := sess.jar.header(); h != "" {
		req.Header.Set("Cookie", h)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
