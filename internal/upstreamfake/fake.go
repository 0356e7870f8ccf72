// Package upstreamfake provides a small in-process stand-in for the
// upstream collaboration server, so the session manager, CRDT runtime
// adapter, transaction composer, broadcast fabric, and navigator are
// testable without a live upstream: an httptest.Server speaking the
// socket.io-shaped envelope plus the sign-in, GraphQL, blob, and
// snapshot routes.
package upstreamfake

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/affine-collab/cte/internal/crdt"
)

type envelope struct {
	Event   string          `json:"event,omitempty"`
	ReqID   string          `json:"reqId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ackError       `json:"error,omitempty"`
}

type ackError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server is a fake upstream: one HTTP+WebSocket endpoint backing sign-in,
// the CRDT socket channel, GraphQL, and the blob/snapshot REST routes.
type Server struct {
	HTTP *httptest.Server

	email    string
	password string

	mu        sync.Mutex
	docs      map[string]*crdt.Doc
	missing   map[string]bool // one-shot: next load-doc for this key returns DOC_NOT_FOUND
	rejectPOp map[string]string // one-shot: next push-doc-update for this key returns this error code
	blobs     map[string][]byte
	rejectJoinWS map[string]bool
	joinCounts   map[string]int64

	connsMu sync.Mutex
	conns   map[*websocket.Conn]map[string]bool // conn -> joined workspace ids
}

// NewServer constructs and starts a fake upstream accepting email/password
// as valid sign-in credentials.
func NewServer(email, password string) *Server {
	s := &Server{
		email:        email,
		password:     password,
		docs:         make(map[string]*crdt.Doc),
		missing:      make(map[string]bool),
		rejectPOp:    make(map[string]string),
		blobs:        make(map[string][]byte),
		rejectJoinWS: make(map[string]bool),
		joinCounts:   make(map[string]int64),
		conns:        make(map[*websocket.Conn]map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/sign-in", s.handleSignIn)
	mux.HandleFunc("/socket.io/", s.handleSocket)
	mux.HandleFunc("/graphql", s.handleGraphQL)
	mux.HandleFunc("/api/workspaces/", s.handleWorkspaceREST)
	s.HTTP = httptest.NewServer(mux)
	return s
}

// Close tears down the fake server and every open socket.
func (s *Server) Close() {
	s.connsMu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.connsMu.Unlock()
	s.HTTP.Close()
}

// BaseURL is the fake server's http(s) base URL, suitable for
// upstream.Config.BaseURL.
func (s *Server) BaseURL() string { return s.HTTP.URL }

func docKey(workspaceID, docID string) string { return workspaceID + "::" + docID }

// SeedDoc pre-populates workspaceID/docID so a subsequent load-doc sees
// existing content, running mutate against the fresh replica under the
// server's own actor identity.
func (s *Server) SeedDoc(workspaceID, docID string, mutate func(*crdt.Doc)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := crdt.NewDoc("fake-upstream")
	if mutate != nil {
		mutate(doc)
	}
	s.docs[docKey(workspaceID, docID)] = doc
}

// MarkMissing makes the next load-doc for workspaceID/docID fail with
// DOC_NOT_FOUND, once, regardless of whether the key already exists.
func (s *Server) MarkMissing(workspaceID, docID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.missing[docKey(workspaceID, docID)] = true
}

// RejectNextPush makes the next push-doc-update for workspaceID/docID
// fail with the given ack error code, once.
func (s *Server) RejectNextPush(workspaceID, docID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectPOp[docKey(workspaceID, docID)] = code
}

// RejectJoin makes every space:join for workspaceID fail with
// PERMISSION_DENIED.
func (s *Server) RejectJoin(workspaceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectJoinWS[workspaceID] = true
}

// JoinCount reports how many space:join events the fake server has
// received for workspaceID, across every connected socket; join
// idempotence tests assert on it.
func (s *Server) JoinCount(workspaceID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joinCounts[workspaceID]
}

// Snapshot returns the fake upstream's own replica of workspaceID/docID
// (the live *crdt.Doc, not a copy), or (nil, false) if never touched.
func (s *Server) Snapshot(workspaceID, docID string) (*crdt.Doc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docKey(workspaceID, docID)]
	return d, ok
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct{ Email, Password string }
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Email != s.email || req.Password != s.password {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "affine_session", Value: "fake-session-token"})
	http.SetCookie(w, &http.Cookie{Name: "affine_user_id", Value: "user-" + req.Email})
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"id": "user-" + req.Email, "email": req.Email})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.connsMu.Lock()
	s.conns[conn] = make(map[string]bool)
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		_ = conn.Close()
	}()

	var writeMu sync.Mutex
	write := func(env envelope) {
		b, _ := json.Marshal(env)
		writeMu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, b)
		writeMu.Unlock()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		s.dispatch(conn, env, write)
	}
}

func (s *Server) dispatch(conn *websocket.Conn, env envelope, write func(envelope)) {
	switch env.Event {
	case "space:join":
		var p struct{ SpaceID string `json:"spaceId"` }
		_ = json.Unmarshal(env.Payload, &p)
		s.mu.Lock()
		rejected := s.rejectJoinWS[p.SpaceID]
		if !rejected {
			s.joinCounts[p.SpaceID]++
		}
		s.mu.Unlock()
		if rejected {
			write(envelope{ReqID: env.ReqID, Error: &ackError{Code: "ACCESS_DENIED", Message: "join rejected"}})
			return
		}
		s.connsMu.Lock()
		if joined, ok := s.conns[conn]; ok {
			joined[p.SpaceID] = true
		}
		s.connsMu.Unlock()
		write(envelope{ReqID: env.ReqID, Data: json.RawMessage(`{}`)})

	case "space:leave":
		var p struct{ SpaceID string `json:"spaceId"` }
		_ = json.Unmarshal(env.Payload, &p)
		s.connsMu.Lock()
		if joined, ok := s.conns[conn]; ok {
			delete(joined, p.SpaceID)
		}
		s.connsMu.Unlock()
		write(envelope{ReqID: env.ReqID, Data: json.RawMessage(`{}`)})

	case "space:load-doc":
		var payload struct {
			SpaceID string `json:"spaceId"`
			DocID   string `json:"docId"`
		}
		_ = json.Unmarshal(env.Payload, &payload)
		key := docKey(payload.SpaceID, payload.DocID)

		s.mu.Lock()
		if s.missing[key] {
			delete(s.missing, key)
			s.mu.Unlock()
			write(envelope{ReqID: env.ReqID, Error: &ackError{Code: "DOC_NOT_FOUND", Message: "document not found"}})
			return
		}
		doc, ok := s.docs[key]
		s.mu.Unlock()
		if !ok {
			write(envelope{ReqID: env.ReqID, Error: &ackError{Code: "DOC_NOT_FOUND", Message: "document not found"}})
			return
		}

		missingBytes, err := doc.EncodeUpdateSince(nil)
		if err != nil {
			write(envelope{ReqID: env.ReqID, Error: &ackError{Code: "DOC_NOT_FOUND", Message: err.Error()}})
			return
		}
		stateBytes, err := doc.EncodeStateVector()
		if err != nil {
			write(envelope{ReqID: env.ReqID, Error: &ackError{Code: "DOC_NOT_FOUND", Message: err.Error()}})
			return
		}
		data, _ := json.Marshal(map[string]interface{}{
			"missing":   base64.StdEncoding.EncodeToString(missingBytes),
			"state":     base64.StdEncoding.EncodeToString(stateBytes),
			"timestamp": 1,
		})
		write(envelope{ReqID: env.ReqID, Data: data})

	case "space:push-doc-update":
		var payload struct {
			SpaceID string `json:"spaceId"`
			DocID   string `json:"docId"`
			Update  string `json:"update"`
		}
		_ = json.Unmarshal(env.Payload, &payload)
		key := docKey(payload.SpaceID, payload.DocID)

		s.mu.Lock()
		if code, ok := s.rejectPOp[key]; ok {
			delete(s.rejectPOp, key)
			s.mu.Unlock()
			write(envelope{ReqID: env.ReqID, Error: &ackError{Code: code, Message: "push rejected"}})
			return
		}
		doc, ok := s.docs[key]
		if !ok {
			doc = crdt.NewDoc("fake-upstream")
			s.docs[key] = doc
		}
		s.mu.Unlock()

		updateBytes, err := base64.StdEncoding.DecodeString(payload.Update)
		if err != nil {
			write(envelope{ReqID: env.ReqID, Error: &ackError{Code: "DOC_UPDATE_BLOCKED", Message: err.Error()}})
			return
		}
		if err := doc.ApplyUpdate(updateBytes); err != nil {
			write(envelope{ReqID: env.ReqID, Error: &ackError{Code: "DOC_UPDATE_BLOCKED", Message: err.Error()}})
			return
		}
		data, _ := json.Marshal(map[string]interface{}{"accepted": true, "timestamp": 1})
		write(envelope{ReqID: env.ReqID, Data: data})

		s.broadcast(conn, payload.SpaceID, payload.DocID, payload.Update)

	default:
		write(envelope{ReqID: env.ReqID, Error: &ackError{Code: "UPSTREAM_UNREACHABLE", Message: "unknown event: " + env.Event}})
	}
}

// broadcast relays a just-accepted update to every other socket that has
// joined spaceID, as the upstream's space:broadcast-doc-update does.
func (s *Server) broadcast(origin *websocket.Conn, spaceID, docID, update string) {
	env := envelope{Event: "space:broadcast-doc-update"}
	payload, _ := json.Marshal(map[string]string{"docId": docID, "update": update})
	env.Payload = payload
	b, _ := json.Marshal(env)

	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c, joined := range s.conns {
		if c == origin || !joined[spaceID] {
			continue
		}
		_ = c.WriteMessage(websocket.TextMessage, b)
	}
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.Contains(req.Query, "workspaces {"):
		s.mu.Lock()
		seen := map[string]bool{}
		for key := range s.docs {
			ws := strings.SplitN(key, "::", 2)[0]
			seen[ws] = true
		}
		s.mu.Unlock()
		var list []map[string]interface{}
		for ws := range seen {
			list = append(list, map[string]interface{}{"id": ws, "memberCount": 1})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"workspaces": list},
		})
	case strings.Contains(req.Query, "publishDoc"):
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{
				"publishDoc": map[string]interface{}{
					"url":  fmt.Sprintf("%s/public/%v", s.BaseURL(), req.Variables["doc"]),
					"mode": req.Variables["mode"],
				},
			},
		})
	case strings.Contains(req.Query, "revokePublicDoc"):
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"revokePublicDoc": map[string]interface{}{"id": req.Variables["doc"]}},
		})
	case strings.Contains(req.Query, "notifications"):
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"notifications": []interface{}{}},
		})
	default:
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{}})
	}
}

var blobCounter int64

func (s *Server) handleWorkspaceREST(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/workspaces/"), "/")
	if len(parts) == 2 && parts[1] == "blobs" && r.Method == http.MethodPost {
		buf, _ := io.ReadAll(r.Body)
		id := fmt.Sprintf("blob-%d", atomic.AddInt64(&blobCounter, 1))
		s.mu.Lock()
		s.blobs[id] = buf
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"blobId": id})
		return
	}
	if len(parts) == 3 && parts[1] == "docs" && r.Method == http.MethodGet {
		s.mu.Lock()
		doc, ok := s.docs[docKey(parts[0], parts[2])]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		b, _ := doc.EncodeUpdateSince(nil)
		_, _ = w.Write(b)
		return
	}
	http.NotFound(w, r)
}
