package upstream

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/affine-collab/cte/internal/apperrors"
)

// envelope is the wire shape of every message exchanged over the upstream
// socket channel: an outbound emit carries Event+ReqID+Payload; an inbound
// ack carries ReqID+Data/Error; an inbound broadcast carries Event+Payload
// with no ReqID, matching the upstream's socket.io-shaped channel.
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

// socketConn is the live bidirectional channel to the upstream, plus the
// bookkeeping needed to correlate emitted events with their acks and to
// fan inbound broadcasts out to registered handlers: one read goroutine,
// correlation by request id, one socket per Session.
type socketConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan envelope

	subsMu sync.RWMutex
	subs   map[string][]func(envelope)

	closeOnce sync.Once
	closed    chan struct{}
}

func newSocketConn(conn *websocket.Conn) *socketConn {
	sc := &socketConn{
		conn:    conn,
		pending: make(map[string]chan envelope),
		subs:    make(map[string][]func(envelope)),
		closed:  make(chan struct{}),
	}
	go sc.readPump()
	return sc
}

func (sc *socketConn) readPump() {
	defer sc.Close()
	for {
		_, data, err := sc.conn.ReadMessage()
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if env.ReqID != "" {
			sc.deliverAck(env)
			continue
		}
		sc.dispatchBroadcast(env)
	}
}

func (sc *socketConn) deliverAck(env envelope) {
	sc.pendingMu.Lock()
	ch, ok := sc.pending[env.ReqID]
	if ok {
		delete(sc.pending, env.ReqID)
	}
	sc.pendingMu.Unlock()
	if ok {
		ch <- env
	}
}

func (sc *socketConn) dispatchBroadcast(env envelope) {
	sc.subsMu.RLock()
	handlers := append([]func(envelope){}, sc.subs[env.Event]...)
	sc.subsMu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

func (sc *socketConn) on(event string, handler func(envelope)) {
	sc.subsMu.Lock()
	defer sc.subsMu.Unlock()
	sc.subs[event] = append(sc.subs[event], handler)
}

func (sc *socketConn) write(data []byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.conn.WriteMessage(websocket.TextMessage, data)
}

func (sc *socketConn) Close() {
	sc.closeOnce.Do(func() {
		close(sc.closed)
		_ = sc.conn.Close()
	})
}

func newReqID() string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "req-fallback"
	}
	return hex.EncodeToString(b)
}

// EmitWithAck sends event with payload and awaits a structured ack.
// Acks carrying a structured error are mapped to the typed taxonomy
// (DOC_NOT_FOUND, DOC_UPDATE_BLOCKED, ACCESS_DENIED, TIMEOUT).
// Rate-limited per session so one caller cannot saturate a shared
// upstream socket.
func (s *Session) EmitWithAck(ctx context.Context, event string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	if !s.Connected() {
		return nil, apperrors.New(apperrors.CodeUpstreamUnreachable, "socket not connected")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamTimeout, "rate limiter wait aborted", err)
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "encode emit payload", err)
	}

	reqID := newReqID()
	ch := make(chan envelope, 1)
	s.sock.pendingMu.Lock()
	s.sock.pending[reqID] = ch
	s.sock.pendingMu.Unlock()

	out, err := json.Marshal(envelope{Event: event, ReqID: reqID, Payload: payloadBytes})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeValidation, "encode envelope", err)
	}
	if err := s.sock.write(out); err != nil {
		s.sock.pendingMu.Lock()
		delete(s.sock.pending, reqID)
		s.sock.pendingMu.Unlock()
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "emit failed", err)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		if env.Error != nil {
			return nil, mapAckError(env.Error)
		}
		return env.Data, nil
	case <-timer.C:
		s.sock.pendingMu.Lock()
		delete(s.sock.pending, reqID)
		s.sock.pendingMu.Unlock()
		return nil, apperrors.New(apperrors.CodeUpstreamTimeout, fmt.Sprintf("emit-with-ack timed out waiting on %q", event))
	case <-ctx.Done():
		s.sock.pendingMu.Lock()
		delete(s.sock.pending, reqID)
		s.sock.pendingMu.Unlock()
		return nil, apperrors.Wrap(apperrors.CodeUpstreamTimeout, "emit-with-ack cancelled", ctx.Err())
	case <-s.sock.closed:
		return nil, apperrors.New(apperrors.CodeUpstreamUnreachable, "socket closed while awaiting ack")
	}
}

func mapAckError(e *ackError) error {
	switch e.Code {
	case "DOC_NOT_FOUND":
		return apperrors.New(apperrors.CodeDocNotFound, e.Message)
	case "DOC_UPDATE_BLOCKED":
		return apperrors.New(apperrors.CodeDocUpdateBlocked, e.Message)
	case "ACCESS_DENIED":
		return apperrors.New(apperrors.CodeAccessDenied, e.Message)
	case "TIMEOUT":
		return apperrors.New(apperrors.CodeUpstreamTimeout, e.Message)
	case "PERMISSION_DENIED":
		return apperrors.New(apperrors.CodePermissionDenied, e.Message)
	default:
		return apperrors.New(apperrors.CodeUpstreamUnreachable, e.Message)
	}
}

// ConnectSocket opens the bidirectional event channel to the upstream,
// carrying the cookie jar as a header. The transport is WebSocket-only,
// with no long-poll fallback. Idempotent: a second call on an
// already-connected session is a no-op.
func (m *Manager) ConnectSocket(ctx context.Context, sess *Session, socketURL string) error {
	if sess.Connected() {
		return nil
	}

	header := make(map[string][]string)
	if h := sess.jar.header(); h != "" {
		header["Cookie"] = []string{h}
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, socketURL, header)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSocketHandshakeFail, "upstream socket handshake failed", err)
	}

	sess.mu.Lock()
	if sess.sock != nil {
		sess.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	sess.sock = newSocketConn(conn)
	sess.mu.Unlock()
	return nil
}

// JoinWorkspace emits space:join and awaits ack. Idempotent per
// session: repeated calls never re-emit once joined.
func (s *Session) JoinWorkspace(ctx context.Context, workspaceID string) error {
	if s.HasJoined(workspaceID) {
		return nil
	}
	_, err := s.EmitWithAck(ctx, "space:join", map[string]interface{}{
		"spaceType":     "workspace",
		"spaceId":       workspaceID,
		"clientVersion": protocolVersion,
	}, 10*time.Second)
	if err != nil {
		if ae, ok := apperrors.As(err); ok && ae.Code == apperrors.CodeAccessDenied {
			return apperrors.New(apperrors.CodePermissionDenied, "join-workspace rejected")
		}
		return err
	}
	s.markJoined(workspaceID)
	return nil
}

// LeaveWorkspace emits space:leave; best-effort.
func (s *Session) LeaveWorkspace(ctx context.Context, workspaceID string) error {
	if !s.HasJoined(workspaceID) {
		return nil
	}
	_, err := s.EmitWithAck(ctx, "space:leave", map[string]interface{}{
		"spaceType": "workspace",
		"spaceId":   workspaceID,
	}, 5*time.Second)
	s.markLeft(workspaceID)
	return err
}

// Disconnect closes the socket. It must close the socket even if a prior
// LeaveWorkspace failed.
func (s *Session) Disconnect() {
	s.mu.Lock()
	sock := s.sock
	s.sock = nil
	s.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

const protocolVersion = 1
