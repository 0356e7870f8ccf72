// Package wsapi implements the caller-facing live canvas WebSocket
// (GET /canvas): a long-lived connection joined to exactly one
// (workspaceId, docId) pair through the broadcast fabric. Each
// connection holds a write mutex guarding a single
// gorilla/websocket.Conn, a goroutine pumping asynchronous deliveries
// out while the main goroutine reads inbound messages, and one upstream
// Session kept open for the connection's lifetime.
package wsapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/broadcast"
	"github.com/affine-collab/cte/internal/config"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/edgeless"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/upstream"
)

// inMessage is the client→server envelope: one struct for the
// join/brush/shape/text/update/delete/ping message shapes.
type inMessage struct {
	Type string `json:"type"`

	WorkspaceID string `json:"workspaceId"`
	DocID       string `json:"docId"`

	Points    [][3]float64 `json:"points"`
	Color     interface{}  `json:"color"`
	LineWidth float64      `json:"lineWidth"`

	ShapeType   string      `json:"shapeType"`
	XYWH        [4]float64  `json:"xywh"`
	Fill        interface{} `json:"fill"`
	Stroke      interface{} `json:"stroke"`
	StrokeWidth float64     `json:"strokeWidth"`

	Text     string `json:"text"`
	FontSize float64 `json:"fontSize"`

	ElementID string                 `json:"elementId"`
	Changes   map[string]interface{} `json:"changes"`
}

// outMessage is the server→client envelope.
type outMessage struct {
	Type string `json:"type"`

	Elements []edgeless.View `json:"elements,omitempty"`
	Element  *edgeless.View  `json:"element,omitempty"`

	ElementID string                 `json:"elementId,omitempty"`
	Changes   map[string]interface{} `json:"changes,omitempty"`

	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Handler serves the live canvas WebSocket. It holds no per-connection
// state itself — every connection gets its own conn wrapper — only the
// shared collaborators every connection joins against.
type Handler struct {
	cfg      *config.Config
	upstream *upstream.Manager
	fabric   *broadcast.Fabric
	upgrader websocket.Upgrader
}

// New constructs a Handler bound to the shared upstream Manager and
// Broadcast Fabric every connection joins against.
func New(cfg *config.Config, up *upstream.Manager, fabric *broadcast.Fabric) *Handler {
	h := &Handler{cfg: cfg, upstream: up, fabric: fabric}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.WSReadBufferSize,
		WriteBufferSize: cfg.WSWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return h.isOriginAllowed(origin)
		},
	}
	return h
}

// isOriginAllowed checks origin against the allowlist, with
// wildcard-subdomain matching.
func (h *Handler) isOriginAllowed(origin string) bool {
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
		if strings.Contains(allowed, "*") && matchWildcardOrigin(origin, allowed) {
			return true
		}
	}
	slog.Warn("canvas websocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigins)
	return false
}

func matchWildcardOrigin(origin, pattern string) bool {
	parts := strings.SplitN(pattern, "*", 2)
	if len(parts) != 2 {
		return false
	}
	prefix, suffix := parts[0], parts[1]
	if !strings.HasPrefix(origin, prefix) || !strings.HasSuffix(origin, suffix) {
		return false
	}
	middle := origin[len(prefix) : len(origin)-len(suffix)]
	return !strings.Contains(middle, "/")
}

// conn wraps one upgraded connection: a write mutex and a delivery
// queue drained by a small always-running pump, so
// broadcast.Client.Deliver never blocks on a slow network write from
// inside the fabric's slot lock.
type conn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex

	outbox chan outMessage
	done   chan struct{}
}

func (c *conn) ID() string { return c.id }

// Deliver queues ev for the client as an outbound message, translating
// the fabric's Event into the canvas wire shape. Never blocks: a client too slow to keep up with
// its own outbox drops the oldest pending message rather than stalling
// the Fabric's single per-document lock.
func (c *conn) Deliver(ev broadcast.Event) {
	var msg outMessage
	switch ev.Kind {
	case "add":
		msg = outMessage{Type: "add", Element: ev.Element}
	case "update":
		msg = outMessage{Type: "update", ElementID: ev.ElementID, Changes: ev.Changes}
	case "remove":
		msg = outMessage{Type: "remove", ElementID: ev.ElementID}
	default:
		return
	}
	select {
	case c.outbox <- msg:
	default:
		select {
		case <-c.outbox:
		default:
		}
		select {
		case c.outbox <- msg:
		default:
		}
	}
}

func (c *conn) writeJSON(v outMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// ServeHTTP upgrades the request and runs the connection's lifecycle:
// sign in, hold that Session open for the connection's lifetime, read
// inbound messages until join switches the client onto a document,
// relay deliveries via a separate write pump.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("canvas websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	c := &conn{
		id:     broadcast.NewClientID(),
		ws:     ws,
		outbox: make(chan outMessage, 64),
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess, err := h.upstream.SignIn(ctx, h.cfg.UpstreamEmail, h.cfg.UpstreamPass)
	if err != nil {
		_ = c.writeJSON(outMessage{Type: "error", Message: err.Error(), Code: string(apperrors.CodeFor(err))})
		return
	}
	defer sess.Disconnect()
	if err := h.upstream.Connect(ctx, sess); err != nil {
		_ = c.writeJSON(outMessage{Type: "error", Message: err.Error(), Code: string(apperrors.CodeFor(err))})
		return
	}

	go c.writePump()

	var joined struct {
		workspaceID string
		docID       string
	}

	ws.SetReadDeadline(time.Now().Add(h.cfg.WSIdleTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(h.cfg.WSIdleTimeout))
		return nil
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		ws.SetReadDeadline(time.Now().Add(h.cfg.WSIdleTimeout))

		var in inMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			_ = c.writeJSON(outMessage{Type: "error", Message: "invalid message", Code: string(apperrors.CodeValidation)})
			continue
		}

		switch in.Type {
		case "join":
			if in.WorkspaceID == "" || in.DocID == "" {
				_ = c.writeJSON(outMessage{Type: "error", Message: "workspaceId and docId are required", Code: string(apperrors.CodeValidation)})
				continue
			}
			if joined.docID != "" {
				h.fabric.Leave(c.id)
			}
			if err := sess.JoinWorkspace(ctx, in.WorkspaceID); err != nil {
				_ = c.writeJSON(outMessage{Type: "error", Message: err.Error(), Code: string(apperrors.CodeFor(err))})
				continue
			}
			elements, err := h.fabric.Join(ctx, sess, in.WorkspaceID, in.DocID, c)
			if err != nil {
				_ = c.writeJSON(outMessage{Type: "error", Message: err.Error(), Code: string(apperrors.CodeFor(err))})
				continue
			}
			joined.workspaceID, joined.docID = in.WorkspaceID, in.DocID
			_ = c.writeJSON(outMessage{Type: "init", Elements: elements})

		case "brush":
			h.mutate(c, joined.workspaceID, joined.docID, func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
				return edgeless.CreateBrush(doc, inner, edgeless.BrushParams{Points: in.Points, Color: in.Color, LineWidth: in.LineWidth})
			})

		case "shape":
			h.mutate(c, joined.workspaceID, joined.docID, func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
				return edgeless.CreateShape(doc, inner, edgeless.ShapeParams{
					ShapeType: in.ShapeType, XYWH: in.XYWH, Fill: in.Fill,
					Stroke: in.Stroke, StrokeWidth: in.StrokeWidth,
				})
			})

		case "text":
			h.mutate(c, joined.workspaceID, joined.docID, func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
				return edgeless.CreateText(doc, inner, edgeless.TextParams{Text: in.Text, XYWH: in.XYWH, FontSize: in.FontSize})
			})

		case "update":
			if joined.docID == "" {
				_ = c.writeJSON(outMessage{Type: "error", Message: "not joined to a document", Code: string(apperrors.CodeValidation)})
				continue
			}
			err := h.fabric.Mutate(ctx, joined.workspaceID, joined.docID, c.id, func(doc *crdt.Doc) error {
				inner, err := surfaceInner(doc)
				if err != nil {
					return err
				}
				return edgeless.Update(doc, inner, in.ElementID, in.Changes)
			})
			if err != nil {
				_ = c.writeJSON(outMessage{Type: "error", Message: err.Error(), Code: string(apperrors.CodeFor(err))})
			}

		case "delete":
			if joined.docID == "" {
				_ = c.writeJSON(outMessage{Type: "error", Message: "not joined to a document", Code: string(apperrors.CodeValidation)})
				continue
			}
			err := h.fabric.Mutate(ctx, joined.workspaceID, joined.docID, c.id, func(doc *crdt.Doc) error {
				inner, err := surfaceInner(doc)
				if err != nil {
					return err
				}
				return edgeless.Delete(inner, in.ElementID)
			})
			if err != nil {
				_ = c.writeJSON(outMessage{Type: "error", Message: err.Error(), Code: string(apperrors.CodeFor(err))})
			}

		case "ping":
			_ = c.writeJSON(outMessage{Type: "pong"})

		default:
			_ = c.writeJSON(outMessage{Type: "error", Message: "unknown message type: " + in.Type, Code: string(apperrors.CodeValidation)})
		}
	}

	if joined.docID != "" {
		h.fabric.Leave(c.id)
	}
	close(c.done)
}

// mutate runs a single-new-element factory against the joined document
// and reports the result (or a failure) to the originating client; the
// resulting add event reaches every other client through Fabric.Mutate's
// fan-out, not through this reply.
func (h *Handler) mutate(c *conn, workspaceID, docID string, factory func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View) {
	if docID == "" {
		_ = c.writeJSON(outMessage{Type: "error", Message: "not joined to a document", Code: string(apperrors.CodeValidation)})
		return
	}
	var view edgeless.View
	err := h.fabric.Mutate(context.Background(), workspaceID, docID, c.id, func(doc *crdt.Doc) error {
		inner, err := surfaceInner(doc)
		if err != nil {
			return err
		}
		view = factory(doc, inner)
		return nil
	})
	if err != nil {
		_ = c.writeJSON(outMessage{Type: "error", Message: err.Error(), Code: string(apperrors.CodeFor(err))})
		return
	}
	_ = c.writeJSON(outMessage{Type: "add", Element: &view})
}

// surfaceInner locates the joined document's surface block and its
// elements map, mirroring internal/txn/edgeless.go's surfaceInner (kept
// separate since that one is a Composer method bound to apperrors
// wrapping identical to this package's needs).
func surfaceInner(doc *crdt.Doc) (*crdt.OMap, error) {
	surfaceID, ok := model.SurfaceID(doc)
	if !ok {
		return nil, apperrors.New(apperrors.CodeDocNotFound, "document has no surface block")
	}
	v, ok := doc.GetMap("blocks").Get(surfaceID)
	if !ok || v.Kind() != crdt.KindMap {
		return nil, apperrors.New(apperrors.CodeDocNotFound, "surface block entry missing")
	}
	wrapped, ok := v.Map().Get("prop:elements")
	if !ok || wrapped.Kind() != crdt.KindMap {
		return nil, apperrors.New(apperrors.CodeCRDTApplyFailed, "prop:elements wrapper missing or not a CRDT map")
	}
	return edgeless.Inner(wrapped.Map())
}

// writePump serialises every asynchronous Deliver/reply onto the single
// websocket.Conn, keeping network writes out of the read loop.
func (c *conn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.outbox:
			if !ok {
				return
			}
			if err := c.writeJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
