package httpapi

import (
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/edgeless"
)

// handleListElements serves GET .../documents/{docId}/edgeless.
func (s *Server) handleListElements(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	views, err := s.composer.ListElements(r.Context(), sess, workspaceID, docID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// createElementRequest is the union of every factory's params, decoded
// once and dispatched on Type.
type createElementRequest struct {
	Type string `json:"type"`

	ShapeType   string      `json:"shapeType"`
	XYWH        [4]float64  `json:"xywh"`
	Fill        interface{} `json:"fill"`
	Stroke      interface{} `json:"stroke"`
	StrokeWidth float64     `json:"strokeWidth"`
	Filled      *bool       `json:"filled"`

	SourceID  string      `json:"sourceId"`
	TargetID  string      `json:"targetId"`
	SourcePos [2]float64  `json:"sourcePos"`
	TargetPos [2]float64  `json:"targetPos"`
	Arrow     string      `json:"arrow"`

	Text     string      `json:"text"`
	FontSize float64     `json:"fontSize"`
	Family   string      `json:"fontFamily"`
	Color    interface{} `json:"color"`

	Points    [][3]float64 `json:"points"`
	LineWidth float64      `json:"lineWidth"`

	Title      string   `json:"title"`
	Children   []string `json:"children"`
	RootNodeID string   `json:"rootNodeId"`
}

// handleCreateElement serves POST .../edgeless/elements.
func (s *Server) handleCreateElement(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID := r.PathValue("workspaceId"), r.PathValue("docId")
	var body createElementRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}

	var factory func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View
	switch edgeless.Type(body.Type) {
	case edgeless.TypeShape:
		factory = func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
			return edgeless.CreateShape(doc, inner, edgeless.ShapeParams{
				ShapeType: body.ShapeType, XYWH: body.XYWH, Fill: body.Fill,
				Stroke: body.Stroke, StrokeWidth: body.StrokeWidth, Filled: body.Filled,
			})
		}
	case edgeless.TypeConnector:
		factory = func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
			return edgeless.CreateConnector(doc, inner, edgeless.ConnectorParams{
				SourceID: body.SourceID, TargetID: body.TargetID,
				SourcePos: body.SourcePos, TargetPos: body.TargetPos,
				Stroke: body.Stroke, Arrow: body.Arrow,
			})
		}
	case edgeless.TypeText:
		factory = func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
			return edgeless.CreateText(doc, inner, edgeless.TextParams{
				Text: body.Text, XYWH: body.XYWH, FontSize: body.FontSize,
				Family: body.Family, Color: body.Color,
			})
		}
	case edgeless.TypeBrush:
		factory = func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
			return edgeless.CreateBrush(doc, inner, edgeless.BrushParams{
				Points: body.Points, Color: body.Color, LineWidth: body.LineWidth,
			})
		}
	case edgeless.TypeGroup:
		factory = func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
			return edgeless.CreateGroup(doc, inner, edgeless.GroupParams{
				Title: body.Title, Children: body.Children,
			})
		}
	case edgeless.TypeMindmap:
		factory = func(doc *crdt.Doc, inner *crdt.OMap) edgeless.View {
			return edgeless.CreateMindmap(doc, inner, edgeless.MindmapParams{
				RootNodeID: body.RootNodeID, Children: body.Children,
			})
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown element type: "+body.Type, apperrors.CodeValidation)
		return
	}

	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	view, err := s.composer.CreateElement(r.Context(), sess, workspaceID, docID, factory)
	if err != nil {
		writeAppError(w, err)
		return
	}
	// A live canvas session (if any) on this document observes this
	// element through its own upstream broadcast subscription; no direct
	// fabric call is needed here.
	writeJSON(w, http.StatusCreated, view)
}

// handleGetElement serves GET .../edgeless/elements/{elementId}.
func (s *Server) handleGetElement(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID, elementID := r.PathValue("workspaceId"), r.PathValue("docId"), r.PathValue("elementId")
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	views, err := s.composer.ListElements(r.Context(), sess, workspaceID, docID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	for _, v := range views {
		if v.ID == elementID {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	writeAppError(w, apperrors.New(apperrors.CodeElementNotFound, "element not found: "+elementID))
}

// handleUpdateElement serves PATCH .../edgeless/elements/{elementId}
//.
func (s *Server) handleUpdateElement(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID, elementID := r.PathValue("workspaceId"), r.PathValue("docId"), r.PathValue("elementId")
	var changes map[string]interface{}
	if err := decodeJSON(r, &changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", apperrors.CodeValidation)
		return
	}
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.UpdateElement(r.Context(), sess, workspaceID, docID, elementID, changes); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteElement serves DELETE .../edgeless/elements/{elementId}
//; ?cascade=false opts out of reference scrubbing.
func (s *Server) handleDeleteElement(w http.ResponseWriter, r *http.Request) {
	workspaceID, docID, elementID := r.PathValue("workspaceId"), r.PathValue("docId"), r.PathValue("elementId")
	cascade := r.URL.Query().Get("cascade") != "false"
	sess, cleanup, err := s.openSession(r.Context(), workspaceID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	defer cleanup()
	if err := s.composer.DeleteElement(r.Context(), sess, workspaceID, docID, elementID, cascade); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
