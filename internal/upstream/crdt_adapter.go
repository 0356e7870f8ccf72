package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
)

// loadDocAckData is the ack payload shape for space:load-doc:
// a base64 "missing" update to apply to a fresh replica, and a base64
// "state" vector to retain as the base for the next diff.
type loadDocAckData struct {
	Missing   string `json:"missing"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

type pushDocAckData struct {
	Accepted  bool  `json:"accepted"`
	Timestamp int64 `json:"timestamp"`
}

// LoadDocument implements the CRDT Runtime Adapter's load-document
// contract: emits space:load-doc, applies the returned
// "missing" update to a fresh replica, and returns both the replica and
// its state vector. Fails with DOC_NOT_FOUND if the document does not
// exist upstream.
func (s *Session) LoadDocument(ctx context.Context, workspaceID, docID, actor string) (*crdt.Doc, crdt.VClock, error) {
	data, err := s.EmitWithAck(ctx, "space:load-doc", map[string]interface{}{
		"spaceType": "workspace",
		"spaceId":   workspaceID,
		"docId":     docID,
	}, 10*time.Second)
	if err != nil {
		return nil, nil, err
	}

	var ack loadDocAckData
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeCRDTApplyFailed, "decode load-doc ack", err)
	}

	doc := crdt.NewDoc(actor)
	if ack.Missing != "" {
		missing, err := base64.StdEncoding.DecodeString(ack.Missing)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeCRDTApplyFailed, "decode missing update", err)
		}
		if err := doc.ApplyUpdate(missing); err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeCRDTApplyFailed, "apply missing update", err)
		}
	}

	var sv crdt.VClock
	if ack.State != "" {
		stateBytes, err := base64.StdEncoding.DecodeString(ack.State)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeCRDTApplyFailed, "decode state vector", err)
		}
		sv, err = crdt.DecodeStateVector(stateBytes)
		if err != nil {
			return nil, nil, apperrors.Wrap(apperrors.CodeCRDTApplyFailed, "parse state vector", err)
		}
	}
	return doc, sv, nil
}

// PushUpdate encodes the diff since base (or the whole replica state if
// base is nil) and emits space:push-doc-update Returns the
// upstream-assigned timestamp on success.
func (s *Session) PushUpdate(ctx context.Context, workspaceID, docID string, doc *crdt.Doc, base crdt.VClock) (int64, error) {
	update, err := doc.EncodeUpdateSince(base)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeCRDTApplyFailed, "encode update diff", err)
	}

	data, err := s.EmitWithAck(ctx, "space:push-doc-update", map[string]interface{}{
		"spaceType": "workspace",
		"spaceId":   workspaceID,
		"docId":     docID,
		"update":    base64.StdEncoding.EncodeToString(update),
	}, 10*time.Second)
	if err != nil {
		return 0, err
	}

	var ack pushDocAckData
	if err := json.Unmarshal(data, &ack); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeCRDTApplyFailed, "decode push-doc ack", err)
	}
	if !ack.Accepted {
		return 0, apperrors.New(apperrors.CodeDocUpdateBlocked, "upstream declined update")
	}
	return ack.Timestamp, nil
}

// broadcastUpdatePayload is the inbound shape of space:broadcast-doc-update.
type broadcastUpdatePayload struct {
	DocID  string `json:"docId"`
	Update string `json:"update"`
}

// SubscribeUpdates registers handler to receive every
// space:broadcast-doc-update delivery for docID, decoding the base64
// update bytes before invoking it. The caller is responsible
// for applying the update under the same lock that guards
// client-originated mutations on the same replica.
func (s *Session) SubscribeUpdates(docID string, handler func(update []byte)) {
	s.sock.on("space:broadcast-doc-update", func(env envelope) {
		var payload broadcastUpdatePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return
		}
		if payload.DocID != docID {
			return
		}
		update, err := base64.StdEncoding.DecodeString(payload.Update)
		if err != nil {
			return
		}
		handler(update)
	})
}
