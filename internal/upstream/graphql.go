package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/affine-collab/cte/internal/apperrors"
)

type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

// GraphQL issues a query/mutation against the upstream control plane
// and decodes the "data" field of the response into out.
func (m *Manager) GraphQL(ctx context.Context, sess *Session, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, "encode graphql request", err)
	}

	req, err := m.newAuthedRequest(ctx, sess, http.MethodPost, "/graphql", body)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "build graphql request", err)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "graphql request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "read graphql response", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return apperrors.New(apperrors.CodeSessionExpired, "upstream session expired")
	}
	if resp.StatusCode >= 500 {
		return apperrors.New(apperrors.CodeUpstreamUnreachable, fmt.Sprintf("graphql returned %d", resp.StatusCode))
	}

	var gr graphqlResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "decode graphql envelope", err)
	}
	if len(gr.Errors) > 0 {
		return apperrors.New(apperrors.CodeUpstreamUnreachable, gr.Errors[0].Message)
	}
	if out != nil && len(gr.Data) > 0 {
		if err := json.Unmarshal(gr.Data, out); err != nil {
			return apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "decode graphql data", err)
		}
	}
	return nil
}

// ListWorkspaceIDsResult is the shape of the "workspaces" query's data.
type ListWorkspaceIDsResult struct {
	Workspaces []struct {
		ID          string `json:"id"`
		MemberCount int    `json:"memberCount"`
	} `json:"workspaces"`
}

// ListWorkspaces calls the upstream "workspaces" query. The
// control plane does not expose a human name; callers must separately
// load each workspace's root document to read meta.name.
func (m *Manager) ListWorkspaces(ctx context.Context, sess *Session) (*ListWorkspaceIDsResult, error) {
	var out ListWorkspaceIDsResult
	query := `query { workspaces { id memberCount } }`
	if err := m.GraphQL(ctx, sess, query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublishResult is returned by the publish mutation.
type PublishResult struct {
	URL  string `json:"url"`
	Mode string `json:"mode"`
}

// Publish makes docID publicly accessible under mode ("page" | "edgeless").
func (m *Manager) Publish(ctx context.Context, sess *Session, workspaceID, docID, mode string) (*PublishResult, error) {
	var out struct {
		PublishDoc PublishResult `json:"publishDoc"`
	}
	query := `mutation($ws: String!, $doc: String!, $mode: String!) {
		publishDoc(workspaceId: $ws, docId: $doc, mode: $mode) { url mode }
	}`
	vars := map[string]interface{}{"ws": workspaceID, "doc": docID, "mode": mode}
	if err := m.GraphQL(ctx, sess, query, vars, &out); err != nil {
		return nil, err
	}
	return &out.PublishDoc, nil
}

// Revoke un-publishes docID.
func (m *Manager) Revoke(ctx context.Context, sess *Session, workspaceID, docID string) error {
	query := `mutation($ws: String!, $doc: String!) { revokePublicDoc(workspaceId: $ws, docId: $doc) { id } }`
	vars := map[string]interface{}{"ws": workspaceID, "doc": docID}
	return m.GraphQL(ctx, sess, query, vars, nil)
}

// Notification is one entry returned by the upstream's notifications
// query.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Level     string `json:"level"`
	CreatedAt string `json:"createdAt"`
	Read      bool   `json:"read"`
}

// ListNotifications sends the upstream GraphQL "notifications" query (it
// does not issue a "listNotifications" operation), backing this engine's
// account-scoped `/notifications` route.
func (m *Manager) ListNotifications(ctx context.Context, sess *Session) ([]Notification, error) {
	var out struct {
		Notifications []Notification `json:"notifications"`
	}
	query := `query { notifications { id type level createdAt read } }`
	if err := m.GraphQL(ctx, sess, query, nil, &out); err != nil {
		return nil, err
	}
	return out.Notifications, nil
}

// SetBlobResult carries the content-addressed id the upstream assigned.
type SetBlobResult struct {
	BlobID string `json:"blobId"`
}

// SetBlob uploads content to the workspace's blob store with a REST POST
// to /api/workspaces/{id}/blobs, used by the image-block composite. It
// does not go through the GraphQL setBlob mutation.
func (m *Manager) SetBlob(ctx context.Context, sess *Session, workspaceID string, content []byte, mime string) (*SetBlobResult, error) {
	req, err := m.newAuthedRequest(ctx, sess, http.MethodPost, fmt.Sprintf("/api/workspaces/%s/blobs", workspaceID), content)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "build blob upload request", err)
	}
	req.Header.Set("Content-Type", mime)

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "blob upload failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusRequestEntityTooLarge {
		return nil, apperrors.New(apperrors.CodePayloadTooLarge, "blob exceeds upstream size cap")
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.New(apperrors.CodeUpstreamUnreachable, fmt.Sprintf("blob upload returned %d", resp.StatusCode))
	}

	var out SetBlobResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "decode blob response", err)
	}
	return &out, nil
}

// Snapshot fetches the full binary CRDT update for a document via the
// REST snapshot endpoint, giving callers the upstream's own encoding
// rather than this engine's in-memory replica.
func (m *Manager) Snapshot(ctx context.Context, sess *Session, workspaceID, docID string) ([]byte, error) {
	req, err := m.newAuthedRequest(ctx, sess, http.MethodGet, fmt.Sprintf("/api/workspaces/%s/docs/%s", workspaceID, docID), nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "build snapshot request", err)
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "snapshot request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperrors.New(apperrors.CodeDocNotFound, "document not found")
	}
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUpstreamUnreachable, "read snapshot body", err)
	}
	return buf.Bytes(), nil
}
