package txn

import (
	"context"

	"github.com/affine-collab/cte/internal/upstream"
)

// Publish is a thin pass-through to the upstream GraphQL publish mutation
//. Unlike
// the CRDT operations above, publish/revoke have no local replica state.
func (c *Composer) Publish(ctx context.Context, sess *upstream.Session, workspaceID, docID, mode string) (*upstream.PublishResult, error) {
	return c.upstream.Publish(ctx, sess, workspaceID, docID, mode)
}

// Revoke un-publishes a document.
func (c *Composer) Revoke(ctx context.Context, sess *upstream.Session, workspaceID, docID string) error {
	return c.upstream.Revoke(ctx, sess, workspaceID, docID)
}
