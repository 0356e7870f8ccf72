package txn

import (
	"context"

	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/idgen"
	"github.com/affine-collab/cte/internal/upstream"
)

// CreateFolder adds a bare container node to the folder-tree document
//, using the same node shape and
// fractional-index allocation create-document's step 4 uses for
// doc-placement nodes, but with type "folder" and no data payload.
func (c *Composer) CreateFolder(ctx context.Context, sess *upstream.Session, workspaceID, title, parentID string) (string, error) {
	nodeID := idgen.NanoID()
	_, err := c.withDoc(ctx, sess, workspaceID, foldersDocID(workspaceID), func(doc *crdt.Doc) error {
		nodes := doc.GetMap("nodes")
		token := idgen.NextToken(maxFolderIndex(nodes))
		entry := doc.NewMap()
		entry.Set("id", crdt.StringValue(nodeID))
		entry.Set("parentId", crdt.StringValue(parentID))
		entry.Set("type", crdt.StringValue("folder"))
		entry.Set("title", crdt.StringValue(title))
		entry.Set("index", crdt.StringValue(token))
		nodes.Set(nodeID, crdt.MapValue(entry))
		return nil
	})
	if err != nil {
		return "", err
	}
	return nodeID, nil
}
