package txn

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/affine-collab/cte/internal/apperrors"
	"github.com/affine-collab/cte/internal/crdt"
	"github.com/affine-collab/cte/internal/model"
	"github.com/affine-collab/cte/internal/upstream"
)

// UploadImageResult identifies both halves of the image composite.
type UploadImageResult struct {
	BlockID string `json:"blockId"`
	BlobID  string `json:"blobId"`
}

// UploadImage is the two-step image composite: upload the
// content to the blob store, then insert an image-flavoured block
// referencing the returned blob id, offered here as one operation. The
// upload happens before the document is locked, matching the composer's
// general rule that upstream network calls should not be held under a
// local mutation lock any longer than necessary.
func (c *Composer) UploadImage(ctx context.Context, sess *upstream.Session, workspaceID, docID, parentBlockID string, content []byte, mime string, width, height float64, caption string, actor string) (*UploadImageResult, error) {
	const maxUploadBytes = 10 * 1024 * 1024
	if len(content) > maxUploadBytes {
		return nil, apperrors.New(apperrors.CodePayloadTooLarge, fmt.Sprintf("image exceeds %s upload cap", humanize.IBytes(maxUploadBytes)))
	}

	blob, err := c.upstream.SetBlob(ctx, sess, workspaceID, content, mime)
	if err != nil {
		return nil, err
	}

	var blockID string
	_, err = c.withDoc(ctx, sess, workspaceID, docID, func(doc *crdt.Doc) error {
		id, err := model.AddImageBlock(doc, parentBlockID, model.ImageParams{
			SourceID: blob.BlobID,
			Width:    width,
			Height:   height,
			Caption:  caption,
		}, actor)
		if err != nil {
			return err
		}
		blockID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &UploadImageResult{BlockID: blockID, BlobID: blob.BlobID}, nil
}
