package model

import "github.com/affine-collab/cte/internal/crdt"

// ImageParams describes the block-level half of the image composite;
// the blob upload itself is an upstream concern handled by the
// transaction composer before this is called.
type ImageParams struct {
	SourceID string // blob id returned by the blob store
	Width    float64
	Height   float64
	Caption  string
}

// AddImageBlock inserts an image-flavoured block under parentID once its
// content has already been uploaded; this is the block-tree half of the
// single-operation composite.
func AddImageBlock(doc *crdt.Doc, parentID string, p ImageParams, actor string) (string, error) {
	t := NewTree(doc)
	props := map[string]interface{}{
		"sourceId": p.SourceID,
		"width":    p.Width,
		"height":   p.Height,
		"caption":  p.Caption,
	}
	return t.AddBlock(parentID, FlavourImage, props, PositionEnd, 0, actor)
}
