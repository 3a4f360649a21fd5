package agent

import (
	"context"

	"htm-memory/internal/domain/node"
	"htm-memory/internal/tagengine"
	"htm-memory/internal/tokencount"
)

// tagLinker is the narrow seam into TagStore storeWriter needs: find or
// create a tag's ancestor chain and link the resulting ids to a node.
// internal/store.TagStore satisfies this directly.
type tagLinker interface {
	tagengine.Store
	AddTagsToNode(ctx context.Context, nodeID node.ID, tagIDs []int64) error
}

// nodeWriter is the narrow seam into Store storeWriter needs for the parts
// of enrichment.Writer that aren't tag-related.
type nodeWriter interface {
	Add(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error)
	UpdateEmbedding(ctx context.Context, id node.ID, vector []float32) error
	AddProposition(ctx context.Context, parentID node.ID, content string, tokenCount int) (*node.Node, error)
}

// storeWriter adapts Store and TagStore into enrichment.Writer. It is the
// production implementation of that interface; nothing else in this tree
// satisfied it before the Facade needed one wired end to end.
type storeWriter struct {
	nodes nodeWriter
	tags  tagLinker
	count tokencount.Counter
}

func newStoreWriter(nodes nodeWriter, tags tagLinker, count tokencount.Counter) *storeWriter {
	if count == nil {
		count = tokencount.Default
	}
	return &storeWriter{nodes: nodes, tags: tags, count: count}
}

func (w *storeWriter) Add(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error) {
	return w.nodes.Add(ctx, content, tokenCount, metadata)
}

func (w *storeWriter) UpdateEmbedding(ctx context.Context, id node.ID, vector []float32) error {
	return w.nodes.UpdateEmbedding(ctx, id, vector)
}

// AttachTags resolves every ancestor of every tag name (auto-creating
// whatever doesn't already exist) and links the full resulting id set to
// id, deduplicating ids shared across tag chains.
func (w *storeWriter) AttachTags(ctx context.Context, id node.ID, tagNames []string) error {
	seen := make(map[int64]bool)
	var ids []int64
	for _, name := range tagNames {
		chain, err := tagengine.FindOrCreateWithAncestors(ctx, w.tags, name)
		if err != nil {
			return err
		}
		for _, tagID := range chain {
			if !seen[tagID] {
				seen[tagID] = true
				ids = append(ids, tagID)
			}
		}
	}
	return w.tags.AddTagsToNode(ctx, id, ids)
}

func (w *storeWriter) AddProposition(ctx context.Context, parentID node.ID, content string) (*node.Node, error) {
	return w.nodes.AddProposition(ctx, parentID, content, w.count(content))
}
