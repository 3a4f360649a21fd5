// Package node holds the Node aggregate: the atomic unit of stored memory.
// It is a rich domain model — private fields, factory validation, behavior
// methods — representing a content-addressed memory record with
// embedding, tag, and token bookkeeping.
package node

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"htm-memory/internal/apperrors"
)

// MaxContentBytes is the hard ceiling on content size.
const MaxContentBytes = 1_000_000

// MaxEmbeddingDimension is the fixed vector width nodes are padded to,
// matching the width of the stored embedding column.
const MaxEmbeddingDimension = 2000

// ID uniquely identifies a node.
type ID int64

// Node is the atomic memory unit.
type Node struct {
	id                 ID
	content            string
	contentHash        string
	embedding          []float32
	embeddingDimension int
	tokenCount         int
	metadata           map[string]interface{}
	isProposition      bool
	sourceNodeID       *ID
	createdAt          time.Time
	updatedAt          time.Time
	deletedAt          *time.Time
}

// New validates and creates a new Node. The caller supplies the token
// count since Node itself has no tokenizer dependency.
func New(content string, tokenCount int, metadata map[string]interface{}) (*Node, error) {
	if content == "" {
		return nil, apperrors.NewValidation("content", "content cannot be empty")
	}
	if len(content) > MaxContentBytes {
		return nil, apperrors.NewValidation("content", "content exceeds maximum size")
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	now := time.Now()
	return &Node{
		content:     content,
		contentHash: HashContent(content),
		tokenCount:  tokenCount,
		metadata:    metadata,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// HashContent computes the content-addressed dedup key.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Reconstruct rebuilds a Node from persisted fields, preserving identity
// and timestamps. Used by the store when hydrating rows.
func Reconstruct(
	id ID,
	content, contentHash string,
	embedding []float32,
	embeddingDimension, tokenCount int,
	metadata map[string]interface{},
	isProposition bool,
	sourceNodeID *ID,
	createdAt, updatedAt time.Time,
	deletedAt *time.Time,
) *Node {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	return &Node{
		id:                 id,
		content:            content,
		contentHash:        contentHash,
		embedding:          embedding,
		embeddingDimension: embeddingDimension,
		tokenCount:         tokenCount,
		metadata:           metadata,
		isProposition:      isProposition,
		sourceNodeID:       sourceNodeID,
		createdAt:          createdAt,
		updatedAt:          updatedAt,
		deletedAt:          deletedAt,
	}
}

// ID returns the node's surrogate identifier.
func (n *Node) ID() ID { return n.id }

// SetID is used by the store immediately after an insert assigns the
// surrogate key.
func (n *Node) SetID(id ID) { n.id = id }

// Content returns the raw stored content.
func (n *Node) Content() string { return n.content }

// ContentHash returns the SHA-256 dedup key.
func (n *Node) ContentHash() string { return n.contentHash }

// TokenCount returns the immutable token estimate recorded at creation.
func (n *Node) TokenCount() int { return n.tokenCount }

// Embedding returns the dense vector, or nil if not yet enriched.
func (n *Node) Embedding() []float32 { return n.embedding }

// EmbeddingDimension returns the provider's actual output width, which may
// be less than MaxEmbeddingDimension before zero-padding.
func (n *Node) EmbeddingDimension() int { return n.embeddingDimension }

// HasEmbedding reports whether enrichment has already written a vector.
func (n *Node) HasEmbedding() bool { return n.embedding != nil }

// SetEmbedding validates, zero-pads, and stores the provider's output.
func (n *Node) SetEmbedding(vector []float32) error {
	if len(vector) > MaxEmbeddingDimension {
		return apperrors.NewValidation("embedding", "embedding exceeds maximum dimension")
	}
	dim := len(vector)
	padded := make([]float32, MaxEmbeddingDimension)
	copy(padded, vector)
	n.embedding = padded
	n.embeddingDimension = dim
	n.updatedAt = time.Now()
	return nil
}

// Metadata returns a copy of the free-form metadata map.
func (n *Node) Metadata() map[string]interface{} {
	out := make(map[string]interface{}, len(n.metadata))
	for k, v := range n.metadata {
		out[k] = v
	}
	return out
}

// IsProposition reports whether this node is an atomic factoid derived
// from another node.
func (n *Node) IsProposition() bool { return n.isProposition }

// MarkProposition marks the node as an extracted proposition with a
// backlink to its source node.
func (n *Node) MarkProposition(sourceID ID) {
	n.isProposition = true
	n.sourceNodeID = &sourceID
	n.metadata["source_node_id"] = int64(sourceID)
}

// SourceNodeID returns the originating node ID for a proposition, if any.
func (n *Node) SourceNodeID() *ID { return n.sourceNodeID }

// CreatedAt returns the creation timestamp.
func (n *Node) CreatedAt() time.Time { return n.createdAt }

// UpdatedAt returns the last-modified timestamp.
func (n *Node) UpdatedAt() time.Time { return n.updatedAt }

// DeletedAt returns the soft-delete tombstone, or nil if live.
func (n *Node) DeletedAt() *time.Time { return n.deletedAt }

// IsDeleted reports whether the node is soft-deleted.
func (n *Node) IsDeleted() bool { return n.deletedAt != nil }

// SoftDelete tombstones the node.
func (n *Node) SoftDelete() {
	now := time.Now()
	n.deletedAt = &now
	n.updatedAt = now
}

// Restore clears the tombstone.
func (n *Node) Restore() {
	n.deletedAt = nil
	n.updatedAt = time.Now()
}

// UpdateContent replaces content, re-hashing and marking the node for
// re-enrichment.
func (n *Node) UpdateContent(content string, tokenCount int) error {
	if content == "" {
		return apperrors.NewValidation("content", "content cannot be empty")
	}
	if len(content) > MaxContentBytes {
		return apperrors.NewValidation("content", "content exceeds maximum size")
	}
	n.content = content
	n.contentHash = HashContent(content)
	n.tokenCount = tokenCount
	n.embedding = nil
	n.embeddingDimension = 0
	n.updatedAt = time.Now()
	return nil
}

// NewExternalRef generates a stable, URL-safe reference useful for
// propositions or other satellite identifiers that don't need a surrogate
// integer key yet.
func NewExternalRef() string { return uuid.NewString() }
