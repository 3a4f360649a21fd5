package enrichment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"htm-memory/internal/breaker"
	"htm-memory/internal/domain/node"
	"htm-memory/internal/jobs"
)

type fakeWriter struct {
	mu         sync.Mutex
	nextID     int64
	nodes      map[node.ID]*node.Node
	embeddings map[node.ID][]float32
	tags       map[node.ID][]string
	children   map[node.ID][]string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		nodes:      map[node.ID]*node.Node{},
		embeddings: map[node.ID][]float32{},
		tags:       map[node.ID][]string{},
		children:   map[node.ID][]string{},
	}
}

func (w *fakeWriter) Add(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := node.New(content, tokenCount, metadata)
	if err != nil {
		return nil, err
	}
	w.nextID++
	n.SetID(node.ID(w.nextID))
	w.nodes[n.ID()] = n
	return n, nil
}

func (w *fakeWriter) UpdateEmbedding(ctx context.Context, id node.ID, vector []float32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.embeddings[id] = vector
	return nil
}

func (w *fakeWriter) AttachTags(ctx context.Context, id node.ID, tagNames []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tags[id] = append(w.tags[id], tagNames...)
	return nil
}

func (w *fakeWriter) AddProposition(ctx context.Context, parentID node.ID, content string) (*node.Node, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.children[parentID] = append(w.children[parentID], content)
	return nil, nil
}

type stubEmbedder struct{ vector []float32 }

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return s.vector, nil }

type stubTagger struct{ names []string }

func (s stubTagger) Suggest(ctx context.Context, text string) ([]string, error) { return s.names, nil }

type stubProposer struct{ propositions []string }

func (s stubProposer) Extract(ctx context.Context, text string) ([]string, error) {
	return s.propositions, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("provider unavailable")
}

func TestEnrichSavesAndRunsAllThreeStagesInline(t *testing.T) {
	writer := newFakeWriter()
	p := New(
		writer,
		stubEmbedder{vector: []float32{0.1, 0.2}},
		stubTagger{names: []string{"devops:k8s"}},
		stubProposer{propositions: []string{"k8s pods crashed"}},
		jobs.NewInlineRunner(zap.NewNop()),
		nil,
		zap.NewNop(),
	)

	n, err := p.Enrich(context.Background(), "production incident retro", 5, nil)
	require.NoError(t, err)
	require.NotNil(t, n)

	require.Equal(t, []float32{0.1, 0.2}, writer.embeddings[n.ID()])
	require.Equal(t, []string{"devops:k8s"}, writer.tags[n.ID()])
	require.Equal(t, []string{"k8s pods crashed"}, writer.children[n.ID()])
}

func TestEnrichReturnsErrorWhenSaveFails(t *testing.T) {
	p := New(
		failingWriter{},
		nil, nil, nil,
		jobs.NewInlineRunner(zap.NewNop()),
		nil,
		zap.NewNop(),
	)
	_, err := p.Enrich(context.Background(), "x", 1, nil)
	require.Error(t, err)
}

type failingWriter struct{}

func (failingWriter) Add(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error) {
	return nil, errors.New("database unreachable")
}
func (failingWriter) UpdateEmbedding(ctx context.Context, id node.ID, vector []float32) error { return nil }
func (failingWriter) AttachTags(ctx context.Context, id node.ID, tagNames []string) error     { return nil }
func (failingWriter) AddProposition(ctx context.Context, parentID node.ID, content string) (*node.Node, error) {
	return nil, nil
}

func TestEnrichSwallowsEmbeddingFailureAndStillReturnsNode(t *testing.T) {
	writer := newFakeWriter()
	p := New(
		writer,
		failingEmbedder{},
		nil, nil,
		jobs.NewInlineRunner(zap.NewNop()),
		breaker.NewRegistry(breaker.DefaultConfig(), zap.NewNop()),
		zap.NewNop(),
	)

	n, err := p.Enrich(context.Background(), "some content", 2, nil)
	require.NoError(t, err, "a failing enrichment stage must not fail the overall save")
	require.NotNil(t, n)

	_, hasEmbedding := writer.embeddings[n.ID()]
	require.False(t, hasEmbedding)
}

func TestEnrichCallsFinalize(t *testing.T) {
	writer := newFakeWriter()
	var finalized node.ID
	p := New(writer, nil, nil, nil, jobs.NewInlineRunner(zap.NewNop()), nil, zap.NewNop())
	p.Finalize = func(ctx context.Context, n *node.Node) error {
		finalized = n.ID()
		return nil
	}

	n, err := p.Enrich(context.Background(), "content", 1, nil)
	require.NoError(t, err)
	require.Equal(t, n.ID(), finalized)
}
