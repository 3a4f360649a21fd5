// Package enrichment runs the post-write workflow that turns a freshly
// saved node into a fully indexed one: after the save, embedding, tag
// suggestion, and proposition extraction are handed to a jobs.Runner
// (concurrent under the thread and queue runners, one after another under
// the inline runner), and none of their failures undo the save itself.
package enrichment

import (
	"context"

	"go.uber.org/zap"

	"htm-memory/internal/breaker"
	"htm-memory/internal/domain/node"
	"htm-memory/internal/jobs"
)

// EmbeddingProvider turns text into a dense vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TagProvider suggests hierarchical tags for a piece of content.
type TagProvider interface {
	Suggest(ctx context.Context, text string) ([]string, error)
}

// PropositionProvider decomposes content into atomic child propositions.
type PropositionProvider interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// Writer is the narrow persistence seam the pipeline needs. The production
// implementation is internal/agent's storeWriter, which adapts
// internal/store.
type Writer interface {
	Add(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error)
	UpdateEmbedding(ctx context.Context, id node.ID, vector []float32) error
	AttachTags(ctx context.Context, id node.ID, tagNames []string) error
	AddProposition(ctx context.Context, parentID node.ID, content string) (*node.Node, error)
}

// Pipeline wires the four-stage workflow: save, then the fan-out of embed,
// tag, and propose, then finalize. Any of the three providers may be nil,
// in which case that stage is simply skipped. Finalize is called as soon as
// the stages have been submitted to Runner: under the inline runner they
// have finished by then, under the thread or queue runner they may still be
// running.
type Pipeline struct {
	Writer      Writer
	Embedding   EmbeddingProvider
	Tagging     TagProvider
	Proposition PropositionProvider
	Runner      jobs.Runner
	Finalize    func(ctx context.Context, n *node.Node) error
	breakers    *breaker.Registry
	logger      *zap.Logger
}

// New builds a Pipeline. runner controls how the fan-out stage schedules
// its three jobs (inline in tests, threaded or queued in production).
func New(writer Writer, embedding EmbeddingProvider, tagging TagProvider, proposition PropositionProvider, runner jobs.Runner, breakers *breaker.Registry, logger *zap.Logger) *Pipeline {
	if runner == nil {
		runner = jobs.NewInlineRunner(logger)
	}
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.DefaultConfig(), logger)
	}
	return &Pipeline{
		Writer:      writer,
		Embedding:   embedding,
		Tagging:     tagging,
		Proposition: proposition,
		Runner:      runner,
		breakers:    breakers,
		logger:      logger,
	}
}

// Enrich saves content, then fans out embedding/tagging/proposition
// extraction. A failure saving the node is returned to the caller; a
// failure in any later stage is logged and swallowed, since the node
// itself is already durable and each enrichment can be retried or
// backfilled independently.
func (p *Pipeline) Enrich(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error) {
	n, err := p.Writer.Add(ctx, content, tokenCount, metadata)
	if err != nil {
		return nil, err
	}

	var stages []jobs.Job
	if p.Embedding != nil {
		stages = append(stages, p.embedStage(n))
	}
	if p.Tagging != nil {
		stages = append(stages, p.tagStage(n))
	}
	if p.Proposition != nil {
		stages = append(stages, p.proposeStage(n))
	}

	for i, stage := range stages {
		if err := p.Runner.Submit(ctx, "enrich", stage); err != nil {
			p.logger.Warn("enrichment stage could not be scheduled", zap.Int("stage", i), zap.Error(err))
		}
	}

	if p.Finalize != nil {
		if err := p.Finalize(ctx, n); err != nil {
			p.logger.Warn("finalize step failed", zap.Int64("node_id", int64(n.ID())), zap.Error(err))
		}
	}

	return n, nil
}

func (p *Pipeline) embedStage(n *node.Node) jobs.Job {
	return func(ctx context.Context) error {
		br := p.breakers.Get("embedding")
		err := br.Execute(ctx, func(ctx context.Context) error {
			vector, err := p.Embedding.Embed(ctx, n.Content())
			if err != nil {
				return err
			}
			return p.Writer.UpdateEmbedding(ctx, n.ID(), vector)
		})
		if err != nil {
			p.logger.Warn("embedding failed", zap.Int64("node_id", int64(n.ID())), zap.Error(err))
		}
		return nil
	}
}

func (p *Pipeline) tagStage(n *node.Node) jobs.Job {
	return func(ctx context.Context) error {
		br := p.breakers.Get("tagging")
		err := br.Execute(ctx, func(ctx context.Context) error {
			names, err := p.Tagging.Suggest(ctx, n.Content())
			if err != nil {
				return err
			}
			if len(names) == 0 {
				return nil
			}
			return p.Writer.AttachTags(ctx, n.ID(), names)
		})
		if err != nil {
			p.logger.Warn("tag suggestion failed", zap.Int64("node_id", int64(n.ID())), zap.Error(err))
		}
		return nil
	}
}

func (p *Pipeline) proposeStage(n *node.Node) jobs.Job {
	return func(ctx context.Context) error {
		br := p.breakers.Get("proposition")
		err := br.Execute(ctx, func(ctx context.Context) error {
			propositions, err := p.Proposition.Extract(ctx, n.Content())
			if err != nil {
				return err
			}
			for _, text := range propositions {
				if _, err := p.Writer.AddProposition(ctx, n.ID(), text); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			p.logger.Warn("proposition extraction failed", zap.Int64("node_id", int64(n.ID())), zap.Error(err))
		}
		return nil
	}
}
