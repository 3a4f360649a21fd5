package store

import (
	"context"
	"time"

	"htm-memory/internal/breaker"
	"htm-memory/internal/domain/node"
)

// CircuitBreakerStore decorates a NodeRepository with circuit-breaker
// protection so a failing Postgres instance fails fast instead of piling
// up blocked goroutines: every method just forwards through Breaker.Execute.
type CircuitBreakerStore struct {
	inner   NodeRepository
	breaker *breaker.Breaker
}

// NewCircuitBreakerStore wraps inner with a breaker named "postgres".
func NewCircuitBreakerStore(inner NodeRepository, registry *breaker.Registry) *CircuitBreakerStore {
	return &CircuitBreakerStore{inner: inner, breaker: registry.Get("postgres")}
}

func (c *CircuitBreakerStore) Add(ctx context.Context, content string, tokenCount int, metadata map[string]interface{}) (*node.Node, error) {
	var result *node.Node
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.inner.Add(ctx, content, tokenCount, metadata)
		return err
	})
	return result, err
}

func (c *CircuitBreakerStore) FindByID(ctx context.Context, id node.ID) (*node.Node, error) {
	var result *node.Node
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.inner.FindByID(ctx, id)
		return err
	})
	return result, err
}

func (c *CircuitBreakerStore) FindByHash(ctx context.Context, hash string) (*node.Node, error) {
	var result *node.Node
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.inner.FindByHash(ctx, hash)
		return err
	})
	return result, err
}

func (c *CircuitBreakerStore) FindNodes(ctx context.Context, q NodeQuery) ([]*node.Node, error) {
	var result []*node.Node
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.inner.FindNodes(ctx, q)
		return err
	})
	return result, err
}

func (c *CircuitBreakerStore) UpdateContent(ctx context.Context, id node.ID, content string, tokenCount int) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.UpdateContent(ctx, id, content, tokenCount)
	})
}

func (c *CircuitBreakerStore) UpdateEmbedding(ctx context.Context, id node.ID, vector []float32) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.UpdateEmbedding(ctx, id, vector)
	})
}

func (c *CircuitBreakerStore) Forget(ctx context.Context, id node.ID, hard bool) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.Forget(ctx, id, hard)
	})
}

func (c *CircuitBreakerStore) Restore(ctx context.Context, id node.ID) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.inner.Restore(ctx, id)
	})
}

func (c *CircuitBreakerStore) PurgeDeleted(ctx context.Context, olderThan time.Duration) (int, error) {
	var result int
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.inner.PurgeDeleted(ctx, olderThan)
		return err
	})
	return result, err
}

var _ NodeRepository = (*CircuitBreakerStore)(nil)
