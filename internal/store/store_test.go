package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"htm-memory/internal/cache"
)

// setupTestStore connects to a real Postgres instance when one is
// reachable via DB_* environment variables, skipping otherwise. Mirrors
// the integration-test-with-skip style used throughout the persistence
// layer this package is modeled on.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "htm")
	password := envOr("DB_PASSWORD", "htm")
	dbname := envOr("DB_NAME", "htm_test")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skipping: cannot build pool: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		t.Skipf("skipping: database not available: %v", err)
	}

	if _, err := pool.Exec(context.Background(), Schema); err != nil {
		t.Skipf("skipping: cannot apply schema: %v", err)
	}

	logger := zap.NewNop()
	return New(pool, cache.New(time.Minute, 100), logger)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestAddDeduplicatesByContentHash(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n1, err := s.Add(ctx, "hello world", 2, nil)
	require.NoError(t, err)

	n2, err := s.Add(ctx, "hello world", 2, nil)
	require.NoError(t, err)

	require.Equal(t, n1.ID(), n2.ID(), "identical content should dedupe to the same node")
}

func TestSoftDeleteExcludesFromDefaultQuery(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n, err := s.Add(ctx, "to be forgotten", 3, nil)
	require.NoError(t, err)

	require.NoError(t, s.Forget(ctx, n.ID(), false))

	_, err = s.FindByHash(ctx, n.ContentHash())
	require.Error(t, err, "soft-deleted node should not be found by hash lookup")

	found, err := s.FindByID(ctx, n.ID())
	require.NoError(t, err)
	require.True(t, found.IsDeleted())

	require.NoError(t, s.Restore(ctx, n.ID()))
	restored, err := s.FindByID(ctx, n.ID())
	require.NoError(t, err)
	require.False(t, restored.IsDeleted())
}

func TestUpdateContentClearsEmbedding(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	n, err := s.Add(ctx, "original content", 2, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpdateEmbedding(ctx, n.ID(), []float32{0.1, 0.2, 0.3}))

	require.NoError(t, s.UpdateContent(ctx, n.ID(), "updated content", 2))

	updated, err := s.FindByID(ctx, n.ID())
	require.NoError(t, err)
	require.False(t, updated.HasEmbedding(), "content change should clear the stale embedding")
}
