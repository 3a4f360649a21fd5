package agent

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"htm-memory/internal/apperrors"
	"htm-memory/internal/cache"
	"htm-memory/internal/domain/robot"
	"htm-memory/internal/jobs"
	"htm-memory/internal/store"
)

// newValidationOnlyFacade builds a Facade whose request-validation path can
// be exercised without a live database: validation runs before any store
// call, so the underlying persistence fields are never dereferenced.
func newValidationOnlyFacade() *Facade {
	return New((*store.Store)(nil), (*store.TagStore)(nil), (*store.RobotStore)(nil), nil, nil, nil, jobs.NewInlineRunner(zap.NewNop()), nil, zap.NewNop())
}

func TestRememberRejectsEmptyContent(t *testing.T) {
	f := newValidationOnlyFacade()
	_, err := f.Remember(context.Background(), RememberRequest{RobotID: 1, Content: ""})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestRememberRejectsOutOfRangeImportance(t *testing.T) {
	f := newValidationOnlyFacade()
	_, err := f.Remember(context.Background(), RememberRequest{RobotID: 1, Content: "hello", Importance: 11})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestRememberRejectsMalformedTagName(t *testing.T) {
	f := newValidationOnlyFacade()
	_, err := f.Remember(context.Background(), RememberRequest{RobotID: 1, Content: "hello", Tags: []string{"Not Valid!"}})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestRecallRejectsUnknownStrategy(t *testing.T) {
	f := newValidationOnlyFacade()
	_, err := f.Recall(context.Background(), RecallRequest{RobotID: 1, Query: "q", Strategy: "unlikely"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestCreateContextRejectsZeroMaxTokens(t *testing.T) {
	f := newValidationOnlyFacade()
	_, err := f.CreateContext(context.Background(), CreateContextRequest{RobotID: 1, Strategy: "recent", MaxTokens: 0})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

func TestForgetRejectsMissingNodeID(t *testing.T) {
	f := newValidationOnlyFacade()
	err := f.Forget(context.Background(), ForgetRequest{RobotID: 1})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
}

// setupTestFacade connects to a real Postgres instance when one is
// reachable via DB_* environment variables, skipping otherwise. Mirrors
// internal/store's integration-test-with-skip style.
func setupTestFacade(t *testing.T) (*Facade, *robot.Robot) {
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

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		t.Skipf("skipping: database not available: %v", err)
	}
	if _, err := pool.Exec(ctx, store.Schema); err != nil {
		t.Skipf("skipping: cannot apply schema: %v", err)
	}

	logger := zap.NewNop()
	st := store.New(pool, cache.New(time.Minute, 100), logger)
	tags := store.NewTagStore(st)
	robots := store.NewRobotStore(st)

	rb, err := robot.New(fmt.Sprintf("agent-test-%d", time.Now().UnixNano()), 10_000)
	require.NoError(t, err)
	require.NoError(t, robots.Create(ctx, rb))

	f := New(st, tags, robots, nil, nil, nil, jobs.NewInlineRunner(logger), nil, logger)
	return f, rb
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestRememberAdmitsNodeIntoWorkingMemory(t *testing.T) {
	f, rb := setupTestFacade(t)
	ctx := context.Background()

	n, err := f.Remember(ctx, RememberRequest{RobotID: int64(rb.ID()), Content: "the sky is blue", Importance: 5})
	require.NoError(t, err)
	assert.True(t, f.workingMemoryFor(rb.ID()).Contains(nodeKey(n.ID())))
}

func TestRetrieveFetchesSavedNode(t *testing.T) {
	f, rb := setupTestFacade(t)
	ctx := context.Background()

	saved, err := f.Remember(ctx, RememberRequest{RobotID: int64(rb.ID()), Content: "retrieve me directly"})
	require.NoError(t, err)

	got, err := f.Retrieve(ctx, RetrieveRequest{RobotID: int64(rb.ID()), NodeID: int64(saved.ID())})
	require.NoError(t, err)
	assert.Equal(t, saved.ID(), got.ID())
}

func TestForgetThenRestoreRoundTrips(t *testing.T) {
	f, rb := setupTestFacade(t)
	ctx := context.Background()

	n, err := f.Remember(ctx, RememberRequest{RobotID: int64(rb.ID()), Content: "temporary note"})
	require.NoError(t, err)

	require.NoError(t, f.Forget(ctx, ForgetRequest{RobotID: int64(rb.ID()), NodeID: int64(n.ID())}))
	assert.False(t, f.workingMemoryFor(rb.ID()).Contains(nodeKey(n.ID())))

	require.NoError(t, f.Restore(ctx, RestoreRequest{RobotID: int64(rb.ID()), NodeID: int64(n.ID())}))

	got, err := f.Retrieve(ctx, RetrieveRequest{RobotID: int64(rb.ID()), NodeID: int64(n.ID())})
	require.NoError(t, err)
	assert.False(t, got.IsDeleted())
}

func TestRecallFindsSavedContentByFullText(t *testing.T) {
	f, rb := setupTestFacade(t)
	ctx := context.Background()

	_, err := f.Remember(ctx, RememberRequest{RobotID: int64(rb.ID()), Content: "octopuses have three hearts"})
	require.NoError(t, err)

	results, err := f.Recall(ctx, RecallRequest{RobotID: int64(rb.ID()), Query: "octopuses hearts", Limit: 5})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestCreateContextAssemblesWorkingSet(t *testing.T) {
	f, rb := setupTestFacade(t)
	ctx := context.Background()

	_, err := f.Remember(ctx, RememberRequest{RobotID: int64(rb.ID()), Content: "first fact"})
	require.NoError(t, err)
	_, err = f.Remember(ctx, RememberRequest{RobotID: int64(rb.ID()), Content: "second fact"})
	require.NoError(t, err)

	out, err := f.CreateContext(ctx, CreateContextRequest{RobotID: int64(rb.ID()), Strategy: "recent", MaxTokens: 1000})
	require.NoError(t, err)
	assert.Contains(t, out, "first fact")
	assert.Contains(t, out, "second fact")
}
