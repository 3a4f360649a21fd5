package changechannel

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDSN() string {
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := envOr("DB_USER", "htm")
	password := envOr("DB_PASSWORD", "htm")
	dbname := envOr("DB_NAME", "htm_test")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestPublishAndSubscribeRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := testDSN()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skipping: cannot build pool: %v", err)
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		t.Skipf("skipping: database not available: %v", err)
	}

	listener := NewListener(dsn, zap.NewNop())
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	events, unsubscribe, err := listener.Subscribe(ctx, "working_set_changes")
	require.NoError(t, err)
	defer unsubscribe()

	// Subscribe has already waited for the LISTEN to execute; the short
	// pause is extra margin before we publish.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, Publish(ctx, pool, "working_set_changes", `{"node_id":1}`))

	select {
	case ev := <-events:
		require.Equal(t, "working_set_changes", ev.Channel)
		require.Equal(t, `{"node_id":1}`, ev.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestUnsubscribeClosesEventChannel(t *testing.T) {
	ctx := context.Background()
	dsn := testDSN()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skipping: cannot build pool: %v", err)
	}
	defer pool.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		t.Skipf("skipping: database not available: %v", err)
	}

	listener := NewListener(dsn, zap.NewNop())
	require.NoError(t, listener.Start(ctx))
	defer listener.Stop(ctx)

	events, unsubscribe, err := listener.Subscribe(ctx, "robot_sync")
	require.NoError(t, err)
	unsubscribe()

	_, ok := <-events
	require.False(t, ok, "event channel should be closed after unsubscribe")
}

func TestSubscribeBeforeStartFails(t *testing.T) {
	listener := NewListener(testDSN(), zap.NewNop())
	_, _, err := listener.Subscribe(context.Background(), "x")
	require.Error(t, err)
}
