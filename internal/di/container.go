// Package di is the composition root: it owns the wiring between
// configuration, the Postgres pool, the long-term store, the enrichment
// pipeline, and the Agent Facade. Container is the hand-wired graph that
// actually runs; wire.go describes the same graph to google/wire so it
// can be regenerated instead of hand-maintained as the graph grows.
package di

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"htm-memory/internal/agent"
	"htm-memory/internal/breaker"
	"htm-memory/internal/cache"
	"htm-memory/internal/config"
	"htm-memory/internal/enrichment"
	"htm-memory/internal/jobs"
	"htm-memory/internal/observability"
	"htm-memory/internal/store"
)

// Container holds every long-lived dependency the process needs, built
// once at startup and torn down once at shutdown.
type Container struct {
	Config *config.Config
	Logger *zap.Logger

	Pool       *pgxpool.Pool
	Store      *store.Store
	Tags       *store.TagStore
	Robots     *store.RobotStore
	Breakers   *breaker.Registry
	Runner     jobs.Runner
	Monitor    *observability.Monitor
	Agent      *agent.Facade

	shutdownFuncs []func(context.Context) error
}

// ProvideLogger builds the zap logger the rest of the container's
// components log through, production-structured outside development and
// human-readable inside it.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Environment == config.Development {
		return zap.NewDevelopment()
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build production logger: %w", err)
	}
	return logger, nil
}

// ProvidePool opens the Postgres connection pool internal/store runs
// against and applies its schema.
func ProvidePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, store.Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return pool, nil
}

// ProvideStore builds the long-term store and its tag/robot sub-stores
// over a shared TTL+LRU query cache.
func ProvideStore(pool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) (*store.Store, *store.TagStore, *store.RobotStore) {
	c := cache.New(cfg.Cache.QueryTTL, cfg.Cache.MaxItems)
	st := store.New(pool, c, logger)
	return st, store.NewTagStore(st), store.NewRobotStore(st)
}

// ProvideBreakers builds the registry guarding every external enrichment
// dependency (embedding, tagging, proposition providers).
func ProvideBreakers(cfg *config.Config, logger *zap.Logger) *breaker.Registry {
	bc := breaker.DefaultConfig()
	if cfg.Infrastructure.CircuitBreakerConfig.MinimumRequests > 0 {
		bc.FailureThreshold = uint32(cfg.Infrastructure.CircuitBreakerConfig.MinimumRequests)
	}
	if cfg.Infrastructure.CircuitBreakerConfig.OpenDuration > 0 {
		bc.OpenDuration = cfg.Infrastructure.CircuitBreakerConfig.OpenDuration
	}
	return breaker.NewRegistry(bc, logger)
}

// ProvideRunner selects the background job backend by deployment target:
// a semaphore-bounded goroutine-per-job runner in development, a fixed
// worker queue otherwise.
func ProvideRunner(cfg *config.Config, logger *zap.Logger) jobs.Runner {
	if cfg.Environment == config.Development {
		return jobs.NewThreadRunner(cfg.Concurrency.Local.MaxWorkers, logger)
	}
	return jobs.NewQueueRunner(cfg.Concurrency.Local.MaxWorkers, 256, logger)
}

// ProvideMonitor builds the health/metrics surface over the pool and
// breaker registry.
func ProvideMonitor(pool *pgxpool.Pool, breakers *breaker.Registry, logger *zap.Logger) *observability.Monitor {
	return observability.NewMonitor(pool, breakers, logger)
}

// ProvideAgent builds the Facade. No embedding, tagging, or proposition
// provider is wired by default: operators inject real ones (an embedding
// API client, an LLM-backed tagger) by constructing their own Container
// and overwriting Container.Agent, since none of those providers has a
// dependency-free, self-hostable implementation to default to.
func ProvideAgent(st *store.Store, tags *store.TagStore, robots *store.RobotStore, runner jobs.Runner, breakers *breaker.Registry, logger *zap.Logger) *agent.Facade {
	return agent.New(st, tags, robots, nil, nil, nil, runner, breakers, logger)
}

// NewContainer builds the full dependency graph in dependency order. It is
// the hand-wired equivalent of InitializeContainer in wire.go, used
// directly since this tree never runs `wire` code generation.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := ProvidePool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	st, tags, robots := ProvideStore(pool, cfg, logger)
	breakers := ProvideBreakers(cfg, logger)
	runner := ProvideRunner(cfg, logger)
	monitor := ProvideMonitor(pool, breakers, logger)
	facade := ProvideAgent(st, tags, robots, runner, breakers, logger)

	c := &Container{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Store:    st,
		Tags:     tags,
		Robots:   robots,
		Breakers: breakers,
		Runner:   runner,
		Monitor:  monitor,
		Agent:    facade,
	}
	c.addShutdownFunc(func(ctx context.Context) error { return c.Runner.Shutdown(ctx) })
	c.addShutdownFunc(func(ctx context.Context) error { c.Pool.Close(); return nil })
	c.addShutdownFunc(func(ctx context.Context) error { return c.Logger.Sync() })
	return c, nil
}

func (c *Container) addShutdownFunc(fn func(context.Context) error) {
	c.shutdownFuncs = append(c.shutdownFuncs, fn)
}

// Shutdown tears down every component in reverse construction order, best
// effort: it runs every shutdown func even after one fails, and returns the
// first error.
func (c *Container) Shutdown(ctx context.Context) error {
	var firstErr error
	for i := len(c.shutdownFuncs) - 1; i >= 0; i-- {
		if err := c.shutdownFuncs[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
