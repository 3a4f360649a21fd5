//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"htm-memory/internal/cache"
	"htm-memory/internal/config"
	"htm-memory/internal/store"
)

// provideLongTermStore, provideTagStore, and provideRobotStore exist only
// for wire: ProvideStore in container.go returns all three stores from one
// call for the hand-wired path, but wire binds one provider to one output
// type, so the three-store construction is split back out here.
func provideLongTermStore(pool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) *store.Store {
	return store.New(pool, cache.New(cfg.Cache.QueryTTL, cfg.Cache.MaxItems), logger)
}

func provideTagStore(st *store.Store) *store.TagStore { return store.NewTagStore(st) }

func provideRobotStore(st *store.Store) *store.RobotStore { return store.NewRobotStore(st) }

// ProviderSet groups every provider function by the layer it belongs to,
// mirroring the hand-wired build order in NewContainer. `wire build
// ./internal/di` regenerates wire_gen.go from this file; nothing in the
// running binary depends on that codegen step having been run, since
// NewContainer is the fallback actually linked into cmd/memoryd.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	ProvidePool,
	provideLongTermStore,
	provideTagStore,
	provideRobotStore,
	ProvideBreakers,
	ProvideRunner,
	ProvideMonitor,
	ProvideAgent,
	wire.Struct(new(Container), "Config", "Logger", "Pool", "Store", "Tags", "Robots", "Breakers", "Runner", "Monitor", "Agent"),
)

// InitializeContainer is the wire injector: it declares the dependency
// graph declaratively so `wire` can generate a wire_gen.go equivalent to
// NewContainer's hand-wired body.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
