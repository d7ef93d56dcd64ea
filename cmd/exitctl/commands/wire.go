package commands

import (
	"context"
	"fmt"
	"os/user"
	"time"

	"github.com/joho/godotenv"

	"github.com/wonny/aegis/exitengine/internal/exit"
	"github.com/wonny/aegis/exitengine/internal/exit/store"
	"github.com/wonny/aegis/exitengine/internal/realtime/cache"
	"github.com/wonny/aegis/exitengine/internal/realtime/feed"
	"github.com/wonny/aegis/exitengine/pkg/config"
	"github.com/wonny/aegis/exitengine/pkg/database"
	"github.com/wonny/aegis/exitengine/pkg/logger"
	"github.com/wonny/aegis/exitengine/pkg/redis"
)

const priceCacheTTL = 30 * time.Minute

func loadEnvFile(path string) error {
	if err := godotenv.Overload(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// components is the wired exit engine
type components struct {
	cfg *config.Config
	log *logger.Logger
	db  *database.DB
	st  *store.Store
	rdb *redis.Client

	resolver   *exit.Resolver
	governor   *exit.Governor
	emitter    *exit.Emitter
	admin      *exit.Admin
	engine     *exit.Engine
	reconciler *exit.Reconciler

	prices *cache.PriceCache
	poller *feed.DBPoller
}

// setup loads config and connects Postgres and Redis, then wires the engine
func setup(ctx context.Context) (*components, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	log := logger.New(cfg)

	db, err := database.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	rdb, err := redis.New(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	st := store.New(db)
	c := &components{cfg: cfg, log: log, db: db, st: st, rdb: rdb}

	c.prices = cache.NewPriceCache(priceCacheTTL, log)
	c.poller = feed.NewDBPoller(st, st, c.prices, log)

	c.resolver = exit.NewResolver(st, st, cfg.Exit.DefaultProfileID, cfg.Exit.ProfileCacheTTL, log)
	c.governor = exit.NewGovernor(st, log)
	c.emitter = exit.NewEmitter(st, exit.EmitterConfig{
		RequireApproval: cfg.Exit.RequireApproval,
		RatePerSec:      cfg.Exit.IntentRatePerSec,
	}, log)
	c.admin = exit.NewAdmin(st, st, st, c.resolver, rdb, log)
	c.reconciler = exit.NewReconciler(st, log)
	c.engine = exit.NewEngine(exit.EngineDeps{
		Positions:  st,
		States:     st,
		Intents:    st,
		Prices:     c.prices,
		Volatility: store.NewATRProvider(st),
		Resolver:   c.resolver,
		Governor:   c.governor,
		Emitter:    c.emitter,
	}, exit.EngineConfig{
		StaleAfter:     cfg.Exit.StaleAfter,
		Workers:        cfg.Exit.Workers,
		PersistRetries: cfg.Exit.PersistRetries,
		PersistBackoff: cfg.Exit.PersistBackoff,
	}, log)

	return c, nil
}

// Close releases connections
func (c *components) Close() {
	if err := c.rdb.Close(); err != nil {
		c.log.WithError(err).Warn("Failed to close redis")
	}
	c.db.Close()
}

func operatorName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}
