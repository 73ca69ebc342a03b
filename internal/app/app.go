// Package app wires the service together: config, database, providers,
// engine, worker pool. Commands call Setup once and Close on exit.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lodestone-ai/lodestone/db"
	"github.com/lodestone-ai/lodestone/internal/authz"
	"github.com/lodestone-ai/lodestone/internal/config"
	"github.com/lodestone-ai/lodestone/internal/embedq"
	"github.com/lodestone-ai/lodestone/internal/engine"
	"github.com/lodestone-ai/lodestone/internal/log"
	"github.com/lodestone-ai/lodestone/internal/provider"
	"github.com/lodestone-ai/lodestone/internal/store"
	"github.com/lodestone-ai/lodestone/internal/web"
	"github.com/lodestone-ai/lodestone/internal/worker"
)

// App holds the wired service.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool   *pgxpool.Pool
	Store  *store.Store
	Engine *engine.Engine
	Worker *worker.Pool
}

// Setup creates and initializes the application. On error everything
// already initialized is released; on success call Close.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Store = store.New(pool, logger)

	embedder, err := provider.NewEmbedder(cfg)
	if err != nil {
		return nil, err
	}

	queue := embedq.New(embedder, a.Store, embedq.Limits{
		RatePerSecond:  cfg.EmbedRatePerSecond,
		Burst:          cfg.EmbedBurst,
		MaxBatchSize:   cfg.EmbedMaxBatchSize,
		MaxBatchTokens: cfg.EmbedMaxBatchToken,
	}, logger)

	grants, err := authz.NewGrants()
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Options{
		Repo:       a.Store,
		Queue:      queue,
		Reranker:   provider.NewReranker(cfg),
		Authorizer: grants,
		Fetcher:    web.NewExtractor(&http.Client{Timeout: 30 * time.Second}),
		Config:     cfg,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	a.Engine = eng

	w, err := worker.New(eng, cfg.WorkerPoolSize, logger)
	if err != nil {
		return nil, err
	}
	a.Worker = w

	return a, nil
}

// Close releases all resources in reverse setup order.
func (a *App) Close() {
	if a.Worker != nil {
		a.Worker.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// providePool migrates the schema and opens the pgx pool with vector
// type support.
func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := store.NewPool(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return pool, nil
}
