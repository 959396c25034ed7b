package stategraph

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/config"
)

// OptionsFromConfig builds engine options from a configuration
// section, so deployments can tune the engine without code changes:
//
//	engine:
//	  recursion_limit: 50
//	  max_concurrency: 8
//	  failure_policy: isolate
//	  interrupt_before: [review]
//	  metrics: true
//	  checkpoint:
//	    backend: sqlite
//	    path: /var/lib/app/graph.db
//
// The checkpoint section, when present, constructs a saver for the
// named backend (memory, sqlite, postgres, redis). The returned
// cleanup function closes whatever backend resources were opened; call
// it after Engine.Close. It is never nil and is safe to call when no
// backend was configured.
func OptionsFromConfig(ctx context.Context, cfg config.Config) ([]EngineOption, func() error, error) {
	cleanup := func() error { return nil }
	var opts []EngineOption

	if n := cfg.Int("recursion_limit", 0); n > 0 {
		opts = append(opts, WithRecursionLimit(n))
	}
	if n := cfg.Int("max_concurrency", 0); n > 0 {
		opts = append(opts, WithMaxConcurrency(n))
	}
	if policy := cfg.String("failure_policy", ""); policy != "" {
		switch policy {
		case "fail_fast":
			opts = append(opts, WithFailurePolicy(FailFast))
		case "isolate":
			opts = append(opts, WithFailurePolicy(Isolate))
		default:
			return nil, cleanup, fmt.Errorf("unknown failure_policy %q", policy)
		}
	}
	if nodes := cfg.StringSlice("interrupt_before", nil); len(nodes) > 0 {
		opts = append(opts, WithInterruptBefore(nodes...))
	}
	if nodes := cfg.StringSlice("interrupt_after", nil); len(nodes) > 0 {
		opts = append(opts, WithInterruptAfter(nodes...))
	}
	if cfg.Bool("metrics", false) {
		opts = append(opts, WithMetrics(true))
	}
	if cfg.Bool("tracing", false) {
		opts = append(opts, WithTracing(true))
	}

	if cfg.Has("checkpoint") {
		store, closeStore, err := storeFromConfig(ctx, cfg.Sub("checkpoint"))
		if err != nil {
			return nil, cleanup, err
		}
		cleanup = closeStore
		opts = append(opts, WithCheckpointSaver(checkpoint.NewSaver(store)))
	}

	return opts, cleanup, nil
}

func storeFromConfig(ctx context.Context, cfg config.Config) (checkpoint.Store, func() error, error) {
	switch backend := cfg.String("backend", "memory"); backend {
	case "memory":
		store := checkpoint.NewMemoryStore()
		return store, store.Close, nil

	case "sqlite":
		path := cfg.String("path", "")
		if path == "" {
			return nil, nil, errors.New("checkpoint backend sqlite requires path")
		}
		store, err := checkpoint.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil

	case "postgres":
		dsn := cfg.String("dsn", "")
		if dsn == "" {
			return nil, nil, errors.New("checkpoint backend postgres requires dsn")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		store := checkpoint.NewPostgresStore(pool)
		if err := store.CreateSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() error {
			err := store.Close()
			pool.Close()
			return err
		}, nil

	case "redis":
		addr := cfg.String("addr", "")
		if addr == "" {
			return nil, nil, errors.New("checkpoint backend redis requires addr")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.String("password", ""),
			DB:       cfg.Int("db", 0),
		})
		store := checkpoint.NewRedisStore(client, cfg.String("prefix", ""))
		return store, func() error {
			return errors.Join(store.Close(), client.Close())
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}
