package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/courier"
	audithook "github.com/xraph/courier/audit_hook"
	"github.com/xraph/courier/engine"
	"github.com/xraph/courier/store"
	"github.com/xraph/courier/store/memory"
	"github.com/xraph/courier/store/postgres"
	"github.com/xraph/courier/store/redis"
)

// newLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
// Unknown levels fall back to info.
func newLogger(cfg courier.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(cfg.LogFormat, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", "courier")
}

// openStore connects the backend named by cfg.Store and checks it is
// reachable.
func openStore(ctx context.Context, cfg courier.Config, logger *slog.Logger) (store.Store, error) {
	var s store.Store
	switch cfg.Store {
	case courier.StoreMemory:
		logger.Warn("using the in-memory store; jobs do not survive a restart")
		s = memory.New()
	case courier.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		s = &ownedRedis{Store: redis.New(client, redis.WithLogger(logger)), client: client}
	case courier.StorePostgres:
		pg, err := postgres.New(ctx, cfg.PostgresDSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		s = pg
	default:
		return nil, fmt.Errorf("%w: unknown store %q", courier.ErrInvalidConfig, cfg.Store)
	}

	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("ping %s store: %w", cfg.Store, err)
	}
	return s, nil
}

// ownedRedis closes the client the process opened for the Redis store.
type ownedRedis struct {
	*redis.Store
	client *goredis.Client
}

func (o *ownedRedis) Close() error { return o.client.Close() }

// engineOptions wires the process configuration into the engine. Build adds
// the lifecycle metrics extension itself.
func engineOptions(cfg courier.Config, logger *slog.Logger) []engine.Option {
	opts := []engine.Option{
		engine.WithConfig(cfg),
		engine.WithLogger(logger),
	}
	if cfg.AuditLog {
		audit := audithook.New(
			audithook.LogRecorder(logger.With("component", "audit")),
			audithook.WithLogger(logger),
		)
		opts = append(opts, engine.WithExtension(audit))
	}
	return opts
}
