package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"go.uber.org/fx"

	"github.com/webitel/im-messaging-service/config"
	"github.com/webitel/im-messaging-service/infra/kv"
	"github.com/webitel/im-messaging-service/infra/pubsub"
	"github.com/webitel/im-messaging-service/infra/storage"
	"github.com/webitel/im-messaging-service/internal/auth"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/store"
)

func ProvideLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: config.LevelVar})
	} else {
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      config.LevelVar,
			TimeFormat: time.TimeOnly,
		})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger)
}

// ProvidePubSub selects the broker: AMQP when configured, otherwise the
// in-process transport (single-node deployments and development).
func ProvidePubSub(lc fx.Lifecycle, cfg *config.Config, wlog watermill.LoggerAdapter, logger *slog.Logger) (pubsub.Provider, error) {
	var (
		provider pubsub.Provider
		err      error
	)
	if cfg.Broker.AMQPURL != "" {
		provider, err = pubsub.NewAMQPProvider(cfg.Broker.AMQPURL, wlog)
		logger.Info("broker: amqp")
	} else {
		provider = pubsub.NewChannelProvider(wlog)
		logger.Info("broker: in-process")
	}
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return provider.Close() }})
	return provider, nil
}

// ProvideKV selects the session/presence store: redis when configured,
// otherwise the in-process store.
func ProvideKV(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (kv.Store, error) {
	if cfg.KV.RedisAddr == "" {
		logger.Info("kv: in-process")
		return kv.NewMemoryStore(), nil
	}
	rs, err := kv.NewRedisStore(cfg.KV.RedisAddr, cfg.KV.RedisPassword, cfg.KV.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("kv: %w", err)
	}
	logger.Info("kv: redis", slog.String("addr", cfg.KV.RedisAddr))
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return rs.Close() }})
	return rs, nil
}

func ProvideDB(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("database ready", slog.String("path", cfg.Database.Path))
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return db.Close() }})
	return db, nil
}

func ProvideStore(db *sql.DB) *store.Store {
	return store.New(db)
}

func ProvideTokens(cfg *config.Config) (*auth.Manager, error) {
	if cfg.Auth.Secret == "" {
		return nil, errors.New("auth.secret is required")
	}
	return auth.NewManager(cfg.Auth.Secret, cfg.Auth.Issuer), nil
}

// ProvideNodeID resolves this node's identity. Sessions and broker queue
// names carry it, so two live nodes must never share one.
func ProvideNodeID(cfg *config.Config, logger *slog.Logger) registry.NodeID {
	id := cfg.Service.NodeID
	if id == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "node"
		}
		id = fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
	}
	logger.Info("node identity", slog.String("node_id", id))
	return registry.NodeID(id)
}
