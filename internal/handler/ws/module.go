package ws

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-messaging-service/config"
	"github.com/webitel/im-messaging-service/infra/kv"
	"github.com/webitel/im-messaging-service/internal/auth"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/service"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/service/router"
	"github.com/webitel/im-messaging-service/internal/service/session"
	syncsvc "github.com/webitel/im-messaging-service/internal/service/sync"
	"github.com/webitel/im-messaging-service/internal/store"
)

var Module = fx.Module("gateway",
	fx.Provide(
		func(
			cfg *config.Config,
			nodeID registry.NodeID,
			logger *slog.Logger,
			deliverer service.Deliverer,
			rt *router.Router,
			engine *syncsvc.Engine,
			sessions *session.Registry,
			presence *broadcast.WorkspaceBroadcaster,
			bus *broadcast.Broadcaster,
			kvStore kv.Store,
			st *store.Store,
			tokens *auth.Manager,
			hub registry.Hubber,
		) *Handler {
			return NewHandler(Params{
				Cfg: Config{
					NodeID:            string(nodeID),
					HeartbeatInterval: cfg.Gateway.HeartbeatInterval,
					WriteTimeout:      cfg.Gateway.WriteTimeout,
					TypingTTL:         cfg.Gateway.TypingTTL,
				},
				Logger:    logger,
				Deliverer: deliverer,
				Router:    rt,
				Sync:      engine,
				Sessions:  sessions,
				Presence:  presence,
				Bus:       bus,
				KV:        kvStore,
				Store:     st,
				Tokens:    tokens,
				Hub:       hub,
			})
		},
	),
	// The sweeper must know how to kill local zombie sockets before it runs.
	fx.Invoke(func(h *Handler, sw *session.Sweeper) {
		h.InstallSweeperHooks(sw)
	}),
)
