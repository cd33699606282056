package router

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-messaging-service/config"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/service/sequence"
	"github.com/webitel/im-messaging-service/internal/store"
)

var Module = fx.Module("router",
	fx.Provide(
		sequence.New,
		func(st *store.Store, alloc *sequence.Allocator, bus *broadcast.Broadcaster,
			wsb *broadcast.WorkspaceBroadcaster, cfg *config.Config, log *slog.Logger) *Router {
			return New(Params{
				Store:      st,
				Alloc:      alloc,
				Bus:        bus,
				Workspaces: wsb,
				DedupSize:  cfg.Router.DedupSize,
				DedupTTL:   cfg.Router.DedupTTL,
				MaxContent: cfg.Router.MaxContentLength,
				Log:        log,
			})
		},
	),
)
