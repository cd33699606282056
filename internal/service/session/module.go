package session

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-messaging-service/config"
	"github.com/webitel/im-messaging-service/infra/kv"
)

var Module = fx.Module("session",
	fx.Provide(
		func(store kv.Store, cfg *config.Config, log *slog.Logger) *Registry {
			return NewRegistry(store, cfg.Gateway.HeartbeatInterval, log)
		},
		func(reg *Registry, cfg *config.Config, log *slog.Logger) *Sweeper {
			return NewSweeper(reg, cfg.Gateway.SweepInterval, log)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, sw *Sweeper) {
		lc.Append(fx.Hook{
			// [LATE_START] The gateway installs its eviction hooks during
			// construction, before the sweeper's first tick.
			OnStart: func(context.Context) error { sw.Start(); return nil },
			OnStop:  func(context.Context) error { sw.Stop(); return nil },
		})
	}),
)
