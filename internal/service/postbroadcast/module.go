package postbroadcast

import (
	"context"
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-messaging-service/config"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/store"
)

var Module = fx.Module("postbroadcast",
	fx.Provide(
		func(cfg *config.Config, log *slog.Logger) *WebhookSender {
			return NewWebhookSender(cfg.Webhook.Timeout, log)
		},
		NewWorker,
		func(st *store.Store, bus *broadcast.Broadcaster, cfg *config.Config, log *slog.Logger) *Scanner {
			return NewScanner(st, bus, cfg.Outbox.ScanInterval, cfg.Outbox.Grace, cfg.Outbox.ScanBatch, log)
		},
	),
	fx.Invoke(func(lc fx.Lifecycle, sc *Scanner) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { sc.Start(); return nil },
			OnStop:  func(context.Context) error { sc.Stop(); return nil },
		})
	}),
)
