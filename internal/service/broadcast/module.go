package broadcast

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-messaging-service/infra/pubsub"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/store"
)

var Module = fx.Module("broadcast",
	fx.Provide(
		func(provider pubsub.Provider, nodeID registry.NodeID, log *slog.Logger) *Broadcaster {
			return New(provider.Publisher(), string(nodeID), log)
		},
		func(bus *Broadcaster, st *store.Store, log *slog.Logger) *WorkspaceBroadcaster {
			return NewWorkspaceBroadcaster(bus, st, log)
		},
	),
)
