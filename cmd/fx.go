package cmd

import (
	"github.com/webitel/im-messaging-service/config"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/handler/bus"
	"github.com/webitel/im-messaging-service/internal/handler/httpapi"
	wsgateway "github.com/webitel/im-messaging-service/internal/handler/ws"
	"github.com/webitel/im-messaging-service/internal/service"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/service/postbroadcast"
	"github.com/webitel/im-messaging-service/internal/service/router"
	"github.com/webitel/im-messaging-service/internal/service/session"
	syncsvc "github.com/webitel/im-messaging-service/internal/service/sync"
	"go.uber.org/fx"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvidePubSub,
			ProvideKV,
			ProvideDB,
			ProvideStore,
			ProvideTokens,
			ProvideNodeID,
		),
		registry.Module,
		service.Module,
		session.Module,
		broadcast.Module,
		router.Module,
		postbroadcast.Module,
		syncsvc.Module,
		wsgateway.Module,
		bus.Module,
		httpapi.Module,
	)
}
