package bus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("bus",
	fx.Provide(
		NewConsumer,
		NewRouter,
	),
	fx.Invoke(func(lc fx.Lifecycle, router *message.Router) {
		runCtx, cancel := context.WithCancel(context.Background())
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					// Run blocks until Close; startup errors surface in logs
					// and the healthcheck, not here.
					_ = router.Run(runCtx)
				}()
				select {
				case <-router.Running():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			OnStop: func(context.Context) error {
				cancel()
				return router.Close()
			},
		})
	}),
)
