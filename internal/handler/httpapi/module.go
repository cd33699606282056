package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"

	"github.com/webitel/im-messaging-service/config"
	"github.com/webitel/im-messaging-service/internal/handler/lp"
)

var Module = fx.Module("httpapi",
	fx.Provide(
		NewAPI,
		lp.NewLPHandler,
		NewMux,
	),
	fx.Invoke(runServer),
)

func runServer(lc fx.Lifecycle, cfg *config.Config, mux *chi.Mux, log *slog.Logger) {
	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: mux,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Listen synchronously so a busy port fails startup instead of
			// surfacing later as a dead goroutine.
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			log.Info("http server listening", slog.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", slog.Any("error", err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
