package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/im-messaging-service/internal/handler/lp"
	wsgateway "github.com/webitel/im-messaging-service/internal/handler/ws"
	"github.com/webitel/im-messaging-service/internal/metrics"
)

// NewMux mounts every HTTP surface of the node on one router: the REST API,
// the websocket gateway, the long-poll fallback and the operational
// endpoints.
func NewMux(api *API, gateway *wsgateway.Handler, poll *lp.LPHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/debug/stats", api.stats)

	r.Get("/ws", gateway.ServeHTTP)
	r.Get("/poll", poll.Poll)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(api.authenticate)

		r.Post("/messages", api.createMessage)
		r.Post("/messages/{messageID}/read", api.markRead)

		r.Post("/channels", api.createChannel)
		r.Post("/channels/{channelID}/members", api.joinChannel)
		r.Delete("/channels/{channelID}/members", api.leaveChannel)

		r.Get("/sync/channel/{channelID}", api.syncChannel)
		r.Post("/sync/ack", api.ack)
	})

	return r
}
