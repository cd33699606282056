// Package lp is the long-polling fallback transport for clients that cannot
// hold a websocket (restrictive proxies, some mobile webviews).
package lp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/webitel/im-messaging-service/internal/auth"
	"github.com/webitel/im-messaging-service/internal/domain/event"
	wsmarshaller "github.com/webitel/im-messaging-service/internal/handler/marshaller/ws"
	"github.com/webitel/im-messaging-service/internal/service"
)

const (
	pollTimeout = 30 * time.Second
	// batchLimit caps how many buffered events one poll response drains, so
	// a backlogged mailbox does not produce unbounded response bodies.
	batchLimit = 15
)

type LPHandler struct {
	deliverer service.Deliverer
	tokens    *auth.Manager
}

func NewLPHandler(deliverer service.Deliverer, tokens *auth.Manager) *LPHandler {
	return &LPHandler{
		deliverer: deliverer,
		tokens:    tokens,
	}
}

// Poll holds the request until an event arrives or the poll window closes.
// No session record is created: long-poll connections are transient by
// nature and presence is carried by websocket sessions only.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	userID, err := h.tokens.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Temporary subscription: the connector lives only for this request.
	conn, err := h.deliverer.Subscribe(r.Context(), userID)
	if err != nil {
		http.Error(w, "failed to subscribe", http.StatusInternalServerError)
		return
	}
	defer h.deliverer.Unsubscribe(userID, conn.GetID())

	var events []event.Eventer

	select {
	case <-r.Context().Done():
		return

	case <-time.After(pollTimeout):
		w.WriteHeader(http.StatusNoContent)
		return

	case ev, ok := <-conn.Recv():
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		events = append(events, ev)

		// Drain whatever else is buffered so the client catches up in one
		// round-trip instead of fifteen.
	drainLoop:
		for range batchLimit {
			select {
			case nextEv, ok := <-conn.Recv():
				if !ok {
					break drainLoop
				}
				events = append(events, nextEv)
			default:
				break drainLoop
			}
		}
	}

	frames := make([]json.RawMessage, 0, len(events))
	for _, ev := range events {
		data, err := wsmarshaller.Marshal(ev)
		if err != nil {
			continue // unmappable kinds are invisible to polling clients
		}
		frames = append(frames, data)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(frames)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return r.URL.Query().Get("token")
}
