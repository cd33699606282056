// Package ws is the websocket gateway: socket lifecycle, authentication,
// heartbeats and the inbound frame protocol.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/webitel/im-messaging-service/infra/kv"
	"github.com/webitel/im-messaging-service/internal/auth"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/metrics"
	"github.com/webitel/im-messaging-service/internal/service"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/service/router"
	"github.com/webitel/im-messaging-service/internal/service/session"
	syncsvc "github.com/webitel/im-messaging-service/internal/service/sync"
	"github.com/webitel/im-messaging-service/internal/store"
)

// Config is the gateway tuning surface.
type Config struct {
	NodeID            string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	TypingTTL         time.Duration
	// AuthDeadline bounds the wait for the first-frame credential on sockets
	// that did not authenticate during the HTTP upgrade.
	AuthDeadline time.Duration
}

type Handler struct {
	cfg       Config
	logger    *slog.Logger
	deliverer service.Deliverer
	router    *router.Router
	sync      *syncsvc.Engine
	sessions  *session.Registry
	presence  *broadcast.WorkspaceBroadcaster
	bus       *broadcast.Broadcaster
	kv        kv.Store
	store     *store.Store
	tokens    *auth.Manager
	hub       registry.Hubber
	upgrader  websocket.Upgrader

	// sockets tracks locally owned connections by socket id so the zombie
	// sweeper can force-close them.
	socketsMu sync.Mutex
	sockets   map[uuid.UUID]*websocket.Conn

	dispatch map[string]frameHandler
}

type Params struct {
	Cfg       Config
	Logger    *slog.Logger
	Deliverer service.Deliverer
	Router    *router.Router
	Sync      *syncsvc.Engine
	Sessions  *session.Registry
	Presence  *broadcast.WorkspaceBroadcaster
	Bus       *broadcast.Broadcaster
	KV        kv.Store
	Store     *store.Store
	Tokens    *auth.Manager
	Hub       registry.Hubber
}

func NewHandler(p Params) *Handler {
	if p.Cfg.AuthDeadline == 0 {
		p.Cfg.AuthDeadline = 10 * time.Second
	}
	h := &Handler{
		cfg:       p.Cfg,
		logger:    p.Logger.With(slog.String("comp", "gateway")),
		deliverer: p.Deliverer,
		router:    p.Router,
		sync:      p.Sync,
		sessions:  p.Sessions,
		presence:  p.Presence,
		bus:       p.Bus,
		kv:        p.KV,
		store:     p.Store,
		tokens:    p.Tokens,
		hub:       p.Hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // Security: adjust for production
		},
		sockets: make(map[uuid.UUID]*websocket.Conn),
	}
	h.dispatch = h.buildDispatch()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. CREDENTIAL FROM THE UPGRADE REQUEST (header or query), IF PRESENT
	userID, authenticated := h.authFromRequest(r)

	// 2. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", slog.Any("error", err))
		return
	}
	defer ws.Close()

	// 3. FALL BACK TO FIRST-FRAME AUTH
	if !authenticated {
		userID, err = h.authFromFirstFrame(ws)
		if err != nil {
			h.writeFrame(ws, model.FrameAuthErr, model.AuthErrPayload{Reason: err.Error()})
			return
		}
	}
	h.writeFrame(ws, model.FrameAuthOK, model.AuthOKPayload{UserID: userID})

	h.serve(r.Context(), ws, userID)
}

// serve runs one authenticated socket to completion.
func (h *Handler) serve(ctx context.Context, ws *websocket.Conn, userID uuid.UUID) {
	socketID := uuid.New()
	now := time.Now().UnixMilli()
	sess := &model.DeviceSession{
		UserID:         userID,
		SocketID:       socketID,
		NodeID:         h.cfg.NodeID,
		LoginTime:      now,
		LastActiveTime: now,
	}

	first, err := h.sessions.Register(ctx, sess)
	if err != nil {
		h.logger.Error("session register failed", slog.Any("error", err))
		return
	}
	h.trackSocket(socketID, ws)
	metrics.ConnectedSockets.Inc()

	defer func() {
		h.untrackSocket(socketID)
		metrics.ConnectedSockets.Dec()
		last, err := h.sessions.Unregister(context.Background(), userID, socketID)
		if err != nil {
			h.logger.Error("session unregister failed", slog.Any("error", err))
		} else if last {
			if err := h.presence.UserOffline(context.Background(), userID); err != nil {
				h.logger.Warn("presence offline publish failed", slog.Any("error", err))
			}
		}
	}()

	conn, err := h.deliverer.Subscribe(ctx, userID)
	if err != nil {
		h.logger.Error("subscribe failed", slog.Any("error", err))
		return
	}
	defer h.deliverer.Unsubscribe(userID, conn.GetID())

	if first {
		if err := h.presence.UserOnline(ctx, userID); err != nil {
			h.logger.Warn("presence online publish failed", slog.Any("error", err))
		}
	}

	h.logger.Info("ws opened",
		slog.String("user_id", userID.String()),
		slog.String("socket_id", socketID.String()))

	cl := &client{
		handler:  h,
		ws:       ws,
		conn:     conn,
		userID:   userID,
		socketID: socketID,
	}
	cl.run(ctx)

	h.logger.Info("ws closed",
		slog.String("user_id", userID.String()),
		slog.String("socket_id", socketID.String()))
}

// --- authentication ---

func (h *Handler) authFromRequest(r *http.Request) (uuid.UUID, bool) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		if t, ok := strings.CutPrefix(header, "Bearer "); ok {
			token = t
		}
	}
	if token == "" {
		return uuid.Nil, false
	}
	userID, err := h.tokens.Verify(token)
	if err != nil {
		return uuid.Nil, false
	}
	return userID, true
}

// authFromFirstFrame waits for an auth frame on a fresh socket. Anything
// else, or silence past the deadline, rejects the connection.
func (h *Handler) authFromFirstFrame(ws *websocket.Conn) (uuid.UUID, error) {
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.AuthDeadline))
	defer ws.SetReadDeadline(time.Time{})

	_, data, err := ws.ReadMessage()
	if err != nil {
		return uuid.Nil, auth.ErrInvalidToken
	}
	var frame model.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != model.FrameAuth {
		return uuid.Nil, auth.ErrInvalidToken
	}
	var payload model.AuthPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return uuid.Nil, auth.ErrInvalidToken
	}
	return h.tokens.Verify(payload.Token)
}

// --- zombie eviction hooks ---

// InstallSweeperHooks connects the heartbeat sweeper to this gateway: local
// zombie sockets get force-closed, orphaned presence turns into an offline
// broadcast.
func (h *Handler) InstallSweeperHooks(sw *session.Sweeper) {
	sw.OnZombie(func(sess *model.DeviceSession, last bool) {
		if sess.NodeID == h.cfg.NodeID {
			h.closeSocket(sess.SocketID)
		}
		metrics.ZombiesEvicted.Inc()
		if last {
			if err := h.presence.UserOffline(context.Background(), sess.UserID); err != nil {
				h.logger.Warn("presence offline publish failed", slog.Any("error", err))
			}
		}
	})
	sw.OnOrphanPresence(func(userID uuid.UUID) {
		if err := h.presence.UserOffline(context.Background(), userID); err != nil {
			h.logger.Warn("presence offline publish failed", slog.Any("error", err))
		}
	})
}

func (h *Handler) trackSocket(socketID uuid.UUID, ws *websocket.Conn) {
	h.socketsMu.Lock()
	h.sockets[socketID] = ws
	h.socketsMu.Unlock()
}

func (h *Handler) untrackSocket(socketID uuid.UUID) {
	h.socketsMu.Lock()
	delete(h.sockets, socketID)
	h.socketsMu.Unlock()
}

func (h *Handler) closeSocket(socketID uuid.UUID) {
	h.socketsMu.Lock()
	ws, ok := h.sockets[socketID]
	h.socketsMu.Unlock()
	if ok {
		_ = ws.Close()
	}
}

// writeFrame serializes and writes a frame outside the client write pump;
// used only before the pumps start.
func (h *Handler) writeFrame(ws *websocket.Conn, frameType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(&model.Frame{Type: frameType, Payload: raw})
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
	_ = ws.WriteMessage(websocket.TextMessage, data)
}
