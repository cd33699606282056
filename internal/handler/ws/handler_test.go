package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-messaging-service/infra/kv"
	"github.com/webitel/im-messaging-service/infra/pubsub"
	"github.com/webitel/im-messaging-service/infra/storage"
	"github.com/webitel/im-messaging-service/internal/auth"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	eventbus "github.com/webitel/im-messaging-service/internal/handler/bus"
	"github.com/webitel/im-messaging-service/internal/service"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/service/postbroadcast"
	"github.com/webitel/im-messaging-service/internal/service/router"
	"github.com/webitel/im-messaging-service/internal/service/sequence"
	"github.com/webitel/im-messaging-service/internal/service/session"
	syncsvc "github.com/webitel/im-messaging-service/internal/service/sync"
	"github.com/webitel/im-messaging-service/internal/store"
)

// gatewayFixture is a complete single-node gateway: the websocket handler in
// front of the real services, with the in-process broker closing the
// publish-consume-deliver loop.
type gatewayFixture struct {
	srv     *httptest.Server
	store   *store.Store
	tokens  *auth.Manager
	ws      *model.Workspace
	channel *model.Channel
	alice   uuid.UUID
	bob     uuid.UUID
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := slog.New(slog.DiscardHandler)

	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))
	st := store.New(db)

	kvStore := kv.NewMemoryStore()
	provider := pubsub.NewChannelProvider(watermill.NopLogger{})
	t.Cleanup(func() { _ = provider.Close() })

	broadcaster := broadcast.New(provider.Publisher(), "node-ws", log)
	wsb := broadcast.NewWorkspaceBroadcaster(broadcaster, st, log)
	rt := router.New(router.Params{
		Store:      st,
		Alloc:      sequence.New(),
		Bus:        broadcaster,
		Workspaces: wsb,
		DedupSize:  128,
		DedupTTL:   time.Minute,
		MaxContent: 1024,
		Log:        log,
	})
	engine := syncsvc.NewEngine(st, kvStore, broadcaster, log)
	tokens := auth.NewManager("test-secret", "webitel")

	hub := registry.NewHub(registry.WithNodeID("node-ws"))
	t.Cleanup(hub.Shutdown)
	deliverer := service.NewDeliveryService(hub, st)
	sessions := session.NewRegistry(kvStore, 25*time.Second, log)

	worker := postbroadcast.NewWorker(st, broadcaster,
		postbroadcast.NewWebhookSender(time.Second, log), log)
	busRouter, err := eventbus.NewRouter(provider,
		eventbus.NewConsumer(hub, worker, log), "node-ws", watermill.NopLogger{}, log)
	require.NoError(t, err)
	go func() { _ = busRouter.Run(ctx) }()
	t.Cleanup(func() { _ = busRouter.Close() })
	select {
	case <-busRouter.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("bus router did not start")
	}

	gateway := NewHandler(Params{
		Cfg: Config{
			NodeID:            "node-ws",
			HeartbeatInterval: 25 * time.Second,
			WriteTimeout:      5 * time.Second,
			TypingTTL:         5 * time.Second,
			AuthDeadline:      time.Second,
		},
		Logger:    log,
		Deliverer: deliverer,
		Router:    rt,
		Sync:      engine,
		Sessions:  sessions,
		Presence:  wsb,
		Bus:       broadcaster,
		KV:        kvStore,
		Store:     st,
		Tokens:    tokens,
		Hub:       hub,
	})
	srv := httptest.NewServer(gateway)
	t.Cleanup(srv.Close)

	f := &gatewayFixture{srv: srv, store: st, tokens: tokens, alice: uuid.New(), bob: uuid.New()}

	f.ws = &model.Workspace{ID: uuid.New(), Name: "acme"}
	require.NoError(t, st.CreateWorkspace(ctx, f.ws))
	for _, userID := range []uuid.UUID{f.alice, f.bob} {
		require.NoError(t, st.CreateUser(ctx, &model.User{ID: userID, Type: model.UserHuman, Name: userID.String()[:8], Active: true}))
		require.NoError(t, st.AddWorkspaceMember(ctx, &model.WorkspaceMember{WorkspaceID: f.ws.ID, UserID: userID, Role: model.RoleMember}))
	}
	f.channel = &model.Channel{ID: uuid.New(), WorkspaceID: f.ws.ID, Type: model.ChannelPublic, Name: "general"}
	require.NoError(t, st.CreateChannel(ctx, f.channel))
	require.NoError(t, st.AddChannelMember(ctx, f.channel.ID, f.alice))
	require.NoError(t, st.AddChannelMember(ctx, f.channel.ID, f.bob))

	return f
}

// dial opens an authenticated socket and consumes the auth.ok frame.
func (f *gatewayFixture) dial(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	token, err := f.tokens.Issue(userID, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	frame := readFrame(t, conn)
	require.Equal(t, model.FrameAuthOK, frame.Type)
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, frameType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(&model.Frame{Type: frameType, Payload: raw}))
}

func readFrame(t *testing.T, conn *websocket.Conn) *model.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	frame := new(model.Frame)
	require.NoError(t, conn.ReadJSON(frame))
	return frame
}

// readUntil skips unrelated frames until the wanted kind arrives. Replies
// from the read pump and bus deliveries from the write pump interleave
// without a defined order.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) *model.Frame {
	t.Helper()
	for range 10 {
		frame := readFrame(t, conn)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame within 10 reads", frameType)
	return nil
}

func TestGatewayFirstFrameAuth(t *testing.T) {
	f := newGatewayFixture(t)
	token, err := f.tokens.Issue(f.alice, time.Minute)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	sendFrame(t, conn, model.FrameAuth, model.AuthPayload{Token: token})
	frame := readFrame(t, conn)
	require.Equal(t, model.FrameAuthOK, frame.Type)

	var ok model.AuthOKPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &ok))
	require.Equal(t, f.alice, ok.UserID)
}

func TestGatewayRejectsBadToken(t *testing.T) {
	f := newGatewayFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	sendFrame(t, conn, model.FrameAuth, model.AuthPayload{Token: "garbage"})
	frame := readFrame(t, conn)
	require.Equal(t, model.FrameAuthErr, frame.Type)
}

func TestGatewayPingPong(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, f.alice)

	sendFrame(t, conn, model.FramePing, model.PingPayload{Timestamp: 12345})
	frame := readUntil(t, conn, model.FramePong)

	var pong model.PongPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &pong))
	require.EqualValues(t, 12345, pong.Timestamp)
	require.NotZero(t, pong.ServerTime)
}

func TestWorkspaceJoinReturnsRoster(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, f.alice)

	sendFrame(t, conn, model.FrameWorkspaceJoin, model.WorkspaceRef{WorkspaceID: f.ws.ID})
	frame := readUntil(t, conn, model.FrameMembersList)

	var roster model.MembersListPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &roster))
	require.Equal(t, f.ws.ID, roster.WorkspaceID)
	require.Len(t, roster.Members, 2)

	online := map[uuid.UUID]bool{}
	for _, m := range roster.Members {
		online[m.UserID] = m.Online
	}
	require.True(t, online[f.alice])
	require.False(t, online[f.bob])
}

// A message sent on one socket is acked to the sender and delivered to every
// channel member's socket through the broker round trip.
func TestMessageSendDeliversToMembers(t *testing.T) {
	f := newGatewayFixture(t)
	alice := f.dial(t, f.alice)
	bob := f.dial(t, f.bob)

	sendFrame(t, alice, model.FrameMessageSend, model.MessageSendPayload{
		ChannelID:   f.channel.ID,
		Type:        "text",
		Content:     "hello over ws",
		ClientMsgID: "ws-1",
	})

	ackFrame := readUntil(t, alice, model.FrameAckResponse)
	var ack model.AckResponsePayload
	require.NoError(t, json.Unmarshal(ackFrame.Payload, &ack))
	require.Equal(t, "persisted", ack.Status)
	require.EqualValues(t, 1, ack.SeqID)

	for name, conn := range map[string]*websocket.Conn{"sender": alice, "member": bob} {
		frame := readUntil(t, conn, model.FrameMessageNew)
		var env struct {
			MsgID     uuid.UUID `json:"msgId"`
			ChannelID uuid.UUID `json:"channelId"`
			SeqID     uint64    `json:"seqId,string"`
			Content   string    `json:"content"`
		}
		require.NoError(t, json.Unmarshal(frame.Payload, &env), name)
		require.Equal(t, ack.MsgID, env.MsgID, name)
		require.Equal(t, f.channel.ID, env.ChannelID, name)
		require.EqualValues(t, 1, env.SeqID, name)
		require.Equal(t, "hello over ws", env.Content, name)
	}
}

func TestUnknownFrameGetsErrorReply(t *testing.T) {
	f := newGatewayFixture(t)
	conn := f.dial(t, f.alice)

	sendFrame(t, conn, "no.such.frame", map[string]string{})
	frame := readUntil(t, conn, model.FrameError)
	require.Contains(t, string(frame.Payload), "unknown frame type")
}
