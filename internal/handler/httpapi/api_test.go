package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-messaging-service/infra/kv"
	"github.com/webitel/im-messaging-service/infra/pubsub"
	"github.com/webitel/im-messaging-service/infra/storage"
	"github.com/webitel/im-messaging-service/internal/auth"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/handler/lp"
	wsgateway "github.com/webitel/im-messaging-service/internal/handler/ws"
	"github.com/webitel/im-messaging-service/internal/service"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/service/router"
	"github.com/webitel/im-messaging-service/internal/service/sequence"
	"github.com/webitel/im-messaging-service/internal/service/session"
	syncsvc "github.com/webitel/im-messaging-service/internal/service/sync"
	"github.com/webitel/im-messaging-service/internal/store"
)

// fixture assembles the full HTTP surface on in-process infrastructure.
type fixture struct {
	srv     *httptest.Server
	store   *store.Store
	tokens  *auth.Manager
	ws      *model.Workspace
	channel *model.Channel
	alice   uuid.UUID
	bob     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	log := slog.New(slog.DiscardHandler)

	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))
	st := store.New(db)

	kvStore := kv.NewMemoryStore()
	provider := pubsub.NewChannelProvider(watermill.NopLogger{})
	t.Cleanup(func() { _ = provider.Close() })

	bus := broadcast.New(provider.Publisher(), "node-test", log)
	wsb := broadcast.NewWorkspaceBroadcaster(bus, st, log)
	rt := router.New(router.Params{
		Store:      st,
		Alloc:      sequence.New(),
		Bus:        bus,
		Workspaces: wsb,
		DedupSize:  128,
		DedupTTL:   time.Minute,
		MaxContent: 1024,
		Log:        log,
	})
	engine := syncsvc.NewEngine(st, kvStore, bus, log)
	tokens := auth.NewManager("test-secret", "webitel")

	hub := registry.NewHub(registry.WithNodeID("node-test"))
	t.Cleanup(hub.Shutdown)
	deliverer := service.NewDeliveryService(hub, st)
	sessions := session.NewRegistry(kvStore, 25*time.Second, log)

	gateway := wsgateway.NewHandler(wsgateway.Params{
		Cfg:       wsgateway.Config{NodeID: "node-test", HeartbeatInterval: 25 * time.Second, WriteTimeout: 5 * time.Second, TypingTTL: 5 * time.Second},
		Logger:    log,
		Deliverer: deliverer,
		Router:    rt,
		Sync:      engine,
		Sessions:  sessions,
		Presence:  wsb,
		Bus:       bus,
		KV:        kvStore,
		Store:     st,
		Tokens:    tokens,
		Hub:       hub,
	})
	poll := lp.NewLPHandler(deliverer, tokens)

	mux := NewMux(NewAPI(rt, engine, hub, tokens, log), gateway, poll)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f := &fixture{srv: srv, store: st, tokens: tokens, alice: uuid.New(), bob: uuid.New()}

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

// do issues a request as the given user and decodes the JSON response into
// out when it is non-nil.
func (f *fixture) do(t *testing.T, userID uuid.UUID, method, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if userID != uuid.Nil {
		token, err := f.tokens.Issue(userID, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestCreateMessageRoundtrip(t *testing.T) {
	f := newFixture(t)

	var out createMessageResponse
	code := f.do(t, f.alice, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": f.channel.ID, "content": "hello", "clientMsgId": "c-1"}, &out)
	require.Equal(t, http.StatusCreated, code)
	require.Equal(t, "persisted", out.Status)
	require.EqualValues(t, 1, out.SeqID)
	require.Equal(t, "c-1", out.ClientMsgID)
	require.NotZero(t, out.Timestamp)

	// Same clientMsgId returns the original commit, not a second message.
	var dup createMessageResponse
	code = f.do(t, f.alice, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": f.channel.ID, "content": "hello", "clientMsgId": "c-1"}, &dup)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "duplicate", dup.Status)
	require.Equal(t, out.MsgID, dup.MsgID)
	require.Equal(t, out.SeqID, dup.SeqID)
}

func TestCreateMessageRequiresAuth(t *testing.T) {
	f := newFixture(t)
	code := f.do(t, uuid.Nil, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": f.channel.ID, "content": "hello"}, nil)
	require.Equal(t, http.StatusUnauthorized, code)
}

func TestCreateMessageErrorMapping(t *testing.T) {
	f := newFixture(t)

	code := f.do(t, f.alice, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": uuid.New(), "content": "hello"}, nil)
	require.Equal(t, http.StatusNotFound, code)

	code = f.do(t, f.alice, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": f.channel.ID, "content": "   "}, nil)
	require.Equal(t, http.StatusBadRequest, code)

	outsider := uuid.New()
	require.NoError(t, f.store.CreateUser(context.Background(),
		&model.User{ID: outsider, Type: model.UserHuman, Name: "mallory", Active: true}))
	code = f.do(t, outsider, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": f.channel.ID, "content": "hi"}, nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestSyncChannelPaging(t *testing.T) {
	f := newFixture(t)

	for i := range 5 {
		code := f.do(t, f.alice, http.MethodPost, "/api/v1/messages",
			map[string]any{"channelId": f.channel.ID, "content": fmt.Sprintf("msg %d", i)}, nil)
		require.Equal(t, http.StatusCreated, code)
	}

	var out syncsvc.ChannelSync
	code := f.do(t, f.bob, http.MethodGet,
		fmt.Sprintf("/api/v1/sync/channel/%s?sinceSeqId=2&limit=2", f.channel.ID), nil, &out)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out.Messages, 2)
	require.EqualValues(t, 3, out.Messages[0].SeqID)
	require.EqualValues(t, 4, out.Messages[1].SeqID)
	require.True(t, out.HasMore)
	require.EqualValues(t, 5, out.MaxSeqID)

	// Without a cursor the client gets the newest page, not the oldest.
	var tail syncsvc.ChannelSync
	code = f.do(t, f.bob, http.MethodGet,
		fmt.Sprintf("/api/v1/sync/channel/%s?limit=2", f.channel.ID), nil, &tail)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, tail.Messages, 2)
	require.EqualValues(t, 4, tail.Messages[0].SeqID)
	require.EqualValues(t, 5, tail.Messages[1].SeqID)
	require.False(t, tail.HasMore)
}

func TestSyncChannelRequiresMembership(t *testing.T) {
	f := newFixture(t)
	outsider := uuid.New()
	require.NoError(t, f.store.CreateUser(context.Background(),
		&model.User{ID: outsider, Type: model.UserHuman, Name: "mallory", Active: true}))

	code := f.do(t, outsider, http.MethodGet,
		"/api/v1/sync/channel/"+f.channel.ID.String(), nil, nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestAckAndReadFlow(t *testing.T) {
	f := newFixture(t)

	var sent createMessageResponse
	code := f.do(t, f.alice, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": f.channel.ID, "content": "read me"}, &sent)
	require.Equal(t, http.StatusCreated, code)

	code = f.do(t, f.bob, http.MethodPost, "/api/v1/sync/ack",
		map[string]any{"channelId": f.channel.ID, "seqId": "1"}, nil)
	require.Equal(t, http.StatusNoContent, code)

	code = f.do(t, f.bob, http.MethodPost,
		fmt.Sprintf("/api/v1/messages/%s/read", sent.MsgID),
		map[string]any{"channelId": f.channel.ID}, nil)
	require.Equal(t, http.StatusNoContent, code)

	var out syncsvc.ChannelSync
	code = f.do(t, f.bob, http.MethodGet,
		fmt.Sprintf("/api/v1/sync/channel/%s?sinceSeqId=1", f.channel.ID), nil, &out)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, out.ReadStatus)
	require.EqualValues(t, 1, out.ReadStatus.LastReadSeqID)
	require.EqualValues(t, 1, out.ReadStatus.LastAckedSeqID)
	require.Zero(t, out.ReadStatus.UnreadCount)
}

func TestChannelLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	var created struct {
		ChannelID uuid.UUID `json:"channelId"`
	}
	code := f.do(t, f.alice, http.MethodPost, "/api/v1/channels",
		map[string]any{"workspaceId": f.ws.ID, "name": "support", "channelType": "public"}, &created)
	require.Equal(t, http.StatusCreated, code)

	code = f.do(t, f.bob, http.MethodPost,
		fmt.Sprintf("/api/v1/channels/%s/members", created.ChannelID), nil, nil)
	require.Equal(t, http.StatusNoContent, code)

	code = f.do(t, f.bob, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": created.ChannelID, "content": "works"}, nil)
	require.Equal(t, http.StatusCreated, code)

	code = f.do(t, f.bob, http.MethodDelete,
		fmt.Sprintf("/api/v1/channels/%s/members", created.ChannelID), nil, nil)
	require.Equal(t, http.StatusNoContent, code)

	code = f.do(t, f.bob, http.MethodPost, "/api/v1/messages",
		map[string]any{"channelId": created.ChannelID, "content": "after leave"}, nil)
	require.Equal(t, http.StatusForbidden, code)
}

func TestOperationalEndpoints(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats model.HubStats
	resp, err = http.Get(f.srv.URL + "/debug/stats")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	require.Equal(t, "node-test", stats.NodeID)
}
