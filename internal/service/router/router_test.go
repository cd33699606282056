package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-messaging-service/infra/pubsub"
	"github.com/webitel/im-messaging-service/infra/storage"
	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/service/sequence"
	"github.com/webitel/im-messaging-service/internal/store"
)

// capturePublisher records everything published, per topic.
type capturePublisher struct {
	mu      sync.Mutex
	byTopic map[string][]*message.Message
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{byTopic: make(map[string][]*message.Message)}
}

func (p *capturePublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byTopic[topic] = append(p.byTopic[topic], msgs...)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) topic(name string) []*message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*message.Message(nil), p.byTopic[name]...)
}

type fixture struct {
	router  *Router
	store   *store.Store
	pub     *capturePublisher
	ws      *model.Workspace
	channel *model.Channel
	sender  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, storage.Migrate(db))

	st := store.New(db)
	log := slog.New(slog.DiscardHandler)
	pub := newCapturePublisher()
	bus := broadcast.New(pub, "node-test", log)
	wsb := broadcast.NewWorkspaceBroadcaster(bus, st, log)

	r := New(Params{
		Store:      st,
		Alloc:      sequence.New(),
		Bus:        bus,
		Workspaces: wsb,
		DedupSize:  128,
		DedupTTL:   time.Minute,
		MaxContent: 1024,
		Log:        log,
	})

	ws := &model.Workspace{ID: uuid.New(), Name: "acme"}
	require.NoError(t, st.CreateWorkspace(ctx, ws))

	sender := uuid.New()
	require.NoError(t, st.CreateUser(ctx, &model.User{ID: sender, Type: model.UserHuman, Name: "alice", Active: true}))
	require.NoError(t, st.AddWorkspaceMember(ctx, &model.WorkspaceMember{WorkspaceID: ws.ID, UserID: sender, Role: model.RoleMember}))

	ch := &model.Channel{ID: uuid.New(), WorkspaceID: ws.ID, Type: model.ChannelPublic, Name: "general"}
	require.NoError(t, st.CreateChannel(ctx, ch))
	require.NoError(t, st.AddChannelMember(ctx, ch.ID, sender))

	return &fixture{router: r, store: st, pub: pub, ws: ws, channel: ch, sender: sender}
}

func (f *fixture) send(t *testing.T, content, clientMsgID string, parent *uuid.UUID) (*model.Message, bool) {
	t.Helper()
	msg, dup, err := f.router.Send(context.Background(), &CreateMessage{
		ChannelID:   f.channel.ID,
		SenderID:    f.sender,
		Content:     content,
		ClientMsgID: clientMsgID,
		ParentID:    parent,
	})
	require.NoError(t, err)
	return msg, dup
}

func TestSendCommitsMessageWithOutbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, dup := f.send(t, "hello", "c-1", nil)
	require.False(t, dup)
	require.Equal(t, uint64(1), msg.SeqID)

	// The outbox row co-commits with the message and stores the envelope.
	ob, err := f.store.GetOutbox(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, msg.ID, ob.MessageID)
	require.Equal(t, model.OutboxPending, ob.Status)

	var env event.MessageEnvelope
	require.NoError(t, json.Unmarshal(ob.Payload, &env))
	require.Equal(t, msg.ID, env.MsgID)
	require.Equal(t, uint64(1), env.SeqID)
	require.Equal(t, "hello", env.Content)

	// One room event, one outbox task.
	require.Len(t, f.pub.topic(pubsub.TopicRoomEvents), 1)
	require.Len(t, f.pub.topic(pubsub.TopicOutboxTasks), 1)

	var ev event.BusEvent
	require.NoError(t, json.Unmarshal(f.pub.topic(pubsub.TopicRoomEvents)[0].Payload, &ev))
	require.Equal(t, model.ChannelRoom(f.channel.ID), ev.Room)
	require.Equal(t, event.MessageCreated, ev.Kind)
}

func TestSeqIdsAreDensePerChannel(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 10; i++ {
		msg, _ := f.send(t, "msg", "", nil)
		require.Equal(t, uint64(i), msg.SeqID)
	}
}

func TestDuplicateClientMsgID(t *testing.T) {
	f := newFixture(t)

	first, dup := f.send(t, "hello", "retry-1", nil)
	require.False(t, dup)

	second, dup := f.send(t, "hello", "retry-1", nil)
	require.True(t, dup)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.SeqID, second.SeqID)

	// The duplicate produced no second broadcast and no second outbox task.
	require.Len(t, f.pub.topic(pubsub.TopicRoomEvents), 1)
	require.Len(t, f.pub.topic(pubsub.TopicOutboxTasks), 1)
}

func TestDuplicateSurvivesCacheLoss(t *testing.T) {
	f := newFixture(t)

	first, _ := f.send(t, "hello", "retry-2", nil)

	// A second router instance shares the database but not the cache,
	// modelling a retry that lands on another node. The unique index is the
	// authority.
	cold := New(Params{
		Store:      f.store,
		Alloc:      sequence.New(),
		Bus:        broadcast.New(f.pub, "node-other", slog.New(slog.DiscardHandler)),
		Workspaces: nil,
		DedupSize:  128,
		DedupTTL:   time.Minute,
		MaxContent: 1024,
		Log:        slog.New(slog.DiscardHandler),
	})
	msg, dup, err := cold.Send(context.Background(), &CreateMessage{
		ChannelID:   f.channel.ID,
		SenderID:    f.sender,
		Content:     "hello",
		ClientMsgID: "retry-2",
	})
	require.NoError(t, err)
	require.True(t, dup)
	require.Equal(t, first.ID, msg.ID)
	require.Equal(t, first.SeqID, msg.SeqID)

	// The burned seq from the aborted insert does not leave a gap: the
	// transaction rolled back the counter with it.
	next, _ := f.send(t, "after", "", nil)
	require.Equal(t, first.SeqID+1, next.SeqID)
}

// Two sends with the same clientMsgId racing each other: the unique index
// elects one original, the loser resolves to the committed row.
func TestParallelDuplicateCreates(t *testing.T) {
	f := newFixture(t)

	type result struct {
		msg *model.Message
		dup bool
		err error
	}
	start := make(chan struct{})
	results := make(chan result, 2)
	for range 2 {
		go func() {
			<-start
			msg, dup, err := f.router.Send(context.Background(), &CreateMessage{
				ChannelID:   f.channel.ID,
				SenderID:    f.sender,
				Content:     "hello",
				ClientMsgID: "race-1",
			})
			results <- result{msg: msg, dup: dup, err: err}
		}()
	}
	close(start)

	a, b := <-results, <-results
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	require.Equal(t, a.msg.ID, b.msg.ID)
	require.Equal(t, a.msg.SeqID, b.msg.SeqID)
	require.NotEqual(t, a.dup, b.dup, "exactly one send is the original")

	rows, err := f.store.MessagesSince(context.Background(), f.channel.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestThreadRootDerivation(t *testing.T) {
	f := newFixture(t)

	top, _ := f.send(t, "top", "", nil)
	require.Nil(t, top.RootID)

	reply, _ := f.send(t, "reply", "", &top.ID)
	require.NotNil(t, reply.RootID)
	require.Equal(t, top.ID, *reply.RootID)

	// Reply to a reply stays rooted at the top-level message.
	deep, _ := f.send(t, "deeper", "", &reply.ID)
	require.NotNil(t, deep.RootID)
	require.Equal(t, top.ID, *deep.RootID)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.router.Send(ctx, &CreateMessage{ChannelID: f.channel.ID, SenderID: f.sender, Content: "   "})
	require.ErrorIs(t, err, ErrEmptyContent)

	long := make([]byte, 2048)
	for i := range long {
		long[i] = 'a'
	}
	_, _, err = f.router.Send(ctx, &CreateMessage{ChannelID: f.channel.ID, SenderID: f.sender, Content: string(long)})
	require.ErrorIs(t, err, ErrContentTooLong)

	_, _, err = f.router.Send(ctx, &CreateMessage{ChannelID: uuid.New(), SenderID: f.sender, Content: "hi"})
	require.ErrorIs(t, err, ErrChannelNotFound)

	outsider := uuid.New()
	_, _, err = f.router.Send(ctx, &CreateMessage{ChannelID: f.channel.ID, SenderID: outsider, Content: "hi"})
	require.ErrorIs(t, err, ErrNotMember)
}

func TestSendAfterLeaveRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.router.LeaveChannel(ctx, f.channel.ID, f.sender))
	_, _, err := f.router.Send(ctx, &CreateMessage{ChannelID: f.channel.ID, SenderID: f.sender, Content: "hi"})
	require.ErrorIs(t, err, ErrNotMember)

	// Re-joining restores the membership and the send path.
	require.NoError(t, f.router.JoinChannel(ctx, f.channel.ID, f.sender))
	msg, _ := f.send(t, "back", "", nil)
	require.NotZero(t, msg.SeqID)
}

func TestParentInAnotherChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other, err := f.router.CreateChannel(ctx, f.ws.ID, f.sender, "random", model.ChannelPublic)
	require.NoError(t, err)

	foreign, _, err := f.router.Send(ctx, &CreateMessage{ChannelID: other.ID, SenderID: f.sender, Content: "elsewhere"})
	require.NoError(t, err)

	_, _, err = f.router.Send(ctx, &CreateMessage{
		ChannelID: f.channel.ID, SenderID: f.sender, Content: "reply", ParentID: &foreign.ID,
	})
	require.ErrorIs(t, err, ErrParentMismatch)
}

func TestMentionsPersistWithMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	target := uuid.New()
	msg, _ := f.send(t, "ping <@"+target.String()+"> and @everyone", "", nil)

	mentions, err := f.store.MentionsOf(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, mentions, 2)
	require.Equal(t, model.MentionUser, mentions[0].Type)
	require.Equal(t, target, *mentions[0].MentionedUserID)
	require.Equal(t, model.MentionEveryone, mentions[1].Type)
}
