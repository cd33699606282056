package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-messaging-service/internal/domain/event"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(WithNodeID("node-test"), WithMailboxSize(64))
	t.Cleanup(h.Shutdown)
	return h
}

func recvOne(t *testing.T, conn Connector) event.Eventer {
	t.Helper()
	select {
	case ev, ok := <-conn.Recv():
		require.True(t, ok)
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return nil
	}
}

func TestBroadcastUserReachesEveryDevice(t *testing.T) {
	h := newTestHub(t)
	userID := uuid.New()

	web := NewConnector(context.Background(), userID, 8)
	mobile := NewConnector(context.Background(), userID, 8)
	h.Register(web)
	h.Register(mobile)

	require.True(t, h.IsConnected(userID))
	require.True(t, h.BroadcastUser(userID, event.NewRoomEvent("channel:x", event.MessageCreated, event.PriorityHigh, nil)))

	for _, conn := range []Connector{web, mobile} {
		ev := recvOne(t, conn)
		require.Equal(t, event.MessageCreated, ev.GetKind())
	}
}

func TestBroadcastRoomOnlyLocalMembers(t *testing.T) {
	h := newTestHub(t)
	member, outsider := uuid.New(), uuid.New()

	inRoom := NewConnector(context.Background(), member, 8)
	outOfRoom := NewConnector(context.Background(), outsider, 8)
	h.Register(inRoom)
	h.Register(outOfRoom)
	h.JoinRoom("channel:general", member)

	delivered := h.BroadcastRoom(event.NewRoomEvent("channel:general", event.TypingUpdate, event.PriorityLow, nil))
	require.Equal(t, 1, delivered)

	ev := recvOne(t, inRoom)
	require.Equal(t, "channel:general", ev.GetRoom())

	select {
	case <-outOfRoom.Recv():
		t.Fatal("outsider received a room event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnregisterLastDeviceReclaimsCellAndRooms(t *testing.T) {
	h := newTestHub(t)
	userID := uuid.New()

	web := NewConnector(context.Background(), userID, 8)
	mobile := NewConnector(context.Background(), userID, 8)
	h.Register(web)
	h.Register(mobile)
	h.JoinRoom("channel:general", userID)

	h.Unregister(userID, web.GetID())
	require.True(t, h.IsConnected(userID))
	require.True(t, h.InRoom("channel:general", userID))

	h.Unregister(userID, mobile.GetID())
	require.False(t, h.IsConnected(userID))
	require.False(t, h.InRoom("channel:general", userID))
	require.Zero(t, h.Stats().TotalRooms)
}

func TestRoomMembershipIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	userID := uuid.New()

	h.JoinRoom("channel:general", userID)
	h.JoinRoom("channel:general", userID)
	require.Equal(t, 1, h.Stats().TotalRooms)

	h.LeaveRoom("channel:general", userID)
	h.LeaveRoom("channel:general", userID)
	require.Zero(t, h.Stats().TotalRooms)
}

// A saturated connector sheds low-priority traffic and keeps room for
// high-priority events by evicting cheaper ones.
func TestConnectorBackpressureShedsLowPriorityFirst(t *testing.T) {
	conn := NewConnector(context.Background(), uuid.New(), 1)
	defer conn.Close()

	require.True(t, conn.Send(event.NewRoomEvent("r", event.TypingUpdate, event.PriorityLow, nil), 10*time.Millisecond))

	// Buffer is full: another low-priority event is dropped outright.
	require.False(t, conn.Send(event.NewRoomEvent("r", event.TypingUpdate, event.PriorityLow, nil), 10*time.Millisecond))

	// A high-priority event evicts the buffered low-priority one.
	require.True(t, conn.Send(event.NewRoomEvent("r", event.MessageCreated, event.PriorityHigh, nil), 10*time.Millisecond))
	ev := <-conn.Recv()
	require.Equal(t, event.MessageCreated, ev.GetKind())
}

func TestStatsSnapshot(t *testing.T) {
	h := newTestHub(t)
	alice, bob := uuid.New(), uuid.New()

	h.Register(NewConnector(context.Background(), alice, 8))
	h.Register(NewConnector(context.Background(), alice, 8))
	h.Register(NewConnector(context.Background(), bob, 8))
	h.JoinRoom("channel:general", alice)
	h.JoinRoom("workspace:acme", alice)

	stats := h.Stats()
	require.Equal(t, "node-test", stats.NodeID)
	require.Equal(t, 2, stats.TotalUsers)
	require.Equal(t, 3, stats.TotalConnections)
	require.Equal(t, 2, stats.TotalRooms)
}
