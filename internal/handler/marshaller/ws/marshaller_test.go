package wsmarshaller

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

func TestMarshalMessageCreated(t *testing.T) {
	env := &event.MessageEnvelope{
		MsgID:     uuid.New(),
		ChannelID: uuid.New(),
		SenderID:  uuid.New(),
		SeqID:     42,
		Type:      "text",
		Content:   "hello",
	}
	ev := event.NewRoomEvent(model.ChannelRoom(env.ChannelID), event.MessageCreated, event.PriorityHigh, env)

	data, err := Marshal(ev)
	require.NoError(t, err)

	var frame model.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, model.FrameMessageNew, frame.Type)

	var got event.MessageEnvelope
	require.NoError(t, json.Unmarshal(frame.Payload, &got))
	require.Equal(t, env.MsgID, got.MsgID)
	require.Equal(t, uint64(42), got.SeqID)

	// seqId crosses the wire as a string to survive JS number precision.
	var loose map[string]any
	require.NoError(t, json.Unmarshal(frame.Payload, &loose))
	require.Equal(t, "42", loose["seqId"])
}

func TestMarshalCachesSerialization(t *testing.T) {
	ev := event.NewRoomEvent("workspace:x", event.PresenceOnline, event.PriorityLow,
		model.PresencePayload{UserID: uuid.New(), WorkspaceID: uuid.New()})

	first, err := Marshal(ev)
	require.NoError(t, err)
	second, err := Marshal(ev)
	require.NoError(t, err)

	// Same backing slice: the second call hit the cache.
	require.Equal(t, &first[0], &second[0])
}

func TestMarshalRawPayloadPassthrough(t *testing.T) {
	raw := json.RawMessage(`{"channelId":"x","userId":"y","isTyping":true}`)
	ev := event.NewRoomEvent("channel:x", event.TypingUpdate, event.PriorityLow, raw)

	data, err := Marshal(ev)
	require.NoError(t, err)

	var frame model.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, model.FrameTypingUpdate, frame.Type)
	require.JSONEq(t, string(raw), string(frame.Payload))
}

func TestMarshalUnmappedKind(t *testing.T) {
	ev := event.NewRoomEvent("channel:x", event.Connected, event.PriorityLow, nil)
	_, err := Marshal(ev)
	require.Error(t, err)
}
