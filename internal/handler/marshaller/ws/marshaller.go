// Package wsmarshaller serializes hub events into gateway frames.
package wsmarshaller

import (
	"encoding/json"
	"fmt"

	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// Marshal renders the event as a frame. The result is cached on the event,
// so a room broadcast serializes once per node no matter how many sockets
// receive it.
func Marshal(ev event.Eventer) ([]byte, error) {
	if cached, ok := ev.GetCached().([]byte); ok {
		return cached, nil
	}

	frameType, ok := frameTypeOf(ev.GetKind())
	if !ok {
		return nil, fmt.Errorf("no frame mapping for event kind %d", ev.GetKind())
	}

	payload, err := payloadJSON(ev.GetPayload())
	if err != nil {
		return nil, fmt.Errorf("marshal frame payload: %w", err)
	}

	data, err := json.Marshal(&model.Frame{Type: frameType, Payload: payload})
	if err != nil {
		return nil, err
	}
	ev.SetCached(data)
	return data, nil
}

// payloadJSON avoids re-encoding payloads that already arrived as raw JSON
// from the bus.
func payloadJSON(p any) (json.RawMessage, error) {
	switch v := p.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func frameTypeOf(kind event.Kind) (string, bool) {
	switch kind {
	case event.MessageCreated:
		return model.FrameMessageNew, true
	case event.MessageUpdated:
		return model.FrameMessageUpdated, true
	case event.MessageDeleted:
		return model.FrameMessageDeleted, true
	case event.PresenceOnline:
		return model.FramePresenceOnline, true
	case event.PresenceOffline:
		return model.FramePresenceOffline, true
	case event.TypingUpdate:
		return model.FrameTypingUpdate, true
	case event.ReactionAdded:
		return model.FrameReactionAdded, true
	case event.ReactionRemoved:
		return model.FrameReactionRemoved, true
	case event.ReadUpdated:
		return model.FrameReadUpdated, true
	case event.ChannelJoined:
		return model.FrameChannelJoined, true
	case event.ChannelLeft:
		return model.FrameChannelLeft, true
	case event.ChannelCreated:
		return model.FrameChannelCreated, true
	case event.MemberJoined:
		return model.FrameMemberJoined, true
	default:
		return "", false
	}
}
