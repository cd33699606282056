package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/webitel/im-messaging-service/infra/kv"
	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/service/router"
	"github.com/webitel/im-messaging-service/internal/store"
)

type frameHandler func(ctx context.Context, c *client, payload json.RawMessage) error

func (h *Handler) buildDispatch() map[string]frameHandler {
	return map[string]frameHandler{
		model.FramePing:           h.onPing,
		model.FrameMessageSend:    h.onMessageSend,
		model.FrameChannelJoin:    h.onChannelJoin,
		model.FrameChannelLeave:   h.onChannelLeave,
		model.FrameWorkspaceJoin:  h.onWorkspaceJoin,
		model.FrameReadMark:       h.onReadMark,
		model.FrameAck:            h.onAck,
		model.FrameTypingStart:    h.onTypingStart,
		model.FrameTypingStop:     h.onTypingStop,
		model.FrameReactionAdd:    h.onReactionAdd,
		model.FrameReactionRemove: h.onReactionRemove,
	}
}

// onPing renews the session TTL and answers with server time so clients can
// estimate clock skew. A ping on an expired record re-registers it: the
// socket is evidently alive even if the record lapsed.
func (h *Handler) onPing(ctx context.Context, c *client, payload json.RawMessage) error {
	var ping model.PingPayload
	_ = json.Unmarshal(payload, &ping)

	if err := h.sessions.Renew(ctx, c.userID, c.socketID); err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		now := time.Now().UnixMilli()
		if _, err := h.sessions.Register(ctx, &model.DeviceSession{
			UserID:         c.userID,
			SocketID:       c.socketID,
			NodeID:         h.cfg.NodeID,
			LoginTime:      now,
			LastActiveTime: now,
		}); err != nil {
			return err
		}
	}

	c.send(model.FramePong, model.PongPayload{
		Timestamp:  ping.Timestamp,
		ServerTime: time.Now().UnixMilli(),
	})
	return nil
}

func (h *Handler) onMessageSend(ctx context.Context, c *client, payload json.RawMessage) error {
	var in model.MessageSendPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return errors.New("malformed message.send payload")
	}

	msg, dup, err := h.router.Send(ctx, &router.CreateMessage{
		ChannelID:   in.ChannelID,
		SenderID:    c.userID,
		Type:        model.ParseMessageType(in.Type),
		Content:     in.Content,
		ParentID:    in.ParentID,
		ClientMsgID: in.ClientMsgID,
	})
	if err != nil {
		return err
	}

	status := "persisted"
	if dup {
		status = "duplicate"
	}
	c.send(model.FrameAckResponse, model.AckResponsePayload{
		MsgID:  msg.ID,
		SeqID:  msg.SeqID,
		Status: status,
	})
	return nil
}

func (h *Handler) onChannelJoin(ctx context.Context, c *client, payload json.RawMessage) error {
	var ref model.ChannelRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return errors.New("malformed channel.join payload")
	}
	if err := h.router.JoinChannel(ctx, ref.ChannelID, c.userID); err != nil {
		return err
	}
	// Local room join takes effect immediately; other devices pick the
	// membership up on their next subscribe or sync.
	h.hub.JoinRoom(model.ChannelRoom(ref.ChannelID), c.userID)
	return nil
}

func (h *Handler) onChannelLeave(ctx context.Context, c *client, payload json.RawMessage) error {
	var ref model.ChannelRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return errors.New("malformed channel.leave payload")
	}
	if err := h.router.LeaveChannel(ctx, ref.ChannelID, c.userID); err != nil {
		return err
	}
	h.hub.LeaveRoom(model.ChannelRoom(ref.ChannelID), c.userID)
	return nil
}

func (h *Handler) onWorkspaceJoin(ctx context.Context, c *client, payload json.RawMessage) error {
	var ref model.WorkspaceRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return errors.New("malformed workspace.join payload")
	}
	member, err := h.store.IsWorkspaceMember(ctx, ref.WorkspaceID, c.userID)
	if err != nil {
		return err
	}
	if !member {
		return errors.New("not a workspace member")
	}
	h.hub.JoinRoom(model.WorkspaceRoom(ref.WorkspaceID), c.userID)

	// The joining socket gets the current roster once; afterwards it tracks
	// changes through member_joined and presence frames.
	ids, err := h.store.WorkspaceMemberIDs(ctx, ref.WorkspaceID)
	if err != nil {
		return err
	}
	members := make([]model.WorkspaceMemberEntry, 0, len(ids))
	for _, id := range ids {
		online, err := h.sessions.IsOnline(ctx, id)
		if err != nil {
			return err
		}
		members = append(members, model.WorkspaceMemberEntry{UserID: id, Online: online})
	}
	c.send(model.FrameMembersList, model.MembersListPayload{
		WorkspaceID: ref.WorkspaceID,
		Members:     members,
	})
	return nil
}

func (h *Handler) onReadMark(ctx context.Context, c *client, payload json.RawMessage) error {
	var mark model.ReadMarkPayload
	if err := json.Unmarshal(payload, &mark); err != nil {
		return errors.New("malformed read.mark payload")
	}
	return h.sync.MarkRead(ctx, c.userID, mark.ChannelID, mark.MessageID)
}

// onAck resolves the message to its channel and seq, then advances the
// delivery or read cursor depending on ackType.
func (h *Handler) onAck(ctx context.Context, c *client, payload json.RawMessage) error {
	var ack model.AckPayload
	if err := json.Unmarshal(payload, &ack); err != nil {
		return errors.New("malformed ack payload")
	}
	msg, err := h.store.GetMessage(ctx, ack.MsgID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("unknown message")
	}
	if err != nil {
		return err
	}
	if ack.AckType == "read" {
		return h.sync.MarkRead(ctx, c.userID, msg.ChannelID, msg.ID)
	}
	return h.sync.Ack(ctx, c.userID, msg.ChannelID, msg.SeqID)
}

// --- typing indicators ---
//
// Typing state lives only in the KV store with a short TTL; stop frames are
// an optimization, expiry is the guarantee.

func typingKey(channelID, userID string) string {
	return "typing:" + channelID + ":" + userID
}

func (h *Handler) onTypingStart(ctx context.Context, c *client, payload json.RawMessage) error {
	return h.typing(ctx, c, payload, true)
}

func (h *Handler) onTypingStop(ctx context.Context, c *client, payload json.RawMessage) error {
	return h.typing(ctx, c, payload, false)
}

func (h *Handler) typing(ctx context.Context, c *client, payload json.RawMessage, started bool) error {
	var ref model.ChannelRef
	if err := json.Unmarshal(payload, &ref); err != nil {
		return errors.New("malformed typing payload")
	}
	member, err := h.store.IsActiveMember(ctx, ref.ChannelID, c.userID)
	if err != nil {
		return err
	}
	if !member {
		return errors.New("not a channel member")
	}

	key := typingKey(ref.ChannelID.String(), c.userID.String())
	if started {
		if err := h.kv.Set(ctx, key, "1", h.cfg.TypingTTL); err != nil {
			return err
		}
	} else {
		if _, err := h.kv.Del(ctx, key); err != nil {
			return err
		}
	}
	return h.bus.Room(ctx, model.ChannelRoom(ref.ChannelID), event.TypingUpdate, event.PriorityLow,
		model.TypingUpdatePayload{ChannelID: ref.ChannelID, UserID: c.userID, IsTyping: started})
}

// --- reactions ---
//
// Reactions are broadcast-only signals: connected members see them live,
// there is no persistence and no catch-up.

func (h *Handler) onReactionAdd(ctx context.Context, c *client, payload json.RawMessage) error {
	return h.reaction(ctx, c, payload, event.ReactionAdded)
}

func (h *Handler) onReactionRemove(ctx context.Context, c *client, payload json.RawMessage) error {
	return h.reaction(ctx, c, payload, event.ReactionRemoved)
}

func (h *Handler) reaction(ctx context.Context, c *client, payload json.RawMessage, kind event.Kind) error {
	var in model.ReactionPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return errors.New("malformed reaction payload")
	}
	msg, err := h.store.GetMessage(ctx, in.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return errors.New("unknown message")
	}
	if err != nil {
		return err
	}
	member, err := h.store.IsActiveMember(ctx, msg.ChannelID, c.userID)
	if err != nil {
		return err
	}
	if !member {
		return errors.New("not a channel member")
	}
	return h.bus.Room(ctx, model.ChannelRoom(msg.ChannelID), kind, event.PriorityLow,
		model.ReactionEventPayload{
			MessageID: msg.ID,
			ChannelID: msg.ChannelID,
			UserID:    c.userID,
			Emoji:     in.Emoji,
		})
}
