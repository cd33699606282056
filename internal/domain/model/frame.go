package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Frame is the wire unit of the gateway socket in both directions.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound frame kinds.
const (
	FrameAuth           = "auth"
	FrameChannelJoin    = "channel.join"
	FrameChannelLeave   = "channel.leave"
	FrameWorkspaceJoin  = "workspace.join"
	FrameReadMark       = "read.mark"
	FrameTypingStart    = "typing.start"
	FrameTypingStop     = "typing.stop"
	FrameReactionAdd    = "reaction.add"
	FrameReactionRemove = "reaction.remove"
	FramePing           = "ping"
	FrameAck            = "ack"
	FrameMessageSend    = "message.send"
)

// Outbound frame kinds.
const (
	FrameAuthOK          = "auth.ok"
	FrameAuthErr         = "auth.err"
	FrameError           = "error"
	FrameChannelJoined   = "channel.joined"
	FrameChannelLeft     = "channel.left"
	FrameMessageNew      = "message.new"
	FrameMessageUpdated  = "message.updated"
	FrameMessageDeleted  = "message.deleted"
	FrameReactionAdded   = "reaction.added"
	FrameReactionRemoved = "reaction.removed"
	FramePresenceOnline  = "presence.online"
	FramePresenceOffline = "presence.offline"
	FrameReadUpdated     = "read.updated"
	FrameTypingUpdate    = "typing.update"
	FramePong            = "pong"
	FrameAckResponse     = "ack.response"
	FrameMemberJoined    = "workspace.member_joined"
	FrameMembersList     = "workspace.members_list"
	FrameChannelCreated  = "channel.created"
)

// --- inbound payloads ---

type AuthPayload struct {
	Token string `json:"token"`
}

type ChannelRef struct {
	ChannelID uuid.UUID `json:"channelId"`
}

type WorkspaceRef struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
}

type ReadMarkPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	MessageID uuid.UUID `json:"messageId"`
}

type ReactionPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	Emoji     string    `json:"emoji"`
}

type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type AckPayload struct {
	MsgID   uuid.UUID `json:"msgId"`
	AckType string    `json:"ackType"` // "delivered" or "read"
}

type MessageSendPayload struct {
	ChannelID   uuid.UUID  `json:"channelId"`
	Content     string     `json:"content"`
	Type        string     `json:"type,omitempty"`
	ParentID    *uuid.UUID `json:"parentId,omitempty"`
	ClientMsgID string     `json:"clientMsgId,omitempty"`
}

// --- outbound payloads ---

type AuthOKPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type AuthErrPayload struct {
	Reason string `json:"reason"`
}

type RoomMemberPayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
}

type PresencePayload struct {
	UserID      uuid.UUID `json:"userId"`
	WorkspaceID uuid.UUID `json:"workspaceId"`
}

type ReadUpdatedPayload struct {
	ChannelID         uuid.UUID `json:"channelId"`
	UserID            uuid.UUID `json:"userId"`
	LastReadMessageID uuid.UUID `json:"lastReadMessageId"`
}

type TypingUpdatePayload struct {
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
	IsTyping  bool      `json:"isTyping"`
}

type PongPayload struct {
	Timestamp  int64 `json:"timestamp"`
	ServerTime int64 `json:"serverTime"`
}

type AckResponsePayload struct {
	MsgID  uuid.UUID `json:"msgId"`
	SeqID  uint64    `json:"seqId,string,omitempty"`
	Status string    `json:"status"`
}

type ReactionEventPayload struct {
	MessageID uuid.UUID `json:"messageId"`
	ChannelID uuid.UUID `json:"channelId"`
	UserID    uuid.UUID `json:"userId"`
	Emoji     string    `json:"emoji"`
}

type MemberJoinedPayload struct {
	WorkspaceID uuid.UUID `json:"workspaceId"`
	UserID      uuid.UUID `json:"userId"`
}

type WorkspaceMemberEntry struct {
	UserID uuid.UUID `json:"userId"`
	Online bool      `json:"online"`
}

// MembersListPayload is the workspace roster sent once to a socket that
// joins a workspace room.
type MembersListPayload struct {
	WorkspaceID uuid.UUID              `json:"workspaceId"`
	Members     []WorkspaceMemberEntry `json:"members"`
}
