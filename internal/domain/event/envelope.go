package event

import (
	"encoding/json"

	"github.com/google/uuid"
)

// MessageEnvelope is the broadcast form of a committed message. It is stored
// verbatim in the outbox row, published on the bus for gateway fan-out, and
// posted to bot webhooks, so it has to be sufficient to reconstruct the
// delivery without another read of the message row.
type MessageEnvelope struct {
	MsgID       uuid.UUID            `json:"msgId"`
	ChannelID   uuid.UUID            `json:"channelId"`
	SenderID    uuid.UUID            `json:"senderId"`
	SeqID       uint64               `json:"seqId,string"`
	Type        string               `json:"type"`
	Content     string               `json:"content"`
	ParentID    *uuid.UUID           `json:"parentId,omitempty"`
	RootID      *uuid.UUID           `json:"rootId,omitempty"`
	ClientMsgID string               `json:"clientMsgId,omitempty"`
	Attachments []EnvelopeAttachment `json:"attachments,omitempty"`
	Timestamp   int64                `json:"timestamp"`
}

type EnvelopeAttachment struct {
	ID       uuid.UUID `json:"id"`
	URL      string    `json:"url"`
	FileName string    `json:"fileName,omitempty"`
	MimeType string    `json:"mimeType,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// BusEvent is the cross-node wire format. Every gateway node consumes the
// fan-out topic through its own queue and replays the event into its local
// hub; the origin node takes the same path, so there is exactly one delivery
// code path.
type BusEvent struct {
	ID         string          `json:"id"`
	Origin     string          `json:"origin"` // node id of the publisher
	Room       string          `json:"room"`
	Kind       Kind            `json:"kind"`
	Priority   Priority        `json:"priority"`
	OccurredAt int64           `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// ToRoomEvent rehydrates the bus wire format into a deliverable event.
// The payload stays raw; the transport marshaller embeds it as-is.
func (b *BusEvent) ToRoomEvent() *RoomEvent {
	return &RoomEvent{
		id:         b.ID,
		room:       b.Room,
		kind:       b.Kind,
		priority:   b.Priority,
		occurredAt: b.OccurredAt,
		payload:    b.Payload,
	}
}

// OutboxTask points the post-broadcast worker at a committed outbox row.
type OutboxTask struct {
	OutboxID  int64     `json:"outbox_id"`
	MessageID uuid.UUID `json:"message_id"`
	ChannelID uuid.UUID `json:"channel_id"`
}

type NotificationKind string

const (
	NotificationDM      NotificationKind = "dm"
	NotificationReply   NotificationKind = "reply"
	NotificationMention NotificationKind = "mention"
)

// NotificationTask is published for downstream notification renderers.
// Delivery is at-least-once; consumers deduplicate by MessageID.
type NotificationTask struct {
	Kind          NotificationKind `json:"kind"`
	MessageID     uuid.UUID        `json:"message_id"`
	ChannelID     uuid.UUID        `json:"channel_id"`
	SenderID      uuid.UUID        `json:"sender_id"`
	TargetUserID  *uuid.UUID       `json:"target_user_id,omitempty"`
	BroadcastType string           `json:"broadcast_type,omitempty"` // "everyone" or "here"
	ThreadReply   bool             `json:"thread_reply,omitempty"`
	RootSenderID  *uuid.UUID       `json:"root_sender_id,omitempty"`
}
