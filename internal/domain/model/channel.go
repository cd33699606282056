package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

//go:generate stringer -type=ChannelType
type ChannelType int16

const (
	ChannelPublic ChannelType = iota + 1
	ChannelPrivate
	ChannelDirect
)

// Wire returns the JSON representation of the type.
func (t ChannelType) Wire() string {
	switch t {
	case ChannelPrivate:
		return "private"
	case ChannelDirect:
		return "direct"
	default:
		return "public"
	}
}

// ParseChannelType maps the wire name back; unknown names default to public.
func ParseChannelType(s string) ChannelType {
	switch s {
	case "private":
		return ChannelPrivate
	case "direct":
		return ChannelDirect
	default:
		return ChannelPublic
	}
}

// Channel is a destination for messages. MaxSeqID is the per-channel sequence
// high-water mark; it only moves forward and only inside the message-insert
// transaction.
type Channel struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Type        ChannelType
	Name        string
	MaxSeqID    uint64
	CreatedAt   int64
}

// ChannelMember is active iff LeftAt is nil. Leaving is soft so history and
// read state survive re-joins.
type ChannelMember struct {
	ChannelID uuid.UUID
	UserID    uuid.UUID
	JoinedAt  int64
	LeftAt    *time.Time
}

func (m *ChannelMember) Active() bool { return m.LeftAt == nil }

// ChannelRoom returns the room name a channel's events are delivered to.
func ChannelRoom(channelID uuid.UUID) string {
	return fmt.Sprintf("channel:%s", channelID)
}

// WorkspaceRoom returns the room name for workspace-wide events (presence,
// membership changes).
func WorkspaceRoom(workspaceID uuid.UUID) string {
	return fmt.Sprintf("workspace:%s", workspaceID)
}
