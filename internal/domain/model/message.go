package model

import "github.com/google/uuid"

//go:generate stringer -type=MessageType
type MessageType int16

const (
	MessageText MessageType = iota + 1
	MessageImage
	MessageFile
	MessageSystem
)

// Wire returns the JSON representation of the type.
func (t MessageType) Wire() string {
	switch t {
	case MessageImage:
		return "image"
	case MessageFile:
		return "file"
	case MessageSystem:
		return "system"
	default:
		return "text"
	}
}

// ParseMessageType maps the wire name back; unknown names default to text.
func ParseMessageType(s string) MessageType {
	switch s {
	case "image":
		return MessageImage
	case "file":
		return MessageFile
	case "system":
		return MessageSystem
	default:
		return MessageText
	}
}

// [MESSAGE] CORE ENTITY REPRESENTING A CONVERSATION ELEMENT
//
// Messages are immutable after commit. SeqID is unique and strictly
// increasing within a channel; it is the ordering authority for every
// consumer. RootID flattens threads to one level: for any reply it equals
// the id of the non-reply ancestor, so traversal is O(1) at read time.
type Message struct {
	ID          uuid.UUID
	ChannelID   uuid.UUID
	SenderID    uuid.UUID
	SeqID       uint64
	ClientMsgID string
	ParentID    *uuid.UUID
	RootID      *uuid.UUID
	Type        MessageType
	Content     string
	CreatedAt   int64
	UpdatedAt   int64
	IsDeleted   bool
	Attachments []*Attachment
}

type Attachment struct {
	ID       uuid.UUID
	URL      string
	FileName string
	MimeType string
	Size     int64
}

//go:generate stringer -type=MentionType
type MentionType int16

const (
	MentionUser MentionType = iota + 1
	MentionEveryone
	MentionHere
)

// Mention is parsed from message content at write time and persisted in the
// same transaction as the message row.
type Mention struct {
	MessageID       uuid.UUID
	Type            MentionType
	MentionedUserID *uuid.UUID
}
