package event

type Kind int16

//go:generate stringer -type=Kind
const (
	Connected Kind = iota + 1 // [SYSTEM]
	Disconnected
	MessageCreated // [BUSINESS]
	MessageUpdated
	MessageDeleted
	PresenceOnline
	PresenceOffline
	TypingUpdate
	ReactionAdded
	ReactionRemoved
	ReadUpdated
	ChannelJoined
	ChannelLeft
	ChannelCreated
	MemberJoined
)

type Priority int32

const (
	PriorityLow    Priority = 10
	PriorityNormal Priority = 20
	PriorityHigh   Priority = 30
)

// Eventer defines the contract for all data packets flowing through the Hub.
//
// Room is the delivery scope ("channel:<id>" or "workspace:<id>"); the hub
// resolves it to the locally connected members. The cached slot holds the
// transport serialization so marshalling happens once per node regardless of
// how many sockets receive the event.
type Eventer interface {
	GetID() string
	GetRoom() string
	GetKind() Kind
	GetPriority() Priority
	GetOccurredAt() int64
	GetPayload() any
	GetCached() any
	SetCached(any)
}
