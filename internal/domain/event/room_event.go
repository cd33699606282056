package event

import (
	"time"

	"github.com/google/uuid"
)

// [GUARD] Ensure compliance with the Eventer interface.
var _ Eventer = (*RoomEvent)(nil)

// RoomEvent is the universal envelope for signals fanned out to a room:
// presence transitions, typing, reactions, read receipts, membership changes
// and the message broadcast itself.
type RoomEvent struct {
	id         string
	room       string
	kind       Kind
	priority   Priority
	occurredAt int64
	payload    any
	cached     any // transport-specific serialization, computed once
}

func (e *RoomEvent) GetID() string         { return e.id }
func (e *RoomEvent) GetRoom() string       { return e.room }
func (e *RoomEvent) GetKind() Kind         { return e.kind }
func (e *RoomEvent) GetPriority() Priority { return e.priority }
func (e *RoomEvent) GetOccurredAt() int64  { return e.occurredAt }
func (e *RoomEvent) GetPayload() any       { return e.payload }
func (e *RoomEvent) GetCached() any        { return e.cached }
func (e *RoomEvent) SetCached(v any)       { e.cached = v }

// NewRoomEvent is a universal factory for creating any room-scoped signal.
func NewRoomEvent(room string, kind Kind, priority Priority, payload any) *RoomEvent {
	return &RoomEvent{
		id:         uuid.NewString(),
		room:       room,
		kind:       kind,
		priority:   priority,
		occurredAt: time.Now().UnixMilli(),
		payload:    payload,
	}
}
