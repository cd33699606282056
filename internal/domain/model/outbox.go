package model

import "github.com/google/uuid"

type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxCompleted OutboxStatus = "completed"
	OutboxFailed    OutboxStatus = "failed"
)

// MessageOutbox is co-committed with its message. A message counts as
// delivered only once this row reaches "completed"; anything that crashes
// in between is picked up by the outbox scanner.
type MessageOutbox struct {
	ID          int64
	MessageID   uuid.UUID
	ChannelID   uuid.UUID
	Payload     []byte // broadcast envelope, sufficient to replay the fan-out
	Status      OutboxStatus
	CreatedAt   int64
	CompletedAt *int64
}
