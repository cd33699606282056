package model

import "github.com/google/uuid"

// UserChannelReadStatus tracks per-member unread state.
//
// LastReadSeqID and LastAckedSeqID are monotonic. LastObservedSeqID is the
// replay guard for the post-broadcast worker: an unread increment is applied
// only when the incoming seq exceeds both LastReadSeqID and
// LastObservedSeqID, so redelivered outbox events cannot double-count.
type UserChannelReadStatus struct {
	UserID            uuid.UUID
	ChannelID         uuid.UUID
	LastReadMessageID *uuid.UUID
	LastReadSeqID     uint64
	LastAckedSeqID    uint64
	LastObservedSeqID uint64
	UnreadCount       uint64
	UpdatedAt         int64
}
