package model

import "github.com/google/uuid"

// DeviceSession is one live connection of one user. Many per user are
// expected (web, mobile, desktop). The record is owned by the gateway node
// that accepted the socket and carries a TTL renewed by heartbeats, so a
// vanished node's sessions self-expire.
type DeviceSession struct {
	UserID         uuid.UUID `json:"user_id"`
	SocketID       uuid.UUID `json:"socket_id"`
	NodeID         string    `json:"node_id"`
	Platform       string    `json:"platform,omitempty"`
	DeviceID       string    `json:"device_id,omitempty"`
	LoginTime      int64     `json:"login_time"`
	LastActiveTime int64     `json:"last_active_time"`
}

type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
)
