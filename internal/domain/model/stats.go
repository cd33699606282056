package model

import "time"

// HubStats is a point-in-time snapshot of the local delivery hub, exposed on
// /debug/stats and rendered by the monitor command.
type HubStats struct {
	NodeID           string        `json:"node_id"`
	TotalUsers       int           `json:"total_users"`
	TotalConnections int           `json:"total_connections"`
	TotalRooms       int           `json:"total_rooms"`
	Uptime           time.Duration `json:"uptime"`
}
