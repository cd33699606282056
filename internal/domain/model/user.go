package model

import "github.com/google/uuid"

//go:generate stringer -type=UserType
type UserType int16

const (
	// [ZERO_VALUE_GUARD] WE START FROM 1 TO DISTINGUISH FROM UNINITIALIZED DATA
	UserHuman UserType = iota + 1
	UserBot
	UserSystem
)

// User is a stable identity. Bots may carry a webhook target that receives
// message envelopes for channels the bot is a member of.
type User struct {
	ID         uuid.UUID
	Type       UserType
	Name       string
	WebhookURL string
	Active     bool
}

// IsBot reports whether the user is an active bot with a configured webhook.
func (u *User) IsBot() bool {
	return u.Type == UserBot
}

// Wire returns the JSON form of the user type.
func (t UserType) Wire() string {
	switch t {
	case UserBot:
		return "bot"
	case UserSystem:
		return "system"
	default:
		return "human"
	}
}

type WorkspaceRole int16

const (
	RoleOwner WorkspaceRole = iota + 1
	RoleAdmin
	RoleMember
	RoleGuest
)

// Workspace is the tenant boundary: it owns channels and groups members.
type Workspace struct {
	ID   uuid.UUID
	Name string
}

type WorkspaceMember struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	Role        WorkspaceRole
}
