package broadcast

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// WorkspaceBroadcaster fans workspace-scoped signals out to every workspace
// the subject belongs to. Presence is workspace-scoped on the wire: a user
// going online is announced once per workspace room, not per channel.
type WorkspaceBroadcaster struct {
	bus   *Broadcaster
	store WorkspaceLister
	log   *slog.Logger
}

// WorkspaceLister is the slice of the store the broadcaster needs.
type WorkspaceLister interface {
	WorkspacesOf(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
}

func NewWorkspaceBroadcaster(bus *Broadcaster, store WorkspaceLister, log *slog.Logger) *WorkspaceBroadcaster {
	return &WorkspaceBroadcaster{bus: bus, store: store, log: log.With(slog.String("comp", "presence"))}
}

// UserOnline announces the offline->online edge in every workspace of the
// user. Best effort per workspace: one failed publish does not stop the rest.
func (w *WorkspaceBroadcaster) UserOnline(ctx context.Context, userID uuid.UUID) error {
	return w.presence(ctx, userID, event.PresenceOnline)
}

// UserOffline announces the online->offline edge.
func (w *WorkspaceBroadcaster) UserOffline(ctx context.Context, userID uuid.UUID) error {
	return w.presence(ctx, userID, event.PresenceOffline)
}

func (w *WorkspaceBroadcaster) presence(ctx context.Context, userID uuid.UUID, kind event.Kind) error {
	workspaces, err := w.store.WorkspacesOf(ctx, userID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, wsID := range workspaces {
		err := w.bus.Room(ctx, model.WorkspaceRoom(wsID), kind, event.PriorityLow,
			model.PresencePayload{UserID: userID, WorkspaceID: wsID})
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if err != nil {
			w.log.Warn("presence publish failed",
				slog.String("workspace_id", wsID.String()), slog.Any("error", err))
		}
	}
	return firstErr
}

// MemberJoined announces a new workspace member to the workspace room.
func (w *WorkspaceBroadcaster) MemberJoined(ctx context.Context, workspaceID, userID uuid.UUID) error {
	return w.bus.Room(ctx, model.WorkspaceRoom(workspaceID), event.MemberJoined, event.PriorityNormal,
		model.MemberJoinedPayload{WorkspaceID: workspaceID, UserID: userID})
}

// ChannelCreated announces a new channel to the workspace room so clients can
// refresh their channel lists.
func (w *WorkspaceBroadcaster) ChannelCreated(ctx context.Context, ch *model.Channel) error {
	return w.bus.Room(ctx, model.WorkspaceRoom(ch.WorkspaceID), event.ChannelCreated, event.PriorityNormal,
		map[string]any{
			"channelId":   ch.ID,
			"workspaceId": ch.WorkspaceID,
			"name":        ch.Name,
			"channelType": ch.Type,
		})
}
