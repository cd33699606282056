package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/store"
)

var ErrNotWorkspaceMember = errors.New("router: user is not a workspace member")

// CreateChannel creates a channel and enrolls the creator as its first
// member. All creation goes through here regardless of transport, so the
// workspace announcement happens exactly once.
func (r *Router) CreateChannel(ctx context.Context, workspaceID, creatorID uuid.UUID, name string, typ model.ChannelType) (*model.Channel, error) {
	member, err := r.store.IsWorkspaceMember(ctx, workspaceID, creatorID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotWorkspaceMember
	}

	ch := &model.Channel{
		ID:          uuid.Must(uuid.NewV7()),
		WorkspaceID: workspaceID,
		Type:        typ,
		Name:        name,
		CreatedAt:   time.Now().UnixMilli(),
	}
	if err := r.store.CreateChannel(ctx, ch); err != nil {
		return nil, err
	}
	if err := r.store.AddChannelMember(ctx, ch.ID, creatorID); err != nil {
		return nil, err
	}
	if err := r.workspaces.ChannelCreated(ctx, ch); err != nil {
		r.log.Warn("channel.created publish failed",
			slog.String("channel_id", ch.ID.String()), slog.Any("error", err))
	}
	return ch, nil
}

// JoinChannel enrolls the user; idempotent. Connected members of the channel
// learn about it through the room event, offline ones through sync.
func (r *Router) JoinChannel(ctx context.Context, channelID, userID uuid.UUID) error {
	ch, err := r.store.GetChannel(ctx, channelID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrChannelNotFound
	}
	if err != nil {
		return err
	}
	member, err := r.store.IsWorkspaceMember(ctx, ch.WorkspaceID, userID)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotWorkspaceMember
	}
	if err := r.store.AddChannelMember(ctx, channelID, userID); err != nil {
		return err
	}
	if err := r.bus.Room(ctx, model.ChannelRoom(channelID), event.ChannelJoined, event.PriorityNormal,
		model.RoomMemberPayload{ChannelID: channelID, UserID: userID}); err != nil {
		r.log.Warn("channel.joined publish failed",
			slog.String("channel_id", channelID.String()), slog.Any("error", err))
	}
	return nil
}

// LeaveChannel soft-removes the membership; history stays readable up to the
// seq the member had observed.
func (r *Router) LeaveChannel(ctx context.Context, channelID, userID uuid.UUID) error {
	if err := r.store.RemoveChannelMember(ctx, channelID, userID); err != nil {
		return err
	}
	if err := r.bus.Room(ctx, model.ChannelRoom(channelID), event.ChannelLeft, event.PriorityNormal,
		model.RoomMemberPayload{ChannelID: channelID, UserID: userID}); err != nil {
		r.log.Warn("channel.left publish failed",
			slog.String("channel_id", channelID.String()), slog.Any("error", err))
	}
	return nil
}
