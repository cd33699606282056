package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	"github.com/webitel/im-messaging-service/internal/store"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (Websocket/Long-poll)
type Deliverer interface {
	Subscribe(ctx context.Context, userID uuid.UUID) (registry.Connector, error)
	Unsubscribe(userID, connID uuid.UUID)
}

// [IMPLEMENTATION] PRIVATE TO ENFORCE INTERFACE USAGE
type DeliveryService struct {
	hub   registry.Hubber
	store *store.Store
}

// NewDeliveryService returns a production-ready instance of the service.
func NewDeliveryService(hub registry.Hubber, st *store.Store) *DeliveryService {
	return &DeliveryService{
		hub:   hub,
		store: st,
	}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
//
// Besides attaching the connector, the user's cell joins every room it is
// entitled to (active channels plus workspaces), so bus events start landing
// on this socket the moment Subscribe returns.
func (s *DeliveryService) Subscribe(ctx context.Context, userID uuid.UUID) (registry.Connector, error) {
	// [STRATEGY] We can adjust buffer size based on Platform or User Priority from meta
	const defaultBufferSize = 1024

	// 1. Create a connector (Internal logic uses sync.Pool for zero-allocation)
	conn := registry.NewConnector(ctx, userID, defaultBufferSize)

	// 2. Attach to the sharded dispatcher
	s.hub.Register(conn)

	// 3. Join entitled rooms from the membership tables
	if err := s.joinRooms(ctx, userID); err != nil {
		s.hub.Unregister(userID, conn.GetID())
		return nil, err
	}

	return conn, nil
}

func (s *DeliveryService) joinRooms(ctx context.Context, userID uuid.UUID) error {
	channels, err := s.store.ChannelsOf(ctx, userID)
	if err != nil {
		return fmt.Errorf("load channel memberships: %w", err)
	}
	for _, chID := range channels {
		s.hub.JoinRoom(model.ChannelRoom(chID), userID)
	}
	workspaces, err := s.store.WorkspacesOf(ctx, userID)
	if err != nil {
		return fmt.Errorf("load workspace memberships: %w", err)
	}
	for _, wsID := range workspaces {
		s.hub.JoinRoom(model.WorkspaceRoom(wsID), userID)
	}
	return nil
}

// [UNSUBSCRIBE] TRIGGERS CLEANUP AND OBJECT RECYCLING
func (s *DeliveryService) Unsubscribe(userID, connID uuid.UUID) {
	// Hub.Unregister closes the connector, which resets the object and puts
	// it back into the pool; the last detach leaves every room.
	s.hub.Unregister(userID, connID)
}
