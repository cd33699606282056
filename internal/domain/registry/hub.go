package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// Hubber defines the gateway for local session management and event routing.
type Hubber interface {
	Register(conn Connector)
	Unregister(userID, connID uuid.UUID)
	JoinRoom(room string, userID uuid.UUID)
	LeaveRoom(room string, userID uuid.UUID)
	InRoom(room string, userID uuid.UUID) bool
	BroadcastRoom(ev event.Eventer) int
	BroadcastUser(userID uuid.UUID, ev event.Eventer) bool
	IsConnected(userID uuid.UUID) bool
	Stats() model.HubStats
	Shutdown()
}

type hubConfig struct {
	nodeID           string
	evictionInterval time.Duration
	idleTimeout      time.Duration
	mailboxSize      int
}

// Hub implements the node-local registry using the Virtual Cell pattern.
type Hub struct {
	// cells stores Map[uuid.UUID]Celler. Optimized for read-heavy workloads.
	cells sync.Map

	// rooms maps room name to the set of locally connected member user ids.
	// Guarded separately from cells: joins/leaves are rare next to delivery.
	roomsMu sync.RWMutex
	rooms   map[string]map[uuid.UUID]struct{}

	config    hubConfig
	startedAt time.Time
	doneCh    chan struct{}
	stopOnce  sync.Once
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		rooms: make(map[string]map[uuid.UUID]struct{}),
		config: hubConfig{
			evictionInterval: 15 * time.Minute,
			idleTimeout:      30 * time.Minute,
			mailboxSize:      2048,
		},
		startedAt: time.Now(),
		doneCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.janitor()
	return h
}

func (h *Hub) IsConnected(userID uuid.UUID) bool {
	if val, ok := h.cells.Load(userID); ok {
		return val.(Celler).Connections() > 0
	}
	return false
}

// Register ensures [IDEMPOTENT] cell creation and attaches a new transport.
func (h *Hub) Register(conn Connector) {
	uID := conn.GetUserID()
	// [LAZY_INIT] Create cell only when first connection arrives.
	val, _ := h.cells.LoadOrStore(uID, Celler(NewCell(uID, h.config.mailboxSize)))
	val.(Celler).Attach(conn)
}

// Unregister performs [GRACEFUL_RECLAMATION] of resources when sessions end.
// When the last transport of a user detaches, the cell is purged and the
// user leaves every room.
func (h *Hub) Unregister(userID, connID uuid.UUID) {
	val, ok := h.cells.Load(userID)
	if !ok {
		return
	}
	cell := val.(Celler)
	if cell.Detach(connID) {
		cell.Stop()
		h.cells.Delete(userID)
		h.leaveAllRooms(userID)
	}
}

// JoinRoom is idempotent.
func (h *Hub) JoinRoom(room string, userID uuid.UUID) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[uuid.UUID]struct{})
		h.rooms[room] = members
	}
	members[userID] = struct{}{}
}

// LeaveRoom is idempotent.
func (h *Hub) LeaveRoom(room string, userID uuid.UUID) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) InRoom(room string, userID uuid.UUID) bool {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	_, ok := h.rooms[room][userID]
	return ok
}

func (h *Hub) leaveAllRooms(userID uuid.UUID) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()
	for room, members := range h.rooms {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// BroadcastRoom pushes the event to every locally connected member of the
// event's room and returns the number of reached cells. A zero return on one
// node is normal: the room may live entirely on other nodes.
func (h *Hub) BroadcastRoom(ev event.Eventer) int {
	h.roomsMu.RLock()
	members := make([]uuid.UUID, 0, len(h.rooms[ev.GetRoom()]))
	for uID := range h.rooms[ev.GetRoom()] {
		members = append(members, uID)
	}
	h.roomsMu.RUnlock()

	delivered := 0
	for _, uID := range members {
		if h.BroadcastUser(uID, ev) {
			delivered++
		}
	}
	return delivered
}

// BroadcastUser routes the event to the user's cell. Returns false on miss
// or mailbox overflow.
func (h *Hub) BroadcastUser(userID uuid.UUID, ev event.Eventer) bool {
	if val, ok := h.cells.Load(userID); ok {
		return val.(Celler).Push(ev)
	}
	return false
}

func (h *Hub) Stats() model.HubStats {
	stats := model.HubStats{
		NodeID: h.config.nodeID,
		Uptime: time.Since(h.startedAt),
	}
	h.cells.Range(func(_, val any) bool {
		stats.TotalUsers++
		stats.TotalConnections += val.(Celler).Connections()
		return true
	})
	h.roomsMu.RLock()
	stats.TotalRooms = len(h.rooms)
	h.roomsMu.RUnlock()
	return stats
}

// janitor reclaims memory from cells whose user went quiet without a clean
// unregister (e.g. a transport that never detached).
func (h *Hub) janitor() {
	ticker := time.NewTicker(h.config.evictionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.doneCh:
			return
		case <-ticker.C:
			h.cells.Range(func(key, val any) bool {
				cell := val.(Celler)
				if cell.IsIdle(h.config.idleTimeout) {
					cell.Stop()
					h.cells.Delete(key)
					h.leaveAllRooms(key.(uuid.UUID))
				}
				return true
			})
		}
	}
}

// Shutdown stops every actor goroutine. Transports observe closed mailboxes
// and terminate their own streams.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.doneCh)
		h.cells.Range(func(key, val any) bool {
			val.(Celler).Stop()
			h.cells.Delete(key)
			return true
		})
	})
}
