/*
Package registry provides the node-local event distribution hub.

Key architectural concepts:
  - Virtual Cells: every locally connected user is represented by an isolated
    'Cell' (Actor) that encapsulates all concurrent sockets (device sessions)
    for that identity.
  - Rooms: channels and workspaces map to named rooms; the hub resolves a
    room to its locally connected members and pushes one event per user cell.
  - Decoupling & Backpressure: per-user mailboxes ensure that slow network
    consumers do not block global system throughput.
  - Concurrency: lock-free cell lookups via sync.Map and fine-grained locking
    inside individual cells; the room index is guarded by a single RWMutex.
*/
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/event"
)

// Celler defines the internal API for user-specific delivery units.
type Celler interface {
	Push(ev event.Eventer) bool
	Attach(conn Connector)
	Detach(connID uuid.UUID) bool
	Connections() int
	IsIdle(timeout time.Duration) bool
	Stop()
}

// Cell implements [ISOLATED_DELIVERY] logic for a single user.
type Cell struct {
	userID uuid.UUID

	// [MAILBOX]
	// Buffered channel that decouples the global dispatcher from individual
	// delivery. It acts as a shock absorber: slow consumer latency cannot
	// propagate back to the Hub or the broker consumers.
	mailbox chan event.Eventer

	// [SESSIONS]
	// All active transports for the user. One event is multiplexed to every
	// device (mobile, web, desktop).
	sessions map[uuid.UUID]Connector

	// RWMutex: read-heavy delivery outnumbers registration events.
	mu sync.RWMutex

	doneCh chan struct{}

	// lastActivityAt records the last time an event was processed for this cell.
	lastActivityAt time.Time
}

func NewCell(userID uuid.UUID, bufferSize int) *Cell {
	c := &Cell{
		userID:         userID,
		mailbox:        make(chan event.Eventer, bufferSize),
		sessions:       make(map[uuid.UUID]Connector),
		doneCh:         make(chan struct{}),
		lastActivityAt: time.Now(),
	}
	go c.loop()
	return c
}

// IsIdle returns true if the user has no active sessions and hasn't received
// events lately. Idle cells are reclaimed by the hub janitor.
func (c *Cell) IsIdle(timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions) == 0 && time.Since(c.lastActivityAt) > timeout
}

func (c *Cell) Connections() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

func (c *Cell) touch() {
	c.mu.Lock()
	c.lastActivityAt = time.Now()
	c.mu.Unlock()
}

func (c *Cell) Push(ev event.Eventer) bool {
	c.touch() // keep alive on incoming events
	select {
	case c.mailbox <- ev:
		return true
	default:
		return false
	}
}

func (c *Cell) Attach(conn Connector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now()
	c.sessions[conn.GetID()] = conn
}

// Detach removes the transport and reports whether the cell is now empty.
func (c *Cell) Detach(connID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.sessions[connID]; ok {
		delete(c.sessions, connID)
		conn.Close()
	}
	c.lastActivityAt = time.Now()
	return len(c.sessions) == 0
}

func (c *Cell) loop() {
	for {
		select {
		case <-c.doneCh:
			return
		case ev := <-c.mailbox:
			c.deliver(ev)
		}
	}
}

func (c *Cell) deliver(ev event.Eventer) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.sessions) == 0 {
		return
	}

	for _, conn := range c.sessions {
		conn.Send(ev, time.Millisecond*500)
	}
}

func (c *Cell) Stop() {
	close(c.doneCh)
}
