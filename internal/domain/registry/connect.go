package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/im-messaging-service/internal/domain/event"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/HUB)
// This allows mocking and decoupling from the concrete implementation
type Connector interface {
	GetID() uuid.UUID
	GetUserID() uuid.UUID
	Send(ev event.Eventer, timeout time.Duration) bool // Thread-safe send with backpressure handling
	Recv() <-chan event.Eventer
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND ANALYTICS LAYERS
type ConnectMetadata struct {
	Platform  string
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	id        uuid.UUID
	userID    uuid.UUID
	metadata  ConnectMetadata
	createdAt time.Time

	ctx      context.Context
	cancelFn context.CancelFunc

	sendCh    chan event.Eventer
	closeOnce sync.Once // [PROTECTION]

	// [ATOMIC_FIELDS] Optimized for lock-free performance
	lastActivityAt int64
	droppedCount   uint64
}

// [POOL] SYNC.POOL FOR OBJECT REUSE (REDUCES GC PRESSURE)
var connectPool = sync.Pool{
	New: func() any {
		return &connect{}
	},
}

// NewConnector acquires a pooled connector bound to the given user.
// The returned connector must eventually be closed by Hub.Unregister or by
// the owning transport handler, otherwise the pooled object leaks.
func NewConnector(ctx context.Context, userID uuid.UUID, bufferSize int) Connector {
	c := connectPool.Get().(*connect)
	c.reset(ctx, userID, bufferSize)
	return c
}

// reset re-initializes the connector's internal state using a struct literal.
// Reassigning the value wipes stale data from pooled objects and rearms the
// sync.Once guard.
func (c *connect) reset(ctx context.Context, userID uuid.UUID, bufferSize int) {
	childCtx, cancel := context.WithCancel(ctx)

	*c = connect{
		id:             uuid.New(),
		userID:         userID,
		createdAt:      time.Now(),
		ctx:            childCtx,
		cancelFn:       cancel,
		sendCh:         make(chan event.Eventer, bufferSize),
		lastActivityAt: time.Now().UnixNano(),
	}
}

func (c *connect) GetID() uuid.UUID     { return c.id }
func (c *connect) GetUserID() uuid.UUID { return c.userID }

// Send attempts to push an event into the channel. It waits up to timeout
// for space so transient jitter is absorbed; a persistently full buffer
// triggers the shedding policy.
func (c *connect) Send(ev event.Eventer, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	select {
	// [LIFECYCLE_GATE] Abort if the underlying transport is already dead.
	case <-c.ctx.Done():
		return false

	case c.sendCh <- ev:
		atomic.StoreInt64(&c.lastActivityAt, time.Now().UnixNano())
		return true

	// [BACKPRESSURE_THRESHOLD] Buffer stayed saturated for the whole window:
	// a slow consumer. Shed low-priority traffic instead of blocking the cell.
	case <-ctx.Done():
		return c.handleBackpressure(ev, timeout)
	}
}

// handleBackpressure manages full buffers by dropping low-priority events.
func (c *connect) handleBackpressure(ev event.Eventer, timeout time.Duration) bool {
	// Low-priority events are dropped outright to save buffer for high priority.
	if ev.GetPriority() <= event.PriorityLow {
		atomic.AddUint64(&c.droppedCount, 1)
		return false
	}

	// Try to evict one existing low-priority event to make room.
	select {
	case oldEv := <-c.sendCh:
		if oldEv.GetPriority() < ev.GetPriority() {
			c.sendCh <- ev
			return true
		}
		// The evicted event was equally important; put it back, best effort.
		select {
		case c.sendCh <- oldEv:
		default:
		}
	case <-time.After(timeout):
	}

	atomic.AddUint64(&c.droppedCount, 1)
	return false
}

func (c *connect) Recv() <-chan event.Eventer { return c.sendCh }

// Close terminates the session, triggers cleanup, and recycles the object.
func (c *connect) Close() {
	// [IDEMPOTENCY_SHIELD] The teardown runs exactly once even when called
	// concurrently by the Hub (shutdown), Cell (eviction) and the transport
	// handler (defer).
	c.closeOnce.Do(func() {
		c.cancelFn()

		if c.sendCh != nil {
			close(c.sendCh)
		}

		// Zero references so the pooled object does not pin memory while idle.
		c.sendCh = nil
		c.metadata = ConnectMetadata{}

		connectPool.Put(c)
	})
}
