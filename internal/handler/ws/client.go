package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/webitel/im-messaging-service/internal/domain/model"
	"github.com/webitel/im-messaging-service/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-messaging-service/internal/handler/marshaller/ws"
)

// client is one authenticated socket: a read pump dispatching inbound frames
// and a write pump draining the connector mailbox. Writes from both pumps
// are serialized by writeMu since gorilla permits one concurrent writer.
type client struct {
	handler  *Handler
	ws       *websocket.Conn
	conn     registry.Connector
	userID   uuid.UUID
	socketID uuid.UUID

	writeMu sync.Mutex
}

func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writePump(ctx)
	}()

	c.readPump(ctx)
	cancel()
	// Unblock the write pump if it is parked on Recv.
	_ = c.ws.Close()
	wg.Wait()
}

func (c *client) readPump(ctx context.Context) {
	// A silent socket past two heartbeat intervals is dead from our side
	// regardless of what the kernel thinks.
	idle := 2 * c.handler.cfg.HeartbeatInterval
	for {
		_ = c.ws.SetReadDeadline(time.Now().Add(idle))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}
		handle, ok := c.handler.dispatch[frame.Type]
		if !ok {
			c.sendError("unknown frame type: " + frame.Type)
			continue
		}
		if err := handle(ctx, c, frame.Payload); err != nil {
			c.handler.logger.Debug("frame rejected",
				slog.String("type", frame.Type),
				slog.String("user_id", c.userID.String()),
				slog.Any("error", err))
			c.sendError(err.Error())
		}
	}
}

func (c *client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.conn.Recv():
			if !ok {
				// Mailbox closed: the hub evicted or shut down this cell.
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
					time.Now().Add(time.Second))
				return
			}
			data, err := wsmarshaller.Marshal(ev)
			if err != nil {
				c.handler.logger.Error("marshal event failed",
					slog.String("event_id", ev.GetID()), slog.Any("error", err))
				continue
			}
			if !c.write(data) {
				return
			}
		}
	}
}

func (c *client) write(data []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.handler.logger.Warn("ws write failed",
			slog.String("user_id", c.userID.String()), slog.Any("error", err))
		return false
	}
	return true
}

// send frames a reply produced by the read pump (pong, acks, errors).
func (c *client) send(frameType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(&model.Frame{Type: frameType, Payload: raw})
	if err != nil {
		return
	}
	c.write(data)
}

func (c *client) sendError(reason string) {
	c.send(model.FrameError, map[string]string{"reason": reason})
}
