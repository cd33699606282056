package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/internal/domain/registry"
)

// deliveryMiddleware wraps the Deliverer with structured access logging.
type deliveryMiddleware struct {
	next   Deliverer
	logger *slog.Logger
}

func (m *deliveryMiddleware) Subscribe(ctx context.Context, userID uuid.UUID) (registry.Connector, error) {
	start := time.Now()
	conn, err := m.next.Subscribe(ctx, userID)
	if err != nil {
		m.logger.Error("subscribe failed",
			slog.String("user_id", userID.String()),
			slog.Any("error", err))
		return nil, err
	}
	m.logger.Debug("subscribed",
		slog.String("user_id", userID.String()),
		slog.String("conn_id", conn.GetID().String()),
		slog.Duration("took", time.Since(start)))
	return conn, nil
}

func (m *deliveryMiddleware) Unsubscribe(userID, connID uuid.UUID) {
	m.next.Unsubscribe(userID, connID)
	m.logger.Debug("unsubscribed",
		slog.String("user_id", userID.String()),
		slog.String("conn_id", connID.String()))
}
