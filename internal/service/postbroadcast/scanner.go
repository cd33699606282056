package postbroadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/webitel/im-messaging-service/internal/domain/event"
	"github.com/webitel/im-messaging-service/internal/metrics"
	"github.com/webitel/im-messaging-service/internal/service/broadcast"
	"github.com/webitel/im-messaging-service/internal/store"
)

// Scanner is the outbox safety net. Rows stay pending when the router
// crashed between commit and publish, or when the broker lost the task; the
// scanner periodically re-publishes anything pending older than a grace
// period. Re-publishing an already in-flight task is harmless because the
// worker is idempotent.
type Scanner struct {
	store    *store.Store
	bus      *broadcast.Broadcaster
	interval time.Duration
	grace    time.Duration
	batch    int
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewScanner(st *store.Store, bus *broadcast.Broadcaster, interval, grace time.Duration, batch int, log *slog.Logger) *Scanner {
	return &Scanner{
		store:    st,
		bus:      bus,
		interval: interval,
		grace:    grace,
		batch:    batch,
		log:      log.With(slog.String("comp", "outbox-scanner")),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scanner) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.Scan(context.Background()); err != nil {
					s.log.Error("outbox scan failed", slog.Any("error", err))
				}
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Scanner) Stop() {
	close(s.stop)
	<-s.done
}

// Scan runs one pass: pending rows older than the grace period are
// re-published as tasks. Each publish retries with exponential backoff
// before the row is skipped until the next pass.
func (s *Scanner) Scan(ctx context.Context) error {
	cutoff := time.Now().Add(-s.grace).UnixMilli()
	rows, err := s.store.PendingOutbox(ctx, cutoff, s.batch)
	if err != nil {
		return err
	}
	for _, row := range rows {
		task := &event.OutboxTask{
			OutboxID:  row.ID,
			MessageID: row.MessageID,
			ChannelID: row.ChannelID,
		}
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, s.bus.OutboxTask(ctx, task)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
		if err != nil {
			s.log.Warn("re-publish failed, retrying next pass",
				slog.Int64("outbox_id", row.ID), slog.Any("error", err))
			continue
		}
		metrics.OutboxRescans.Inc()
		s.log.Info("re-published stale outbox row",
			slog.Int64("outbox_id", row.ID),
			slog.String("message_id", row.MessageID.String()))
	}
	return nil
}
