package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// Sweeper evicts zombie sessions: records whose last activity is older than
// twice the heartbeat interval. A zombie's TCP connection may still look open
// to the kernel; the gateway hooks OnZombie to force-close the local socket
// and broadcast the offline edge when it was the user's last session.
//
// The sweeper also reconciles orphan presence marks left behind when a node
// dies and its session records expire by TTL.
type Sweeper struct {
	reg      *Registry
	interval time.Duration
	log      *slog.Logger

	onZombie func(sess *model.DeviceSession, lastSession bool)
	onOrphan func(userID uuid.UUID)

	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

func NewSweeper(reg *Registry, interval time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{
		reg:      reg,
		interval: interval,
		log:      log.With(slog.String("comp", "sweeper")),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnZombie registers the eviction hook. Must be called before Start.
func (s *Sweeper) OnZombie(fn func(sess *model.DeviceSession, lastSession bool)) {
	s.onZombie = fn
}

// OnOrphanPresence registers the hook fired when a presence mark survives
// its sessions. Must be called before Start.
func (s *Sweeper) OnOrphanPresence(fn func(userID uuid.UUID)) {
	s.onOrphan = fn
}

func (s *Sweeper) Start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(context.Background())
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

// Sweep runs one eviction pass. Exported so one-shot passes can be driven
// directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.reg.TTL()).UnixMilli()

	sessions, err := s.reg.AllSessions(ctx)
	if err != nil {
		s.log.Error("sweep: list sessions", slog.Any("error", err))
		return
	}
	alive := make(map[uuid.UUID]bool, len(sessions))
	for _, sess := range sessions {
		if sess.LastActiveTime >= cutoff {
			alive[sess.UserID] = true
			continue
		}
		last, err := s.reg.Unregister(ctx, sess.UserID, sess.SocketID)
		if err != nil {
			s.log.Error("sweep: evict session", slog.Any("error", err),
				slog.String("user_id", sess.UserID.String()))
			continue
		}
		s.log.Info("evicted zombie session",
			slog.String("user_id", sess.UserID.String()),
			slog.String("socket_id", sess.SocketID.String()),
			slog.String("node_id", sess.NodeID),
			slog.Bool("last_session", last))
		if s.onZombie != nil {
			s.onZombie(sess, last)
		}
	}

	// Orphan presence marks: node crashed, records expired by TTL, mark
	// never cleared.
	present, err := s.reg.PresentUsers(ctx)
	if err != nil {
		s.log.Error("sweep: list presence", slog.Any("error", err))
		return
	}
	for _, userID := range present {
		if alive[userID] {
			continue
		}
		remaining, err := s.reg.kv.Keys(ctx, sessionPattern(userID))
		if err != nil || len(remaining) > 0 {
			continue
		}
		n, err := s.reg.kv.Del(ctx, presenceKey(userID))
		if err != nil || n == 0 {
			continue
		}
		s.log.Info("cleared orphan presence", slog.String("user_id", userID.String()))
		if s.onOrphan != nil {
			s.onOrphan(userID)
		}
	}
}
