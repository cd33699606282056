// Package session keeps the distributed device-session records and the
// presence marks derived from them.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/webitel/im-messaging-service/infra/kv"
	"github.com/webitel/im-messaging-service/internal/domain/model"
)

// Registry owns the session:{userId}:{socketId} records in the shared KV
// store. Records carry a TTL of twice the heartbeat interval, renewed on
// every ping, so sessions of a vanished node expire on their own.
//
// The presence:{userId} mark exists iff the user has at least one live
// session anywhere in the cluster. Register and Unregister report the
// offline->online and online->offline edges exactly once per transition,
// regardless of how many devices the user has connected.
type Registry struct {
	kv        kv.Store
	heartbeat time.Duration
	log       *slog.Logger
}

func NewRegistry(store kv.Store, heartbeat time.Duration, log *slog.Logger) *Registry {
	return &Registry{kv: store, heartbeat: heartbeat, log: log.With(slog.String("comp", "session"))}
}

// TTL is the session record lifetime: two heartbeat intervals, so a single
// lost ping never evicts a healthy connection.
func (r *Registry) TTL() time.Duration { return 2 * r.heartbeat }

func sessionKey(userID, socketID uuid.UUID) string {
	return "session:" + userID.String() + ":" + socketID.String()
}

func sessionPattern(userID uuid.UUID) string {
	return "session:" + userID.String() + ":*"
}

func presenceKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}

// Register stores the session record and reports whether this is the user's
// first live session (the offline->online edge).
func (r *Registry) Register(ctx context.Context, sess *model.DeviceSession) (bool, error) {
	raw, err := json.Marshal(sess)
	if err != nil {
		return false, fmt.Errorf("marshal session: %w", err)
	}
	if err := r.kv.Set(ctx, sessionKey(sess.UserID, sess.SocketID), string(raw), r.TTL()); err != nil {
		return false, fmt.Errorf("store session: %w", err)
	}
	// SetNX is the transition detector: exactly one concurrent registrant
	// observes the mark being created.
	first, err := r.kv.SetNX(ctx, presenceKey(sess.UserID), string(model.PresenceOnline), 0)
	if err != nil {
		return false, fmt.Errorf("mark presence: %w", err)
	}
	return first, nil
}

// Renew refreshes the record TTL and its last-active timestamp. Called on
// every heartbeat.
func (r *Registry) Renew(ctx context.Context, userID, socketID uuid.UUID) error {
	key := sessionKey(userID, socketID)
	raw, err := r.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		// Record already expired; the connection is a zombie from the
		// registry's point of view and must re-register.
		return kv.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	var sess model.DeviceSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	sess.LastActiveTime = time.Now().UnixMilli()
	out, err := json.Marshal(&sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return r.kv.Set(ctx, key, string(out), r.TTL())
}

// Unregister removes the record and reports whether it was the user's last
// live session (the online->offline edge).
func (r *Registry) Unregister(ctx context.Context, userID, socketID uuid.UUID) (bool, error) {
	if _, err := r.kv.Del(ctx, sessionKey(userID, socketID)); err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	remaining, err := r.kv.Keys(ctx, sessionPattern(userID))
	if err != nil {
		return false, fmt.Errorf("list sessions: %w", err)
	}
	if len(remaining) > 0 {
		return false, nil
	}
	// The Del count makes the offline edge exact: only the caller that
	// actually removed the mark broadcasts it.
	n, err := r.kv.Del(ctx, presenceKey(userID))
	if err != nil {
		return false, fmt.Errorf("clear presence: %w", err)
	}
	return n > 0, nil
}

// SessionsOf lists the user's live session records across all nodes.
func (r *Registry) SessionsOf(ctx context.Context, userID uuid.UUID) ([]*model.DeviceSession, error) {
	keys, err := r.kv.Keys(ctx, sessionPattern(userID))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*model.DeviceSession, 0, len(keys))
	for _, key := range keys {
		raw, err := r.kv.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue // expired between Keys and Get
		}
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		var sess model.DeviceSession
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			r.log.Warn("skipping malformed session record", slog.String("key", key))
			continue
		}
		out = append(out, &sess)
	}
	return out, nil
}

// IsOnline reports whether the user has any live session in the cluster.
func (r *Registry) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := r.kv.Get(ctx, presenceKey(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AllSessions lists every live session record in the cluster. Used by the
// sweeper.
func (r *Registry) AllSessions(ctx context.Context) ([]*model.DeviceSession, error) {
	keys, err := r.kv.Keys(ctx, "session:*")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*model.DeviceSession, 0, len(keys))
	for _, key := range keys {
		raw, err := r.kv.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var sess model.DeviceSession
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			r.log.Warn("skipping malformed session record", slog.String("key", key))
			continue
		}
		out = append(out, &sess)
	}
	return out, nil
}

// PresentUsers lists users that currently hold a presence mark.
func (r *Registry) PresentUsers(ctx context.Context) ([]uuid.UUID, error) {
	keys, err := r.kv.Keys(ctx, "presence:*")
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	out := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		id, err := uuid.Parse(key[len("presence:"):])
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}
