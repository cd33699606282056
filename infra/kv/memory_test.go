package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundtrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session:u1:s1", "payload", 0))
	got, err := s.Get(ctx, "session:u1:s1")
	require.NoError(t, err)
	require.Equal(t, "payload", got)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "typing:c1:u1", "1", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := s.Get(ctx, "typing:c1:u1")
	require.ErrorIs(t, err, ErrNotFound)

	// Expired keys are invisible to pattern scans too.
	keys, err := s.Keys(ctx, "typing:*")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestMemoryStoreSetNX(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "presence:u1", "1", 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.SetNX(ctx, "presence:u1", "1", 0)
	require.NoError(t, err)
	require.False(t, ok)

	// An expired key counts as absent.
	require.NoError(t, s.Set(ctx, "lock:x", "1", 5*time.Millisecond))
	time.Sleep(10 * time.Millisecond)
	ok, err = s.SetNX(ctx, "lock:x", "2", 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestMemoryStoreDelCountsExisting(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "a", "1", 0))
	require.NoError(t, s.Set(ctx, "b", "1", 0))

	n, err := s.Del(ctx, "a", "b", "c")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = s.Del(ctx, "a")
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestMemoryStoreExpireRenewsTTL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session:u1:s1", "x", 20*time.Millisecond))
	ok, err := s.Expire(ctx, "session:u1:s1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, err = s.Get(ctx, "session:u1:s1")
	require.NoError(t, err)

	ok, err = s.Expire(ctx, "missing", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreKeysPattern(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "session:u1:s1", "x", 0))
	require.NoError(t, s.Set(ctx, "session:u1:s2", "x", 0))
	require.NoError(t, s.Set(ctx, "session:u2:s1", "x", 0))
	require.NoError(t, s.Set(ctx, "presence:u1", "x", 0))

	keys, err := s.Keys(ctx, "session:u1:*")
	require.NoError(t, err)
	require.Len(t, keys, 2)

	keys, err = s.Keys(ctx, "session:*")
	require.NoError(t, err)
	require.Len(t, keys, 3)
}
