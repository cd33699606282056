package router

import (
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// dedupCache is the fast path of send idempotency: a bounded TTL'd map from
// (channelId, clientMsgId) to the committed message id. The partial unique
// index on the messages table remains the authority; the cache only saves a
// round-trip for the common quick-retry case, so losing entries is harmless.
type dedupCache struct {
	lru *lru.LRU[string, uuid.UUID]
}

func newDedupCache(size int, ttl time.Duration) *dedupCache {
	return &dedupCache{lru: lru.NewLRU[string, uuid.UUID](size, nil, ttl)}
}

func dedupKey(channelID uuid.UUID, clientMsgID string) string {
	return channelID.String() + "/" + clientMsgID
}

func (c *dedupCache) get(channelID uuid.UUID, clientMsgID string) (uuid.UUID, bool) {
	return c.lru.Get(dedupKey(channelID, clientMsgID))
}

func (c *dedupCache) put(channelID uuid.UUID, clientMsgID string, messageID uuid.UUID) {
	c.lru.Add(dedupKey(channelID, clientMsgID), messageID)
}
