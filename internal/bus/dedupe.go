package bus

import (
	"sync"
	"time"
)

const dedupeWindow = 30 * time.Second

// DedupeCache suppresses redelivery of the same inbound message within a
// short window — channel adapters (Telegram long-poll, Discord gateway
// reconnect) sometimes redeliver the same event after a reconnect.
type DedupeCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewDedupeCache returns an empty cache.
func NewDedupeCache() *DedupeCache {
	return &DedupeCache{seen: make(map[string]time.Time)}
}

// SeenInbound reports whether an equivalent message was seen within
// dedupeWindow, recording msg as seen either way.
func (c *DedupeCache) SeenInbound(msg InboundMessage) bool {
	key := msg.Channel + "|" + msg.SenderID + "|" + msg.ChatID + "|" + msg.Content

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.evictLocked(now)

	if seenAt, ok := c.seen[key]; ok && now.Sub(seenAt) < dedupeWindow {
		return true
	}
	c.seen[key] = now
	return false
}

func (c *DedupeCache) evictLocked(now time.Time) {
	for k, t := range c.seen {
		if now.Sub(t) >= dedupeWindow {
			delete(c.seen, k)
		}
	}
}
