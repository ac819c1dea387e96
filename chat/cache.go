package chat

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recentTurnsCacheTTL     = 30 * time.Second
	recentTurnsCacheTimeout = 300 * time.Millisecond
)

// turnCache keeps a session's recent turns in Redis so consecutive exchanges
// skip the history query. Nil-safe; the service works without Redis.
type turnCache struct {
	client *redis.Client
}

func newTurnCache(client *redis.Client) *turnCache {
	if client == nil {
		return nil
	}
	return &turnCache{client: client}
}

func (c *turnCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), recentTurnsCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= recentTurnsCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, recentTurnsCacheTimeout)
}

func (c *turnCache) key(ownerID, sessionID string) string {
	if c == nil || c.client == nil || ownerID == "" || sessionID == "" {
		return ""
	}
	return "chat:recent:" + ownerID + ":" + sessionID
}

func (c *turnCache) get(ctx context.Context, ownerID, sessionID string) ([]Turn, bool) {
	key := c.key(ownerID, sessionID)
	if key == "" {
		return nil, false
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("chat: read recent turns cache failed: %v", err)
		}
		return nil, false
	}

	var turns []Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, false
	}
	return turns, true
}

func (c *turnCache) store(ctx context.Context, ownerID, sessionID string, turns []Turn) {
	key := c.key(ownerID, sessionID)
	if key == "" {
		return
	}

	payload, err := json.Marshal(turns)
	if err != nil {
		log.Printf("chat: marshal recent turns cache payload failed: %v", err)
		return
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	if err := c.client.Set(ctx, key, payload, recentTurnsCacheTTL).Err(); err != nil {
		log.Printf("chat: store recent turns cache failed: %v", err)
	}
}

func (c *turnCache) invalidate(ctx context.Context, ownerID, sessionID string) {
	key := c.key(ownerID, sessionID)
	if key == "" {
		return
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	if err := c.client.Del(ctx, key).Err(); err != nil {
		log.Printf("chat: invalidate recent turns cache failed: %v", err)
	}
}
