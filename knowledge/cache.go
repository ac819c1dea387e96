package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	embeddingCacheTTL     = 24 * time.Hour
	embeddingCacheTimeout = 300 * time.Millisecond
)

// embeddingCache keeps recently computed vectors in Redis so re-ingesting the
// same rows does not hit the embedding service again. All methods are nil-safe
// so the service works without Redis configured.
type embeddingCache struct {
	client *redis.Client
	model  string
}

func newEmbeddingCache(client *redis.Client, model string) *embeddingCache {
	if client == nil {
		return nil
	}
	return &embeddingCache{client: client, model: model}
}

func (c *embeddingCache) cacheContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), embeddingCacheTimeout)
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= embeddingCacheTimeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, embeddingCacheTimeout)
}

// key hashes the model and text together so a model switch never serves
// vectors from the previous model.
func (c *embeddingCache) key(text string) string {
	if c == nil || c.client == nil || text == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return "knowledge:embedding:" + hex.EncodeToString(sum[:])
}

func (c *embeddingCache) get(ctx context.Context, text string) ([]float32, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	key := c.key(text)
	if key == "" {
		return nil, false
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("knowledge: read embedding cache failed: %v", err)
		}
		return nil, false
	}

	var vector []float32
	if err := json.Unmarshal(data, &vector); err != nil || len(vector) == 0 {
		return nil, false
	}
	return vector, true
}

func (c *embeddingCache) store(ctx context.Context, text string, vector []float32) {
	if c == nil || c.client == nil || len(vector) == 0 {
		return
	}
	key := c.key(text)
	if key == "" {
		return
	}

	payload, err := json.Marshal(vector)
	if err != nil {
		log.Printf("knowledge: marshal embedding cache payload failed: %v", err)
		return
	}

	ctx, cancel := c.cacheContext(ctx)
	defer cancel()

	if err := c.client.Set(ctx, key, payload, embeddingCacheTTL).Err(); err != nil {
		log.Printf("knowledge: store embedding cache failed: %v", err)
	}
}
