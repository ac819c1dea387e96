// Package cache holds the shared Redis connection used by the embedding and
// chat-history caches. Redis is optional: every consumer tolerates a nil
// client and falls back to the backing store.
package cache

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// Client returns the shared Redis client, or (nil, nil) when REDIS_ADDR is
// unset and caching is disabled. REDIS_PASSWORD and REDIS_DB are optional.
func Client() (*redis.Client, error) {
	redisOnce.Do(func() {
		addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
		if addr == "" {
			return
		}

		db := 0
		if rawDB := strings.TrimSpace(os.Getenv("REDIS_DB")); rawDB != "" {
			if parsed, err := strconv.Atoi(rawDB); err == nil {
				db = parsed
			}
		}

		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       db,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			redisErr = fmt.Errorf("cache: ping redis %s failed: %w", addr, err)
			_ = client.Close()
			return
		}

		redisClient = client
	})

	return redisClient, redisErr
}

// Enabled reports whether a usable Redis client was initialized.
func Enabled() bool {
	client, err := Client()
	return err == nil && client != nil
}

// Close releases the shared connection. Mainly useful for tests.
func Close() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}
