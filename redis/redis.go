// Package redis caches session token liveness. The store degrades
// gracefully: without a reachable redis, tokens rely on their embedded
// expiry alone.
package redis

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const tokenPrefix = "session:"

type Cache struct {
	client *redis.Client
}

// New connects to redis at addr. A failed ping returns a disabled cache
// rather than an error.
func New(addr string) *Cache {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.Println("Redis not available. Running without Redis.")
		return &Cache{}
	}
	log.Println("Redis connected successfully.")
	return &Cache{client: client}
}

// NewWithClient wraps an existing client. Tests use it with miniredis.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Enabled reports whether a backing redis is connected.
func (c *Cache) Enabled() bool {
	return c.client != nil
}

// StoreToken marks the token live for ttl.
func (c *Cache) StoreToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}
	return c.client.Set(ctx, tokenPrefix+token, userID, ttl).Err()
}

// TokenLive reports whether the token is still live. Without redis every
// structurally valid token passes.
func (c *Cache) TokenLive(ctx context.Context, token string) bool {
	if c.client == nil {
		return true
	}
	_, err := c.client.Get(ctx, tokenPrefix+token).Result()
	return err == nil
}

// RevokeToken drops the token, ending its session immediately.
func (c *Cache) RevokeToken(ctx context.Context, token string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, tokenPrefix+token).Err()
}
