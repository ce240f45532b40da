package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// NewFromClient wraps an existing go-redis client. Used by tests to point
// the store at a miniredis instance.
func NewFromClient(client *redis.Client) *Client {
	return &Client{client: client}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// IncrWithWindow atomically increments the counter at key and returns the
// post-increment value together with the window's expiry. The expiry is
// attached only when the increment created the key, so the window is
// anchored at the first request and rolls over when the TTL lapses.
//
// A single INCR is what makes two concurrent requests with one slot left
// impossible to both admit: exactly one of them observes the value at the
// ceiling.
func (c *Client) IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}

	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, time.Time{}, err
		}
		return count, time.Now().Add(window), nil
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		// Counter exists without a TTL (Expire raced a crash); re-arm it
		// rather than let the key live forever.
		c.client.Expire(ctx, key, window)
		ttl = window
	}

	return count, time.Now().Add(ttl), nil
}
