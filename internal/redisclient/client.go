package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AcquireResolution claims the right to resolve an order's checkout across
// service instances. Returns false when another process already holds the
// claim. The TTL bounds how long a crashed claimant can block retries.
func (c *Client) AcquireResolution(ctx context.Context, orderID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, resolutionKey(orderID), "1", ttl).Result()
}

// ReleaseResolution drops a claim so the order can be picked up again, used
// when the claimant fails before completing its side effects.
func (c *Client) ReleaseResolution(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, resolutionKey(orderID)).Err()
}

func resolutionKey(orderID string) string {
	return fmt.Sprintf("resolution:%s", orderID)
}
