package redis

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/voice-load-test/internal/config"
)

// Client owns the go-redis connection shared by the run registry, the room
// index and the call limiter.
type Client struct {
	inner *redis.Client
}

// NewClient connects and pings. The client is closed again if the ping fails.
// Commands honour the deadline of the context they are issued with, which the
// limiter relies on while polling for a free slot.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		ClientName:            "voice-load-test",
		ContextTimeoutEnabled: true,
		Addr:                  cfg.Address,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		DialTimeout:           cfg.DialTimeout,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		PoolSize:              cfg.PoolSize,
		MinIdleConns:          cfg.MinIdleConns,
		MaxRetries:            cfg.MaxRetries,
	})

	c := &Client{inner: client}
	if err := c.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return c, nil
}

// Ping checks the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.inner.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Inner is the raw client handed to the key-space owners.
func (c *Client) Inner() *redis.Client {
	return c.inner
}
