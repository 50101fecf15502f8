package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RunRegistry claims run ids so two invocations never share room names.
type RunRegistry struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRunRegistry builds a registry whose claims expire after ttl.
func NewRunRegistry(client *redis.Client, prefix string, ttl time.Duration) *RunRegistry {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RunRegistry{client: client, prefix: prefix, ttl: ttl}
}

// Claim reports whether runID was unused and is now taken.
func (r *RunRegistry) Claim(ctx context.Context, runID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(runID), time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("run registry: claim %s: %w", runID, err)
	}
	return ok, nil
}

func (r *RunRegistry) key(runID string) string {
	return fmt.Sprintf("%s:run:%s", r.prefix, runID)
}
