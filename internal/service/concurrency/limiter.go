package concurrency

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])
local current = tonumber(redis.call('GET', key) or '0')
if current < limit then
  current = redis.call('INCR', key)
  if ttl > 0 then
    redis.call('PEXPIRE', key, ttl)
  end
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
local key = KEYS[1]
local current = tonumber(redis.call('GET', key) or '0')
if current <= 0 then
  redis.call('DEL', key)
  return 0
end
return redis.call('DECR', key)
`)

// Limiter caps the number of calls an agent holds open across all worker
// processes, using a Redis counter per agent name.
type Limiter struct {
	client *redis.Client
	prefix string
	limit  int
	ttl    time.Duration
}

// NewLimiter constructs a limiter. A limit of zero or less disables it.
func NewLimiter(client *redis.Client, prefix string, limit int, ttl time.Duration) *Limiter {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Limiter{client: client, prefix: prefix, limit: limit, ttl: ttl}
}

// Enabled reports whether a limit is configured.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Acquire attempts to reserve a call slot for agent.
func (l *Limiter) Acquire(ctx context.Context, agent string) (bool, error) {
	if !l.Enabled() {
		return true, nil
	}
	res, err := acquireScript.Run(ctx, l.client, []string{l.key(agent)}, l.limit, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("concurrency acquire: %w", err)
	}
	return res == 1, nil
}

// Release frees a previously acquired slot.
func (l *Limiter) Release(ctx context.Context, agent string) error {
	if !l.Enabled() {
		return nil
	}
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key(agent)}).Int(); err != nil {
		return fmt.Errorf("concurrency release: %w", err)
	}
	return nil
}

// Wait polls until a slot is free or ctx ends. The returned func releases it.
func (l *Limiter) Wait(ctx context.Context, agent string, poll time.Duration) (func(context.Context) error, error) {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	for {
		ok, err := l.Acquire(ctx, agent)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if ok {
			return func(rctx context.Context) error { return l.Release(rctx, agent) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

func (l *Limiter) key(agent string) string {
	return fmt.Sprintf("%s:agent:%s:active", l.prefix, agent)
}
