package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/voice-load-test/internal/telephony"
)

// RoomIndex remembers which provider call carries each room, so any agent
// process can tear a room down.
type RoomIndex struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRoomIndex builds an index whose entries expire after ttl.
func NewRoomIndex(client *redis.Client, prefix string, ttl time.Duration) *RoomIndex {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RoomIndex{client: client, prefix: prefix, ttl: ttl}
}

func (i *RoomIndex) Bind(ctx context.Context, room, callSID string) error {
	if err := i.client.Set(ctx, i.key(room), callSID, i.ttl).Err(); err != nil {
		return fmt.Errorf("room index: bind %s: %w", room, err)
	}
	return nil
}

func (i *RoomIndex) Lookup(ctx context.Context, room string) (string, error) {
	sid, err := i.client.Get(ctx, i.key(room)).Result()
	if errors.Is(err, redis.Nil) {
		return "", telephony.ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("room index: lookup %s: %w", room, err)
	}
	return sid, nil
}

func (i *RoomIndex) Remove(ctx context.Context, room string) error {
	if err := i.client.Del(ctx, i.key(room)).Err(); err != nil {
		return fmt.Errorf("room index: remove %s: %w", room, err)
	}
	return nil
}

func (i *RoomIndex) key(room string) string {
	return fmt.Sprintf("%s:room:%s", i.prefix, room)
}
