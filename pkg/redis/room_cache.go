package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/music-room-server/pkg/models"
)

var ErrCacheMiss = errors.New("cache miss")

const (
	roomKeyPrefix  = "room:"
	presenceKeyFmt = "room:%s:presence"
	presenceTTL    = 6 * time.Hour
	defaultRoomTTL = 24 * time.Hour
)

// RoomCache keeps rooms by code and per-room presence counters shared
// by every server instance.
type RoomCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomCache(client *redis.Client, ttl time.Duration) *RoomCache {
	if ttl <= 0 {
		ttl = defaultRoomTTL
	}
	return &RoomCache{client: client, ttl: ttl}
}

func roomKey(code string) string {
	return roomKeyPrefix + code
}

func presenceKey(code string) string {
	return fmt.Sprintf(presenceKeyFmt, code)
}

func (c *RoomCache) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	data, err := c.client.Get(ctx, roomKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, errors.Wrap(err, "failed to get room")
	}

	var room models.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal room")
	}
	return &room, nil
}

func (c *RoomCache) SetRoom(ctx context.Context, room *models.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return errors.Wrap(err, "failed to marshal room")
	}
	if err := c.client.Set(ctx, roomKey(room.Code), data, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to cache room")
	}
	return nil
}

// AddPresence counts one more connection for the participant in the room.
func (c *RoomCache) AddPresence(ctx context.Context, code, participantID string) error {
	key := presenceKey(code)
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, key, participantID, 1)
	pipe.Expire(ctx, key, presenceTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to record presence")
	}
	return nil
}

// RemovePresence drops one connection and forgets the participant once
// none remain.
func (c *RoomCache) RemovePresence(ctx context.Context, code, participantID string) error {
	key := presenceKey(code)
	left, err := c.client.HIncrBy(ctx, key, participantID, -1).Result()
	if err != nil {
		return errors.Wrap(err, "failed to release presence")
	}
	if left <= 0 {
		if err := c.client.HDel(ctx, key, participantID).Err(); err != nil {
			return errors.Wrap(err, "failed to clear presence")
		}
	}
	return nil
}

// ListenerCount is the number of distinct participants present in the room.
func (c *RoomCache) ListenerCount(ctx context.Context, code string) (int64, error) {
	n, err := c.client.HLen(ctx, presenceKey(code)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "failed to count listeners")
	}
	return n, nil
}
