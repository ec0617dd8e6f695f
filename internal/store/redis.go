package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hushroom/hushroom/internal/models"
)

const (
	frameCacheTTL  = 24 * time.Hour
	frameCacheSize = 500 // recent frames kept per room

	violationTTL = time.Hour
	blockTTL     = 24 * time.Hour
	// Violations within violationTTL before an address is blocked.
	blockThreshold = 10
)

// RedisStore is an optional hot cache in front of the SQL store: it keeps
// the most recent ciphertext frames per room for the history endpoint, and
// tracks rate-limit violations for temporary IP blocking. The server runs
// fully without it.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func roomFramesKey(roomID string) string {
	return fmt.Sprintf("room:%s:frames", roomID)
}

// CacheMessage stores a ciphertext frame in the room's recent-frame set.
func (s *RedisStore) CacheMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomFramesKey(msg.RoomID)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.CreatedAt),
		Member: string(data),
	})
	// Trim to the newest frameCacheSize entries
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-frameCacheSize-1))
	pipe.Expire(ctx, key, frameCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentMessages returns up to limit cached frames newest first, older than
// beforeTs when beforeTs > 0. A nil slice with nil error means cache miss
// territory: callers should fall back to the SQL store.
func (s *RedisStore) RecentMessages(ctx context.Context, roomID string, limit int, beforeTs int64) ([]models.Message, error) {
	max := "+inf"
	if beforeTs > 0 {
		max = "(" + strconv.FormatInt(beforeTs, 10)
	}

	raw, err := s.client.ZRevRangeByScore(ctx, roomFramesKey(roomID), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(raw))
	for _, entry := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			continue // skip corrupt entries, SQL store is authoritative
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// InvalidateRoom drops the cached frames for a room.
func (s *RedisStore) InvalidateRoom(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomFramesKey(roomID)).Err()
}

// TrackViolation counts a rate-limit violation for an address and blocks it
// once it crosses the threshold. Returns true if the address is now blocked.
func (s *RedisStore) TrackViolation(ctx context.Context, addr string) bool {
	key := fmt.Sprintf("violations:ip:%s", addr)
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false
	}
	s.client.Expire(ctx, key, violationTTL)

	if count >= blockThreshold {
		s.BlockIP(ctx, addr, blockTTL)
		return true
	}
	return false
}

// IsBlocked checks whether an address is temporarily blocked.
func (s *RedisStore) IsBlocked(ctx context.Context, addr string) bool {
	exists, _ := s.client.Exists(ctx, fmt.Sprintf("blocked:ip:%s", addr)).Result()
	return exists > 0
}

// BlockIP blocks an address for the given duration.
func (s *RedisStore) BlockIP(ctx context.Context, addr string, d time.Duration) {
	s.client.Set(ctx, fmt.Sprintf("blocked:ip:%s", addr), "rate-limit violations", d)
}

// UnblockIP removes a block.
func (s *RedisStore) UnblockIP(ctx context.Context, addr string) {
	s.client.Del(ctx, fmt.Sprintf("blocked:ip:%s", addr))
}
