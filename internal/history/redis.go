package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "history:"

// RedisStore keeps each history as a JSON string value without expiry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL parses a redis:// URL and pings the server.
func NewRedisStoreFromURL(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %w", ErrStorage, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping redis: %w", ErrStorage, err)
	}
	return NewRedisStore(client), nil
}

func (s *RedisStore) Load(ctx context.Context, userID int64) (History, bool, error) {
	val, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %d: %w", ErrStorage, userID, err)
	}
	var h History
	if err := json.Unmarshal(val, &h); err != nil {
		return nil, false, fmt.Errorf("%w: decode %d: %w", ErrStorage, userID, err)
	}
	return h, true, nil
}

func (s *RedisStore) Save(ctx context.Context, userID int64, h History) error {
	if h == nil {
		h = History{}
	}
	val, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("%w: encode %d: %w", ErrStorage, userID, err)
	}
	if err := s.client.Set(ctx, s.key(userID), val, 0).Err(); err != nil {
		return fmt.Errorf("%w: set %d: %w", ErrStorage, userID, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(userID int64) string {
	return redisKeyPrefix + strconv.FormatInt(userID, 10)
}
