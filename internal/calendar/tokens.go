package calendar

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisTokenStore keeps sync tokens under calendar:sync_token:<calendarID>.
type RedisTokenStore struct {
	client *redis.Client
}

func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client}
}

func tokenKey(calendarID string) string {
	return "calendar:sync_token:" + calendarID
}

func (s *RedisTokenStore) GetSyncToken(ctx context.Context, calendarID string) (string, error) {
	token, err := s.client.Get(ctx, tokenKey(calendarID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return token, err
}

func (s *RedisTokenStore) SetSyncToken(ctx context.Context, calendarID, token string) error {
	return s.client.Set(ctx, tokenKey(calendarID), token, 0).Err()
}

func (s *RedisTokenStore) ClearSyncToken(ctx context.Context, calendarID string) error {
	return s.client.Del(ctx, tokenKey(calendarID)).Err()
}
