package user

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCodeStore keeps verification codes in Redis so they expire on their
// own and survive server restarts.
type RedisCodeStore struct {
	client *redis.Client
}

func NewRedisCodeStore(client *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{client: client}
}

func (s *RedisCodeStore) Set(ctx context.Context, key, code string, ttl time.Duration) error {
	return s.client.SetEx(ctx, key, code, ttl).Err()
}

func (s *RedisCodeStore) Get(ctx context.Context, key string) (string, error) {
	code, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrCodeNotFound
		}
		return "", err
	}
	return code, nil
}

func (s *RedisCodeStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// LogMailer stands in for a real mail sender during development.
type LogMailer struct{}

func (LogMailer) SendVerificationCode(email, code string) error {
	log.Printf("📧 OTP for %s: %s", email, code)
	return nil
}
