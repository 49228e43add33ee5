package repository

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// TokenRepository 用 Redis 维护已登出 token 的黑名单。
type TokenRepository interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

type redisTokenRepository struct {
	redisClient *redis.Client
}

// NewTokenRepository 创建一个新的 TokenRepository 实例。
func NewTokenRepository(redisClient *redis.Client) TokenRepository {
	return &redisTokenRepository{redisClient: redisClient}
}

// Revoke 把 token 加入黑名单，过期时间等于 token 的剩余有效期。
func (r *redisTokenRepository) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.redisClient.Set(ctx, "blacklist:"+token, "true", ttl).Err()
}

func (r *redisTokenRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	err := r.redisClient.Get(ctx, "blacklist:"+token).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
