// Package blacklist хранит идентификаторы отозванных токенов в Redis.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable оборачивает любую ошибку Redis.
var ErrRedisUnavailable = errors.New("blacklist redis unavailable")

// minTTL держит уже истёкший токен в списке ещё немного, чтобы запрос
// на границе истечения не проскочил.
const minTTL = time.Second

// RedisBlacklist отзывает jti записью "bl:<jti>" с TTL до момента,
// когда токен истёк бы сам.
type RedisBlacklist struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// New создаёт RedisBlacklist. Пустой prefix заменяется на "bl".
func New(redisClient redis.UniversalClient, prefix string) *RedisBlacklist {
	if prefix == "" {
		prefix = "bl"
	}
	return &RedisBlacklist{redis: redisClient, prefix: prefix, now: time.Now}
}

func (b *RedisBlacklist) key(jti string) string {
	return b.prefix + ":" + jti
}

// Revoke заносит jti в чёрный список до указанного момента.
func (b *RedisBlacklist) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := until.Sub(b.now())
	if ttl < minTTL {
		ttl = minTTL
	}
	if err := b.redis.Set(ctx, b.key(jti), 1, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// IsRevoked сообщает, отозван ли jti.
func (b *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.redis.Exists(ctx, b.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n == 1, nil
}

// NewClient подключается к Redis и проверяет соединение.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
