package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"socialauth/internal/domain"
)

// redisKV es el subconjunto de *redis.Client usado por los stores.
type redisKV interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const redisOpTimeout = 500 * time.Millisecond

func redisSetJSON(ctx context.Context, client redisKV, key string, v any, ttl time.Duration) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func redisGetJSON(ctx context.Context, client redisKV, key string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return decodeRedisJSON(key, client.Get(ctx, key), v)
}

// redisGetDelJSON lee y borra la clave con GETDEL, atomico en el servidor.
func redisGetDelJSON(ctx context.Context, client redisKV, key string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	return decodeRedisJSON(key, client.GetDel(ctx, key), v)
}

func decodeRedisJSON(key string, cmd *redis.StringCmd, v any) error {
	raw, err := cmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func redisDel(ctx context.Context, client redisKV, key string) error {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}
