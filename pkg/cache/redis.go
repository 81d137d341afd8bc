package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// acquireScript 只有在标记不存在或为 "0" 时才写入 "1"。
var acquireScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == false or v == '0' then
	if tonumber(ARGV[2]) > 0 then
		redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	else
		redis.call('SET', KEYS[1], ARGV[1])
	end
	return 1
end
return 0
`)

// RedisBackend 是基于 Redis 的缓存后端。
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend 创建一个 Redis 后端。
func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Kind() string { return "redis" }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	return b.rdb.Set(ctx, key, value, 0).Err()
}

func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, key).Err()
}

func (b *RedisBackend) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return b.rdb.Ping(ctx).Err() == nil
}

func (b *RedisBackend) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, b.rdb, []string{key}, "1", ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisBackend) Release(ctx context.Context, key string) error {
	return b.rdb.Set(ctx, key, "0", 0).Err()
}
