package cache

import (
	"context"
	"fmt"

	"content-system-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// Init 选择缓存后端：Redis 可用时使用 Redis，否则使用 baseDir 下的文件缓存。
// 两者都不可用时返回一个禁用的 Cache 和 ErrUnavailable。
func Init(ctx context.Context, rdb *redis.Client, baseDir string) (*Cache, error) {
	if rdb != nil {
		backend := NewRedisBackend(rdb)
		if backend.IsAvailable(ctx) {
			log.Info("使用 Redis 作为树缓存")
			return New(backend), nil
		}
		log.Warnf("Redis 不可用，回退到文件缓存")
	}

	backend, err := NewFileBackend(baseDir)
	if err != nil {
		return New(nil), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !backend.IsAvailable(ctx) {
		return New(nil), ErrUnavailable
	}
	log.Infof("使用文件缓存: %s", backend.Dir())
	return New(backend), nil
}
