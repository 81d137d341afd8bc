package database

import (
	"context"
	"fmt"
	"time"

	"content-system-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。地址为空或连接失败时 RDB 为 nil，调用方回退到文件缓存。
func InitRedis(addr, password string, db int) error {
	if addr == "" {
		return fmt.Errorf("未配置 Redis 地址")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("连接 Redis 失败: %w", err)
	}

	RDB = client
	log.Info("Redis client connected successfully")
	return nil
}
