// Package cache 提供模板树缓存和后台任务标记的统一访问方式。
// 后端可以是 Redis，也可以是本地文件目录，启动时通过探测选择。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"content-system-go/pkg/log"
)

// KeyPrefix 会加在所有缓存键之前。
const KeyPrefix = "WEBSITES_CONTENT_SYSTEM_"

var (
	// ErrMiss 表示键不存在。
	ErrMiss = errors.New("cache: key not found")
	// ErrUnavailable 表示没有可用的缓存后端。
	ErrUnavailable = errors.New("cache: backend unavailable")
)

// Backend 是缓存后端需要实现的能力集合。
type Backend interface {
	// Kind 返回后端名称，用于日志。
	Kind() string
	// Get 返回键对应的原始字节，不存在时返回 ErrMiss。
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// IsAvailable 是轻量的存活探测，预期内的不可用返回 false 而不是 panic。
	IsAvailable(ctx context.Context) bool
	// Acquire 原子地把标记从 未设置/"0" 置为 "1"，成功时返回 true。
	// ttl 大于 0 时，超过 ttl 的标记视为过期。
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 把标记写回 "0"。
	Release(ctx context.Context, key string) error
}

// Cache 在 Backend 之上负责键前缀和 JSON 编解码。
// backend 为 nil 或者后端出错时，所有操作都退化为 no-op，错误只记录日志。
type Cache struct {
	backend Backend
}

// New 创建一个使用指定后端的 Cache，backend 为 nil 时得到一个禁用的缓存。
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Kind 返回当前后端名称。
func (c *Cache) Kind() string {
	if !c.enabled() {
		return "disabled"
	}
	return c.backend.Kind()
}

func (c *Cache) enabled() bool {
	return c != nil && c.backend != nil
}

func key(k string) string {
	return KeyPrefix + k
}

// Raw 返回键对应的原始字节。
func (c *Cache) Raw(ctx context.Context, k string) ([]byte, bool) {
	if !c.enabled() {
		return nil, false
	}
	data, err := c.backend.Get(ctx, key(k))
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			log.Warnf("读取缓存 '%s' 失败 (%s): %v", k, c.backend.Kind(), err)
		}
		return nil, false
	}
	return data, true
}

// Get 返回解码后的值。内容不是合法 JSON 时返回原始字符串；不存在或为 null 时返回 nil。
func (c *Cache) Get(ctx context.Context, k string) interface{} {
	data, ok := c.Raw(ctx, k)
	if !ok {
		return nil
	}
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return string(data)
	}
	return value
}

// GetInto 把缓存内容解码到 dst 中。不存在、为 null 或解码失败时返回 false。
func (c *Cache) GetInto(ctx context.Context, k string, dst interface{}) bool {
	data, ok := c.Raw(ctx, k)
	if !ok || len(data) == 0 || string(data) == "null" {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Warnf("缓存 '%s' 内容无法解码: %v", k, err)
		return false
	}
	return true
}

// Set 把值编码为 JSON 后写入缓存，成功时返回 true。
func (c *Cache) Set(ctx context.Context, k string, value interface{}) bool {
	if !c.enabled() {
		return false
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Warnf("缓存值 '%s' 无法编码: %v", k, err)
		return false
	}
	if err := c.backend.Set(ctx, key(k), data); err != nil {
		log.Warnf("写入缓存 '%s' 失败 (%s): %v", k, c.backend.Kind(), err)
		return false
	}
	return true
}

// Delete 删除一个键。
func (c *Cache) Delete(ctx context.Context, k string) {
	if !c.enabled() {
		return
	}
	if err := c.backend.Delete(ctx, key(k)); err != nil {
		log.Warnf("删除缓存 '%s' 失败 (%s): %v", k, c.backend.Kind(), err)
	}
}

// IsAvailable 报告缓存后端当前是否可用。
func (c *Cache) IsAvailable(ctx context.Context) bool {
	return c.enabled() && c.backend.IsAvailable(ctx)
}

// Acquire 尝试获取一个标记。缓存不可用时返回 true，此时不提供互斥。
func (c *Cache) Acquire(ctx context.Context, k string, ttl time.Duration) bool {
	if !c.enabled() {
		return true
	}
	ok, err := c.backend.Acquire(ctx, key(k), ttl)
	if err != nil {
		log.Warnf("获取标记 '%s' 失败 (%s): %v", k, c.backend.Kind(), err)
		return true
	}
	return ok
}

// Release 释放一个标记。
func (c *Cache) Release(ctx context.Context, k string) {
	if !c.enabled() {
		return
	}
	if err := c.backend.Release(ctx, key(k)); err != nil {
		log.Warnf("释放标记 '%s' 失败 (%s): %v", k, c.backend.Kind(), err)
	}
}

// IsFlagSet 报告标记当前是否被持有。
func (c *Cache) IsFlagSet(ctx context.Context, k string) bool {
	switch v := c.Get(ctx, k).(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != "" && v != "0"
	default:
		return true
	}
}
