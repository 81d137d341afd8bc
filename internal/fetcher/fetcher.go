// Package fetcher 负责把远程站点仓库的模板文件同步到本地工作目录。
package fetcher

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"content-system-go/internal/config"
)

// BackgroundTaskPrefix 是后台任务标记键的前缀。
const BackgroundTaskPrefix = "BACKGROUND_TASK_RUNNING"

// FlagKey 返回仓库后台任务标记的缓存键。
func FlagKey(repository string) string {
	return BackgroundTaskPrefix + "-" + repository
}

// Fetcher 把仓库的当前内容同步到 RepoPath。
type Fetcher interface {
	Fetch(ctx context.Context, repository, branch string) error
	RepoPath(repository string) string
}

// Flag 是后台任务标记，由缓存实现。
type Flag interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) bool
	Release(ctx context.Context, key string)
}

// RepoPath 返回仓库在 baseDir 下的本地目录，例如 "canonical/ubuntu.com.git" -> {baseDir}/repositories/ubuntu.com。
func RepoPath(baseDir, repository string) string {
	trimmed := strings.Trim(repository, "/")
	name := trimmed[strings.LastIndex(trimmed, "/")+1:]
	name = strings.TrimSuffix(name, ".git")
	return filepath.Join(baseDir, "repositories", name)
}

// Options 是克隆重试相关的参数。
type Options struct {
	BaseDir    string
	Retries    int
	RetryDelay time.Duration
	LockTTL    time.Duration
}

// OptionsFromConfig 从同步配置中提取参数。
func OptionsFromConfig(cfg config.SyncConfig) Options {
	return Options{
		BaseDir:    cfg.BaseDir,
		Retries:    cfg.CloneRetries,
		RetryDelay: cfg.CloneRetryDelay,
		LockTTL:    cfg.LockTTL,
	}
}

// sleep 等待 d，ctx 取消时提前返回错误。
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
