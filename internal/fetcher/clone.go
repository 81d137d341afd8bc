package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"content-system-go/pkg/log"

	"github.com/google/uuid"
)

// GitRunner 执行一次浅克隆。
type GitRunner interface {
	Clone(ctx context.Context, url, branch, dest string) error
}

// ExecGit 通过 git 命令行克隆仓库。
type ExecGit struct{}

// Clone runs `git clone --depth 1 --branch <branch> <url> <dest>`.
func (ExecGit) Clone(ctx context.Context, url, branch, dest string) error {
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--branch", branch, url, dest)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone failed: %w\n%s", err, string(output))
	}
	return nil
}

// URLResolver 返回仓库的克隆地址。
type URLResolver interface {
	CloneURL(repository string) string
}

// Cloner 以整库克隆的方式同步仓库：先克隆到临时目录，再原子地替换工作目录。
type Cloner struct {
	git  GitRunner
	urls URLResolver
	flag Flag
	opts Options
}

// NewCloner 创建一个 Cloner。
func NewCloner(git GitRunner, urls URLResolver, flag Flag, opts Options) *Cloner {
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	return &Cloner{git: git, urls: urls, flag: flag, opts: opts}
}

func (c *Cloner) RepoPath(repository string) string {
	return RepoPath(c.opts.BaseDir, repository)
}

// Fetch 获取后台任务标记后克隆仓库，失败时按配置重试。
// 标记在所有返回路径上都会被释放。
func (c *Cloner) Fetch(ctx context.Context, repository, branch string) error {
	key := FlagKey(repository)
	if !c.flag.Acquire(ctx, key, c.opts.LockTTL) {
		return ErrCloneInProgress
	}
	defer c.flag.Release(context.WithoutCancel(ctx), key)

	var lastErr error
	for attempt := 1; attempt <= c.opts.Retries; attempt++ {
		lastErr = c.cloneOnce(ctx, repository, branch)
		if lastErr == nil {
			log.Infof("仓库 %s 克隆完成 (第 %d 次尝试)", repository, attempt)
			return nil
		}
		log.Warnf("克隆仓库 %s 失败 (第 %d/%d 次): %v", repository, attempt, c.opts.Retries, lastErr)
		if attempt == c.opts.Retries {
			break
		}
		if err := sleep(ctx, c.opts.RetryDelay); err != nil {
			return &FetchError{Repository: repository, Attempts: attempt, Err: err}
		}
	}
	return &FetchError{Repository: repository, Attempts: c.opts.Retries, Err: lastErr}
}

func (c *Cloner) cloneOnce(ctx context.Context, repository, branch string) error {
	live := c.RepoPath(repository)
	parent := filepath.Dir(live)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("创建仓库目录失败: %w", err)
	}

	tmp := filepath.Join(parent, fmt.Sprintf(".%s-%s", filepath.Base(live), uuid.NewString()))
	if err := c.git.Clone(ctx, c.urls.CloneURL(repository), branch, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}
	return swap(live, tmp)
}

// swap 用 tmp 替换 live：live -> backup，tmp -> live，最后删除 backup。
func swap(live, tmp string) error {
	backup := live + ".bak"
	_ = os.RemoveAll(backup)

	hadLive := true
	if err := os.Rename(live, backup); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			_ = os.RemoveAll(tmp)
			return fmt.Errorf("备份工作目录失败: %w", err)
		}
		hadLive = false
	}
	if err := os.Rename(tmp, live); err != nil {
		if hadLive {
			_ = os.Rename(backup, live)
		}
		_ = os.RemoveAll(tmp)
		return fmt.Errorf("替换工作目录失败: %w", err)
	}
	if hadLive {
		if err := os.RemoveAll(backup); err != nil {
			log.Warnf("删除备份目录 %s 失败: %v", backup, err)
		}
	}
	return nil
}
