package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// FileBackend 把每个键保存为目录下的一个文件，写入通过原子替换完成。
type FileBackend struct {
	dir string
}

// NewFileBackend 在 {baseDir}/tree-cache 下创建一个文件后端。
func NewFileBackend(baseDir string) (*FileBackend, error) {
	dir := filepath.Join(baseDir, "tree-cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir 返回缓存文件所在目录。
func (b *FileBackend) Dir() string { return b.dir }

func (b *FileBackend) Kind() string { return "file" }

func (b *FileBackend) path(key string) string {
	return filepath.Join(b.dir, strings.ReplaceAll(key, string(os.PathSeparator), "_"))
}

func (b *FileBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrMiss
	}
	return data, err
}

func (b *FileBackend) Set(_ context.Context, key string, value []byte) error {
	return atomic.WriteFile(b.path(key), bytes.NewReader(value))
}

func (b *FileBackend) Delete(_ context.Context, key string) error {
	err := os.Remove(b.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (b *FileBackend) IsAvailable(context.Context) bool {
	info, err := os.Stat(b.dir)
	return err == nil && info.IsDir()
}

// Acquire 通过独占创建锁文件实现比较并交换，超过 ttl 的锁文件会被接管。
func (b *FileBackend) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lock := b.path(key) + ".lock"
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d", os.Getpid())
			_ = f.Close()
			return true, b.Set(ctx, key, []byte("1"))
		}
		if !errors.Is(err, fs.ErrExist) {
			return false, err
		}
		info, statErr := os.Stat(lock)
		if statErr != nil || ttl <= 0 || time.Since(info.ModTime()) <= ttl {
			return false, nil
		}
		// 持有者已超时，删除锁文件后重试一次
		if rmErr := os.Remove(lock); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			return false, rmErr
		}
	}
	return false, nil
}

func (b *FileBackend) Release(ctx context.Context, key string) error {
	if err := b.Set(ctx, key, []byte("0")); err != nil {
		return err
	}
	err := os.Remove(b.path(key) + ".lock")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
