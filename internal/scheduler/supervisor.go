// Package scheduler 管理后台任务：周期重建模板树、同步工单状态以及进程内的下载 worker。
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"content-system-go/pkg/log"
)

// Handle 是一个由 Supervisor 启动的后台任务。
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Name 返回任务名。
func (h *Handle) Name() string { return h.name }

// Stop 取消任务，不等待它退出。
func (h *Handle) Stop() { h.cancel() }

// Done 在任务退出后关闭。
func (h *Handle) Done() <-chan struct{} { return h.done }

// Supervisor 持有所有后台任务，Shutdown 时统一取消并等待它们退出。
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// NewSupervisor 创建一个 Supervisor，parent 取消时所有任务随之取消。
func NewSupervisor(parent context.Context) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	return &Supervisor{ctx: ctx, cancel: cancel, handles: make(map[*Handle]struct{})}
}

// Go 在新的 goroutine 中运行 fn，fn 应在 ctx 取消后尽快返回。
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(s.ctx)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.handles[h] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("后台任务 %s panic: %v", name, r)
			}
			cancel()
			s.mu.Lock()
			delete(s.handles, h)
			s.mu.Unlock()
			close(h.done)
		}()
		fn(ctx)
	}()
	return h
}

// Every 立即运行一次 fn，之后每隔 interval 运行一次，直到任务被取消。
// fn 返回的错误只记录日志，单次运行中的 panic 不会终止任务。
func (s *Supervisor) Every(name string, interval time.Duration, fn func(ctx context.Context) error) *Handle {
	return s.Go(name, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			runOnce(ctx, name, fn)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

func runOnce(ctx context.Context, name string, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("定时任务 %s panic: %v", name, r)
		}
	}()
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		log.Warnf("定时任务 %s 执行失败: %v", name, err)
	}
}

// Running 返回仍在运行的任务名（按名称排序）。
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handles))
	for h := range s.handles {
		names = append(names, h.name)
	}
	sort.Strings(names)
	return names
}

// Shutdown 取消所有任务并最多等待 timeout，返回超时后仍未退出的任务。
func (s *Supervisor) Shutdown(timeout time.Duration) error {
	s.cancel()

	s.mu.Lock()
	pending := make([]*Handle, 0, len(s.handles))
	for h := range s.handles {
		pending = append(pending, h)
	}
	s.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, h := range pending {
		select {
		case <-h.Done():
		case <-deadline.C:
			stuck := s.Running()
			log.Warnf("%d 个后台任务未能在 %s 内退出: %v", len(stuck), timeout, stuck)
			return fmt.Errorf("后台任务未退出: %v", stuck)
		}
	}
	log.Info("所有后台任务已退出")
	return nil
}
