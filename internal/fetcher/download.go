package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"content-system-go/internal/config"
	"content-system-go/pkg/github"
	"content-system-go/pkg/log"
	"content-system-go/pkg/tasks"

	"github.com/natefinch/atomic"
)

// TemplatesRoot 是仓库中模板文件所在的目录。
const TemplatesRoot = "templates"

// Dispatcher 异步投递文件下载任务。
type Dispatcher interface {
	Dispatch(ctx context.Context, task tasks.FileDownloadTask) error
}

// GitHubAPI 是 Downloader 需要的 GitHub 接口。
type GitHubAPI interface {
	GetRepositoryTree(ctx context.Context, repository, branch string) (*github.Tree, error)
	GetFileContent(ctx context.Context, repository, path string) ([]byte, error)
}

// Downloader 以逐文件下载的方式同步仓库。
// Fetch 只负责列出文件并投递任务，真正的下载由 Process 完成。
// 后台任务标记在本进程投递的所有任务完成（或被放弃）后才释放，最长不超过 LockTTL。
type Downloader struct {
	gh         GitHubAPI
	flag       Flag
	opts       Options
	dispatcher Dispatcher

	mu      sync.Mutex
	batches map[string]*batch
}

// batch 是一次 Fetch 投递的、尚未完成的下载任务。
type batch struct {
	pending map[string]struct{}
	release func()
	once    sync.Once
	timer   *time.Timer
}

func (b *batch) done() {
	b.once.Do(func() {
		if b.timer != nil {
			b.timer.Stop()
		}
		b.release()
	})
}

// NewDownloader 创建一个 Downloader，dispatcher 可以稍后通过 SetDispatcher 设置。
func NewDownloader(gh GitHubAPI, flag Flag, opts Options, dispatcher Dispatcher) *Downloader {
	return &Downloader{gh: gh, flag: flag, opts: opts, dispatcher: dispatcher, batches: make(map[string]*batch)}
}

// SetDispatcher 设置任务投递方式。
func (d *Downloader) SetDispatcher(dispatcher Dispatcher) {
	d.dispatcher = dispatcher
}

func (d *Downloader) RepoPath(repository string) string {
	return RepoPath(d.opts.BaseDir, repository)
}

// Fetch 列出仓库 templates 目录下的所有文件，并为每个文件投递一个下载任务。
// 返回时文件可能仍在下载，读取方通过后台任务标记判断下载是否完成。
func (d *Downloader) Fetch(ctx context.Context, repository, branch string) error {
	key := FlagKey(repository)
	if !d.flag.Acquire(ctx, key, d.opts.LockTTL) {
		return ErrCloneInProgress
	}
	release := func() { d.flag.Release(context.WithoutCancel(ctx), key) }
	tracked := false
	defer func() {
		if !tracked {
			release()
		}
	}()

	if err := os.MkdirAll(d.RepoPath(repository), 0o755); err != nil {
		return fmt.Errorf("创建仓库目录失败: %w", err)
	}
	tree, err := d.gh.GetRepositoryTree(ctx, repository, branch)
	if err != nil {
		return &FetchError{Repository: repository, Attempts: 1, Err: err}
	}

	blobs := tree.Blobs(TemplatesRoot)
	if len(blobs) == 0 {
		return nil
	}
	list := make([]tasks.FileDownloadTask, 0, len(blobs))
	for _, blob := range blobs {
		list = append(list, tasks.FileDownloadTask{Repository: repository, Branch: branch, Path: blob.Path, SHA: blob.SHA})
	}

	// 先登记再投递：同步执行的 dispatcher 可能在循环结束前就完成全部任务
	b := d.track(repository, list, release)
	tracked = true
	for _, task := range list {
		if err := d.dispatcher.Dispatch(ctx, task); err != nil {
			d.finish(repository, b)
			return fmt.Errorf("投递下载任务 %s 失败: %w", task.Path, err)
		}
	}
	log.Infof("仓库 %s 已投递 %d 个下载任务", repository, len(list))
	return nil
}

// track 登记一批任务。LockTTL 到期后即使任务没有全部完成也会释放标记。
func (d *Downloader) track(repository string, list []tasks.FileDownloadTask, release func()) *batch {
	b := &batch{pending: make(map[string]struct{}, len(list)), release: release}
	for _, task := range list {
		b.pending[task.Key()] = struct{}{}
	}
	d.mu.Lock()
	d.batches[repository] = b
	d.mu.Unlock()
	if d.opts.LockTTL > 0 {
		b.timer = time.AfterFunc(d.opts.LockTTL, func() {
			log.Warnf("仓库 %s 仍有 %d 个下载任务未完成，释放后台任务标记", repository, d.Pending(repository))
			d.finish(repository, b)
		})
	}
	return b
}

// finish 结束一批任务并释放标记，b 已被新的一批替换时只释放它自己。
func (d *Downloader) finish(repository string, b *batch) {
	d.mu.Lock()
	if d.batches[repository] == b {
		delete(d.batches, repository)
	}
	d.mu.Unlock()
	b.done()
}

// settle 把任务从所在批次中移除，批次清空时释放标记。其他进程投递的任务没有批次，直接忽略。
func (d *Downloader) settle(task tasks.FileDownloadTask) {
	d.mu.Lock()
	b, ok := d.batches[task.Repository]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(b.pending, task.Key())
	empty := len(b.pending) == 0
	if empty {
		delete(d.batches, task.Repository)
	}
	d.mu.Unlock()
	if empty {
		b.done()
	}
}

// Pending 返回仓库当前批次中尚未完成的任务数。
func (d *Downloader) Pending(repository string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.batches[repository]; ok {
		return len(b.pending)
	}
	return 0
}

// Abandon 放弃一个不会再重试的任务，使它不再阻止标记释放。
func (d *Downloader) Abandon(_ context.Context, task tasks.FileDownloadTask) {
	log.Warnf("放弃下载任务: %s", task.Key())
	d.settle(task)
}

// Process 下载一个文件并原子地写入本地工作目录，需要时创建父目录。
func (d *Downloader) Process(ctx context.Context, task tasks.FileDownloadTask) error {
	dest, err := d.localPath(task)
	if err != nil {
		return err
	}
	content, err := d.gh.GetFileContent(ctx, task.Repository, task.Path)
	if err != nil {
		return fmt.Errorf("下载 %s 失败: %w", task.Path, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	if err := atomic.WriteFile(dest, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", dest, err)
	}
	d.settle(task)
	return nil
}

func (d *Downloader) localPath(task tasks.FileDownloadTask) (string, error) {
	root := d.RepoPath(task.Repository)
	dest := filepath.Join(root, filepath.FromSlash(task.Path))
	if !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("非法的文件路径: %s", task.Path)
	}
	return dest, nil
}

// LocalDispatcher 在进程内用固定数量的 worker 执行下载任务，用于未配置 Kafka 的部署。
type LocalDispatcher struct {
	processor interface {
		Process(ctx context.Context, task tasks.FileDownloadTask) error
		Abandon(ctx context.Context, task tasks.FileDownloadTask)
	}
	queue chan tasks.FileDownloadTask
	wg    sync.WaitGroup
}

// NewLocalDispatcher 创建一个本地任务队列。
func NewLocalDispatcher(processor *Downloader, size int) *LocalDispatcher {
	if size <= 0 {
		size = 1024
	}
	return &LocalDispatcher{processor: processor, queue: make(chan tasks.FileDownloadTask, size)}
}

// Dispatch 把任务放入队列，队列满时阻塞直到 ctx 取消。
func (l *LocalDispatcher) Dispatch(ctx context.Context, task tasks.FileDownloadTask) error {
	select {
	case l.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run 启动 workers 个 worker 消费队列，ctx 取消后返回。
func (l *LocalDispatcher) Run(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case task := <-l.queue:
					if err := l.processor.Process(ctx, task); err != nil {
						log.Errorf("本地下载任务失败: %s, Error: %v", task.Key(), err)
						l.processor.Abandon(ctx, task)
					}
				}
			}
		}()
	}
	l.wg.Wait()
}

// New 按同步模式创建 Fetcher。
func New(cfg config.SyncConfig, gh *github.Client, flag Flag) (Fetcher, *Downloader) {
	opts := OptionsFromConfig(cfg)
	if cfg.Mode == "download" {
		d := NewDownloader(gh, flag, opts, nil)
		return d, d
	}
	return NewCloner(ExecGit{}, gh, flag, opts), nil
}

// Async 报告 Fetch 返回时文件可能仍在后台下载。
func (d *Downloader) Async() bool { return true }
