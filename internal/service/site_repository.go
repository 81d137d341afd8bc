// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"content-system-go/internal/config"
	"content-system-go/internal/fetcher"
	"content-system-go/internal/model"
	"content-system-go/internal/repository"
	"content-system-go/pkg/cache"
	"content-system-go/pkg/log"
	"content-system-go/pkg/scanner"
)

// CacheKeyPrefix 是模板树缓存键的前缀。
const CacheKeyPrefix = "SITE_REPOSITORY"

// ReconciliationError 表示一次重建在某个阶段失败。
type ReconciliationError struct {
	Site  string
	Stage string
	Err   error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s: %s: %v", e.Site, e.Stage, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// ScanFunc 把一个目录扫描成模板树。
type ScanFunc func(root string) (*model.TreeNode, error)

// PageIndexer 在重建完成后把页面写入搜索索引。
type PageIndexer interface {
	IndexTree(ctx context.Context, project string, tree *model.TreeNode) error
}

// TreeArchiver 在重建完成后保存模板树快照。
type TreeArchiver interface {
	ArchiveTree(ctx context.Context, project, branch string, tree *model.TreeNode) error
}

// asyncFetcher 由逐文件下载的 Fetcher 实现，Fetch 返回时文件可能仍在下载中。
type asyncFetcher interface {
	Async() bool
}

// SyncOptions 是读取磁盘时的等待和重试参数。
type SyncOptions struct {
	Branch           string
	FlagPollInterval time.Duration
	FlagPollTimeout  time.Duration
	ScanRetries      int
	ScanRetryDelay   time.Duration
}

// SyncOptionsFromConfig 从同步配置中提取参数。
func SyncOptionsFromConfig(cfg config.SyncConfig) SyncOptions {
	return SyncOptions{
		Branch:           cfg.Branch,
		FlagPollInterval: cfg.FlagPollInterval,
		FlagPollTimeout:  cfg.FlagPollTimeout,
		ScanRetries:      cfg.ScanRetries,
		ScanRetryDelay:   cfg.ScanRetryDelay,
	}
}

// SiteRepositoryFactory 持有所有站点共享的依赖，并为每个站点创建 SiteRepository。
type SiteRepositoryFactory struct {
	projects repository.ProjectRepository
	webpages repository.WebpageRepository
	users    repository.UserRepository
	cache    *cache.Cache
	fetcher  fetcher.Fetcher
	scan     ScanFunc
	opts     SyncOptions
	indexer  PageIndexer
	archiver TreeArchiver

	// 同一进程内对同一站点的重建串行执行
	locks sync.Map
}

// NewSiteRepositoryFactory 创建一个 SiteRepositoryFactory。
func NewSiteRepositoryFactory(
	projects repository.ProjectRepository,
	webpages repository.WebpageRepository,
	users repository.UserRepository,
	treeCache *cache.Cache,
	f fetcher.Fetcher,
	opts SyncOptions,
) *SiteRepositoryFactory {
	if opts.Branch == "" {
		opts.Branch = "main"
	}
	if opts.ScanRetries < 1 {
		opts.ScanRetries = 1
	}
	return &SiteRepositoryFactory{
		projects: projects,
		webpages: webpages,
		users:    users,
		cache:    treeCache,
		fetcher:  f,
		scan:     scanner.ScanDirectory,
		opts:     opts,
	}
}

// SetScanner 替换目录扫描函数。
func (f *SiteRepositoryFactory) SetScanner(scan ScanFunc) {
	f.scan = scan
}

// SetIndexer 设置重建后的搜索索引写入器。
func (f *SiteRepositoryFactory) SetIndexer(indexer PageIndexer) {
	f.indexer = indexer
}

// SetArchiver 设置重建后的快照归档器。
func (f *SiteRepositoryFactory) SetArchiver(archiver TreeArchiver) {
	f.archiver = archiver
}

// For 返回指定站点在默认分支上的 SiteRepository。
func (f *SiteRepositoryFactory) For(name string) *SiteRepository {
	return &SiteRepository{
		name:     name,
		branch:   f.opts.Branch,
		cacheKey: fmt.Sprintf("%s_%s_%s", CacheKeyPrefix, name, f.opts.Branch),
		f:        f,
	}
}

// InvalidateProject 清除项目对应站点的模板树缓存，所有修改页面的操作完成后都要调用。
func (f *SiteRepositoryFactory) InvalidateProject(ctx context.Context, projectID uint) {
	project, err := f.projects.FindByID(projectID)
	if err != nil {
		log.Warnf("无法找到项目 %d，跳过缓存失效: %v", projectID, err)
		return
	}
	f.For(project.Name).InvalidateCache(ctx)
}

func (f *SiteRepositoryFactory) siteLock(name string) *sync.Mutex {
	lock, _ := f.locks.LoadOrStore(name, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// SiteRepository 负责一个站点的模板树：在缓存、数据库和源码仓库之间保持一致。
type SiteRepository struct {
	name     string
	branch   string
	cacheKey string
	f        *SiteRepositoryFactory
}

func (r *SiteRepository) String() string {
	return fmt.Sprintf("SiteRepository(%s, %s)", r.name, r.branch)
}

// Name 返回站点名称。
func (r *SiteRepository) Name() string { return r.name }

// Branch 返回站点同步的分支。
func (r *SiteRepository) Branch() string { return r.branch }

// CacheKey 返回模板树的缓存键（不含全局前缀）。
func (r *SiteRepository) CacheKey() string { return r.cacheKey }

// RepoPath 返回站点仓库的本地工作目录。
func (r *SiteRepository) RepoPath() string {
	return r.f.fetcher.RepoPath(r.name)
}

// GetTreeFromCache 返回缓存中的模板树，不存在时返回 nil。
func (r *SiteRepository) GetTreeFromCache(ctx context.Context) *model.TreeNode {
	var tree model.TreeNode
	if !r.f.cache.GetInto(ctx, r.cacheKey, &tree) {
		return nil
	}
	return &tree
}

func (r *SiteRepository) setTreeInCache(ctx context.Context, tree *model.TreeNode) {
	r.f.cache.Set(ctx, r.cacheKey, tree)
}

// InvalidateCache 把缓存中的模板树置空，下一次读取会从数据库重新构建。
func (r *SiteRepository) InvalidateCache(ctx context.Context) {
	r.f.cache.Set(ctx, r.cacheKey, nil)
}

// GetTreeSync 是面向请求的读取入口：缓存 -> 数据库 -> 重建。
// 读取失败时返回空树，不会把错误抛给调用方。
func (r *SiteRepository) GetTreeSync(ctx context.Context, noCache bool) *model.TreeNode {
	if !noCache {
		if tree := r.GetTreeFromCache(ctx); tree != nil {
			return tree
		}
	}

	log.Infof("从数据库加载 %s", r.name)
	r.InvalidateCache(ctx)

	tree, err := r.GetTreeFromDB(ctx)
	if err != nil {
		log.Errorf("加载 %s 的模板树失败: %v", r.name, err)
		return model.EmptyTree()
	}
	r.setTreeInCache(ctx, tree)
	log.Infof("%s 的模板树已刷新", r.name)
	return tree
}

// GetTree 强制从源码仓库重建模板树并写入数据库和缓存，供定时任务使用。
func (r *SiteRepository) GetTree(ctx context.Context) (*model.TreeNode, error) {
	return r.rebuild(ctx)
}

// GetTreeFromDB 从数据库构建模板树。数据库为空或数据不完整时从源码仓库重建。
func (r *SiteRepository) GetTreeFromDB(ctx context.Context) (*model.TreeNode, error) {
	project, err := r.f.projects.GetOrCreate(r.name)
	if err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "load", Err: err}
	}
	all, err := r.f.webpages.ListByProject(project.ID)
	if err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "load", Err: err}
	}
	pages := hideRemovedPages(all)
	if len(pages) == 0 {
		log.Infof("数据库中没有 %s 的页面，从仓库重建", r.name)
		return r.rebuild(ctx)
	}
	if hasIncompletePages(pages) {
		log.Warnf("%s 的页面数据不完整，从仓库重建", r.name)
		return r.rebuild(ctx)
	}

	tree := buildTreeFromPages(pages)
	relations, err := r.f.webpages.LoadRelations(pageIDs(pages))
	if err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "load", Err: err}
	}
	decorateTree(tree, relations)
	SortTree(tree)
	return tree, nil
}

// rebuild 依次执行 拉取 -> 扫描 -> 写库 -> 排序 -> 写缓存。
func (r *SiteRepository) rebuild(ctx context.Context) (*model.TreeNode, error) {
	lock := r.f.siteLock(r.name)
	lock.Lock()
	defer lock.Unlock()

	// 先失效缓存，保证并发读取不会拿到上一代的模板树
	r.InvalidateCache(ctx)

	base, err := r.GetTreeFromDisk(ctx)
	if err != nil {
		return nil, err
	}
	tree, err := r.CreateWebpagesForTree(ctx, base)
	if err != nil {
		return nil, err
	}
	SortTree(tree)
	r.setTreeInCache(ctx, tree)
	log.Infof("%s 的模板树已加载，共 %d 个页面", r.name, tree.Count())

	r.publish(ctx, tree)
	return tree, nil
}

// publish 把重建结果写入搜索索引和快照存储，失败只记录日志。
func (r *SiteRepository) publish(ctx context.Context, tree *model.TreeNode) {
	if r.f.indexer != nil {
		if err := r.f.indexer.IndexTree(ctx, r.name, tree); err != nil {
			log.Warnf("索引 %s 的页面失败: %v", r.name, err)
		}
	}
	if r.f.archiver != nil {
		if err := r.f.archiver.ArchiveTree(ctx, r.name, r.branch, tree); err != nil {
			log.Warnf("归档 %s 的模板树失败: %v", r.name, err)
		}
	}
}

// GetTreeFromDisk 拉取仓库并扫描 templates 目录。
// 后台任务标记被持有时最多等待 FlagPollTimeout，之后无论如何都继续扫描。
func (r *SiteRepository) GetTreeFromDisk(ctx context.Context) (*model.TreeNode, error) {
	err := r.f.fetcher.Fetch(ctx, r.name, r.branch)
	switch {
	case errors.Is(err, fetcher.ErrCloneInProgress):
		log.Infof("%s 正在被其他任务拉取，等待其完成", r.name)
	case err != nil:
		return nil, &ReconciliationError{Site: r.name, Stage: "fetch", Err: err}
	}

	templates := filepath.Join(r.RepoPath(), fetcher.TemplatesRoot)
	if err := os.MkdirAll(templates, 0o755); err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "scan", Err: err}
	}

	af, ok := r.f.fetcher.(asyncFetcher)
	if err := r.waitForBackgroundTask(ctx, ok && af.Async()); err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "fetch", Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= r.f.opts.ScanRetries; attempt++ {
		tree, err := r.f.scan(templates)
		if err == nil {
			return tree, nil
		}
		lastErr = err
		log.Warnf("扫描 %s 失败 (第 %d/%d 次): %v", templates, attempt, r.f.opts.ScanRetries, err)
		if attempt < r.f.opts.ScanRetries {
			if err := sleepContext(ctx, r.f.opts.ScanRetryDelay); err != nil {
				return nil, &ReconciliationError{Site: r.name, Stage: "scan", Err: err}
			}
		}
	}
	return nil, &ReconciliationError{Site: r.name, Stage: "scan", Err: lastErr}
}

// waitForBackgroundTask 轮询后台任务标记。waitFirst 为 true 时先等待一个间隔，给异步下载留出时间。
func (r *SiteRepository) waitForBackgroundTask(ctx context.Context, waitFirst bool) error {
	key := fetcher.FlagKey(r.name)
	interval := r.f.opts.FlagPollInterval
	deadline := time.Now().Add(r.f.opts.FlagPollTimeout)

	if waitFirst {
		if err := sleepContext(ctx, interval); err != nil {
			return err
		}
	}
	for r.f.cache.IsFlagSet(ctx, key) {
		if !time.Now().Before(deadline) {
			log.Warnf("等待 %s 的后台任务超时，继续读取磁盘", r.name)
			return nil
		}
		if err := sleepContext(ctx, interval); err != nil {
			return err
		}
	}
	return nil
}

// CreateWebpagesForTree 把扫描得到的模板树写入数据库，返回合并了页面字段的新树。
// 所有写入在一个事务中提交，之后删除不在树中且没有进行中工单的 TO_DELETE 页面。
func (r *SiteRepository) CreateWebpagesForTree(ctx context.Context, tree *model.TreeNode) (*model.TreeNode, error) {
	if tree == nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "reconcile", Err: errors.New("empty tree")}
	}
	project, err := r.f.projects.GetOrCreate(r.name)
	if err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "reconcile", Err: err}
	}
	owner, err := r.f.users.GetOrCreateDefault()
	if err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "reconcile", Err: err}
	}

	var (
		result *model.TreeNode
		ids    []uint
	)
	err = r.f.webpages.Transaction(func(tx repository.WebpageRepository) error {
		rec := &reconciler{tx: tx, projectID: project.ID, ownerID: owner.ID}
		root, err := rec.node(tree, nil)
		if err != nil {
			return err
		}
		if err := rec.prune(tree.Names()); err != nil {
			return err
		}
		result, ids = root, rec.ids
		return nil
	})
	if err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "reconcile", Err: err}
	}

	relations, err := r.f.webpages.LoadRelations(ids)
	if err != nil {
		return nil, &ReconciliationError{Site: r.name, Stage: "reconcile", Err: err}
	}
	decorateTree(result, relations)
	return result, nil
}

// reconciler 在一个事务内把扫描节点逐个写入数据库。
type reconciler struct {
	tx        repository.WebpageRepository
	projectID uint
	ownerID   uint
	ids       []uint
}

// node 写入一个节点及其所有子节点，返回新的树节点，不修改输入。
func (c *reconciler) node(scanned *model.TreeNode, parentID *uint) (*model.TreeNode, error) {
	page, created, err := c.tx.FindOrCreate(c.projectID, scanned.Name, c.ownerID)
	if err != nil {
		return nil, fmt.Errorf("写入页面 %s 失败: %w", scanned.Name, err)
	}
	if created {
		log.Debugf("新页面 %s", scanned.Name)
	}

	page.Title = scanned.Title
	page.Description = scanned.Description
	page.CopyDocLink = scanned.Link
	page.ParentID = parentID
	page.Ext = scanned.Ext
	page.FilePath = scanned.FilePath
	// 出现在源码中的新页面即确认上线
	if page.Status == model.WebpageStatusNew {
		page.Status = model.WebpageStatusAvailable
	}
	if err := c.tx.Save(page); err != nil {
		return nil, fmt.Errorf("保存页面 %s 失败: %w", scanned.Name, err)
	}
	c.ids = append(c.ids, page.ID)

	out := pageToNode(page)
	out.Link = scanned.Link
	id := page.ID
	for _, child := range scanned.Children {
		childNode, err := c.node(child, &id)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, childNode)
	}
	return out, nil
}

// prune 删除项目中不在 names 里、状态为 TO_DELETE 且没有进行中工单的页面。
func (c *reconciler) prune(names map[string]struct{}) error {
	pages, err := c.tx.ListByStatus(c.projectID, model.WebpageStatusToDelete)
	if err != nil {
		return fmt.Errorf("查询待删除页面失败: %w", err)
	}
	for _, page := range pages {
		if _, ok := names[page.Name]; ok {
			continue
		}
		open, err := c.tx.CountOpenJiraTasks(page.ID)
		if err != nil {
			return fmt.Errorf("统计页面 %s 的工单失败: %w", page.Name, err)
		}
		if open > 0 {
			log.Infof("页面 %s 仍有 %d 个进行中的工单，保留", page.Name, open)
			continue
		}
		if err := c.tx.Delete(page.ID); err != nil {
			return fmt.Errorf("删除页面 %s 失败: %w", page.Name, err)
		}
		log.Infof("页面 %s 已从仓库移除，删除记录", page.Name)
	}
	return nil
}

// hideRemovedPages 去掉 TO_DELETE 页面，并把它们仍然可见的子孙页面挂到最近的可见祖先下。
// 祖先链中断（父页面不存在）时保留原 ParentID，由 hasIncompletePages 判定为不完整。
func hideRemovedPages(pages []model.Webpage) []model.Webpage {
	byID := make(map[uint]*model.Webpage, len(pages))
	for i := range pages {
		byID[pages[i].ID] = &pages[i]
	}

	visible := make([]model.Webpage, 0, len(pages))
	for _, page := range pages {
		if page.Status == model.WebpageStatusToDelete {
			continue
		}
		parentID := page.ParentID
		for hops := 0; parentID != nil && hops < len(pages); hops++ {
			parent, ok := byID[*parentID]
			if !ok || parent.Status != model.WebpageStatusToDelete {
				break
			}
			parentID = parent.ParentID
		}
		if parentID == nil && page.ParentID != nil {
			// 根页面被标记删除，子页面无处可挂
			continue
		}
		page.ParentID = parentID
		visible = append(visible, page)
	}
	return visible
}

// hasIncompletePages 报告数据库中的页面是否不足以构成一棵完整的树：
// 没有根或有多个根、父页面不在集合中、非根页面既没有名称也没有标题、根没有子页面但项目中还有其他页面。
func hasIncompletePages(pages []model.Webpage) bool {
	ids := make(map[uint]struct{}, len(pages))
	for _, page := range pages {
		ids[page.ID] = struct{}{}
	}
	roots := 0
	children := make(map[uint]int, len(pages))
	for _, page := range pages {
		if page.ParentID == nil {
			roots++
			continue
		}
		if _, ok := ids[*page.ParentID]; !ok {
			log.Warnf("页面 %d 的父页面 %d 不存在", page.ID, *page.ParentID)
			return true
		}
		children[*page.ParentID]++
		if page.Name == "" && page.Title == "" {
			log.Warnf("页面 %d 数据不完整", page.ID)
			return true
		}
	}
	if roots != 1 {
		return true
	}
	for _, page := range pages {
		if page.ParentID == nil && children[page.ID] == 0 && len(pages) > 1 {
			log.Warnf("根页面 %d 没有子页面", page.ID)
			return true
		}
	}
	return false
}

// buildTreeFromPages 从扁平的页面记录中找到根节点并挂接子节点。
func buildTreeFromPages(pages []model.Webpage) *model.TreeNode {
	byParent := make(map[uint][]*model.Webpage, len(pages))
	var root *model.Webpage
	for i := range pages {
		page := &pages[i]
		if page.ParentID == nil {
			if root == nil {
				root = page
			}
			continue
		}
		byParent[*page.ParentID] = append(byParent[*page.ParentID], page)
	}
	if root == nil {
		return model.EmptyTree()
	}

	var attach func(page *model.Webpage) *model.TreeNode
	attach = func(page *model.Webpage) *model.TreeNode {
		node := pageToNode(page)
		node.Link = page.CopyDocLink
		for _, child := range byParent[page.ID] {
			node.Children = append(node.Children, attach(child))
		}
		return node
	}
	return attach(root)
}

// pageToNode 把页面记录的字段转换成一个没有子节点的树节点。
func pageToNode(page *model.Webpage) *model.TreeNode {
	node := model.NewTreeNode(page.Name)
	node.ID = page.ID
	node.Title = page.Title
	node.Description = page.Description
	node.CopyDocLink = page.CopyDocLink
	node.Ext = page.Ext
	node.FilePath = page.FilePath
	node.URL = page.URL
	node.ParentID = page.ParentID
	node.Status = page.Status
	node.ContentJiraID = page.ContentJiraID
	return node
}

func pageIDs(pages []model.Webpage) []uint {
	ids := make([]uint, 0, len(pages))
	for _, page := range pages {
		ids = append(ids, page.ID)
	}
	return ids
}

// decorateTree 把负责人、项目、审阅人、工单和产品信息合并到树节点上。
func decorateTree(tree *model.TreeNode, relations map[uint]*model.Webpage) {
	tree.Walk(func(node *model.TreeNode) bool {
		page, ok := relations[node.ID]
		if !ok {
			return true
		}
		node.CreatedAt = model.FormatTimestamp(page.CreatedAt)
		node.UpdatedAt = model.FormatTimestamp(page.UpdatedAt)
		if page.Owner != nil {
			summary := userSummary(page.Owner)
			node.Owner = &summary
		}
		if page.Project != nil {
			node.Project = &model.ProjectSummary{ID: page.Project.ID, Name: page.Project.Name}
		}
		node.Reviewers = nil
		for _, reviewer := range page.Reviewers {
			if reviewer.User != nil {
				node.Reviewers = append(node.Reviewers, userSummary(reviewer.User))
			}
		}
		node.JiraTasks = nil
		for _, task := range page.JiraTasks {
			node.JiraTasks = append(node.JiraTasks, jiraTaskSummary(task))
		}
		node.Products = nil
		for _, link := range page.WebpageProducts {
			if link.Product != nil {
				node.Products = append(node.Products, model.ProductSummary{ID: link.Product.ID, Slug: link.Product.Slug, Name: link.Product.Name})
			}
		}
		return true
	})
}

func userSummary(user *model.User) model.UserSummary {
	return model.UserSummary{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Team:       user.Team,
		Department: user.Department,
		JobTitle:   user.JobTitle,
		Role:       user.Role,
	}
}

func jiraTaskSummary(task model.JiraTask) model.JiraTaskSummary {
	return model.JiraTaskSummary{
		ID:          task.ID,
		JiraID:      task.JiraID,
		Status:      task.Status,
		Summary:     task.Summary,
		RequestType: task.RequestType,
		UserID:      task.UserID,
		CreatedAt:   model.FormatTimestamp(task.CreatedAt),
	}
}

// SortTree 按名称最后一段对每一层的子节点升序排序，名称相同时按完整名称排序。
func SortTree(tree *model.TreeNode) {
	if tree == nil {
		return
	}
	sort.SliceStable(tree.Children, func(i, j int) bool {
		li, lj := tree.Children[i].LeafName(), tree.Children[j].LeafName()
		if li != lj {
			return li < lj
		}
		return tree.Children[i].Name < tree.Children[j].Name
	})
	for _, child := range tree.Children {
		SortTree(child)
	}
}

// EmptyTree 返回读取失败时使用的空树。
func EmptyTree() *model.TreeNode {
	return model.EmptyTree()
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
