package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"content-system-go/internal/fetcher"
	"content-system-go/internal/model"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCacheKey(t *testing.T) {
	env := newTestEnv(t)
	repo := env.sites.For(site)
	assert.Equal(t, "SITE_REPOSITORY_ubuntu.com_main", repo.CacheKey())
	assert.Equal(t, "main", repo.Branch())
	assert.Equal(t, "SiteRepository(ubuntu.com, main)", repo.String())
}

func TestGetTreeSyncRebuildsWhenDatabaseEmpty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := env.sites.For(site)

	tree := repo.GetTreeSync(ctx, false)

	assert.Equal(t, "/", tree.Name)
	assert.Equal(t, "Home", tree.Title)
	assert.Equal(t, []string{"/about", "/guides", "/juju"}, childNames(tree))
	assert.Equal(t, []string{"/guides/install"}, childNames(findNode(tree, "/guides")))

	juju := findNode(tree, "/juju")
	require.NotNil(t, juju)
	assert.Equal(t, "https://docs.google.com/document/d/juju", juju.CopyDocLink)
	assert.Equal(t, model.WebpageStatusAvailable, juju.Status)
	require.NotNil(t, juju.Owner)
	assert.Equal(t, model.DefaultUserName, juju.Owner.Name)
	require.NotNil(t, juju.Project)
	assert.Equal(t, site, juju.Project.Name)
	assert.Equal(t, 1, env.fetcher.Calls())

	// 第二次读取命中缓存
	require.NotNil(t, repo.GetTreeFromCache(ctx))
	again := repo.GetTreeSync(ctx, false)
	assert.Equal(t, 1, env.fetcher.Calls())
	assert.Empty(t, cmp.Diff(tree, again))
}

func TestGetTreeSyncLoadsFromDatabaseAfterInvalidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := env.sites.For(site)
	built := env.rebuild(t)

	repo.InvalidateCache(ctx)
	assert.Nil(t, repo.GetTreeFromCache(ctx))

	fromDB := repo.GetTreeSync(ctx, false)
	assert.Equal(t, 1, env.fetcher.Calls())
	assert.Empty(t, cmp.Diff(built, fromDB, cmpopts.IgnoreFields(model.TreeNode{}, "CreatedAt", "UpdatedAt")))
	require.NotNil(t, repo.GetTreeFromCache(ctx))
}

func TestGetTreeSyncNoCacheReadsDatabase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := env.sites.For(site)
	env.rebuild(t)

	juju := env.page(t, "/juju")
	require.NoError(t, env.webpages.UpdateStatus(juju.ID, model.WebpageStatusToDelete))

	// 缓存仍是旧的树，no_cache 读取会绕过它
	assert.NotNil(t, findNode(repo.GetTreeSync(ctx, false), "/juju"))
	assert.Nil(t, findNode(repo.GetTreeSync(ctx, true), "/juju"))
	assert.Equal(t, 1, env.fetcher.Calls())
}

func TestGetTreeFromDBKeepsChildrenOfRemovedDirectory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	repo := env.sites.For(site)
	env.rebuild(t)

	guides := env.page(t, "/guides")
	require.NoError(t, env.webpages.UpdateStatus(guides.ID, model.WebpageStatusToDelete))
	repo.InvalidateCache(ctx)

	tree := repo.GetTreeSync(ctx, false)
	assert.Equal(t, 1, env.fetcher.Calls())
	assert.Nil(t, findNode(tree, "/guides"))
	assert.ElementsMatch(t, []string{"/about", "/guides/install", "/juju"}, childNames(tree))

	install := findNode(tree, "/guides/install")
	require.NotNil(t, install)
	assert.Equal(t, model.WebpageStatusAvailable, install.Status)
	require.NotNil(t, install.ParentID)
	assert.Equal(t, tree.ID, *install.ParentID)
}

func TestRebuildIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first := env.rebuild(t)
	second := env.rebuild(t)

	assert.Empty(t, cmp.Diff(first, second, cmpopts.IgnoreFields(model.TreeNode{}, "CreatedAt", "UpdatedAt")))

	var count int64
	require.NoError(t, env.db.Model(&model.Webpage{}).Count(&count).Error)
	assert.Equal(t, int64(first.Count()), count)
	assert.Equal(t, 2, env.fetcher.Calls())
}

func TestRebuildUpdatesMetadata(t *testing.T) {
	env := newTestEnv(t)
	env.rebuild(t)
	id := env.page(t, "/juju").ID

	files := siteFiles()
	files["juju.html"] = title("Juju charms")
	env.fetcher.setFiles(files)
	tree := env.rebuild(t)

	juju := findNode(tree, "/juju")
	assert.Equal(t, id, juju.ID)
	assert.Equal(t, "Juju charms", juju.Title)
	assert.Empty(t, juju.CopyDocLink)
}

func TestRebuildKeepsRemovedPagesUnlessMarked(t *testing.T) {
	env := newTestEnv(t)
	env.rebuild(t)

	files := siteFiles()
	delete(files, "about.html")
	delete(files, "juju.html")
	env.fetcher.setFiles(files)

	juju := env.page(t, "/juju")
	require.NoError(t, env.webpages.UpdateStatus(juju.ID, model.WebpageStatusToDelete))

	tree := env.rebuild(t)
	assert.Equal(t, []string{"/guides"}, childNames(tree))

	// 只有 TO_DELETE 的页面会被删除
	env.page(t, "/about")
	_, err := env.webpages.FindByID(juju.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRebuildKeepsPagesWithOpenTickets(t *testing.T) {
	env := newTestEnv(t)
	env.rebuild(t)

	juju := env.page(t, "/juju")
	require.NoError(t, env.webpages.UpdateStatus(juju.ID, model.WebpageStatusToDelete))
	task := &model.JiraTask{JiraID: "WD-1", WebpageID: juju.ID, Status: model.JiraTaskStatusInProgress, RequestType: model.JiraTaskTypePageRemoval}
	require.NoError(t, env.tasks.Create(task))

	files := siteFiles()
	delete(files, "juju.html")
	env.fetcher.setFiles(files)

	env.rebuild(t)
	_, err := env.webpages.FindByID(juju.ID)
	require.NoError(t, err)

	require.NoError(t, env.tasks.UpdateStatus(task.ID, model.JiraTaskStatusDone))
	env.rebuild(t)
	_, err = env.webpages.FindByID(juju.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	tasks, err := env.tasks.FindByWebpage(juju.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestNewPagePromotedWhenItAppearsInRepository(t *testing.T) {
	env := newTestEnv(t)
	env.rebuild(t)
	project, err := env.projects.FindByName(site)
	require.NoError(t, err)

	root, err := env.webpages.FindRoot(project.ID)
	require.NoError(t, err)
	page := &model.Webpage{ProjectID: project.ID, Name: "/maas", URL: "/maas", ParentID: &root.ID, Status: model.WebpageStatusNew}
	require.NoError(t, env.webpages.Create(page))

	files := siteFiles()
	files["maas.html"] = title("MAAS")
	env.fetcher.setFiles(files)
	tree := env.rebuild(t)

	maas := findNode(tree, "/maas")
	require.NotNil(t, maas)
	assert.Equal(t, page.ID, maas.ID)
	assert.Equal(t, model.WebpageStatusAvailable, maas.Status)
}

func TestGetTreeSyncReturnsEmptyTreeOnFailure(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = errors.New("network down")
	repo := env.sites.For(site)

	tree := repo.GetTreeSync(context.Background(), false)
	assert.Empty(t, cmp.Diff(model.EmptyTree(), tree))
	assert.Nil(t, repo.GetTreeFromCache(context.Background()))

	_, err := repo.GetTree(context.Background())
	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "fetch", recErr.Stage)
	assert.Equal(t, site, recErr.Site)
}

func TestGetTreeWaitsForBackgroundTask(t *testing.T) {
	env := newTestEnv(t)
	env.fetcher.err = fetcher.ErrCloneInProgress
	ctx := context.Background()
	key := fetcher.FlagKey(site)
	require.True(t, env.cache.Acquire(ctx, key, time.Minute))

	go func() {
		time.Sleep(20 * time.Millisecond)
		env.cache.Release(ctx, key)
	}()

	tree, err := env.sites.For(site).GetTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", tree.Title)
	assert.False(t, env.cache.IsFlagSet(ctx, key))
}

func TestGetTreeProceedsAfterFlagTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.cache.Acquire(ctx, fetcher.FlagKey(site), time.Minute))

	start := time.Now()
	tree, err := env.sites.For(site).GetTree(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/", tree.Name)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestGetTreeFromDiskRetriesScan(t *testing.T) {
	env := newTestEnv(t)
	env.sites.opts.ScanRetries = 3
	attempts := 0
	env.sites.SetScanner(func(root string) (*model.TreeNode, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("partial checkout")
		}
		return model.NewTreeNode("/"), nil
	})

	tree, err := env.sites.For(site).GetTreeFromDisk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/", tree.Name)
	assert.Equal(t, 3, attempts)
}

func TestGetTreeFromDiskGivesUpAfterRetries(t *testing.T) {
	env := newTestEnv(t)
	env.sites.opts.ScanRetries = 2
	env.sites.SetScanner(func(string) (*model.TreeNode, error) {
		return nil, errors.New("broken")
	})

	_, err := env.sites.For(site).GetTreeFromDisk(context.Background())
	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "scan", recErr.Stage)
}

type recordingIndexer struct{ projects []string }

func (r *recordingIndexer) IndexTree(_ context.Context, project string, _ *model.TreeNode) error {
	r.projects = append(r.projects, project)
	return nil
}

type failingArchiver struct{ calls int }

func (f *failingArchiver) ArchiveTree(context.Context, string, string, *model.TreeNode) error {
	f.calls++
	return errors.New("bucket missing")
}

func TestRebuildPublishesTree(t *testing.T) {
	env := newTestEnv(t)
	indexer := &recordingIndexer{}
	archiver := &failingArchiver{}
	env.sites.SetIndexer(indexer)
	env.sites.SetArchiver(archiver)

	env.rebuild(t)
	assert.Equal(t, []string{site}, indexer.projects)
	assert.Equal(t, 1, archiver.calls)
}

func TestInvalidateProject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.rebuild(t)
	project, err := env.projects.FindByName(site)
	require.NoError(t, err)

	env.sites.InvalidateProject(ctx, project.ID)
	assert.Nil(t, env.sites.For(site).GetTreeFromCache(ctx))
	// 不存在的项目只记录日志
	env.sites.InvalidateProject(ctx, 999)
}

func TestSortTree(t *testing.T) {
	root := model.NewTreeNode("/")
	for _, name := range []string{"/b/zeta", "/c/alpha", "/a/alpha", "/beta"} {
		root.Children = append(root.Children, model.NewTreeNode(name))
	}
	SortTree(root)
	assert.Equal(t, []string{"/a/alpha", "/c/alpha", "/beta", "/b/zeta"}, childNames(root))
}

func TestHasIncompletePages(t *testing.T) {
	id := func(v uint) *uint { return &v }
	tests := []struct {
		name  string
		pages []model.Webpage
		want  bool
	}{
		{"single root", []model.Webpage{{ID: 1, Name: "/"}}, false},
		{"complete", []model.Webpage{{ID: 1, Name: "/"}, {ID: 2, Name: "/a", ParentID: id(1)}}, false},
		{"no root", []model.Webpage{{ID: 2, Name: "/a", ParentID: id(1)}}, true},
		{"two roots", []model.Webpage{{ID: 1, Name: "/"}, {ID: 2, Name: "/a"}}, true},
		{"nameless page", []model.Webpage{{ID: 1, Name: "/"}, {ID: 2, ParentID: id(1)}}, true},
		{"orphaned children", []model.Webpage{{ID: 1, Name: "/"}, {ID: 2, Name: "/a", ParentID: id(9)}}, true},
		{"dangling parent", []model.Webpage{
			{ID: 1, Name: "/"}, {ID: 2, Name: "/a", ParentID: id(1)}, {ID: 3, Name: "/b/c", ParentID: id(7)},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasIncompletePages(tt.pages))
		})
	}
}

func TestHideRemovedPages(t *testing.T) {
	id := func(v uint) *uint { return &v }
	parents := func(pages []model.Webpage) map[string]*uint {
		out := make(map[string]*uint, len(pages))
		for _, page := range pages {
			out[page.Name] = page.ParentID
		}
		return out
	}
	removed := model.WebpageStatusToDelete
	available := model.WebpageStatusAvailable

	tests := []struct {
		name  string
		pages []model.Webpage
		want  map[string]*uint
	}{
		{
			"nothing removed",
			[]model.Webpage{{ID: 1, Name: "/", Status: available}, {ID: 2, Name: "/a", ParentID: id(1), Status: available}},
			map[string]*uint{"/": nil, "/a": id(1)},
		},
		{
			"grandchild lifted past two removed levels",
			[]model.Webpage{
				{ID: 1, Name: "/", Status: available},
				{ID: 2, Name: "/a", ParentID: id(1), Status: removed},
				{ID: 3, Name: "/a/b", ParentID: id(2), Status: removed},
				{ID: 4, Name: "/a/b/c", ParentID: id(3), Status: available},
			},
			map[string]*uint{"/": nil, "/a/b/c": id(1)},
		},
		{
			"removed root drops every descendant",
			[]model.Webpage{{ID: 1, Name: "/", Status: removed}, {ID: 2, Name: "/a", ParentID: id(1), Status: available}},
			map[string]*uint{},
		},
		{
			"missing parent kept for the completeness check",
			[]model.Webpage{{ID: 1, Name: "/", Status: available}, {ID: 2, Name: "/a", ParentID: id(9), Status: available}},
			map[string]*uint{"/": nil, "/a": id(9)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parents(hideRemovedPages(tt.pages)))
		})
	}
}
