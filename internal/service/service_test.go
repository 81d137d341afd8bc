package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"content-system-go/internal/fetcher"
	"content-system-go/internal/model"
	"content-system-go/internal/repository"
	"content-system-go/pkg/cache"
	"content-system-go/pkg/database"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const site = "ubuntu.com"

// fakeFetcher 把 files 写入仓库的 templates 目录，然后返回 err。
type fakeFetcher struct {
	base string

	mu    sync.Mutex
	files map[string]string
	err   error
	calls int
}

func (f *fakeFetcher) RepoPath(repo string) string {
	return filepath.Join(f.base, repo)
}

func (f *fakeFetcher) Fetch(_ context.Context, repo, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	root := filepath.Join(f.RepoPath(repo), fetcher.TemplatesRoot)
	if err := os.RemoveAll(root); err != nil {
		return err
	}
	for rel, content := range f.files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeFetcher) setFiles(files map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = files
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func title(s string) string {
	return "{% block title %}" + s + "{% endblock %}"
}

func siteFiles() map[string]string {
	return map[string]string{
		"index.html":          title("Home"),
		"juju.html":           title("Juju") + "{% block meta_copydoc %}https://docs.google.com/document/d/juju{% endblock %}",
		"about.html":          title("About"),
		"guides/index.html":   title("Guides"),
		"guides/install.html": title("Install"),
	}
}

type testEnv struct {
	db        *gorm.DB
	cache     *cache.Cache
	fetcher   *fakeFetcher
	projects  repository.ProjectRepository
	webpages  repository.WebpageRepository
	users     repository.UserRepository
	reviewers repository.ReviewerRepository
	products  repository.ProductRepository
	assets    repository.AssetRepository
	tasks     repository.JiraTaskRepository
	sites     *SiteRepositoryFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	backend, err := cache.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		db:        db,
		cache:     cache.New(backend),
		fetcher:   &fakeFetcher{base: t.TempDir(), files: siteFiles()},
		projects:  repository.NewProjectRepository(db),
		webpages:  repository.NewWebpageRepository(db),
		users:     repository.NewUserRepository(db),
		reviewers: repository.NewReviewerRepository(db),
		products:  repository.NewProductRepository(db),
		assets:    repository.NewAssetRepository(db),
		tasks:     repository.NewJiraTaskRepository(db),
	}
	env.sites = NewSiteRepositoryFactory(env.projects, env.webpages, env.users, env.cache, env.fetcher, SyncOptions{
		Branch:           "main",
		FlagPollInterval: 5 * time.Millisecond,
		FlagPollTimeout:  50 * time.Millisecond,
		ScanRetries:      1,
	})
	return env
}

// page 返回站点中指定名称的页面记录。
func (e *testEnv) page(t *testing.T, name string) *model.Webpage {
	t.Helper()
	project, err := e.projects.FindByName(site)
	require.NoError(t, err)
	page, err := e.webpages.FindByName(project.ID, name)
	require.NoError(t, err)
	return page
}

func (e *testEnv) rebuild(t *testing.T) *model.TreeNode {
	t.Helper()
	tree, err := e.sites.For(site).GetTree(context.Background())
	require.NoError(t, err)
	return tree
}

func childNames(node *model.TreeNode) []string {
	names := make([]string, 0, len(node.Children))
	for _, child := range node.Children {
		names = append(names, child.Name)
	}
	return names
}

func findNode(tree *model.TreeNode, name string) *model.TreeNode {
	var found *model.TreeNode
	tree.Walk(func(node *model.TreeNode) bool {
		if node.Name == name {
			found = node
			return false
		}
		return found == nil
	})
	return found
}
