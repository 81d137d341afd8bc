package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"content-system-go/internal/fetcher"
	"content-system-go/internal/model"
	"content-system-go/internal/repository"
	"content-system-go/internal/service"
	"content-system-go/pkg/cache"
	"content-system-go/pkg/database"
	"content-system-go/pkg/jira"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const site = "ubuntu.com"

type templateFetcher struct{ base string }

func (f templateFetcher) RepoPath(repo string) string { return filepath.Join(f.base, repo) }

func (f templateFetcher) Fetch(_ context.Context, repo, _ string) error {
	root := filepath.Join(f.RepoPath(repo), fetcher.TemplatesRoot)
	files := map[string]string{
		"index.html": "{% block title %}Home{% endblock %}",
		"juju.html":  "{% block title %}Juju{% endblock %}",
	}
	for rel, content := range files {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(root, rel), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type stubJira struct{ n int }

func (s *stubJira) CreateIssue(context.Context, jira.IssueRequest) (*jira.Issue, error) {
	s.n++
	return &jira.Issue{Key: fmt.Sprintf("WD-%d", s.n)}, nil
}
func (s *stubJira) GetIssueStatus(context.Context, string) (string, error) { return "Untriaged", nil }
func (s *stubJira) Reject(context.Context, string) error                   { return nil }
func (s *stubJira) FindUser(_ context.Context, q string) ([]jira.User, error) {
	return []jira.User{{AccountID: "acc", EmailAddress: q}}, nil
}

type stubSnapshots struct{}

func (stubSnapshots) SnapshotURL(_ context.Context, project, branch string, _ time.Duration) (string, error) {
	return "https://minio.local/site-trees/trees/" + project + "/" + branch + ".json?sig", nil
}

type testServer struct {
	router   *gin.Engine
	sites    *service.SiteRepositoryFactory
	webpages repository.WebpageRepository
	projects repository.ProjectRepository
	products repository.ProductRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	backend, err := cache.NewFileBackend(t.TempDir())
	require.NoError(t, err)

	projects := repository.NewProjectRepository(db)
	webpages := repository.NewWebpageRepository(db)
	users := repository.NewUserRepository(db)
	products := repository.NewProductRepository(db)
	tasks := repository.NewJiraTaskRepository(db)
	sites := service.NewSiteRepositoryFactory(projects, webpages, users, cache.New(backend), templateFetcher{base: t.TempDir()}, service.SyncOptions{Branch: "main"})

	pages := service.NewPageService(projects, webpages, users, repository.NewReviewerRepository(db), products, repository.NewAssetRepository(db), sites)
	jiraService := service.NewJiraService(&stubJira{}, webpages, users, tasks, sites)
	search := service.NewSearchService(nil, stubSnapshots{}, sites)

	r := gin.New()
	RegisterRoutes(r.Group("/api"), Handlers{
		Tree:   NewTreeHandler(sites),
		Page:   NewPageHandler(pages),
		Jira:   NewJiraHandler(jiraService),
		Search: NewSearchHandler(search),
	})
	return &testServer{router: r, sites: sites, webpages: webpages, projects: projects, products: products}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func (s *testServer) pageID(t *testing.T, name string) uint {
	t.Helper()
	project, err := s.projects.FindByName(site)
	require.NoError(t, err)
	page, err := s.webpages.FindByName(project.ID, name)
	require.NoError(t, err)
	return page.ID
}

func TestGetTree(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/api/get-tree/"+site, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, site, body["name"])
	templates := body["templates"].(map[string]interface{})
	assert.Equal(t, "/", templates["name"])
	assert.Equal(t, "Home", templates["title"])
	assert.Len(t, templates["children"], 1)

	w, _ = s.do(t, http.MethodGet, "/api/get-tree/"+site+"/no-cache", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSetOwnerEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/get-tree/"+site, nil)
	id := s.pageID(t, "/juju")

	w, body := s.do(t, http.MethodPost, "/api/set-owner", gin.H{
		"webpage_id":  id,
		"user_struct": gin.H{"name": "Anna", "email": "anna@canonical.com", "jobTitle": "Designer"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Successfully set owner", body["message"])

	var tree struct {
		Templates model.TreeNode `json:"templates"`
	}
	w, _ = s.do(t, http.MethodGet, "/api/get-tree/"+site, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tree))
	require.Len(t, tree.Templates.Children, 1)
	assert.Equal(t, "Designer", tree.Templates.Children[0].Owner.JobTitle)

	w, _ = s.do(t, http.MethodPost, "/api/set-owner", gin.H{"webpage_id": 999, "user_struct": gin.H{"name": "Anna"}})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/set-owner", gin.H{"user_struct": gin.H{"name": "Anna"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUsersEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/get-tree/"+site, nil)
	id := s.pageID(t, "/juju")
	w, _ := s.do(t, http.MethodPost, "/api/set-owner", gin.H{
		"webpage_id":  id,
		"user_struct": gin.H{"id": "hrc-7", "name": "Anna Smith", "email": "anna@canonical.com", "jobTitle": "Designer"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	get := func(path string) []map[string]interface{} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var users []map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
		return users
	}

	users := get("/api/get-users")
	require.Len(t, users, 1)
	assert.Equal(t, "hrc-7", users[0]["id"])
	assert.Equal(t, "Designer", users[0]["jobTitle"])

	assert.Len(t, get("/api/get-users/anna"), 1)
	assert.Empty(t, get("/api/get-users/bob"))
}

func TestProductsEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/get-tree/"+site, nil)
	require.NoError(t, s.products.Seed([]model.Product{{Slug: "juju", Name: "Juju"}}))

	req := httptest.NewRequest(http.MethodGet, "/api/get-products", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	var products []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &products))
	require.Len(t, products, 1)
	assert.Equal(t, "Juju", products[0]["name"])

	w, _ = s.do(t, http.MethodPost, "/api/set-product", gin.H{
		"webpage_id":  s.pageID(t, "/juju"),
		"product_ids": []interface{}{products[0]["id"]},
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestJiraEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/get-tree/"+site, nil)
	id := s.pageID(t, "/juju")
	reporter := gin.H{"name": "Anna", "email": "anna@canonical.com"}

	w, body := s.do(t, http.MethodPost, "/api/request-changes", gin.H{
		"webpage_id":      id,
		"due_date":        "2026-11-01",
		"reporter_struct": reporter,
		"request_type":    model.JiraTaskTypeCopyUpdate,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "WD-1", body["jira_task_id"])

	w, body = s.do(t, http.MethodPost, "/api/request-removal", gin.H{"webpage_id": id, "reporter_struct": reporter})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "WD-2", body["jira_task_id"])

	w, body = s.do(t, http.MethodPost, "/api/request-removal", gin.H{"webpage_id": id, "reporter_struct": reporter})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Jira task already exists", body["error"])

	w, _ = s.do(t, http.MethodPost, "/api/request-removal", gin.H{"webpage_id": 999, "reporter_struct": reporter})
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/get-jira-tasks/"+jsonNumber(id), nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	var tasks []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tasks))
	assert.Len(t, tasks, 2)

	w, _ = s.do(t, http.MethodGet, "/api/get-jira-tasks/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePageAndAssetsEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodGet, "/api/get-tree/"+site, nil)

	w, body := s.do(t, http.MethodPost, "/api/create-page", gin.H{
		"project":  site,
		"name":     "/maas",
		"copy_doc": "https://docs.google.com/document/d/maas",
		"owner":    gin.H{"name": "Anna"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "https://docs.google.com/document/d/maas", body["copy_doc"])

	w, _ = s.do(t, http.MethodPost, "/api/create-page", gin.H{"project": site, "name": "/maas"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = s.do(t, http.MethodPost, "/api/get-webpage-assets", gin.H{"project_name": site, "webpage_url": "/maas"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body["assets"])

	w, _ = s.do(t, http.MethodPost, "/api/get-webpage-assets", gin.H{"project_name": "nope.com", "webpage_url": "/maas"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSearchAndSnapshotEndpoints(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, http.MethodGet, "/api/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/search?query=juju", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w, body := s.do(t, http.MethodGet, "/api/get-tree-snapshot/"+site, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["url"], "trees/ubuntu.com/main.json")
}

func TestCurrentUserWithoutAuth(t *testing.T) {
	s := newTestServer(t)
	w, body := s.do(t, http.MethodGet, "/api/current-user", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, body)
}

func jsonNumber(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
