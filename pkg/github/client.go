// Package github 提供了读取 GitHub 仓库文件树和文件内容的客户端。
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"content-system-go/internal/config"
	"content-system-go/pkg/log"
)

const apiVersion = "2022-11-28"

// Error 是 GitHub 返回的非 2xx 响应。
type Error struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("github: %s 返回状态码 %d: %s", e.Path, e.StatusCode, e.Body)
}

// Retryable 报告该错误是否值得重试（限流或服务端错误）。
func (e *Error) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TreeEntry 是仓库文件树中的一项。
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Tree 是 git/trees 接口的响应。
type Tree struct {
	SHA       string      `json:"sha"`
	Tree      []TreeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

// Blobs 返回路径以 prefix 开头的所有文件。
func (t *Tree) Blobs(prefix string) []TreeEntry {
	var blobs []TreeEntry
	for _, entry := range t.Tree {
		if entry.Type == "blob" && strings.HasPrefix(entry.Path, prefix) {
			blobs = append(blobs, entry)
		}
	}
	return blobs
}

// Client 是 GitHub REST API 的客户端。
type Client struct {
	cfg    config.GitHubConfig
	client *http.Client
}

// NewClient 创建一个新的 GitHub 客户端实例。
func NewClient(cfg config.GitHubConfig) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.github.com"
	}
	if cfg.Org == "" {
		cfg.Org = "canonical"
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// CloneURL 返回仓库的克隆地址，配置了 token 时带上认证信息。
func (c *Client) CloneURL(repository string) string {
	template := c.cfg.CloneURL
	if template == "" {
		template = "https://github.com/%s/%s.git"
	}
	raw := fmt.Sprintf(template, c.cfg.Org, repository)
	if c.cfg.Token == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return raw
	}
	u.User = url.UserPassword("x-access-token", c.cfg.Token)
	return u.String()
}

func (c *Client) request(ctx context.Context, path string) ([]byte, error) {
	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("创建 GitHub 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.raw+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 GitHub 失败: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取 GitHub 响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{StatusCode: resp.StatusCode, Path: path, Body: string(body)}
	}
	return body, nil
}

// GetRepositoryTree 返回仓库指定分支的完整文件树。
func (c *Client) GetRepositoryTree(ctx context.Context, repository, branch string) (*Tree, error) {
	path := fmt.Sprintf("repos/%s/%s/git/trees/%s?recursive=1", c.cfg.Org, repository, url.PathEscape(branch))
	body, err := c.request(ctx, path)
	if err != nil {
		return nil, err
	}
	var tree Tree
	if err := json.Unmarshal(body, &tree); err != nil {
		return nil, fmt.Errorf("解析 GitHub 文件树失败: %w", err)
	}
	if tree.Truncated {
		log.Warnf("GitHub 返回的 %s 文件树被截断", repository)
	}
	return &tree, nil
}

// GetFileContent 返回仓库中一个文件的原始内容。
func (c *Client) GetFileContent(ctx context.Context, repository, path string) ([]byte, error) {
	escaped := make([]string, 0)
	for _, segment := range strings.Split(strings.TrimLeft(path, "/"), "/") {
		escaped = append(escaped, url.PathEscape(segment))
	}
	return c.request(ctx, fmt.Sprintf("repos/%s/%s/contents/%s", c.cfg.Org, repository, strings.Join(escaped, "/")))
}
