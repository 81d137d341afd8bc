// Package jira 提供了创建和跟踪页面工作流工单的 Jira REST 客户端。
package jira

import (
	"bytes"
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

const (
	// IssueTypeEpic 是 Epic 的 issue type ID。
	IssueTypeEpic = "10000"
	// IssueTypeSubtask 是子任务的 issue type ID。
	IssueTypeSubtask = "10013"
)

// EpicSubtasks 是新建页面或页面改版时在 Epic 下自动创建的子任务。
var EpicSubtasks = []string{"UX", "Visual", "Dev"}

// Error 是 Jira 返回的非 2xx 响应。
type Error struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("jira: %s %s 返回状态码 %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Issue 是创建工单后 Jira 返回的标识。
type Issue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

// User 是 user/search 接口返回的用户。
type User struct {
	AccountID    string `json:"accountId"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

// IssueRequest 描述一个待创建的工单。
type IssueRequest struct {
	Summary     string
	Description string
	ReporterID  string
	DueDate     string
	// Epic 为 true 时创建 Epic 及其子任务，否则在 copy updates Epic 下创建子任务。
	Epic bool
}

// Client 是 Jira REST API v3 的客户端。
type Client struct {
	cfg    config.JiraConfig
	client *http.Client
}

// NewClient 创建一个新的 Jira 客户端实例。
func NewClient(cfg config.JiraConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

// Enabled 报告是否配置了 Jira 地址。
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.URL != ""
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	endpoint := strings.TrimRight(c.cfg.URL, "/") + "/rest/api/3/" + strings.TrimLeft(path, "/")

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化 Jira 请求失败: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("创建 Jira 请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.cfg.Email, c.cfg.Token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("调用 Jira 失败: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取 Jira 响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Method: method, Path: path, Body: string(respBody)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("解析 Jira 响应失败: %w", err)
	}
	return nil
}

// createTask 创建一个任务或子任务，parent 为空时不设置父工单。
func (c *Client) createTask(ctx context.Context, req IssueRequest, summary, issueType, parent string) (*Issue, error) {
	fields := map[string]interface{}{
		"summary": summary,
		"description": map[string]interface{}{
			"type":    "doc",
			"version": 1,
			"content": []map[string]interface{}{{
				"type":    "paragraph",
				"content": []map[string]string{{"type": "text", "text": req.Description}},
			}},
		},
		"issuetype": map[string]string{"id": issueType},
		"labels":    c.cfg.Labels,
	}
	if c.cfg.ProjectID != "" {
		fields["project"] = map[string]string{"id": c.cfg.ProjectID}
	}
	if req.ReporterID != "" {
		fields["reporter"] = map[string]string{"id": req.ReporterID}
	}
	if req.DueDate != "" {
		fields["duedate"] = req.DueDate
	}
	if parent != "" {
		fields["parent"] = map[string]string{"key": parent}
	}

	var issue Issue
	if err := c.do(ctx, http.MethodPost, "issue", map[string]interface{}{"fields": fields, "update": map[string]interface{}{}}, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// CreateIssue 创建工单。Epic 请求会额外在 Epic 下创建 UX/Visual/Dev 三个子任务，返回 Epic 本身。
func (c *Client) CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	if !req.Epic {
		return c.createTask(ctx, req, req.Summary, IssueTypeSubtask, c.cfg.CopyUpdatesEpic)
	}

	epic, err := c.createTask(ctx, req, req.Summary, IssueTypeEpic, "")
	if err != nil {
		return nil, fmt.Errorf("创建 Epic 失败: %w", err)
	}
	for _, name := range EpicSubtasks {
		if _, err := c.createTask(ctx, req, fmt.Sprintf("%s - %s", name, req.Summary), IssueTypeSubtask, epic.Key); err != nil {
			return nil, fmt.Errorf("创建子任务 %s 失败: %w", name, err)
		}
	}
	log.Infof("Jira Epic %s 及其子任务已创建", epic.Key)
	return epic, nil
}

// GetIssueStatus 返回工单当前的状态名称。
func (c *Client) GetIssueStatus(ctx context.Context, key string) (string, error) {
	var resp struct {
		Fields struct {
			Status struct {
				Name string `json:"name"`
			} `json:"status"`
		} `json:"fields"`
	}
	if err := c.do(ctx, http.MethodGet, "issue/"+url.PathEscape(key)+"?fields=status", nil, &resp); err != nil {
		return "", err
	}
	return resp.Fields.Status.Name, nil
}

// ChangeIssueStatus 对工单执行一次状态流转。
func (c *Client) ChangeIssueStatus(ctx context.Context, key, transitionID string) error {
	payload := map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	}
	return c.do(ctx, http.MethodPost, "issue/"+url.PathEscape(key)+"/transitions", payload, nil)
}

// Reject 把工单流转到 rejected 状态。
func (c *Client) Reject(ctx context.Context, key string) error {
	return c.ChangeIssueStatus(ctx, key, c.cfg.RejectedTransitionID)
}

// FindUser 按邮箱或名称查找 Jira 用户。
func (c *Client) FindUser(ctx context.Context, query string) ([]User, error) {
	var users []User
	if err := c.do(ctx, http.MethodGet, "user/search?query="+url.QueryEscape(query), nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}
