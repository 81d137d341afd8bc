package model

import (
	"encoding/json"
	"strings"
)

// DirExt 是目录节点的 ext 取值。
const DirExt = ".dir"

// TreeNode 是站点模板树中的一个节点。
// 扫描器生成的节点只包含文件系统信息，写入数据库后再合并页面记录中的字段。
// name/title/description/copy_doc_link/children 总是输出，其余字段为空时省略。
type TreeNode struct {
	ID            uint              `json:"id,omitempty"`
	Name          string            `json:"name"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	CopyDocLink   string            `json:"copy_doc_link"`
	Link          string            `json:"link,omitempty"`
	Ext           string            `json:"ext,omitempty"`
	FilePath      string            `json:"file_path,omitempty"`
	URL           string            `json:"url,omitempty"`
	ParentID      *uint             `json:"parent_id,omitempty"`
	Status        WebpageStatus     `json:"status,omitempty"`
	ContentJiraID string            `json:"content_jira_id,omitempty"`
	Owner         *UserSummary      `json:"owner,omitempty"`
	Project       *ProjectSummary   `json:"project,omitempty"`
	Reviewers     []UserSummary     `json:"reviewers,omitempty"`
	JiraTasks     []JiraTaskSummary `json:"jira_tasks,omitempty"`
	Products      []ProductSummary  `json:"products,omitempty"`
	CreatedAt     string            `json:"created_at,omitempty"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
	Children      []*TreeNode       `json:"children"`
}

// UserSummary 是树节点中内嵌的用户信息。
type UserSummary struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Team       string `json:"team,omitempty"`
	Department string `json:"department,omitempty"`
	JobTitle   string `json:"job_title,omitempty"`
	Role       string `json:"role,omitempty"`
}

// ProjectSummary 是树节点中内嵌的项目信息。
type ProjectSummary struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
}

// JiraTaskSummary 是树节点中内嵌的工单信息。
type JiraTaskSummary struct {
	ID          uint           `json:"id"`
	JiraID      string         `json:"jira_id"`
	Status      JiraTaskStatus `json:"status"`
	Summary     string         `json:"summary,omitempty"`
	RequestType JiraTaskType   `json:"request_type,omitempty"`
	UserID      uint           `json:"user_id,omitempty"`
	CreatedAt   string         `json:"created_at,omitempty"`
}

// ProductSummary 是树节点中内嵌的产品信息。
type ProductSummary struct {
	ID   uint   `json:"id"`
	Slug string `json:"slug,omitempty"`
	Name string `json:"name"`
}

// NewTreeNode 创建一个没有子节点的树节点。
func NewTreeNode(name string) *TreeNode {
	return &TreeNode{Name: name, Children: []*TreeNode{}}
}

// EmptyTree 返回读取失败时使用的空树。
func EmptyTree() *TreeNode {
	return NewTreeNode("")
}

// LeafName 返回 name 最后一个 "/" 之后的部分。
func (n *TreeNode) LeafName() string {
	return LeafName(n.Name)
}

// LeafName 返回路径最后一个 "/" 之后的部分。
func LeafName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Walk 以先序遍历访问树中的每个节点，fn 返回 false 时不再深入该节点。
func (n *TreeNode) Walk(fn func(node *TreeNode) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}

// Names 返回树中所有节点的 name 集合。
func (n *TreeNode) Names() map[string]struct{} {
	names := make(map[string]struct{})
	n.Walk(func(node *TreeNode) bool {
		names[node.Name] = struct{}{}
		return true
	})
	return names
}

// Count 返回树中的节点数。
func (n *TreeNode) Count() int {
	count := 0
	n.Walk(func(*TreeNode) bool {
		count++
		return true
	})
	return count
}

type treeNodeJSON TreeNode

// MarshalJSON 保证 children 总是输出为数组。
func (n TreeNode) MarshalJSON() ([]byte, error) {
	if n.Children == nil {
		n.Children = []*TreeNode{}
	}
	return json.Marshal(treeNodeJSON(n))
}

// UnmarshalJSON 保证解析后的 children 不为 nil。
func (n *TreeNode) UnmarshalJSON(data []byte) error {
	var raw treeNodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Children == nil {
		raw.Children = []*TreeNode{}
	}
	*n = TreeNode(raw)
	return nil
}
