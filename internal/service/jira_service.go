package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"content-system-go/internal/model"
	"content-system-go/internal/repository"
	"content-system-go/pkg/jira"
	"content-system-go/pkg/log"
)

var (
	// ErrJiraDisabled 表示没有配置 Jira。
	ErrJiraDisabled = errors.New("jira is not configured")
	// ErrRemovalPending 表示页面已经有一个未被拒绝的删除工单。
	ErrRemovalPending = errors.New("jira task already exists")
	// ErrReporterNotFound 表示提交人在 Jira 中不存在。
	ErrReporterNotFound = errors.New("reporter not found in jira")
)

// JiraClient 是工单服务依赖的 Jira 接口。
type JiraClient interface {
	CreateIssue(ctx context.Context, req jira.IssueRequest) (*jira.Issue, error)
	GetIssueStatus(ctx context.Context, key string) (string, error)
	Reject(ctx context.Context, key string) error
	FindUser(ctx context.Context, query string) ([]jira.User, error)
}

// ChangesRequest 是一次页面修改请求。
type ChangesRequest struct {
	WebpageID   uint               `json:"webpage_id" binding:"required"`
	DueDate     string             `json:"due_date"`
	Reporter    UserInput          `json:"reporter_struct"`
	Description string             `json:"description"`
	Summary     string             `json:"summary"`
	RequestType model.JiraTaskType `json:"request_type" binding:"required"`
}

// RemovalRequest 是一次页面删除请求。
type RemovalRequest struct {
	WebpageID   uint      `json:"webpage_id" binding:"required"`
	DueDate     string    `json:"due_date"`
	Reporter    UserInput `json:"reporter_struct"`
	Description string    `json:"description"`
	RedirectURL string    `json:"redirect_url"`
}

// RemovalResult 描述删除请求的处理结果：NEW 页面被直接删除，其余页面创建删除工单。
type RemovalResult struct {
	Deleted bool
	Task    *model.JiraTask
}

// JiraService 接口定义了页面工作流工单相关的操作。
type JiraService interface {
	RequestChanges(ctx context.Context, req ChangesRequest) (*model.JiraTask, error)
	RequestRemoval(ctx context.Context, req RemovalRequest) (*RemovalResult, error)
	ListTasks(webpageID uint) ([]model.JiraTask, error)
	// SyncStatuses 从 Jira 拉取所有工单的最新状态，返回状态发生变化的工单数。
	SyncStatuses(ctx context.Context) (int, error)
}

type jiraService struct {
	client   JiraClient
	webpages repository.WebpageRepository
	users    repository.UserRepository
	tasks    repository.JiraTaskRepository
	sites    *SiteRepositoryFactory
}

// NewJiraService 创建一个新的 JiraService 实例，client 为 nil 时创建工单的操作返回 ErrJiraDisabled。
func NewJiraService(
	client JiraClient,
	webpages repository.WebpageRepository,
	users repository.UserRepository,
	tasks repository.JiraTaskRepository,
	sites *SiteRepositoryFactory,
) JiraService {
	return &jiraService{client: client, webpages: webpages, users: users, tasks: tasks, sites: sites}
}

func defaultSummary(requestType model.JiraTaskType, name string) string {
	switch requestType {
	case model.JiraTaskTypeCopyUpdate:
		return "Copy update " + name
	case model.JiraTaskTypePageRefresh:
		return "Page refresh for " + name
	case model.JiraTaskTypeNewWebpage:
		return "New webpage for " + name
	default:
		return ""
	}
}

// isEpic 报告该类型的请求是否需要创建 Epic 和子任务。
func isEpic(requestType model.JiraTaskType) bool {
	return requestType == model.JiraTaskTypeNewWebpage || requestType == model.JiraTaskTypePageRefresh
}

// reporterAccountID 返回提交人的 Jira account ID，第一次查询后保存在用户记录上。
func (s *jiraService) reporterAccountID(ctx context.Context, user *model.User) (string, error) {
	if user.JiraAccountID != "" {
		return user.JiraAccountID, nil
	}
	if user.Email == "" {
		return "", ErrReporterNotFound
	}
	found, err := s.client.FindUser(ctx, user.Email)
	if err != nil {
		return "", fmt.Errorf("查询 Jira 用户失败: %w", err)
	}
	if len(found) == 0 {
		return "", fmt.Errorf("%w: %s", ErrReporterNotFound, user.Email)
	}
	user.JiraAccountID = found[0].AccountID
	if err := s.users.Update(user); err != nil {
		log.Warnf("保存用户 %d 的 Jira account ID 失败: %v", user.ID, err)
	}
	return user.JiraAccountID, nil
}

// createTask 在 Jira 中创建工单并保存工单记录。
func (s *jiraService) createTask(ctx context.Context, page *model.Webpage, reporter UserInput, requestType model.JiraTaskType, summary, description, dueDate string) (*model.JiraTask, error) {
	user, err := s.users.GetOrCreate(reporter.toModel())
	if err != nil {
		return nil, fmt.Errorf("获取提交人失败: %w", err)
	}
	accountID, err := s.reporterAccountID(ctx, user)
	if err != nil {
		return nil, err
	}
	issue, err := s.client.CreateIssue(ctx, jira.IssueRequest{
		Summary:     summary,
		Description: description,
		ReporterID:  accountID,
		DueDate:     dueDate,
		Epic:        isEpic(requestType),
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Jira 工单失败: %w", err)
	}

	task := &model.JiraTask{
		JiraID:      issue.Key,
		WebpageID:   page.ID,
		UserID:      user.ID,
		Summary:     summary,
		RequestType: requestType,
	}
	if err := s.tasks.Create(task); err != nil {
		return nil, fmt.Errorf("保存工单 %s 失败: %w", issue.Key, err)
	}
	log.Infof("页面 %s 创建工单 %s (%s)", page.Name, task.JiraID, requestType)
	return task, nil
}

// RequestChanges 为页面创建一个修改工单，summary 为空时按请求类型生成。
func (s *jiraService) RequestChanges(ctx context.Context, req ChangesRequest) (*model.JiraTask, error) {
	if s.client == nil {
		return nil, ErrJiraDisabled
	}
	page, err := findWebpage(s.webpages, req.WebpageID)
	if err != nil {
		return nil, err
	}
	summary := req.Summary
	if summary == "" {
		summary = defaultSummary(req.RequestType, page.Name)
	}
	task, err := s.createTask(ctx, page, req.Reporter, req.RequestType, summary, req.Description, req.DueDate)
	if err != nil {
		return nil, err
	}
	s.sites.InvalidateProject(ctx, page.ProjectID)
	return task, nil
}

// RequestRemoval 处理页面删除请求。
// NEW 页面还不在源码仓库中，直接拒绝它的全部工单并删除记录；
// 其余页面创建一个删除工单并标记为 TO_DELETE，等下一次重建时清理。
func (s *jiraService) RequestRemoval(ctx context.Context, req RemovalRequest) (*RemovalResult, error) {
	page, err := findWebpage(s.webpages, req.WebpageID)
	if err != nil {
		return nil, err
	}

	if page.Status == model.WebpageStatusNew {
		tasks, err := s.tasks.FindByWebpage(page.ID)
		if err != nil {
			return nil, fmt.Errorf("查询工单失败: %w", err)
		}
		if len(tasks) > 0 && s.client == nil {
			return nil, ErrJiraDisabled
		}
		for _, task := range tasks {
			if err := s.client.Reject(ctx, task.JiraID); err != nil {
				return nil, fmt.Errorf("拒绝工单 %s 失败: %w", task.JiraID, err)
			}
		}
		if err := s.webpages.Delete(page.ID); err != nil {
			return nil, fmt.Errorf("删除页面失败: %w", err)
		}
		s.sites.InvalidateProject(ctx, page.ProjectID)
		log.Infof("新页面 %s 已删除", page.Name)
		return &RemovalResult{Deleted: true}, nil
	}

	if s.client == nil {
		return nil, ErrJiraDisabled
	}
	pending, err := s.tasks.FindPendingByType(page.ID, model.JiraTaskTypePageRemoval)
	if err != nil {
		return nil, fmt.Errorf("查询删除工单失败: %w", err)
	}
	if pending != nil {
		return nil, ErrRemovalPending
	}

	summary := fmt.Sprintf("Remove %s webpage from code repository", page.Name)
	if req.RedirectURL != "" {
		summary += " and redirect to " + req.RedirectURL
	}
	task, err := s.createTask(ctx, page, req.Reporter, model.JiraTaskTypePageRemoval, summary, req.Description, req.DueDate)
	if err != nil {
		return nil, err
	}
	if err := s.webpages.UpdateStatus(page.ID, model.WebpageStatusToDelete); err != nil {
		return nil, fmt.Errorf("更新页面状态失败: %w", err)
	}
	s.sites.InvalidateProject(ctx, page.ProjectID)
	return &RemovalResult{Task: task}, nil
}

// ListTasks 按创建时间返回页面的全部工单。
func (s *jiraService) ListTasks(webpageID uint) ([]model.JiraTask, error) {
	return s.tasks.FindByWebpage(webpageID)
}

// SyncStatuses 更新状态发生变化的工单，并对每个受影响的项目只失效一次缓存。
func (s *jiraService) SyncStatuses(ctx context.Context) (int, error) {
	if s.client == nil {
		return 0, ErrJiraDisabled
	}
	tasks, err := s.tasks.FindAll()
	if err != nil {
		return 0, fmt.Errorf("查询工单失败: %w", err)
	}

	changed := 0
	projects := make(map[uint]struct{})
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		name, err := s.client.GetIssueStatus(ctx, task.JiraID)
		if err != nil {
			log.Warnf("获取工单 %s 的状态失败: %v", task.JiraID, err)
			continue
		}
		status := model.JiraTaskStatus(strings.ToUpper(name))
		if status == task.Status {
			continue
		}
		if err := s.tasks.UpdateStatus(task.ID, status); err != nil {
			log.Warnf("更新工单 %s 的状态失败: %v", task.JiraID, err)
			continue
		}
		changed++
		if page, err := s.webpages.FindByID(task.WebpageID); err == nil {
			projects[page.ProjectID] = struct{}{}
		}
	}

	for projectID := range projects {
		s.sites.InvalidateProject(ctx, projectID)
	}
	if changed > 0 {
		log.Infof("%d 个工单的状态已更新", changed)
	}
	return changed, nil
}
