package model

import "time"

// JiraTaskStatus 与 Jira 中的工单状态名称一致（大写）。
type JiraTaskStatus string

const (
	JiraTaskStatusTriaged      JiraTaskStatus = "TRIAGED"
	JiraTaskStatusUntriaged    JiraTaskStatus = "UNTRIAGED"
	JiraTaskStatusBlocked      JiraTaskStatus = "BLOCKED"
	JiraTaskStatusInProgress   JiraTaskStatus = "IN PROGRESS"
	JiraTaskStatusToBeDeployed JiraTaskStatus = "TO BE DEPLOYED"
	JiraTaskStatusDone         JiraTaskStatus = "DONE"
	JiraTaskStatusRejected     JiraTaskStatus = "REJECTED"
)

// ClosedJiraTaskStatuses 是视为已关闭的工单状态，其余状态均视为进行中。
var ClosedJiraTaskStatuses = []JiraTaskStatus{JiraTaskStatusDone, JiraTaskStatusRejected}

// IsOpen 报告工单是否仍在进行中。
func (s JiraTaskStatus) IsOpen() bool {
	for _, closed := range ClosedJiraTaskStatuses {
		if s == closed {
			return false
		}
	}
	return true
}

// JiraTaskType 是工单的请求类型。
type JiraTaskType string

const (
	JiraTaskTypeCopyUpdate  JiraTaskType = "COPY_UPDATE"
	JiraTaskTypePageRefresh JiraTaskType = "PAGE_REFRESH"
	JiraTaskTypeNewWebpage  JiraTaskType = "NEW_WEBPAGE"
	JiraTaskTypePageRemoval JiraTaskType = "PAGE_REMOVAL"
)

// JiraTask 对应于数据库中的 'jira_tasks' 表，关联一个页面和它的工作流工单。
type JiraTask struct {
	ID          uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	JiraID      string         `gorm:"type:varchar(50);index" json:"jira_id"`
	WebpageID   uint           `gorm:"not null;index" json:"webpage_id"`
	UserID      uint           `json:"user_id"`
	Status      JiraTaskStatus `gorm:"type:varchar(30);not null;default:UNTRIAGED" json:"status"`
	Summary     string         `gorm:"type:text" json:"summary"`
	RequestType JiraTaskType   `gorm:"type:varchar(30)" json:"request_type"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (JiraTask) TableName() string {
	return "jira_tasks"
}
