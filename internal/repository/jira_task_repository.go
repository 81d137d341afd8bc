package repository

import (
	"errors"

	"content-system-go/internal/model"

	"gorm.io/gorm"
)

// JiraTaskRepository 接口定义了工单记录的持久化操作。
type JiraTaskRepository interface {
	Create(task *model.JiraTask) error
	FindByWebpage(webpageID uint) ([]model.JiraTask, error)
	FindAll() ([]model.JiraTask, error)
	UpdateStatus(id uint, status model.JiraTaskStatus) error
	// FindPendingByType 返回页面上指定类型且未被拒绝的工单，不存在时返回 nil。
	FindPendingByType(webpageID uint, requestType model.JiraTaskType) (*model.JiraTask, error)
}

type jiraTaskRepository struct {
	db *gorm.DB
}

// NewJiraTaskRepository 创建一个新的 JiraTaskRepository 实例。
func NewJiraTaskRepository(db *gorm.DB) JiraTaskRepository {
	return &jiraTaskRepository{db: db}
}

func (r *jiraTaskRepository) Create(task *model.JiraTask) error {
	if task.Status == "" {
		task.Status = model.JiraTaskStatusUntriaged
	}
	return r.db.Create(task).Error
}

func (r *jiraTaskRepository) FindByWebpage(webpageID uint) ([]model.JiraTask, error) {
	var tasks []model.JiraTask
	err := r.db.Where("webpage_id = ?", webpageID).Order("created_at, id").Find(&tasks).Error
	return tasks, err
}

func (r *jiraTaskRepository) FindAll() ([]model.JiraTask, error) {
	var tasks []model.JiraTask
	err := r.db.Order("id").Find(&tasks).Error
	return tasks, err
}

func (r *jiraTaskRepository) UpdateStatus(id uint, status model.JiraTaskStatus) error {
	return r.db.Model(&model.JiraTask{}).Where("id = ?", id).Update("status", status).Error
}

func (r *jiraTaskRepository) FindPendingByType(webpageID uint, requestType model.JiraTaskType) (*model.JiraTask, error) {
	var task model.JiraTask
	err := r.db.
		Where("webpage_id = ? AND request_type = ? AND status <> ?", webpageID, requestType, model.JiraTaskStatusRejected).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}
