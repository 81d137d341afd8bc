// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"errors"

	"content-system-go/internal/model"

	"gorm.io/gorm"
)

// ProjectRepository 接口定义了项目数据的持久化操作。
type ProjectRepository interface {
	GetOrCreate(name string) (*model.Project, error)
	FindByID(id uint) (*model.Project, error)
	FindByName(name string) (*model.Project, error)
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建一个新的 ProjectRepository 实例。
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// GetOrCreate 按名称查找项目，不存在时创建。
func (r *projectRepository) GetOrCreate(name string) (*model.Project, error) {
	project, err := r.FindByName(name)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	project = &model.Project{Name: name}
	if err := r.db.Create(project).Error; err != nil {
		// 并发创建时唯一索引冲突，重新读取一次
		if existing, findErr := r.FindByName(name); findErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return project, nil
}

// FindByID 根据 ID 查找项目。
func (r *projectRepository) FindByID(id uint) (*model.Project, error) {
	var project model.Project
	if err := r.db.First(&project, id).Error; err != nil {
		return nil, err
	}
	return &project, nil
}

// FindByName 根据名称查找项目。
func (r *projectRepository) FindByName(name string) (*model.Project, error) {
	var project model.Project
	if err := r.db.Where("name = ?", name).First(&project).Error; err != nil {
		return nil, err
	}
	return &project, nil
}
