package repository

import (
	"errors"

	"content-system-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebpageRepository 接口定义了页面数据的持久化操作。
type WebpageRepository interface {
	// Transaction 在一个事务中执行 fn，fn 返回错误时整体回滚。
	Transaction(fn func(repo WebpageRepository) error) error
	FindOrCreate(projectID uint, name string, ownerID uint) (*model.Webpage, bool, error)
	Create(page *model.Webpage) error
	Save(page *model.Webpage) error
	FindByID(id uint) (*model.Webpage, error)
	FindByName(projectID uint, name string) (*model.Webpage, error)
	FindByURL(projectID uint, url string) (*model.Webpage, error)
	// FindRoot 返回项目模板树的根页面（parent_id 为空）。
	FindRoot(projectID uint) (*model.Webpage, error)
	ListByProject(projectID uint, excludeStatuses ...model.WebpageStatus) ([]model.Webpage, error)
	ListByStatus(projectID uint, status model.WebpageStatus) ([]model.Webpage, error)
	// LoadRelations 批量预加载负责人、项目、审阅人、工单和产品。
	LoadRelations(ids []uint) (map[uint]*model.Webpage, error)
	CountOpenJiraTasks(webpageID uint) (int64, error)
	UpdateStatus(id uint, status model.WebpageStatus) error
	UpdateOwner(id, ownerID uint) error
	// Delete 删除页面以及它的审阅人、产品、资源关联和工单记录。
	Delete(id uint) error
}

type webpageRepository struct {
	db *gorm.DB
}

// NewWebpageRepository 创建一个新的 WebpageRepository 实例。
func NewWebpageRepository(db *gorm.DB) WebpageRepository {
	return &webpageRepository{db: db}
}

func (r *webpageRepository) Transaction(fn func(repo WebpageRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&webpageRepository{db: tx})
	})
}

// FindOrCreate 按 (project_id, name) 查找页面，不存在时以 ownerID 为负责人创建。
// 第二个返回值表示是否新建。
func (r *webpageRepository) FindOrCreate(projectID uint, name string, ownerID uint) (*model.Webpage, bool, error) {
	page, err := r.FindByName(projectID, name)
	if err == nil {
		return page, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	page = &model.Webpage{
		ProjectID: projectID,
		Name:      name,
		URL:       name,
		OwnerID:   &ownerID,
		Status:    model.WebpageStatusAvailable,
	}
	if err := r.Create(page); err != nil {
		return nil, false, err
	}
	return page, true, nil
}

func (r *webpageRepository) Create(page *model.Webpage) error {
	return r.db.Omit(clause.Associations).Create(page).Error
}

func (r *webpageRepository) Save(page *model.Webpage) error {
	return r.db.Omit(clause.Associations).Save(page).Error
}

func (r *webpageRepository) FindByID(id uint) (*model.Webpage, error) {
	var page model.Webpage
	if err := r.db.First(&page, id).Error; err != nil {
		return nil, err
	}
	return &page, nil
}

func (r *webpageRepository) FindByName(projectID uint, name string) (*model.Webpage, error) {
	var page model.Webpage
	err := r.db.Where("project_id = ? AND name = ?", projectID, name).First(&page).Error
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (r *webpageRepository) FindByURL(projectID uint, url string) (*model.Webpage, error) {
	var page model.Webpage
	err := r.db.Where("project_id = ? AND url = ?", projectID, url).First(&page).Error
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (r *webpageRepository) FindRoot(projectID uint) (*model.Webpage, error) {
	var page model.Webpage
	err := r.db.Where("project_id = ? AND parent_id IS NULL", projectID).Order("id").First(&page).Error
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (r *webpageRepository) ListByProject(projectID uint, excludeStatuses ...model.WebpageStatus) ([]model.Webpage, error) {
	var pages []model.Webpage
	query := r.db.Where("project_id = ?", projectID)
	if len(excludeStatuses) > 0 {
		query = query.Where("status NOT IN ?", excludeStatuses)
	}
	err := query.Order("id").Find(&pages).Error
	return pages, err
}

func (r *webpageRepository) ListByStatus(projectID uint, status model.WebpageStatus) ([]model.Webpage, error) {
	var pages []model.Webpage
	err := r.db.Where("project_id = ? AND status = ?", projectID, status).Order("id").Find(&pages).Error
	return pages, err
}

func (r *webpageRepository) LoadRelations(ids []uint) (map[uint]*model.Webpage, error) {
	result := make(map[uint]*model.Webpage, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var pages []model.Webpage
	err := r.db.
		Preload("Owner").
		Preload("Project").
		Preload("Reviewers", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Reviewers.User").
		Preload("JiraTasks", func(db *gorm.DB) *gorm.DB { return db.Order("created_at DESC, id DESC") }).
		Preload("WebpageProducts", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("WebpageProducts.Product").
		Where("id IN ?", ids).
		Find(&pages).Error
	if err != nil {
		return nil, err
	}
	for i := range pages {
		result[pages[i].ID] = &pages[i]
	}
	return result, nil
}

func (r *webpageRepository) CountOpenJiraTasks(webpageID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.JiraTask{}).
		Where("webpage_id = ? AND status NOT IN ?", webpageID, model.ClosedJiraTaskStatuses).
		Count(&count).Error
	return count, err
}

func (r *webpageRepository) UpdateStatus(id uint, status model.WebpageStatus) error {
	return r.db.Model(&model.Webpage{}).Where("id = ?", id).Update("status", status).Error
}

func (r *webpageRepository) UpdateOwner(id, ownerID uint) error {
	return r.db.Model(&model.Webpage{}).Where("id = ?", id).Update("owner_id", ownerID).Error
}

func (r *webpageRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, link := range []interface{}{&model.Reviewer{}, &model.WebpageProduct{}, &model.WebpageAsset{}, &model.JiraTask{}} {
			if err := tx.Where("webpage_id = ?", id).Delete(link).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.Webpage{}, id).Error
	})
}
