package repository

import (
	"content-system-go/internal/model"

	"gorm.io/gorm"
)

// ReviewerRepository 接口定义了页面审阅人的持久化操作。
type ReviewerRepository interface {
	// ReplaceForWebpage 用 userIDs 替换页面现有的审阅人。
	ReplaceForWebpage(webpageID uint, userIDs []uint) error
	FindByWebpage(webpageID uint) ([]model.Reviewer, error)
}

type reviewerRepository struct {
	db *gorm.DB
}

// NewReviewerRepository 创建一个新的 ReviewerRepository 实例。
func NewReviewerRepository(db *gorm.DB) ReviewerRepository {
	return &reviewerRepository{db: db}
}

func (r *reviewerRepository) ReplaceForWebpage(webpageID uint, userIDs []uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("webpage_id = ?", webpageID).Delete(&model.Reviewer{}).Error; err != nil {
			return err
		}
		seen := make(map[uint]bool, len(userIDs))
		for _, userID := range userIDs {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			if err := tx.Create(&model.Reviewer{UserID: userID, WebpageID: webpageID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *reviewerRepository) FindByWebpage(webpageID uint) ([]model.Reviewer, error) {
	var reviewers []model.Reviewer
	err := r.db.Preload("User").Where("webpage_id = ?", webpageID).Order("id").Find(&reviewers).Error
	return reviewers, err
}
