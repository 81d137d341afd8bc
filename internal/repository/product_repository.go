package repository

import (
	"errors"

	"content-system-go/internal/model"

	"gorm.io/gorm"
)

// ProductRepository 接口定义了产品及页面产品关联的持久化操作。
type ProductRepository interface {
	FindAll() ([]model.Product, error)
	FindByIDs(ids []uint) ([]model.Product, error)
	// Seed 按 slug 写入不存在的产品，已存在的保持不变。
	Seed(products []model.Product) error
	ReplaceForWebpage(webpageID uint, productIDs []uint) error
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository 创建一个新的 ProductRepository 实例。
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) FindAll() ([]model.Product, error) {
	var products []model.Product
	err := r.db.Order("name").Find(&products).Error
	return products, err
}

func (r *productRepository) FindByIDs(ids []uint) ([]model.Product, error) {
	var products []model.Product
	if len(ids) == 0 {
		return products, nil
	}
	err := r.db.Where("id IN ?", ids).Find(&products).Error
	return products, err
}

func (r *productRepository) Seed(products []model.Product) error {
	for _, product := range products {
		var existing model.Product
		err := r.db.Where("slug = ?", product.Slug).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		p := product
		if err := r.db.Create(&p).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *productRepository) ReplaceForWebpage(webpageID uint, productIDs []uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("webpage_id = ?", webpageID).Delete(&model.WebpageProduct{}).Error; err != nil {
			return err
		}
		seen := make(map[uint]bool, len(productIDs))
		for _, productID := range productIDs {
			if seen[productID] {
				continue
			}
			seen[productID] = true
			if err := tx.Create(&model.WebpageProduct{WebpageID: webpageID, ProductID: productID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
