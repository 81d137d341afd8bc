package repository

import (
	"content-system-go/internal/model"

	"gorm.io/gorm"
)

// AssetRepository 接口定义了页面资源的查询操作。
type AssetRepository interface {
	FindByWebpage(webpageID uint) ([]model.Asset, error)
	// Attach 记录页面引用了一个资源，资源按 URL 去重。
	Attach(webpageID uint, asset *model.Asset) error
}

type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository 创建一个新的 AssetRepository 实例。
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

func (r *assetRepository) FindByWebpage(webpageID uint) ([]model.Asset, error) {
	var assets []model.Asset
	err := r.db.
		Joins("JOIN webpage_assets ON webpage_assets.asset_id = assets.id").
		Where("webpage_assets.webpage_id = ?", webpageID).
		Order("assets.id").
		Find(&assets).Error
	return assets, err
}

func (r *assetRepository) Attach(webpageID uint, asset *model.Asset) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(model.Asset{URL: asset.URL}).Attrs(model.Asset{Type: asset.Type}).FirstOrCreate(asset).Error; err != nil {
			return err
		}
		link := model.WebpageAsset{WebpageID: webpageID, AssetID: asset.ID}
		return tx.Where(link).FirstOrCreate(&link).Error
	})
}
