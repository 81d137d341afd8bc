package model

import "time"

// Product 对应于数据库中的 'products' 表。
type Product struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Slug      string    `gorm:"type:varchar(128);uniqueIndex" json:"slug"`
	Name      string    `gorm:"type:varchar(255)" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Product) TableName() string {
	return "products"
}

// WebpageProduct 是页面与产品的关联。
type WebpageProduct struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	WebpageID uint      `gorm:"not null;index" json:"webpage_id"`
	ProductID uint      `gorm:"not null;index" json:"product_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Product *Product `gorm:"foreignKey:ProductID" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (WebpageProduct) TableName() string {
	return "webpage_products"
}

// Asset 是页面引用的静态资源（图片、视频等）。
type Asset struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Type      string    `gorm:"type:varchar(64);not null" json:"type"`
	URL       string    `gorm:"type:varchar(1024);not null" json:"url"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Asset) TableName() string {
	return "assets"
}

// WebpageAsset 是页面与资源的关联，(webpage_id, asset_id) 唯一。
type WebpageAsset struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	WebpageID uint      `gorm:"not null;uniqueIndex:uq_webpage_asset" json:"webpage_id"`
	AssetID   uint      `gorm:"not null;uniqueIndex:uq_webpage_asset" json:"asset_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (WebpageAsset) TableName() string {
	return "webpage_assets"
}

// AllModels 返回需要迁移的全部模型。
func AllModels() []interface{} {
	return []interface{}{
		&Project{}, &User{}, &Webpage{}, &Reviewer{}, &JiraTask{},
		&Product{}, &WebpageProduct{}, &Asset{}, &WebpageAsset{},
	}
}
