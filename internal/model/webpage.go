package model

import "time"

// WebpageStatus 描述页面在工作流中的状态。
type WebpageStatus string

const (
	// WebpageStatusNew 表示页面已在工作流中申请创建，尚未出现在源码仓库中。
	WebpageStatusNew WebpageStatus = "NEW"
	// WebpageStatusToDelete 表示页面已申请删除。
	WebpageStatusToDelete WebpageStatus = "TO_DELETE"
	// WebpageStatusAvailable 表示页面存在于源码仓库中。
	WebpageStatusAvailable WebpageStatus = "AVAILABLE"
)

// Webpage 对应于数据库中的 'webpages' 表。
// 同一项目内 Name 唯一，ParentID 为空的记录是该项目模板树的根节点。
type Webpage struct {
	ID            uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID     uint          `gorm:"not null;uniqueIndex:idx_webpage_project_name" json:"project_id"`
	Name          string        `gorm:"type:varchar(255);not null;uniqueIndex:idx_webpage_project_name" json:"name"`
	URL           string        `gorm:"type:varchar(255)" json:"url"`
	Title         string        `gorm:"type:text" json:"title"`
	Description   string        `gorm:"type:text" json:"description"`
	CopyDocLink   string        `gorm:"type:varchar(512)" json:"copy_doc_link"`
	ParentID      *uint         `gorm:"index" json:"parent_id"`
	OwnerID       *uint         `json:"owner_id"`
	Status        WebpageStatus `gorm:"type:varchar(20);not null;default:AVAILABLE;index" json:"status"`
	Ext           string        `gorm:"type:varchar(20)" json:"ext"`
	ContentJiraID string        `gorm:"type:varchar(50)" json:"content_jira_id"`
	FilePath      string        `gorm:"type:varchar(512)" json:"file_path"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`

	Project         *Project         `gorm:"foreignKey:ProjectID" json:"-"`
	Owner           *User            `gorm:"foreignKey:OwnerID" json:"-"`
	Reviewers       []Reviewer       `gorm:"foreignKey:WebpageID" json:"-"`
	JiraTasks       []JiraTask       `gorm:"foreignKey:WebpageID" json:"-"`
	WebpageProducts []WebpageProduct `gorm:"foreignKey:WebpageID" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Webpage) TableName() string {
	return "webpages"
}
