package model

import "time"

// User 对应于数据库中的 'users' 表，记录页面负责人、审阅人和工单提交人。
type User struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name          string    `gorm:"type:varchar(255);not null" json:"name"`
	Email         string    `gorm:"type:varchar(255);index" json:"email"`
	JiraAccountID string    `gorm:"type:varchar(128)" json:"jira_account_id"`
	Team          string    `gorm:"type:varchar(255)" json:"team"`
	Department    string    `gorm:"type:varchar(255)" json:"department"`
	HrcID         string    `gorm:"type:varchar(64)" json:"hrc_id"`
	JobTitle      string    `gorm:"type:varchar(255)" json:"job_title"`
	Role          string    `gorm:"type:varchar(64)" json:"role"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// DefaultUserName 是新页面的默认负责人名称。
const DefaultUserName = "Default"

// TableName 指定了此模型在数据库中对应的表名。
func (User) TableName() string {
	return "users"
}

// Reviewer 对应于数据库中的 'reviewers' 表，是用户与页面的多对多关联。
type Reviewer struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	WebpageID uint      `gorm:"not null;index" json:"webpage_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Reviewer) TableName() string {
	return "reviewers"
}
