// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Project 对应于数据库中的 'projects' 表，每个被同步的站点仓库对应一条记录。
type Project struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Project) TableName() string {
	return "projects"
}
