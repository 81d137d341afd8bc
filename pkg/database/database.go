package database

import (
	"fmt"
	"time"

	"content-system-go/internal/model"
	"content-system-go/pkg/log"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open 按驱动名打开数据库连接，支持 mysql 和 sqlite（本地开发与测试）。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "", "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取 sql.DB 失败: %w", err)
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
		sqlDB.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
		sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间
	}
	return db, nil
}

// Migrate 创建或更新所有数据表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("数据表迁移失败: %w", err)
	}
	return nil
}

// InitDB 初始化全局数据库连接并完成迁移
func InitDB(driver, dsn string) {
	var err error
	DB, err = Open(driver, dsn)
	if err != nil {
		log.Fatal("failed to connect database", err)
	}
	if err := Migrate(DB); err != nil {
		log.Fatal("failed to migrate database", err)
	}
	log.Infof("%s database connected successfully", driverName(driver))
}

func driverName(driver string) string {
	if driver == "" {
		return "mysql"
	}
	return driver
}
