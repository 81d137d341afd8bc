package repository

import (
	"errors"
	"strings"

	"content-system-go/internal/model"

	"gorm.io/gorm"
)

// UserRepository 接口定义了用户数据的持久化操作。
type UserRepository interface {
	FindByID(userID uint) (*model.User, error)
	FindByEmail(email string) (*model.User, error)
	FindAll() ([]model.User, error)
	// SearchByName 返回名称包含 query 的用户（不区分大小写）。
	SearchByName(query string) ([]model.User, error)
	// GetOrCreate 按邮箱（没有邮箱时按名称）查找用户，不存在时创建。
	GetOrCreate(user *model.User) (*model.User, error)
	GetOrCreateDefault() (*model.User, error)
	Update(user *model.User) error
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建一个新的 UserRepository 实例。
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

// FindByID 根据用户 ID 从数据库中查找一个用户。
func (r *userRepository) FindByID(userID uint) (*model.User, error) {
	var user model.User
	if err := r.db.First(&user, userID).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByEmail 根据邮箱查找用户。
func (r *userRepository) FindByEmail(email string) (*model.User, error) {
	var user model.User
	if err := r.db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindAll 从数据库中检索所有用户记录。
func (r *userRepository) FindAll() ([]model.User, error) {
	var users []model.User
	err := r.db.Order("id").Find(&users).Error
	return users, err
}

func (r *userRepository) SearchByName(query string) ([]model.User, error) {
	var users []model.User
	pattern := "%" + strings.ToLower(query) + "%"
	err := r.db.Where("LOWER(name) LIKE ?", pattern).Order("name").Find(&users).Error
	return users, err
}

func (r *userRepository) GetOrCreate(user *model.User) (*model.User, error) {
	var existing model.User
	query := r.db.Where("name = ?", user.Name)
	if user.Email != "" {
		query = r.db.Where("email = ?", user.Email)
	}
	err := query.First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	created := *user
	created.ID = 0
	if err := r.db.Create(&created).Error; err != nil {
		return nil, err
	}
	return &created, nil
}

// GetOrCreateDefault 返回新页面使用的默认负责人。
func (r *userRepository) GetOrCreateDefault() (*model.User, error) {
	return r.GetOrCreate(&model.User{Name: model.DefaultUserName})
}

// Update 更新数据库中一个已存在的用户记录。
func (r *userRepository) Update(user *model.User) error {
	return r.db.Save(user).Error
}
