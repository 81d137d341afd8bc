package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"content-system-go/internal/model"
	"content-system-go/internal/repository"
	"content-system-go/pkg/log"

	"gorm.io/gorm"
)

var (
	// ErrWebpageNotFound 表示页面不存在。
	ErrWebpageNotFound = errors.New("webpage not found")
	// ErrProjectNotFound 表示项目不存在。
	ErrProjectNotFound = errors.New("project not found")
	// ErrPageExists 表示项目中已经有同名页面。
	ErrPageExists = errors.New("webpage already exists")
)

// UserInput 是前端提交的用户信息，字段名与用户目录接口保持一致。
type UserInput struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Team       string `json:"team"`
	Department string `json:"department"`
	JobTitle   string `json:"jobTitle"`
	Role       string `json:"role"`
}

func userInputFrom(user model.User) UserInput {
	return UserInput{
		ID:         user.HrcID,
		Name:       user.Name,
		Email:      user.Email,
		Team:       user.Team,
		Department: user.Department,
		JobTitle:   user.JobTitle,
		Role:       user.Role,
	}
}

func (u UserInput) toModel() *model.User {
	return &model.User{
		Name:       u.Name,
		Email:      u.Email,
		Team:       u.Team,
		Department: u.Department,
		JobTitle:   u.JobTitle,
		HrcID:      u.ID,
		Role:       u.Role,
	}
}

// CreatePageRequest 描述一个在工作流中新建的页面。
type CreatePageRequest struct {
	Project    string      `json:"project" binding:"required"`
	Name       string      `json:"name" binding:"required"`
	Parent     string      `json:"parent"`
	CopyDoc    string      `json:"copy_doc"`
	Owner      UserInput   `json:"owner"`
	Reviewers  []UserInput `json:"reviewers"`
	ProductIDs []uint      `json:"product_ids"`
}

// PageService 接口定义了页面元数据的修改操作，每个修改都会使项目的模板树缓存失效。
type PageService interface {
	// ListUsers 返回可以被设置为负责人或审阅人的用户，name 非空时按名称过滤。
	ListUsers(name string) ([]UserInput, error)
	SetOwner(ctx context.Context, webpageID uint, owner UserInput) (*model.Webpage, error)
	SetReviewers(ctx context.Context, webpageID uint, reviewers []UserInput) error
	ListProducts() ([]model.Product, error)
	SetProducts(ctx context.Context, webpageID uint, productIDs []uint) error
	GetWebpageAssets(projectName, url string) ([]model.Asset, error)
	CreatePage(ctx context.Context, req CreatePageRequest) (*model.Webpage, error)
}

type pageService struct {
	projects  repository.ProjectRepository
	webpages  repository.WebpageRepository
	users     repository.UserRepository
	reviewers repository.ReviewerRepository
	products  repository.ProductRepository
	assets    repository.AssetRepository
	sites     *SiteRepositoryFactory
}

// NewPageService 创建一个新的 PageService 实例。
func NewPageService(
	projects repository.ProjectRepository,
	webpages repository.WebpageRepository,
	users repository.UserRepository,
	reviewers repository.ReviewerRepository,
	products repository.ProductRepository,
	assets repository.AssetRepository,
	sites *SiteRepositoryFactory,
) PageService {
	return &pageService{
		projects:  projects,
		webpages:  webpages,
		users:     users,
		reviewers: reviewers,
		products:  products,
		assets:    assets,
		sites:     sites,
	}
}

func findWebpage(webpages repository.WebpageRepository, webpageID uint) (*model.Webpage, error) {
	page, err := webpages.FindByID(webpageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebpageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询页面失败: %w", err)
	}
	return page, nil
}

func (s *pageService) ListUsers(name string) ([]UserInput, error) {
	var (
		users []model.User
		err   error
	)
	if name = strings.TrimSpace(name); name == "" {
		users, err = s.users.FindAll()
	} else {
		users, err = s.users.SearchByName(name)
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	list := make([]UserInput, 0, len(users))
	for _, user := range users {
		// 默认负责人只是占位，不出现在候选列表中
		if user.Name == model.DefaultUserName && user.Email == "" {
			continue
		}
		list = append(list, userInputFrom(user))
	}
	return list, nil
}

// SetOwner 设置页面负责人，用户不存在时先创建。
func (s *pageService) SetOwner(ctx context.Context, webpageID uint, owner UserInput) (*model.Webpage, error) {
	page, err := findWebpage(s.webpages, webpageID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetOrCreate(owner.toModel())
	if err != nil {
		return nil, fmt.Errorf("获取用户失败: %w", err)
	}
	if err := s.webpages.UpdateOwner(page.ID, user.ID); err != nil {
		return nil, fmt.Errorf("更新负责人失败: %w", err)
	}
	page.OwnerID = &user.ID
	page.Owner = user

	s.sites.InvalidateProject(ctx, page.ProjectID)
	log.Infof("页面 %d 的负责人已设置为 %s", page.ID, user.Name)
	return page, nil
}

// SetReviewers 用给定的用户替换页面的全部审阅人。
func (s *pageService) SetReviewers(ctx context.Context, webpageID uint, reviewers []UserInput) error {
	page, err := findWebpage(s.webpages, webpageID)
	if err != nil {
		return err
	}
	userIDs, err := s.resolveUsers(reviewers)
	if err != nil {
		return err
	}
	if err := s.reviewers.ReplaceForWebpage(page.ID, userIDs); err != nil {
		return fmt.Errorf("更新审阅人失败: %w", err)
	}
	s.sites.InvalidateProject(ctx, page.ProjectID)
	return nil
}

func (s *pageService) resolveUsers(inputs []UserInput) ([]uint, error) {
	ids := make([]uint, 0, len(inputs))
	for _, input := range inputs {
		user, err := s.users.GetOrCreate(input.toModel())
		if err != nil {
			return nil, fmt.Errorf("获取用户 %s 失败: %w", input.Email, err)
		}
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// ListProducts 返回全部产品。
func (s *pageService) ListProducts() ([]model.Product, error) {
	return s.products.FindAll()
}

// SetProducts 用给定的产品替换页面的全部产品关联。
func (s *pageService) SetProducts(ctx context.Context, webpageID uint, productIDs []uint) error {
	page, err := findWebpage(s.webpages, webpageID)
	if err != nil {
		return err
	}
	if err := s.products.ReplaceForWebpage(page.ID, productIDs); err != nil {
		return fmt.Errorf("更新产品失败: %w", err)
	}
	s.sites.InvalidateProject(ctx, page.ProjectID)
	return nil
}

// GetWebpageAssets 返回项目中指定 URL 页面引用的资源。
func (s *pageService) GetWebpageAssets(projectName, url string) ([]model.Asset, error) {
	project, err := s.projects.FindByName(projectName)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询项目失败: %w", err)
	}
	page, err := s.webpages.FindByURL(project.ID, url)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrWebpageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询页面失败: %w", err)
	}
	return s.assets.FindByWebpage(page.ID)
}

// CreatePage 创建一个状态为 NEW 的页面，它在出现在源码仓库中之后才会变为 AVAILABLE。
func (s *pageService) CreatePage(ctx context.Context, req CreatePageRequest) (*model.Webpage, error) {
	project, err := s.projects.FindByName(req.Project)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询项目失败: %w", err)
	}
	if _, err := s.webpages.FindByName(project.ID, req.Name); err == nil {
		return nil, ErrPageExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询页面失败: %w", err)
	}

	owner, err := s.users.GetOrCreate(req.Owner.toModel())
	if err != nil {
		return nil, fmt.Errorf("获取负责人失败: %w", err)
	}

	page := &model.Webpage{
		ProjectID:   project.ID,
		Name:        req.Name,
		URL:         req.Name,
		CopyDocLink: req.CopyDoc,
		OwnerID:     &owner.ID,
		Status:      model.WebpageStatusNew,
	}
	parent, err := s.findParent(project.ID, req.Parent)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		page.ParentID = &parent.ID
	}
	if err := s.webpages.Create(page); err != nil {
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}

	reviewerIDs, err := s.resolveUsers(req.Reviewers)
	if err != nil {
		return nil, err
	}
	if err := s.reviewers.ReplaceForWebpage(page.ID, reviewerIDs); err != nil {
		return nil, fmt.Errorf("设置审阅人失败: %w", err)
	}
	if err := s.products.ReplaceForWebpage(page.ID, req.ProductIDs); err != nil {
		return nil, fmt.Errorf("设置产品失败: %w", err)
	}

	s.sites.InvalidateProject(ctx, project.ID)
	log.Infof("项目 %s 新建页面 %s", project.Name, page.Name)
	return page, nil
}

// findParent 返回新页面的父页面。未指定或找不到时挂到项目的根页面下，项目还没有页面时返回 nil。
func (s *pageService) findParent(projectID uint, name string) (*model.Webpage, error) {
	if name != "" {
		parent, err := s.webpages.FindByName(projectID, name)
		if err == nil {
			return parent, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("查询父页面失败: %w", err)
		}
	}
	root, err := s.webpages.FindRoot(projectID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询根页面失败: %w", err)
	}
	return root, nil
}
