// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"content-system-go/internal/middleware"
	"content-system-go/internal/service"
	"content-system-go/pkg/log"
	"content-system-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// statusFor 把业务层错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrWebpageNotFound),
		errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrSnapshotNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPageExists):
		return http.StatusConflict
	case errors.Is(err, service.ErrRemovalPending),
		errors.Is(err, service.ErrReporterNotFound):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrJiraDisabled),
		errors.Is(err, service.ErrSearchDisabled),
		errors.Is(err, service.ErrSnapshotsDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError 记录错误并返回 {"error": ...}，内部错误不把细节返回给前端。
func abortWithError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Errorf("%s 失败: %v", op, err)
		c.JSON(status, gin.H{"error": op + " failed"})
		return
	}
	log.Warnf("%s: %v", op, err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, op string, err error) {
	log.Warnf("%s: 无效的请求负载, error: %v", op, err)
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
}

// CurrentUser 返回 token 中的调用方信息，关闭认证时返回空对象。
func CurrentUser(c *gin.Context) {
	value, ok := c.Get(middleware.ClaimsKey)
	if !ok {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	claims := value.(*token.CustomClaims)
	c.JSON(http.StatusOK, gin.H{
		"name":  claims.Name,
		"email": claims.Email,
		"role":  claims.Role,
	})
}

// Handlers 汇总了所有 API 处理器。
type Handlers struct {
	Tree   *TreeHandler
	Page   *PageHandler
	Jira   *JiraHandler
	Search *SearchHandler
}

// RegisterRoutes 在 api 路由组下注册全部接口。
func RegisterRoutes(api *gin.RouterGroup, h Handlers) {
	api.GET("/current-user", CurrentUser)

	api.GET("/get-tree/:uri", h.Tree.GetTree)
	api.GET("/get-tree/:uri/:no_cache", h.Tree.GetTree)

	api.GET("/get-users", h.Page.GetUsers)
	api.GET("/get-users/:username", h.Page.GetUsers)
	api.POST("/set-owner", h.Page.SetOwner)
	api.POST("/set-reviewers", h.Page.SetReviewers)
	api.GET("/get-products", h.Page.GetProducts)
	api.POST("/set-product", h.Page.SetProduct)
	api.POST("/get-webpage-assets", h.Page.GetWebpageAssets)
	api.POST("/create-page", h.Page.CreatePage)

	api.POST("/request-changes", h.Jira.RequestChanges)
	api.POST("/request-removal", h.Jira.RequestRemoval)
	api.GET("/get-jira-tasks/:webpage_id", h.Jira.GetJiraTasks)

	api.GET("/search", h.Search.Search)
	api.GET("/get-tree-snapshot/:uri", h.Search.GetTreeSnapshot)
}
