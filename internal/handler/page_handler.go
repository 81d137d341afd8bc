package handler

import (
	"net/http"

	"content-system-go/internal/service"
	"content-system-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// PageHandler 负责页面元数据的修改接口。
type PageHandler struct {
	pages service.PageService
}

// NewPageHandler 创建一个新的 PageHandler 实例。
func NewPageHandler(pages service.PageService) *PageHandler {
	return &PageHandler{pages: pages}
}

// GetUsers 返回本地用户表中的候选用户，路径参数 username 用于按名称过滤。
func (h *PageHandler) GetUsers(c *gin.Context) {
	users, err := h.pages.ListUsers(c.Param("username"))
	if err != nil {
		abortWithError(c, "get users", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// SetOwnerRequest 是设置负责人的请求体。
type SetOwnerRequest struct {
	WebpageID uint              `json:"webpage_id" binding:"required"`
	User      service.UserInput `json:"user_struct"`
}

// SetOwner 处理设置页面负责人的请求。
func (h *PageHandler) SetOwner(c *gin.Context) {
	var req SetOwnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SetOwner", err)
		return
	}
	if _, err := h.pages.SetOwner(c.Request.Context(), req.WebpageID, req.User); err != nil {
		abortWithError(c, "set owner", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully set owner"})
}

// SetReviewersRequest 是设置审阅人的请求体。
type SetReviewersRequest struct {
	WebpageID uint                `json:"webpage_id" binding:"required"`
	Users     []service.UserInput `json:"user_structs"`
}

// SetReviewers 处理替换页面审阅人的请求。
func (h *PageHandler) SetReviewers(c *gin.Context) {
	var req SetReviewersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SetReviewers", err)
		return
	}
	if err := h.pages.SetReviewers(c.Request.Context(), req.WebpageID, req.Users); err != nil {
		abortWithError(c, "set reviewers", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully set reviewers"})
}

// GetProducts 返回全部产品。
func (h *PageHandler) GetProducts(c *gin.Context) {
	products, err := h.pages.ListProducts()
	if err != nil {
		abortWithError(c, "get products", err)
		return
	}
	list := make([]gin.H, 0, len(products))
	for _, product := range products {
		list = append(list, gin.H{"id": product.ID, "name": product.Name})
	}
	c.JSON(http.StatusOK, list)
}

// SetProductsRequest 是设置页面产品的请求体。
type SetProductsRequest struct {
	WebpageID  uint   `json:"webpage_id" binding:"required"`
	ProductIDs []uint `json:"product_ids"`
}

// SetProduct 处理替换页面产品的请求。
func (h *PageHandler) SetProduct(c *gin.Context) {
	var req SetProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "SetProduct", err)
		return
	}
	if err := h.pages.SetProducts(c.Request.Context(), req.WebpageID, req.ProductIDs); err != nil {
		abortWithError(c, "set product", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Successfully set product"})
}

// GetWebpageAssetsRequest 是查询页面资源的请求体。
type GetWebpageAssetsRequest struct {
	WebpageURL  string `json:"webpage_url" binding:"required"`
	ProjectName string `json:"project_name" binding:"required"`
}

// GetWebpageAssets 返回页面引用的资源。
func (h *PageHandler) GetWebpageAssets(c *gin.Context) {
	var req GetWebpageAssetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "GetWebpageAssets", err)
		return
	}
	assets, err := h.pages.GetWebpageAssets(req.ProjectName, req.WebpageURL)
	if err != nil {
		abortWithError(c, "get webpage assets", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": assets})
}

// CreatePage 处理在工作流中新建页面的请求。
func (h *PageHandler) CreatePage(c *gin.Context) {
	var req service.CreatePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "CreatePage", err)
		return
	}
	page, err := h.pages.CreatePage(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, "create page", err)
		return
	}
	log.Infof("[PageHandler] 新建页面 %s (id=%d)", page.Name, page.ID)
	c.JSON(http.StatusCreated, gin.H{"copy_doc": page.CopyDocLink, "webpage_id": page.ID})
}
