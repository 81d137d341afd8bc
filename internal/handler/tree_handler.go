package handler

import (
	"net/http"

	"content-system-go/internal/service"
	"content-system-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// TreeHandler 负责模板树的读取接口。
type TreeHandler struct {
	sites *service.SiteRepositoryFactory
}

// NewTreeHandler 创建一个新的 TreeHandler 实例。
func NewTreeHandler(sites *service.SiteRepositoryFactory) *TreeHandler {
	return &TreeHandler{sites: sites}
}

// GetTree 返回站点的模板树。路径中带有任意 no_cache 段时跳过缓存，直接从数据库读取。
// 读取失败时返回空树而不是错误。
func (h *TreeHandler) GetTree(c *gin.Context) {
	uri := c.Param("uri")
	noCache := c.Param("no_cache") != ""
	log.Infof("[TreeHandler] 获取模板树, uri: %s, no_cache: %t", uri, noCache)

	tree := h.sites.For(uri).GetTreeSync(c.Request.Context(), noCache)

	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, gin.H{
		"name":      uri,
		"templates": tree,
	})
}
