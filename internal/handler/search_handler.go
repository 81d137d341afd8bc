package handler

import (
	"net/http"
	"strconv"

	"content-system-go/internal/service"
	"content-system-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 结构体定义了搜索和快照相关的处理器。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 是处理页面搜索请求的 Gin 处理函数。
func (h *SearchHandler) Search(c *gin.Context) {
	query := c.Query("query")
	project := c.Query("project")
	log.Infof("[SearchHandler] 收到搜索请求, query: %s, project: %s", query, project)

	if query == "" {
		log.Warnf("[SearchHandler] 搜索请求失败: query 参数为空")
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的查询参数"})
		return
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil || size <= 0 {
		size = 20
	}

	results, err := h.searchService.Search(c.Request.Context(), project, query, size)
	if err != nil {
		abortWithError(c, "search", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": results, "message": "success"})
}

// GetTreeSnapshot 返回站点最近一次重建的模板树快照下载地址。
func (h *SearchHandler) GetTreeSnapshot(c *gin.Context) {
	uri := c.Param("uri")
	url, err := h.searchService.SnapshotURL(c.Request.Context(), uri)
	if err != nil {
		abortWithError(c, "get tree snapshot", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": uri, "url": url})
}
