package handler

import (
	"errors"
	"net/http"
	"strconv"

	"content-system-go/internal/service"
	"content-system-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// JiraHandler 负责工作流工单相关的接口。
type JiraHandler struct {
	jira service.JiraService
}

// NewJiraHandler 创建一个新的 JiraHandler 实例。
func NewJiraHandler(jira service.JiraService) *JiraHandler {
	return &JiraHandler{jira: jira}
}

// RequestChanges 为页面创建一个修改工单。
func (h *JiraHandler) RequestChanges(c *gin.Context) {
	var req service.ChangesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "RequestChanges", err)
		return
	}
	task, err := h.jira.RequestChanges(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, "request changes", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message":      "Task created successfully",
		"jira_task_id": task.JiraID,
	})
}

// RequestRemoval 处理页面删除请求。
func (h *JiraHandler) RequestRemoval(c *gin.Context) {
	var req service.RemovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "RequestRemoval", err)
		return
	}
	result, err := h.jira.RequestRemoval(c.Request.Context(), req)
	if errors.Is(err, service.ErrRemovalPending) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       "Jira task already exists",
			"description": "Please reject or complete the existing task before creating a new one",
		})
		return
	}
	if err != nil {
		abortWithError(c, "request removal", err)
		return
	}
	if result.Deleted {
		c.JSON(http.StatusOK, gin.H{"message": "Webpage has been removed successfully"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      "removal processed successfully",
		"jira_task_id": result.Task.JiraID,
	})
}

// GetJiraTasks 按创建时间返回页面的全部工单。
func (h *JiraHandler) GetJiraTasks(c *gin.Context) {
	webpageID, err := strconv.ParseUint(c.Param("webpage_id"), 10, 64)
	if err != nil {
		log.Warnf("[JiraHandler] 无效的 webpage_id: %s", c.Param("webpage_id"))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webpage_id"})
		return
	}
	tasks, err := h.jira.ListTasks(uint(webpageID))
	if err != nil {
		abortWithError(c, "get jira tasks", err)
		return
	}
	list := make([]gin.H, 0, len(tasks))
	for _, task := range tasks {
		list = append(list, gin.H{
			"id":           task.ID,
			"jira_id":      task.JiraID,
			"status":       task.Status,
			"summary":      task.Summary,
			"request_type": task.RequestType,
			"webpage_id":   task.WebpageID,
			"user_id":      task.UserID,
			"created_at":   task.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, list)
}
