package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"taskhub/internal/api/middleware"
	"taskhub/internal/model"
	"taskhub/internal/pkg/validate"
	"taskhub/internal/store"

	"github.com/gin-gonic/gin"
)

// createTaskRequest 创建任务的请求参数。
type createTaskRequest struct {
	Title       string     `json:"title" binding:"required,max=100"`
	Description string     `json:"description" binding:"omitempty,max=500"`
	Status      string     `json:"status" binding:"omitempty,oneof=pending in-progress completed"`
	Priority    string     `json:"priority" binding:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        []string   `json:"tags"`
}

// updateTaskRequest 更新任务的请求参数。nil 表示该字段不变。
type updateTaskRequest struct {
	Title       *string    `json:"title" binding:"omitempty,max=100"`
	Description *string    `json:"description" binding:"omitempty,max=500"`
	Status      *string    `json:"status" binding:"omitempty,oneof=pending in-progress completed"`
	Priority    *string    `json:"priority" binding:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"dueDate"`
	Tags        []string   `json:"tags"`
}

// taskResponse 是 Task 的对外表示。
type taskResponse struct {
	ID          uint       `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func newTaskResponse(t *model.Task) taskResponse {
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		Priority:    t.Priority,
		DueDate:     t.DueDate,
		Tags:        tags,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// paginationResponse 列表接口的分页信息。
type paginationResponse struct {
	CurrentPage int   `json:"currentPage"`
	TotalPages  int   `json:"totalPages"`
	TotalTasks  int64 `json:"totalTasks"`
	HasNext     bool  `json:"hasNext"`
	HasPrev     bool  `json:"hasPrev"`
}

// sortColumns 列表排序字段白名单：对外名称 -> 数据库列。
var sortColumns = map[string]string{
	"createdAt": "created_at",
	"updatedAt": "updated_at",
	"dueDate":   "due_date",
	"title":     "title",
	"status":    "status",
	"priority":  "priority",
}

// handleCreateTask 创建任务，status / priority 省略时取默认值。
//
// POST /tasks
func (s *Server) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": validate.FieldErrors(err)})
		return
	}
	userID := middleware.CurrentUserID(c)

	status := req.Status
	if status == "" {
		status = model.TaskStatusPending
	}
	priority := req.Priority
	if priority == "" {
		priority = model.TaskPriorityMedium
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	task := model.Task{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Status:      status,
		Priority:    priority,
		DueDate:     req.DueDate,
		Tags:        tags,
	}
	if err := s.taskStore.Create(c.Request.Context(), &task); err != nil {
		s.internalError(c, "create task failed", err)
		return
	}
	s.invalidateStats(c, userID)

	c.JSON(http.StatusCreated, gin.H{"task": newTaskResponse(&task)})
}

// handleGetTask 查询单个任务。
//
// 不属于当前用户的任务与不存在的任务同样返回 404，不泄露存在性。
//
// GET /tasks/:id
func (s *Server) handleGetTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}
	userID := middleware.CurrentUserID(c)

	task, err := s.taskStore.Get(c.Request.Context(), userID, taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.internalError(c, "get task failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": newTaskResponse(task)})
}

// handleUpdateTask 替换任务的可变字段。
//
// PUT /tasks/:id
func (s *Server) handleUpdateTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}
	userID := middleware.CurrentUserID(c)

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": validate.FieldErrors(err)})
		return
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		if *req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": gin.H{"title": "is required"}})
			return
		}
		updates["title"] = *req.Title
	}
	if req.Description != nil {
		updates["description"] = *req.Description
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	if req.Priority != nil {
		updates["priority"] = *req.Priority
	}
	if req.DueDate != nil {
		updates["due_date"] = *req.DueDate
	}
	if req.Tags != nil {
		updates["tags"] = req.Tags
	}

	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no updates"})
		return
	}

	task, err := s.taskStore.Update(c.Request.Context(), userID, taskID, updates)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.internalError(c, "update task failed", err)
		return
	}
	s.invalidateStats(c, userID)

	c.JSON(http.StatusOK, gin.H{"task": newTaskResponse(task)})
}

// handleDeleteTask 删除任务。
//
// DELETE /tasks/:id
func (s *Server) handleDeleteTask(c *gin.Context) {
	taskID, ok := parseTaskID(c)
	if !ok {
		return
	}
	userID := middleware.CurrentUserID(c)

	if err := s.taskStore.Delete(c.Request.Context(), userID, taskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		s.internalError(c, "delete task failed", err)
		return
	}
	s.invalidateStats(c, userID)

	c.JSON(http.StatusOK, gin.H{"message": "task deleted", "taskId": taskID})
}

// handleListTasks 按条件分页列出当前用户的任务。
//
// GET /tasks?status&priority&search&sortBy&sortOrder&page&limit
func (s *Server) handleListTasks(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	status := c.DefaultQuery("status", "all")
	if status == "all" {
		status = ""
	} else if !model.ValidTaskStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": gin.H{"status": "is invalid"}})
		return
	}
	priority := c.DefaultQuery("priority", "all")
	if priority == "all" {
		priority = ""
	} else if !model.ValidTaskPriority(priority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": gin.H{"priority": "is invalid"}})
		return
	}

	sortBy := c.DefaultQuery("sortBy", "createdAt")
	column, ok := sortColumns[sortBy]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": gin.H{"sortBy": "is invalid"}})
		return
	}
	sortDesc := c.DefaultQuery("sortOrder", "desc") != "asc"

	page := parseQueryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := parseQueryInt(c, "limit", s.cfg.App.DefaultPageSize)
	if limit < 1 {
		limit = s.cfg.App.DefaultPageSize
	}
	if limit > s.cfg.App.MaxPageSize {
		limit = s.cfg.App.MaxPageSize
	}

	filter := store.ListFilter{
		Status:   status,
		Priority: priority,
		Search:   c.Query("search"),
		SortBy:   column,
		SortDesc: sortDesc,
		Page:     page,
		PageSize: limit,
	}

	tasks, total, err := s.taskStore.List(c.Request.Context(), userID, filter)
	if err != nil {
		s.internalError(c, "list tasks failed", err)
		return
	}

	items := make([]taskResponse, 0, len(tasks))
	for i := range tasks {
		items = append(items, newTaskResponse(&tasks[i]))
	}

	skip := (page - 1) * limit
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	c.JSON(http.StatusOK, gin.H{
		"tasks": items,
		"pagination": paginationResponse{
			CurrentPage: page,
			TotalPages:  totalPages,
			TotalTasks:  total,
			HasNext:     int64(skip+len(items)) < total,
			HasPrev:     page > 1,
		},
	})
}

// handleTaskStats 返回仪表盘统计概览（Redis 缓存，任务写操作后失效）。
//
// GET /tasks/stats/overview
func (s *Server) handleTaskStats(c *gin.Context) {
	userID := middleware.CurrentUserID(c)

	if stats, ok := s.statsCache.Get(c.Request.Context(), userID); ok {
		c.JSON(http.StatusOK, stats)
		return
	}

	stats, err := s.taskStore.Stats(c.Request.Context(), userID)
	if err != nil {
		s.internalError(c, "load task stats failed", err)
		return
	}
	if err := s.statsCache.Set(c.Request.Context(), userID, stats); err != nil {
		s.logger.Warn("stats cache set failed", slog.String("error", err.Error()))
	}

	c.JSON(http.StatusOK, stats)
}

// invalidateStats 任务写操作后让统计缓存失效，失败只记日志。
func (s *Server) invalidateStats(c *gin.Context, userID uint) {
	if err := s.statsCache.Invalidate(c.Request.Context(), userID); err != nil {
		s.logger.Warn("stats cache invalidate failed", slog.String("error", err.Error()))
	}
}

// parseTaskID 解析路径里的任务 ID，非法时直接写 400 并返回 false。
func parseTaskID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return 0, false
	}
	return uint(id), true
}

// parseQueryInt 解析查询参数中的整数值。
func parseQueryInt(c *gin.Context, key string, def int) int {
	val := c.Query(key)
	if val == "" {
		return def
	}
	iv, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return iv
}
