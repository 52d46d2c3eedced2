package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskhub/internal/model"

	"gorm.io/gorm"
)

// ListFilter 任务列表的过滤与分页参数。
//
// Status / Priority 为空表示不过滤（"all" 哨兵值由 handler 层转换为空）。
// SortBy 必须是白名单内的列名，由 handler 层负责映射与校验。
type ListFilter struct {
	Status   string // 状态精确匹配
	Priority string // 优先级精确匹配
	Search   string // 标题或描述的大小写不敏感子串匹配
	SortBy   string // 排序列（已校验）
	SortDesc bool   // 是否倒序
	Page     int    // 页码（从 1 开始）
	PageSize int    // 每页条数
}

// TaskSummary 统计概览里的最近任务摘要。
type TaskSummary struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// TaskStats 统计概览结果。
type TaskStats struct {
	TotalTasks   int64            `json:"totalTasks"`
	StatusCounts map[string]int64 `json:"statusCounts"`
	RecentTasks  []TaskSummary    `json:"recentTasks"`
}

// TaskStore 提供任务表的读写。
//
// 所有操作都带 user_id 条件：不属于当前用户的任务与不存在的任务
// 表现完全一致（ErrNotFound），绝不向调用方泄露他人数据的存在。
type TaskStore struct {
	db *gorm.DB
}

// NewTaskStore 创建 TaskStore。
func NewTaskStore(db *gorm.DB) *TaskStore {
	return &TaskStore{db: db}
}

// Create 插入新任务（UserID 必须已由调用方设置）。
func (s *TaskStore) Create(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Create(task).Error
}

// Get 查询当前用户的单个任务。
func (s *TaskStore) Get(ctx context.Context, userID, taskID uint) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", taskID, userID).
		First(&task).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &task, nil
}

// Update 全量替换任务的可变字段并返回更新后的记录。
func (s *TaskStore) Update(ctx context.Context, userID, taskID uint, updates map[string]interface{}) (*model.Task, error) {
	task, err := s.Get(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	// map 形式的 Updates 不走 serializer，tags 需要手动转 JSON
	if tags, ok := updates["tags"].([]string); ok {
		raw, err := json.Marshal(tags)
		if err != nil {
			return nil, fmt.Errorf("marshal tags: %w", err)
		}
		updates["tags"] = string(raw)
	}
	err = s.db.WithContext(ctx).Model(task).
		Where("id = ? AND user_id = ?", taskID, userID).
		Updates(updates).Error
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID, taskID)
}

// Delete 删除当前用户的任务。
func (s *TaskStore) Delete(ctx context.Context, userID, taskID uint) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", taskID, userID).
		Delete(&model.Task{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List 按过滤条件分页查询当前用户的任务，返回本页数据和总条数。
func (s *TaskStore) List(ctx context.Context, userID uint, filter ListFilter) ([]model.Task, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Task{}).Where("user_id = ?", userID)

	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Priority != "" {
		query = query.Where("priority = ?", filter.Priority)
	}
	if filter.Search != "" {
		// LOWER 双侧转换，大小写不敏感不依赖列的 collation
		pattern := "%" + strings.ToLower(filter.Search) + "%"
		query = query.Where("LOWER(title) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	direction := "ASC"
	if filter.SortDesc {
		direction = "DESC"
	}
	offset := (filter.Page - 1) * filter.PageSize

	tasks := []model.Task{}
	err := query.
		Order(fmt.Sprintf("%s %s", filter.SortBy, direction)).
		Offset(offset).
		Limit(filter.PageSize).
		Find(&tasks).Error
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// statusCountRow 按状态分组计数的扫描结构。
type statusCountRow struct {
	Status string `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}

// Stats 汇总当前用户的任务统计：总数、按状态计数、最近 5 条摘要。
func (s *TaskStore) Stats(ctx context.Context, userID uint) (*TaskStats, error) {
	rows := []statusCountRow{}
	err := s.db.WithContext(ctx).Model(&model.Task{}).
		Select("status, COUNT(*) as count").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	// 三个规范状态始终出现在结果里，即使计数为 0
	counts := map[string]int64{
		model.TaskStatusPending:    0,
		model.TaskStatusInProgress: 0,
		model.TaskStatusCompleted:  0,
	}
	var total int64
	for _, row := range rows {
		counts[row.Status] = row.Count
		total += row.Count
	}

	recent := []TaskSummary{}
	err = s.db.WithContext(ctx).Model(&model.Task{}).
		Select("id, title, status, created_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(5).
		Scan(&recent).Error
	if err != nil {
		return nil, err
	}

	return &TaskStats{
		TotalTasks:   total,
		StatusCounts: counts,
		RecentTasks:  recent,
	}, nil
}
