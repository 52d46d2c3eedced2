package model

import (
	"time"
)

// Task 状态枚举。
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in-progress"
	TaskStatusCompleted  = "completed"
)

// Task 优先级枚举。
const (
	TaskPriorityLow    = "low"
	TaskPriorityMedium = "medium"
	TaskPriorityHigh   = "high"
)

// ValidTaskStatus 判断状态是否为合法枚举值。
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	}
	return false
}

// ValidTaskPriority 判断优先级是否为合法枚举值。
func ValidTaskPriority(p string) bool {
	switch p {
	case TaskPriorityLow, TaskPriorityMedium, TaskPriorityHigh:
		return true
	}
	return false
}

// Task 表示一个待办任务。
//
// 任务永远归属于唯一的用户（UserID），所有读写都必须带 user_id 条件，
// 保证用户之间互相不可见。
type Task struct {
	ID        uint      `gorm:"primaryKey"` // 任务唯一标识
	CreatedAt time.Time `gorm:"index"`      // 创建时间（列表默认按它倒序）
	UpdatedAt time.Time // 更新时间

	UserID uint `gorm:"not null;index"`    // 所属用户 ID
	User   User `gorm:"foreignKey:UserID"` // 所属用户

	Title       string `gorm:"type:varchar(100);not null"` // 标题
	Description string `gorm:"type:varchar(500)"`          // 描述

	Status   string `gorm:"type:varchar(16);default:pending"` // 状态: pending / in-progress / completed
	Priority string `gorm:"type:varchar(16);default:medium"`  // 优先级: low / medium / high

	DueDate *time.Time // 截止时间（可空）

	Tags []string `gorm:"serializer:json;type:varchar(512)"` // 标签集合（JSON 序列化存储）
}
