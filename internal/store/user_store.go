package store

import (
	"context"
	"errors"
	"time"

	"taskhub/internal/model"

	"gorm.io/gorm"
)

// UserStore 提供用户表的读写。
//
// 密码哈希由调用方（auth 包）生成，这里只负责持久化；
// 邮箱唯一性由数据库唯一索引兜底。
type UserStore struct {
	db *gorm.DB
}

// NewUserStore 创建 UserStore。
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// Create 插入新用户。邮箱冲突返回 ErrDuplicateEmail。
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// GetByID 按 ID 查询用户。
func (s *UserStore) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetByEmail 按邮箱查询用户（邮箱统一小写后比较）。
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetByResetToken 按密码重置令牌哈希查询未过期的用户。
func (s *UserStore) GetByResetToken(ctx context.Context, tokenHash string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).
		Where("password_reset_token = ? AND password_reset_expires > ?", tokenHash, time.Now()).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateFields 对用户做部分更新并返回更新后的记录。
//
// 调用方保证 updates 里的密码已经是哈希；涉及密码的字段组合
// （password / password_changed_at / 重置令牌清空）也由调用方组装。
func (s *UserStore) UpdateFields(ctx context.Context, id uint, updates map[string]interface{}) (*model.User, error) {
	if len(updates) == 0 {
		return s.GetByID(ctx, id)
	}
	err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(updates).Error
	if err != nil {
		if isDuplicateKey(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// TouchLastLogin 记录最近登录时间（失败不影响登录流程，由调用方决定是否忽略）。
func (s *UserStore) TouchLastLogin(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("last_login", at).Error
}
