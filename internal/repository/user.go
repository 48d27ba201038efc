package repository

import (
	"context"

	"collabcode/internal/domain"
)

// UserRepository 定义了用户数据的存储和检索操作。
type UserRepository interface {
	// FindByID 根据用户 ID 查找用户，不存在时返回 ErrUserNotFound。
	FindByID(ctx context.Context, id uint) (*domain.User, error)

	// FindByName 根据用户名查找用户，不存在时返回 ErrUserNotFound。
	FindByName(ctx context.Context, name string) (*domain.User, error)

	// Save 保存用户：已有 ID 则更新，否则创建。
	// 违反唯一约束时返回 ErrDuplicateEntry。
	Save(ctx context.Context, user *domain.User) error
}
