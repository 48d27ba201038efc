// Package domain 定义了协作服务的核心数据模型。
package domain

import "time"

// UserRole 表示用户在平台中的角色。
type UserRole string

const (
	RoleStudent    UserRole = "student"
	RoleInstructor UserRole = "instructor"
	RoleAdmin      UserRole = "admin"
)

// User 表示平台中的一个用户。
// 协作子系统只读取用户信息，除注册/登录外不会修改它。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(191);uniqueIndex:idx_users_name;not null" json:"name"`
	Image     string    `gorm:"type:varchar(512)" json:"image,omitempty"` // 头像 URL，可选
	Role      UserRole  `gorm:"type:varchar(32);not null;default:student" json:"role"`
	Email     string    `gorm:"type:varchar(191);uniqueIndex:idx_users_email" json:"-"`
	Password  string    `gorm:"type:text;not null" json:"-"` // bcrypt 哈希，永远不下发给客户端
	CreatedAt time.Time `gorm:"autoCreateTime" json:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"-"`
}
