// Package repository 定义了数据访问层的接口与通用错误。
package repository

import "errors"

var (
	// ErrNotFound 表示请求的记录不存在。
	ErrNotFound = errors.New("repository: record not found")
	// ErrDuplicateEntry 表示写入违反了唯一约束。
	ErrDuplicateEntry = errors.New("repository: duplicate entry")
)

// 按资源细分的别名，调用方用 errors.Is 判断即可。
var (
	ErrUserNotFound    = ErrNotFound
	ErrSessionNotFound = ErrNotFound
)
