package repository

import (
	"context"

	"collabcode/internal/domain"
)

// MessageRepository 定义了聊天记录的持久化操作。
// 聊天记录是仅追加的：没有更新或删除方法。
type MessageRepository interface {
	// Append 持久化一条消息。ID 与 Timestamp 必须已由调用方填好。
	Append(ctx context.Context, msg *domain.ChatMessage) error

	// RecentBySession 返回会话最近的 limit 条消息，按时间升序排列。
	RecentBySession(ctx context.Context, sessionID uint, limit int) ([]domain.ChatMessage, error)
}
