package repository

import (
	"context"
	"time"

	"collabcode/internal/domain"
)

// SessionRepository 定义了会话记录的持久化操作。
type SessionRepository interface {
	// FindByID 根据会话 ID 查找会话记录。
	// 会话不存在时返回 ErrSessionNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Session, error)

	// Save 保存会话记录：已有 ID 则更新，否则创建。
	Save(ctx context.Context, session *domain.Session) error

	// ListByUser 返回某个用户被授权参与的全部会话。
	ListByUser(ctx context.Context, userID uint) ([]domain.Session, error)

	// IsParticipantAuthorized 检查用户是否在会话的授权参与者名单上。
	IsParticipantAuthorized(ctx context.Context, sessionID, userID uint) (bool, error)

	// AuthorizeParticipant 将用户加入授权名单，重复授权返回 ErrDuplicateEntry。
	AuthorizeParticipant(ctx context.Context, sessionID, userID uint) error

	// UpdateCode 将权威代码缓冲区回写到会话记录。
	UpdateCode(ctx context.Context, sessionID uint, code string) error

	// MarkInactive 将会话标记为不活跃。
	MarkInactive(ctx context.Context, sessionID uint) error

	// FindActiveIdleSince 返回仍标记为活跃、但最后更新早于给定时间的会话，
	// 供后台清理任务使用。
	FindActiveIdleSince(ctx context.Context, before time.Time) ([]domain.Session, error)
}
