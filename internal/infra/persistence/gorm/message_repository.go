package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collabcode/internal/domain"
	"collabcode/internal/repository"
)

// GormMessageRepository 是 MessageRepository 接口的 GORM 实现。
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建 GormMessageRepository 实例。
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	if db == nil {
		panic("database connection cannot be nil for GormMessageRepository")
	}
	return &GormMessageRepository{db: db}
}

// Append 持久化一条聊天消息。只使用 Create，聊天记录永不更新。
func (r *GormMessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: append message %s to session %d: %w", msg.ID, msg.SessionID, err)
	}
	return nil
}

// RecentBySession 取最近 limit 条并反转为时间升序。
// 先按时间倒序取 limit 条再反转，比 OFFSET 便宜且不需要总数。
func (r *GormMessageRepository) RecentBySession(ctx context.Context, sessionID uint, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var messages []domain.ChatMessage
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: recent messages for session %d: %w", sessionID, err)
	}
	// 反转为时间升序
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
