// Package gormpersistence 提供 repository 接口的 GORM/MySQL 实现。
package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"collabcode/internal/domain"
	"collabcode/internal/repository"
)

// GormSessionRepository 是 SessionRepository 接口的 GORM 实现。
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GormSessionRepository 实例。
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSessionRepository")
	}
	return &GormSessionRepository{db: db}
}

// FindByID 实现根据会话 ID 查找会话记录。
func (r *GormSessionRepository) FindByID(ctx context.Context, id uint) (*domain.Session, error) {
	var session domain.Session
	err := r.db.WithContext(ctx).First(&session, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("gorm: find session by id %d: %w", id, err)
	}
	return &session, nil
}

// Save 实现保存会话记录（创建或更新）。
func (r *GormSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save session (id: %d): %w", session.ID, err)
	}
	return nil
}

// ListByUser 返回用户被授权参与的全部会话（含用户自己创建的）。
func (r *GormSessionRepository) ListByUser(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("creator_id = ? OR id IN (?)",
			userID,
			r.db.Model(&domain.SessionParticipant{}).Select("session_id").Where("user_id = ?", userID),
		).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list sessions for user %d: %w", userID, err)
	}
	return sessions, nil
}

// IsParticipantAuthorized 检查授权名单。
func (r *GormSessionRepository) IsParticipantAuthorized(ctx context.Context, sessionID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.SessionParticipant{}).
		Where("session_id = ? AND user_id = ?", sessionID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: check participant (session %d, user %d): %w", sessionID, userID, err)
	}
	return count > 0, nil
}

// AuthorizeParticipant 将用户写入授权名单。
func (r *GormSessionRepository) AuthorizeParticipant(ctx context.Context, sessionID, userID uint) error {
	row := domain.SessionParticipant{SessionID: sessionID, UserID: userID}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: authorize participant (session %d, user %d): %w", sessionID, userID, err)
	}
	return nil
}

// UpdateCode 只回写代码列，避免覆盖其它并发更新的字段。
func (r *GormSessionRepository) UpdateCode(ctx context.Context, sessionID uint, code string) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Update("code", code).Error
	if err != nil {
		return fmt.Errorf("gorm: update code for session %d: %w", sessionID, err)
	}
	return nil
}

// MarkInactive 将会话标记为不活跃。
func (r *GormSessionRepository) MarkInactive(ctx context.Context, sessionID uint) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", sessionID).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("gorm: mark session %d inactive: %w", sessionID, err)
	}
	return nil
}

// FindActiveIdleSince 返回活跃但长时间未更新的会话。
func (r *GormSessionRepository) FindActiveIdleSince(ctx context.Context, before time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND updated_at < ?", true, before).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find idle active sessions: %w", err)
	}
	return sessions, nil
}
