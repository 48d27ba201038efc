// Package mocks 提供 repository 接口的手写 testify Mock 实现，
// 供 service 与 hub 层的单元测试使用。
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"collabcode/internal/domain"
)

// UserRepository 是 repository.UserRepository 的 Mock。
type UserRepository struct {
	mock.Mock
}

func (m *UserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	args := m.Called(ctx, id)
	var user *domain.User
	if args.Get(0) != nil {
		user = args.Get(0).(*domain.User)
	}
	return user, args.Error(1)
}

func (m *UserRepository) FindByName(ctx context.Context, name string) (*domain.User, error) {
	args := m.Called(ctx, name)
	var user *domain.User
	if args.Get(0) != nil {
		user = args.Get(0).(*domain.User)
	}
	return user, args.Error(1)
}

func (m *UserRepository) Save(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

// SessionRepository 是 repository.SessionRepository 的 Mock。
type SessionRepository struct {
	mock.Mock
}

func (m *SessionRepository) FindByID(ctx context.Context, id uint) (*domain.Session, error) {
	args := m.Called(ctx, id)
	var session *domain.Session
	if args.Get(0) != nil {
		session = args.Get(0).(*domain.Session)
	}
	return session, args.Error(1)
}

func (m *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *SessionRepository) ListByUser(ctx context.Context, userID uint) ([]domain.Session, error) {
	args := m.Called(ctx, userID)
	var sessions []domain.Session
	if args.Get(0) != nil {
		sessions = args.Get(0).([]domain.Session)
	}
	return sessions, args.Error(1)
}

func (m *SessionRepository) IsParticipantAuthorized(ctx context.Context, sessionID, userID uint) (bool, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *SessionRepository) AuthorizeParticipant(ctx context.Context, sessionID, userID uint) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *SessionRepository) UpdateCode(ctx context.Context, sessionID uint, code string) error {
	args := m.Called(ctx, sessionID, code)
	return args.Error(0)
}

func (m *SessionRepository) MarkInactive(ctx context.Context, sessionID uint) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *SessionRepository) FindActiveIdleSince(ctx context.Context, before time.Time) ([]domain.Session, error) {
	args := m.Called(ctx, before)
	var sessions []domain.Session
	if args.Get(0) != nil {
		sessions = args.Get(0).([]domain.Session)
	}
	return sessions, args.Error(1)
}

// MessageRepository 是 repository.MessageRepository 的 Mock。
type MessageRepository struct {
	mock.Mock
}

func (m *MessageRepository) Append(ctx context.Context, msg *domain.ChatMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageRepository) RecentBySession(ctx context.Context, sessionID uint, limit int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, sessionID, limit)
	var messages []domain.ChatMessage
	if args.Get(0) != nil {
		messages = args.Get(0).([]domain.ChatMessage)
	}
	return messages, args.Error(1)
}

// LiveStateRepository 是 repository.LiveStateRepository 的 Mock。
type LiveStateRepository struct {
	mock.Mock
}

func (m *LiveStateRepository) SetCode(ctx context.Context, sessionID uint, code string) (uint64, error) {
	args := m.Called(ctx, sessionID, code)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *LiveStateRepository) GetCode(ctx context.Context, sessionID uint) (string, uint64, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Get(1).(uint64), args.Error(2)
}

func (m *LiveStateRepository) AddParticipant(ctx context.Context, sessionID, userID uint) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *LiveStateRepository) RemoveParticipant(ctx context.Context, sessionID, userID uint) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *LiveStateRepository) IsParticipant(ctx context.Context, sessionID, userID uint) (bool, error) {
	args := m.Called(ctx, sessionID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *LiveStateRepository) CountParticipants(ctx context.Context, sessionID uint) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *LiveStateRepository) ParticipantIDs(ctx context.Context, sessionID uint) ([]uint, error) {
	args := m.Called(ctx, sessionID)
	var ids []uint
	if args.Get(0) != nil {
		ids = args.Get(0).([]uint)
	}
	return ids, args.Error(1)
}

func (m *LiveStateRepository) CleanupSession(ctx context.Context, sessionID uint) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *LiveStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}
