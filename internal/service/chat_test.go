package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collabcode/internal/domain"
	"collabcode/internal/repository"
	"collabcode/internal/repository/mocks"
	"collabcode/internal/service"
)

func TestChatService_Append_AssignsServerFields(t *testing.T) {
	// Arrange
	mockMessageRepo := new(mocks.MessageRepository)
	mockUserRepo := new(mocks.UserRepository)
	svc := service.NewChatService(mockMessageRepo, mockUserRepo)
	ctx := context.Background()
	author := &domain.User{ID: 7, Name: "alice"}

	mockMessageRepo.On("Append", ctx, mock.MatchedBy(func(m *domain.ChatMessage) bool {
		// ID 和时间戳由服务端分配，客户端提交的值不被信任
		_, parseErr := uuid.Parse(m.ID)
		assert.NoError(t, parseErr, "消息 ID 应是有效的 UUID")
		assert.Equal(t, time.UTC, m.Timestamp.Location())
		assert.WithinDuration(t, time.Now().UTC(), m.Timestamp, 5*time.Second)
		return true
	})).Return(nil).Once()

	// Act
	msg, err := svc.Append(ctx, 1, author, "hello", domain.MessageTypeText)

	// Assert
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, uint(7), msg.AuthorID)
	require.NotNil(t, msg.Author, "规范消息应附带作者信息")
	assert.Equal(t, "alice", msg.Author.Name)
	mockMessageRepo.AssertExpectations(t)
}

func TestChatService_Append_PersistFailure(t *testing.T) {
	// 持久化失败时不返回消息：调用方据此抑制广播
	mockMessageRepo := new(mocks.MessageRepository)
	mockUserRepo := new(mocks.UserRepository)
	svc := service.NewChatService(mockMessageRepo, mockUserRepo)
	ctx := context.Background()

	mockMessageRepo.On("Append", ctx, mock.AnythingOfType("*domain.ChatMessage")).
		Return(errors.New("db down")).Once()

	msg, err := svc.Append(ctx, 1, &domain.User{ID: 7}, "hello", domain.MessageTypeText)

	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrInternalServer))
	assert.Nil(t, msg)
}

func TestChatService_Append_InvalidInput(t *testing.T) {
	mockMessageRepo := new(mocks.MessageRepository)
	svc := service.NewChatService(mockMessageRepo, new(mocks.UserRepository))
	ctx := context.Background()
	author := &domain.User{ID: 7}

	_, err := svc.Append(ctx, 1, author, "", domain.MessageTypeText)
	assert.True(t, errors.Is(err, service.ErrInvalidInput))

	_, err = svc.Append(ctx, 1, author, "hi", domain.MessageType("bogus"))
	assert.True(t, errors.Is(err, service.ErrInvalidInput))

	mockMessageRepo.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestChatService_History_AttachesAuthors(t *testing.T) {
	// Arrange: 三条消息、两个作者，同一作者只查一次
	mockMessageRepo := new(mocks.MessageRepository)
	mockUserRepo := new(mocks.UserRepository)
	svc := service.NewChatService(mockMessageRepo, mockUserRepo)
	ctx := context.Background()

	stored := []domain.ChatMessage{
		{ID: "m1", SessionID: 1, AuthorID: 7, Content: "first"},
		{ID: "m2", SessionID: 1, AuthorID: 8, Content: "second"},
		{ID: "m3", SessionID: 1, AuthorID: 7, Content: "third"},
	}
	mockMessageRepo.On("RecentBySession", ctx, uint(1), 50).Return(stored, nil).Once()
	mockUserRepo.On("FindByID", ctx, uint(7)).Return(&domain.User{ID: 7, Name: "alice"}, nil).Once()
	mockUserRepo.On("FindByID", ctx, uint(8)).Return(&domain.User{ID: 8, Name: "bob"}, nil).Once()

	// Act
	history, err := svc.History(ctx, 1)

	// Assert
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "alice", history[0].Author.Name)
	assert.Equal(t, "bob", history[1].Author.Name)
	assert.Equal(t, "alice", history[2].Author.Name)
	mockUserRepo.AssertExpectations(t)
}

func TestChatService_History_ToleratesDeletedAuthor(t *testing.T) {
	mockMessageRepo := new(mocks.MessageRepository)
	mockUserRepo := new(mocks.UserRepository)
	svc := service.NewChatService(mockMessageRepo, mockUserRepo)
	ctx := context.Background()

	stored := []domain.ChatMessage{{ID: "m1", SessionID: 1, AuthorID: 99, Content: "ghost"}}
	mockMessageRepo.On("RecentBySession", ctx, uint(1), 50).Return(stored, nil).Once()
	mockUserRepo.On("FindByID", ctx, uint(99)).Return(nil, repository.ErrUserNotFound).Once()

	history, err := svc.History(ctx, 1)

	require.NoError(t, err, "作者已注销的消息照常返回")
	require.Len(t, history, 1)
	assert.Nil(t, history[0].Author)
}
