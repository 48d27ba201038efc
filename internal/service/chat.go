package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"collabcode/internal/domain"
	"collabcode/internal/repository"
)

// historyLimit 是加入会话时回放的聊天条数上限。
const historyLimit = 50

// ChatService 负责聊天记录的追加和回放。
// 消息必须先持久化成功才能广播：Append 返回错误时，
// 调用方不得把消息发给任何人。
type ChatService struct {
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
}

// NewChatService 创建 ChatService 实例。
func NewChatService(messageRepo repository.MessageRepository, userRepo repository.UserRepository) *ChatService {
	if messageRepo == nil || userRepo == nil {
		panic("MessageRepository and UserRepository must be non-nil for ChatService")
	}
	return &ChatService{messageRepo: messageRepo, userRepo: userRepo}
}

// Append 分配服务端 ID 和时间戳后持久化消息，
// 返回可直接广播的规范消息（含作者信息）。
func (s *ChatService) Append(ctx context.Context, sessionID uint, author *domain.User, content string, msgType domain.MessageType) (*domain.ChatMessage, error) {
	if content == "" || !msgType.IsValid() {
		return nil, ErrInvalidInput
	}

	msg := &domain.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		AuthorID:  author.ID,
		Content:   content,
		Type:      msgType,
		Timestamp: time.Now().UTC(),
	}
	if err := s.messageRepo.Append(ctx, msg); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"session_id": sessionID, "author_id": author.ID}).Error("Failed to persist chat message")
		return nil, ErrInternalServer
	}

	msg.Author = author
	return msg, nil
}

// History 返回会话最近的聊天记录，时间升序，附带作者信息。
func (s *ChatService) History(ctx context.Context, sessionID uint) ([]domain.ChatMessage, error) {
	messages, err := s.messageRepo.RecentBySession(ctx, sessionID, historyLimit)
	if err != nil {
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to load chat history")
		return nil, ErrInternalServer
	}

	// 批量补全作者信息，同一作者只查一次
	authors := make(map[uint]*domain.User)
	for i := range messages {
		authorID := messages[i].AuthorID
		author, ok := authors[authorID]
		if !ok {
			author, err = s.userRepo.FindByID(ctx, authorID)
			if err != nil {
				if errors.Is(err, repository.ErrUserNotFound) {
					// 作者可能已注销，消息照常返回
					authors[authorID] = nil
					continue
				}
				logrus.WithError(err).WithField("author_id", authorID).Error("Failed to load message author")
				return nil, ErrInternalServer
			}
			author.Password = ""
			authors[authorID] = author
		}
		messages[i].Author = author
	}
	return messages, nil
}
