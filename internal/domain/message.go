package domain

import "time"

// MessageType 表示聊天消息的类型。
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeCode   MessageType = "code"
	MessageTypeSystem MessageType = "system"
)

// IsValid 检查消息类型是否是已知的枚举值。
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeText, MessageTypeCode, MessageTypeSystem:
		return true
	}
	return false
}

// ChatMessage 是会话内聊天记录中的一条消息。
// 追加写入后不再修改或删除；ID 和 Timestamp 由服务端分配。
type ChatMessage struct {
	ID        string      `gorm:"primaryKey;type:varchar(36)" json:"id"` // 服务端分配的 UUID
	SessionID uint        `gorm:"index:idx_messages_session_time;not null" json:"session_id"`
	AuthorID  uint        `gorm:"index;not null" json:"author_id"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	Type      MessageType `gorm:"type:varchar(16);not null" json:"type"`
	Timestamp time.Time   `gorm:"index:idx_messages_session_time;not null" json:"timestamp"`

	// Author 由服务层在下发前填充，不落库。
	Author *User `gorm:"-" json:"author,omitempty"`
}
