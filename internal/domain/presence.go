package domain

import "time"

// PresenceStatus 表示用户在会话中的在线状态。
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusAway    PresenceStatus = "away"
	StatusOffline PresenceStatus = "offline"
)

// TypingLocation 表示"正在输入"指示所处的位置。
type TypingLocation string

const (
	TypingInChat TypingLocation = "chat"
	TypingInCode TypingLocation = "code"
)

// IsValid 检查输入位置是否是已知的枚举值。
func (l TypingLocation) IsValid() bool {
	return l == TypingInChat || l == TypingInCode
}

// CursorPosition 表示编辑器中的光标位置。
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange 表示编辑器中的选区。
type SelectionRange struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
}

// Presence 是用户在某个会话内的短暂状态。
// 它只存在于内存中：用户订阅会话的房间时创建，离开或断线时删除，
// 每个 (SessionID, UserID) 至多一条。
type Presence struct {
	UserID         uint            `json:"user_id"`
	SessionID      uint            `json:"session_id"`
	UserName       string          `json:"user_name"`
	UserImage      string          `json:"user_image,omitempty"`
	Cursor         *CursorPosition `json:"cursor,omitempty"`
	Selection      *SelectionRange `json:"selection,omitempty"`
	IsTyping       bool            `json:"is_typing"`
	TypingLocation TypingLocation  `json:"typing_location,omitempty"`
	Status         PresenceStatus  `json:"status"`
	LastSeen       time.Time       `json:"last_seen"`
}

// PresenceUpdate 是对 Presence 的部分更新，nil 字段表示保持原值。
type PresenceUpdate struct {
	Cursor    *CursorPosition
	Selection *SelectionRange
	Status    *PresenceStatus
}
