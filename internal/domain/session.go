package domain

import "time"

// SessionType 表示协作会话的类型。
type SessionType string

const (
	SessionTypeFreeForm   SessionType = "free_form"   // 自由协作
	SessionTypeStudyGroup SessionType = "study_group" // 学习小组
	SessionTypeLive       SessionType = "live_session" // 直播授课
)

// IsValid 检查会话类型是否是已知的枚举值。
func (t SessionType) IsValid() bool {
	switch t {
	case SessionTypeFreeForm, SessionTypeStudyGroup, SessionTypeLive:
		return true
	}
	return false
}

// Session 表示一个共享代码编辑会话的持久化记录。
// Code 字段是服务端权威缓冲区的最后一次落盘值；
// 实时缓冲区由 LiveStateRepository 维护，后台任务定期回写到这里。
type Session struct {
	ID              uint        `gorm:"primaryKey" json:"id"`
	Title           string      `gorm:"type:varchar(191);not null" json:"title"`
	Type            SessionType `gorm:"type:varchar(32);not null" json:"type"`
	Language        string      `gorm:"type:varchar(64);not null;default:solidity" json:"language"`
	Code            string      `gorm:"type:mediumtext" json:"code"`
	CreatorID       uint        `gorm:"index;not null" json:"creator_id"`
	MaxParticipants int         `gorm:"not null;default:8" json:"max_participants"`
	IsActive        bool        `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt       time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time   `gorm:"autoUpdateTime;index" json:"-"`
}

// SessionParticipant 记录哪些用户被授权进入某个会话。
// 创建者默认被授权；其余成员通过 REST 接口由创建者添加。
// 它表示的是"允许加入"，不是"当前在线"——后者是 Presence 的职责。
type SessionParticipant struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID uint      `gorm:"uniqueIndex:idx_session_user;not null"`
	UserID    uint      `gorm:"uniqueIndex:idx_session_user;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// CodeChangeMeta 是随 code_change 事件透传的编辑元信息。
// 服务端不解析其内容，只原样广播给其它订阅者；
// 权威缓冲区采用 last-write-wins，不做任何合并。
type CodeChangeMeta struct {
	UserID    uint      `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}
