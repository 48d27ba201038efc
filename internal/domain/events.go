package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// WebSocket 协议事件类型（客户端 → 服务端）。
const (
	EventAuthenticate    = "authenticate"
	EventJoinSession     = "join_session"
	EventCodeChange      = "code_change"
	EventCursorUpdate    = "cursor_update"
	EventSelectionUpdate = "selection_update"
	EventSendMessage     = "send_message"
	EventTypingStart     = "typing_start"
	EventTypingStop      = "typing_stop"
	EventLeaveSession    = "leave_session"
)

// WebSocket 协议事件类型（服务端 → 客户端）。
const (
	EventAuthenticated        = "authenticated"
	EventAuthenticationFailed = "authentication_failed"
	EventSessionJoined        = "session_joined"
	EventUserJoined           = "user_joined"
	EventCodeUpdated          = "code_updated"
	EventCursorUpdated        = "cursor_updated"
	EventSelectionUpdated     = "selection_updated"
	EventMessageReceived      = "message_received"
	EventUserTyping           = "user_typing"
	EventUserLeft             = "user_left"
	EventError                = "error"
)

// ErrUnknownEvent 表示事件类型不在协议定义的集合内。
var ErrUnknownEvent = errors.New("unknown event type")

// Envelope 是双向协议的统一信封：{"type": "...", "payload": {...}}。
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientEvent 是客户端入站事件的封闭联合类型。
// 只有本文件中定义的 payload 结构体实现它，
// 连接层据此做穷尽的类型分发，深层逻辑不再接触原始 JSON。
type ClientEvent interface {
	clientEvent()
}

// AuthenticatePayload 携带待验证的凭证。
type AuthenticatePayload struct {
	UserID       uint   `json:"user_id"`
	SessionToken string `json:"session_token"`
}

// JoinSessionPayload 请求加入一个会话。
type JoinSessionPayload struct {
	SessionID uint `json:"session_id"`
}

// CodeChangePayload 用新的完整缓冲区内容替换权威代码。
// Changes 对服务端不透明，原样透传给其它订阅者。
type CodeChangePayload struct {
	SessionID uint            `json:"session_id"`
	Code      string          `json:"code"`
	Changes   json.RawMessage `json:"changes,omitempty"`
}

// CursorUpdatePayload 上报光标位置。
type CursorUpdatePayload struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionUpdatePayload 上报选区。
type SelectionUpdatePayload struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
}

// SendMessagePayload 发送一条聊天消息。
type SendMessagePayload struct {
	SessionID uint        `json:"session_id"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
}

// TypingPayload 对应 typing_start / typing_stop。
type TypingPayload struct {
	Location TypingLocation `json:"location"`
}

// LeaveSessionPayload 显式离开当前会话，无字段。
type LeaveSessionPayload struct{}

func (AuthenticatePayload) clientEvent()    {}
func (JoinSessionPayload) clientEvent()     {}
func (CodeChangePayload) clientEvent()      {}
func (CursorUpdatePayload) clientEvent()    {}
func (SelectionUpdatePayload) clientEvent() {}
func (SendMessagePayload) clientEvent()     {}
func (TypingStartPayload) clientEvent()     {}
func (TypingStopPayload) clientEvent()      {}
func (LeaveSessionPayload) clientEvent()    {}

// TypingStartPayload / TypingStopPayload 共享 TypingPayload 的字段，
// 但作为不同的联合成员，便于分发时区分方向。
type TypingStartPayload struct{ TypingPayload }
type TypingStopPayload struct{ TypingPayload }

// Validate 检查各 payload 的字段约束。
// 校验发生在连接边界，未通过的事件不会到达任何业务组件。

func (p AuthenticatePayload) Validate() error {
	if p.UserID == 0 {
		return fmt.Errorf("authenticate: user_id is required")
	}
	if p.SessionToken == "" {
		return fmt.Errorf("authenticate: session_token is required")
	}
	return nil
}

func (p JoinSessionPayload) Validate() error {
	if p.SessionID == 0 {
		return fmt.Errorf("join_session: session_id is required")
	}
	return nil
}

func (p CodeChangePayload) Validate() error {
	if p.SessionID == 0 {
		return fmt.Errorf("code_change: session_id is required")
	}
	return nil
}

func (p CursorUpdatePayload) Validate() error {
	if p.Line < 0 || p.Column < 0 {
		return fmt.Errorf("cursor_update: line and column must be non-negative")
	}
	return nil
}

func (p SelectionUpdatePayload) Validate() error {
	if p.StartLine < 0 || p.StartColumn < 0 || p.EndLine < 0 || p.EndColumn < 0 {
		return fmt.Errorf("selection_update: positions must be non-negative")
	}
	return nil
}

func (p SendMessagePayload) Validate() error {
	if p.SessionID == 0 {
		return fmt.Errorf("send_message: session_id is required")
	}
	if p.Content == "" {
		return fmt.Errorf("send_message: content is required")
	}
	if !p.Type.IsValid() {
		return fmt.Errorf("send_message: invalid message type %q", p.Type)
	}
	return nil
}

func (p TypingPayload) Validate() error {
	if !p.Location.IsValid() {
		return fmt.Errorf("typing: invalid location %q", p.Location)
	}
	return nil
}

// DecodeClientEvent 将原始 WebSocket 文本帧解析为联合类型的某个成员。
// 未知类型返回 ErrUnknownEvent，非法 payload 返回描述性错误，
// 两种情况都不会让畸形数据越过连接边界。
func DecodeClientEvent(raw []byte) (ClientEvent, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed event envelope: %w", err)
	}

	switch env.Type {
	case EventAuthenticate:
		var p AuthenticatePayload
		return decodePayload(env.Payload, &p)
	case EventJoinSession:
		var p JoinSessionPayload
		return decodePayload(env.Payload, &p)
	case EventCodeChange:
		var p CodeChangePayload
		return decodePayload(env.Payload, &p)
	case EventCursorUpdate:
		var p CursorUpdatePayload
		return decodePayload(env.Payload, &p)
	case EventSelectionUpdate:
		var p SelectionUpdatePayload
		return decodePayload(env.Payload, &p)
	case EventSendMessage:
		var p SendMessagePayload
		return decodePayload(env.Payload, &p)
	case EventTypingStart:
		var p TypingStartPayload
		return decodePayload(env.Payload, &p)
	case EventTypingStop:
		var p TypingStopPayload
		return decodePayload(env.Payload, &p)
	case EventLeaveSession:
		// leave_session 允许省略 payload
		return LeaveSessionPayload{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

// validatable 由所有需要字段校验的 payload 实现。
type validatable interface {
	Validate() error
}

func decodePayload[T ClientEvent](raw json.RawMessage, dst *T) (ClientEvent, error) {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return nil, fmt.Errorf("malformed event payload: %w", err)
		}
	}
	if v, ok := any(*dst).(validatable); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return *dst, nil
}

// EncodeEvent 将服务端事件序列化为信封格式的字节流。
func EncodeEvent(eventType string, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		raw = data
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}

// --- 服务端出站事件的 payload 结构体 ---

// AuthenticatedPayload 确认身份验证成功。
type AuthenticatedPayload struct {
	User User `json:"user"`
}

// AuthenticationFailedPayload 告知验证失败原因。
type AuthenticationFailedPayload struct {
	Reason string `json:"reason"`
}

// SessionJoinedPayload 是加入成功后发给调用者的完整快照。
// Messages 按时间升序，最多 50 条；Presence 包含加入者本人。
type SessionJoinedPayload struct {
	Session  Session       `json:"session"`
	Messages []ChatMessage `json:"messages"`
	Presence []Presence    `json:"presence"`
}

// UserJoinedPayload 广播给房间内其它成员。
type UserJoinedPayload struct {
	User     User       `json:"user"`
	Presence []Presence `json:"presence"`
}

// CodeUpdatedPayload 广播权威缓冲区的最新内容。
type CodeUpdatedPayload struct {
	Code      string          `json:"code"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	UserID    uint            `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
}

// CursorUpdatedPayload 广播某用户的光标位置。
type CursorUpdatedPayload struct {
	UserID uint           `json:"user_id"`
	Cursor CursorPosition `json:"cursor"`
}

// SelectionUpdatedPayload 广播某用户的选区。
type SelectionUpdatedPayload struct {
	UserID    uint           `json:"user_id"`
	Selection SelectionRange `json:"selection"`
}

// UserTypingPayload 广播输入状态变化。
type UserTypingPayload struct {
	UserID   uint           `json:"user_id"`
	Location TypingLocation `json:"location"`
	IsTyping bool           `json:"is_typing"`
}

// UserLeftPayload 广播成员离开后的在场名单。
type UserLeftPayload struct {
	UserID   uint       `json:"user_id"`
	Presence []Presence `json:"presence"`
}

// ErrorPayload 是发回给出错连接的通用错误事件。
type ErrorPayload struct {
	Message string `json:"message"`
}
