package client // 白盒测试：直接驱动 apply，不需要真实连接

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collabcode/internal/domain"
)

func envelope(t *testing.T, eventType string, payload interface{}) domain.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return domain.Envelope{Type: eventType, Payload: data}
}

func joinedAgent(t *testing.T) *Agent {
	t.Helper()
	a := NewAgent("ws://example/ws", nil)
	a.apply(envelope(t, domain.EventSessionJoined, domain.SessionJoinedPayload{
		Session: domain.Session{ID: 1, Title: "room", Code: "contract Base {}"},
		Messages: []domain.ChatMessage{
			{ID: "m1", SessionID: 1, AuthorID: 2, Content: "hello"},
		},
		Presence: []domain.Presence{
			{UserID: 7, SessionID: 1, UserName: "alice"},
			{UserID: 2, SessionID: 1, UserName: "bob"},
		},
	}))
	return a
}

func TestAgent_SnapshotReplacesMirror(t *testing.T) {
	a := joinedAgent(t)

	require.NotNil(t, a.Session())
	assert.Equal(t, uint(1), a.Session().ID)
	assert.Equal(t, "contract Base {}", a.Code())
	assert.Len(t, a.Messages(), 1)
	assert.Len(t, a.Presence(), 2)
}

func TestAgent_CodeUpdatedOverwritesLocalBuffer(t *testing.T) {
	a := joinedAgent(t)

	a.apply(envelope(t, domain.EventCodeUpdated, domain.CodeUpdatedPayload{
		Code:   "contract Remote {}",
		UserID: 2,
	}))

	// last-write-wins：远端内容无条件覆盖本地
	assert.Equal(t, "contract Remote {}", a.Code())
}

func TestAgent_MessageDeduplicatedByID(t *testing.T) {
	a := joinedAgent(t)

	msg := domain.ChatMessage{ID: "m2", SessionID: 1, AuthorID: 7, Content: "new"}
	a.apply(envelope(t, domain.EventMessageReceived, msg))
	// 同一条消息再投递一次（重连后快照与广播可能重叠）
	a.apply(envelope(t, domain.EventMessageReceived, msg))
	// 快照里已有的 m1 也不重复追加
	a.apply(envelope(t, domain.EventMessageReceived, domain.ChatMessage{ID: "m1", SessionID: 1, Content: "hello"}))

	messages := a.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "m1", messages[0].ID)
	assert.Equal(t, "m2", messages[1].ID)
}

func TestAgent_RosterReplacedOnJoinAndLeave(t *testing.T) {
	a := joinedAgent(t)

	a.apply(envelope(t, domain.EventUserJoined, domain.UserJoinedPayload{
		User: domain.User{ID: 9, Name: "carol"},
		Presence: []domain.Presence{
			{UserID: 7, SessionID: 1},
			{UserID: 2, SessionID: 1},
			{UserID: 9, SessionID: 1},
		},
	}))
	assert.Len(t, a.Presence(), 3)

	a.apply(envelope(t, domain.EventUserLeft, domain.UserLeftPayload{
		UserID:   2,
		Presence: []domain.Presence{{UserID: 7, SessionID: 1}, {UserID: 9, SessionID: 1}},
	}))

	roster := a.Presence()
	assert.Len(t, roster, 2)
	for _, p := range roster {
		assert.NotEqual(t, uint(2), p.UserID)
	}
}

func TestAgent_CursorAndTypingUpdates(t *testing.T) {
	a := joinedAgent(t)

	a.apply(envelope(t, domain.EventCursorUpdated, domain.CursorUpdatedPayload{
		UserID: 2,
		Cursor: domain.CursorPosition{Line: 5, Column: 1},
	}))
	a.apply(envelope(t, domain.EventUserTyping, domain.UserTypingPayload{
		UserID:   2,
		Location: domain.TypingInCode,
		IsTyping: true,
	}))

	var bob *domain.Presence
	for _, p := range a.Presence() {
		if p.UserID == 2 {
			bob = &p
			break
		}
	}
	require.NotNil(t, bob)
	require.NotNil(t, bob.Cursor)
	assert.Equal(t, 5, bob.Cursor.Line)
	assert.True(t, bob.IsTyping)
	assert.Equal(t, domain.TypingInCode, bob.TypingLocation)

	// typing=false 清除位置
	a.apply(envelope(t, domain.EventUserTyping, domain.UserTypingPayload{
		UserID:   2,
		Location: domain.TypingInCode,
		IsTyping: false,
	}))
	for _, p := range a.Presence() {
		if p.UserID == 2 {
			assert.False(t, p.IsTyping)
		}
	}
}

func TestAgent_UpdatesForUnknownUserAreIgnored(t *testing.T) {
	a := joinedAgent(t)

	// 不在名单上的用户的光标更新不应创建新表项
	a.apply(envelope(t, domain.EventCursorUpdated, domain.CursorUpdatedPayload{
		UserID: 404,
		Cursor: domain.CursorPosition{Line: 1, Column: 1},
	}))

	assert.Len(t, a.Presence(), 2)
}

func TestAgent_ResetMirrorClearsState(t *testing.T) {
	a := joinedAgent(t)

	a.resetMirror()

	assert.Nil(t, a.Session())
	assert.Empty(t, a.Code())
	assert.Empty(t, a.Messages())
	assert.Empty(t, a.Presence())

	// 重置后旧消息 id 不再挡住新快照
	a.apply(envelope(t, domain.EventMessageReceived, domain.ChatMessage{ID: "m1", Content: "again"}))
	assert.Len(t, a.Messages(), 1)
}
