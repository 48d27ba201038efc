package hub

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"collabcode/internal/domain"
	"collabcode/internal/service"
)

// connState 是单条连接的生命周期状态。
type connState int

const (
	// StateUnauthenticated 升级完成但尚未验证身份，只接受 authenticate
	StateUnauthenticated connState = iota
	// StateAuthenticated 身份已确认，可以加入会话
	StateAuthenticated
	// StateJoined 已加入某个会话，全部协作事件可用
	StateJoined
	// StateClosed 终态：显式离开或底层连接断开之后
	StateClosed
)

// Conn 是一条连接的协议状态机，负责事件分发、状态转换和
// 断开时的清理。所有方法都只在该连接的读取 goroutine 上被调用，
// 因此内部状态不加锁；跨连接的共享状态由各业务组件自己保护。
type Conn struct {
	client   *Client
	hub      *Hub
	auth     *service.AuthService
	sessions *service.SessionService
	chat     *service.ChatService
	presence *service.PresenceTracker

	state     connState
	user      *domain.User
	sessionID uint
}

// NewConn 创建连接状态机并挂接到传输层 Client 上。
func NewConn(client *Client, hub *Hub, auth *service.AuthService, sessions *service.SessionService, chat *service.ChatService, presence *service.PresenceTracker) *Conn {
	if client == nil || hub == nil || auth == nil || sessions == nil || chat == nil || presence == nil {
		panic("NewConn: all dependencies are required")
	}
	c := &Conn{
		client:   client,
		hub:      hub,
		auth:     auth,
		sessions: sessions,
		chat:     chat,
		presence: presence,
		state:    StateUnauthenticated,
	}
	client.link = c
	return c
}

// HandleRaw 解析一帧入站消息并分发到对应的处理函数。
// 畸形或未知事件只产生一个 error 事件，连接保持打开。
func (c *Conn) HandleRaw(raw []byte) {
	if c.state == StateClosed {
		return
	}

	event, err := domain.DecodeClientEvent(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Debug("Rejected inbound event")
		c.sendError(err.Error())
		return
	}

	switch p := event.(type) {
	case domain.AuthenticatePayload:
		c.handleAuthenticate(p)
	case domain.JoinSessionPayload:
		c.handleJoin(p)
	case domain.CodeChangePayload:
		c.handleCodeChange(p)
	case domain.CursorUpdatePayload:
		c.handleCursorUpdate(p)
	case domain.SelectionUpdatePayload:
		c.handleSelectionUpdate(p)
	case domain.SendMessagePayload:
		c.handleSendMessage(p)
	case domain.TypingStartPayload:
		c.handleTyping(p.Location, true)
	case domain.TypingStopPayload:
		c.handleTyping(p.Location, false)
	case domain.LeaveSessionPayload:
		c.handleLeave()
	}
}

// HandleDisconnect 在读循环退出时调用。
// 如果连接仍处于已加入状态，按显式离开执行同样的清理，
// 保证房间里恰好广播一次 user_left。
func (c *Conn) HandleDisconnect() {
	if c.state == StateJoined {
		c.leaveCurrent()
	}
	c.state = StateClosed
}

func (c *Conn) handleAuthenticate(p domain.AuthenticatePayload) {
	if c.state != StateUnauthenticated {
		c.sendError("already authenticated")
		return
	}

	user, err := c.auth.VerifyToken(context.Background(), p.UserID, p.SessionToken)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": p.UserID,
			"error":   err,
		}).Warn("WebSocket authentication failed")
		c.sendEvent(domain.EventAuthenticationFailed, domain.AuthenticationFailedPayload{Reason: "invalid credentials"})
		return
	}

	c.user = user
	c.state = StateAuthenticated
	c.sendEvent(domain.EventAuthenticated, domain.AuthenticatedPayload{User: *user})

	logrus.WithFields(logrus.Fields{"user_id": user.ID}).Info("WebSocket connection authenticated")
}

func (c *Conn) handleJoin(p domain.JoinSessionPayload) {
	if c.state == StateUnauthenticated {
		c.sendError("not authenticated")
		return
	}
	if c.state == StateJoined {
		if c.sessionID == p.SessionID {
			c.sendError("already in this session")
			return
		}
		// 换房间：先完整退出旧会话，旧房间收到 user_left
		c.leaveCurrent()
		c.state = StateAuthenticated
	}

	ctx := context.Background()
	session, err := c.sessions.Join(ctx, p.SessionID, c.user)
	if err != nil {
		c.sendError(joinErrorMessage(err))
		return
	}

	history, err := c.chat.History(ctx, p.SessionID)
	if err != nil {
		// 快照必须和持久化日志一致，历史读不出来就回滚加入
		c.sessions.Leave(ctx, p.SessionID, c.user.ID)
		c.sendError("failed to load session history")
		return
	}

	c.presence.Upsert(p.SessionID, *c.user, domain.PresenceUpdate{})
	c.hub.Subscribe(c.client, p.SessionID)
	c.sessionID = p.SessionID
	c.state = StateJoined

	roster := c.presence.List(p.SessionID)
	c.sendEvent(domain.EventSessionJoined, domain.SessionJoinedPayload{
		Session:  *session,
		Messages: history,
		Presence: roster,
	})
	c.broadcast(domain.EventUserJoined, domain.UserJoinedPayload{
		User:     *c.user,
		Presence: roster,
	})

	logrus.WithFields(logrus.Fields{
		"session_id": p.SessionID,
		"user_id":    c.user.ID,
	}).Info("User joined session")
}

func (c *Conn) handleCodeChange(p domain.CodeChangePayload) {
	if !c.requireSession(p.SessionID) {
		return
	}

	meta := domain.CodeChangeMeta{UserID: c.user.ID, Timestamp: time.Now().UTC()}
	if _, err := c.sessions.ApplyCodeChange(context.Background(), c.sessionID, p.Code, meta); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": c.sessionID,
			"user_id":    c.user.ID,
			"error":      err,
		}).Error("Failed to apply code change")
		c.sendError("failed to apply code change")
		return
	}

	c.presence.Upsert(c.sessionID, *c.user, domain.PresenceUpdate{})
	c.broadcast(domain.EventCodeUpdated, domain.CodeUpdatedPayload{
		Code:      p.Code,
		Changes:   p.Changes,
		UserID:    meta.UserID,
		Timestamp: meta.Timestamp,
	})
}

func (c *Conn) handleCursorUpdate(p domain.CursorUpdatePayload) {
	if !c.requireJoined() {
		return
	}

	cursor := domain.CursorPosition{Line: p.Line, Column: p.Column}
	c.presence.Upsert(c.sessionID, *c.user, domain.PresenceUpdate{Cursor: &cursor})
	c.broadcast(domain.EventCursorUpdated, domain.CursorUpdatedPayload{
		UserID: c.user.ID,
		Cursor: cursor,
	})
}

func (c *Conn) handleSelectionUpdate(p domain.SelectionUpdatePayload) {
	if !c.requireJoined() {
		return
	}

	sel := domain.SelectionRange{
		StartLine:   p.StartLine,
		StartColumn: p.StartColumn,
		EndLine:     p.EndLine,
		EndColumn:   p.EndColumn,
	}
	c.presence.Upsert(c.sessionID, *c.user, domain.PresenceUpdate{Selection: &sel})
	c.broadcast(domain.EventSelectionUpdated, domain.SelectionUpdatedPayload{
		UserID:    c.user.ID,
		Selection: sel,
	})
}

func (c *Conn) handleSendMessage(p domain.SendMessagePayload) {
	if !c.requireSession(p.SessionID) {
		return
	}

	msg, err := c.chat.Append(context.Background(), c.sessionID, c.user, p.Content, p.Type)
	if err != nil {
		// 持久化失败的消息绝不广播，发送者只收到错误
		c.sendError("failed to send message")
		return
	}

	data, err := domain.EncodeEvent(domain.EventMessageReceived, *msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{"error": err}).Error("Failed to encode chat message")
		return
	}
	// 发送者也通过广播收到规范形态（含服务端分配的 id 和时间戳）
	c.hub.PublishToAll(c.sessionID, data)
}

func (c *Conn) handleTyping(location domain.TypingLocation, isTyping bool) {
	if !c.requireJoined() {
		return
	}

	c.presence.SetTyping(c.sessionID, c.user.ID, location, isTyping)
	c.broadcast(domain.EventUserTyping, domain.UserTypingPayload{
		UserID:   c.user.ID,
		Location: location,
		IsTyping: isTyping,
	})
}

// handleLeave 处理显式离开。离开后连接进入终态，
// 后续的底层断开不再触发第二次清理。
func (c *Conn) handleLeave() {
	if c.state != StateJoined {
		c.sendError("not in a session")
		return
	}
	c.leaveCurrent()
	c.state = StateClosed
}

// leaveCurrent 执行退出当前会话的完整清理：
// 在场记录、Redis 成员集合、房间订阅，然后向剩余成员广播 user_left。
// 只能在 StateJoined 下调用。
func (c *Conn) leaveCurrent() {
	sessionID := c.sessionID

	c.presence.Remove(sessionID, c.user.ID)
	c.sessions.Leave(context.Background(), sessionID, c.user.ID)
	c.hub.Unsubscribe(c.client, sessionID)

	data, err := domain.EncodeEvent(domain.EventUserLeft, domain.UserLeftPayload{
		UserID:   c.user.ID,
		Presence: c.presence.List(sessionID),
	})
	if err == nil {
		c.hub.PublishToAll(sessionID, data)
	}

	c.sessionID = 0

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"user_id":    c.user.ID,
	}).Info("User left session")
}

// requireJoined 校验连接处于已加入状态，否则回送错误事件。
func (c *Conn) requireJoined() bool {
	switch c.state {
	case StateJoined:
		return true
	case StateUnauthenticated:
		c.sendError("not authenticated")
	default:
		c.sendError("not in a session")
	}
	return false
}

// requireSession 在 requireJoined 之上再校验事件声明的会话号。
func (c *Conn) requireSession(sessionID uint) bool {
	if !c.requireJoined() {
		return false
	}
	if sessionID != c.sessionID {
		c.sendError("session mismatch")
		return false
	}
	return true
}

// sendEvent 只发给本连接。
func (c *Conn) sendEvent(eventType string, payload interface{}) {
	data, err := domain.EncodeEvent(eventType, payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"event": eventType, "error": err}).Error("Failed to encode event")
		return
	}
	if !c.client.enqueue(data) {
		logrus.WithFields(logrus.Fields{"event": eventType}).Warn("Send channel full, dropping event")
	}
}

// broadcast 发给当前会话中除本连接外的所有订阅者。
func (c *Conn) broadcast(eventType string, payload interface{}) {
	data, err := domain.EncodeEvent(eventType, payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{"event": eventType, "error": err}).Error("Failed to encode event")
		return
	}
	c.hub.Publish(c.sessionID, data, c.client)
}

func (c *Conn) sendError(message string) {
	c.sendEvent(domain.EventError, domain.ErrorPayload{Message: message})
}

// joinErrorMessage 把加入失败的服务层错误翻译成协议文案。
func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, service.ErrSessionFull):
		return "session is full"
	case errors.Is(err, service.ErrForbidden):
		return "not authorized for this session"
	default:
		return "failed to join session"
	}
}
