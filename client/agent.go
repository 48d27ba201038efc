// Package client 提供协作会话的 Go 客户端。
// Agent 维护服务端状态的本地镜像：会话信息、代码缓冲、
// 聊天记录和在场名单，全部以服务端广播为准。
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collabcode/internal/domain"
)

const defaultAwaitTimeout = 10 * time.Second

// ErrClosed 表示连接已关闭。
var ErrClosed = errors.New("client: connection closed")

// ErrAuthenticationFailed 表示服务端拒绝了提交的凭证。
var ErrAuthenticationFailed = errors.New("client: authentication failed")

// EventFunc 在每个服务端事件应用到镜像之后被回调，
// 在读取 goroutine 上执行，不能阻塞。
type EventFunc func(env domain.Envelope)

// waiter 表示一次等待中的请求-响应交互。
type waiter struct {
	accepts map[string]bool
	ch      chan domain.Envelope
}

// Agent 是一条客户端连接及其本地镜像。
// 镜像只被读取 goroutine 写入，访问器返回拷贝。
type Agent struct {
	url     string
	onEvent EventFunc

	mu      sync.Mutex
	ws      *websocket.Conn
	done    chan struct{}
	pending *waiter

	// 重连时用于自动恢复的凭证和会话
	userID    uint
	token     string
	sessionID uint

	// 本地镜像
	user     *domain.User
	session  *domain.Session
	code     string
	messages []domain.ChatMessage
	seen     map[string]bool
	presence map[uint]domain.Presence
}

// NewAgent 创建一个未连接的 Agent。
func NewAgent(url string, onEvent EventFunc) *Agent {
	return &Agent{
		url:      url,
		onEvent:  onEvent,
		seen:     make(map[string]bool),
		presence: make(map[uint]domain.Presence),
	}
}

// Connect 建立 WebSocket 连接并启动读取循环。
func (a *Agent) Connect(ctx context.Context) error {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("client: dial %s: %w", a.url, err)
	}

	a.mu.Lock()
	a.ws = ws
	a.done = make(chan struct{})
	a.mu.Unlock()

	go a.readLoop(ws, a.done)
	return nil
}

// Authenticate 提交凭证并等待服务端确认。
func (a *Agent) Authenticate(ctx context.Context, userID uint, token string) error {
	env, err := a.request(ctx, domain.EventAuthenticate, domain.AuthenticatePayload{
		UserID:       userID,
		SessionToken: token,
	}, domain.EventAuthenticated, domain.EventAuthenticationFailed)
	if err != nil {
		return err
	}
	if env.Type == domain.EventAuthenticationFailed {
		return ErrAuthenticationFailed
	}

	var p domain.AuthenticatedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("client: decode authenticated payload: %w", err)
	}

	a.mu.Lock()
	a.userID = userID
	a.token = token
	a.user = &p.User
	a.mu.Unlock()
	return nil
}

// Join 加入会话并等待快照。镜像被快照整体替换。
func (a *Agent) Join(ctx context.Context, sessionID uint) (*domain.Session, error) {
	env, err := a.request(ctx, domain.EventJoinSession, domain.JoinSessionPayload{
		SessionID: sessionID,
	}, domain.EventSessionJoined, domain.EventError)
	if err != nil {
		return nil, err
	}
	if env.Type == domain.EventError {
		var p domain.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		return nil, fmt.Errorf("client: join session %d: %s", sessionID, p.Message)
	}

	// session_joined 已经在 readLoop 里应用到镜像，这里只取结果
	a.mu.Lock()
	a.sessionID = sessionID
	session := a.session
	a.mu.Unlock()
	return session, nil
}

// SendCodeChange 乐观地更新本地缓冲并把完整内容发给服务端。
// 其它人的后到修改会通过 code_updated 覆盖本地值（last-write-wins）。
func (a *Agent) SendCodeChange(code string, changes json.RawMessage) error {
	a.mu.Lock()
	sessionID := a.sessionID
	a.code = code
	a.mu.Unlock()

	return a.send(domain.EventCodeChange, domain.CodeChangePayload{
		SessionID: sessionID,
		Code:      code,
		Changes:   changes,
	})
}

// SendMessage 发送一条聊天消息。
// 规范形态（服务端分配 id 和时间戳）随 message_received 广播返回，
// 本地镜像到那时才追加，持久化失败的消息不会出现。
func (a *Agent) SendMessage(content string, msgType domain.MessageType) error {
	a.mu.Lock()
	sessionID := a.sessionID
	a.mu.Unlock()

	return a.send(domain.EventSendMessage, domain.SendMessagePayload{
		SessionID: sessionID,
		Content:   content,
		Type:      msgType,
	})
}

// UpdateCursor 上报光标位置。
func (a *Agent) UpdateCursor(line, column int) error {
	return a.send(domain.EventCursorUpdate, domain.CursorUpdatePayload{Line: line, Column: column})
}

// UpdateSelection 上报选区。
func (a *Agent) UpdateSelection(sel domain.SelectionRange) error {
	return a.send(domain.EventSelectionUpdate, domain.SelectionUpdatePayload{
		StartLine:   sel.StartLine,
		StartColumn: sel.StartColumn,
		EndLine:     sel.EndLine,
		EndColumn:   sel.EndColumn,
	})
}

// StartTyping / StopTyping 上报输入状态。
// 停止事件可以不发，服务端超时后自动清除。
func (a *Agent) StartTyping(location domain.TypingLocation) error {
	return a.send(domain.EventTypingStart, domain.TypingPayload{Location: location})
}

func (a *Agent) StopTyping(location domain.TypingLocation) error {
	return a.send(domain.EventTypingStop, domain.TypingPayload{Location: location})
}

// Leave 显式离开当前会话。服务端随后会关闭连接状态机。
func (a *Agent) Leave() error {
	err := a.send(domain.EventLeaveSession, nil)
	a.mu.Lock()
	a.sessionID = 0
	a.mu.Unlock()
	return err
}

// Reconnect 断线后重建状态：重新拨号、重新认证、重新加入，
// 本地镜像被服务端快照整体替换。没有増量补发，一切以快照为准。
func (a *Agent) Reconnect(ctx context.Context) error {
	a.mu.Lock()
	userID, token, sessionID := a.userID, a.token, a.sessionID
	a.mu.Unlock()

	if token == "" {
		return errors.New("client: no credentials to reconnect with")
	}

	a.Close()
	a.resetMirror()

	if err := a.Connect(ctx); err != nil {
		return err
	}
	if err := a.Authenticate(ctx, userID, token); err != nil {
		return err
	}
	if sessionID != 0 {
		if _, err := a.Join(ctx, sessionID); err != nil {
			return err
		}
	}
	return nil
}

// Close 关闭底层连接。可以安全地多次调用。
func (a *Agent) Close() {
	a.mu.Lock()
	ws := a.ws
	a.ws = nil
	a.mu.Unlock()

	if ws != nil {
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ws.Close()
	}
}

// --- 镜像访问器 ---

// Session 返回当前会话的拷贝，未加入时返回 nil。
func (a *Agent) Session() *domain.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

// Code 返回本地代码缓冲。
func (a *Agent) Code() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.code
}

// Messages 返回按服务端时间戳升序的聊天记录拷贝。
func (a *Agent) Messages() []domain.ChatMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.ChatMessage, len(a.messages))
	copy(out, a.messages)
	return out
}

// Presence 返回当前在场名单的拷贝。
func (a *Agent) Presence() []domain.Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.Presence, 0, len(a.presence))
	for _, p := range a.presence {
		out = append(out, p)
	}
	return out
}

// --- 内部实现 ---

func (a *Agent) send(eventType string, payload interface{}) error {
	data, err := domain.EncodeEvent(eventType, payload)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ws == nil {
		return ErrClosed
	}
	a.ws.SetWriteDeadline(time.Now().Add(defaultAwaitTimeout))
	return a.ws.WriteMessage(websocket.TextMessage, data)
}

// request 发送事件并阻塞等待指定类型之一的响应。
// 同一时间只允许一个在途请求，交互式操作本身就是串行的。
func (a *Agent) request(ctx context.Context, eventType string, payload interface{}, acceptTypes ...string) (domain.Envelope, error) {
	w := &waiter{
		accepts: make(map[string]bool, len(acceptTypes)),
		ch:      make(chan domain.Envelope, 1),
	}
	for _, t := range acceptTypes {
		w.accepts[t] = true
	}

	a.mu.Lock()
	if a.pending != nil {
		a.mu.Unlock()
		return domain.Envelope{}, errors.New("client: another request is in flight")
	}
	a.pending = w
	done := a.done
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
	}()

	if err := a.send(eventType, payload); err != nil {
		return domain.Envelope{}, err
	}

	timeout := time.NewTimer(defaultAwaitTimeout)
	defer timeout.Stop()

	select {
	case env := <-w.ch:
		return env, nil
	case <-done:
		return domain.Envelope{}, ErrClosed
	case <-timeout.C:
		return domain.Envelope{}, fmt.Errorf("client: timed out waiting for response to %s", eventType)
	case <-ctx.Done():
		return domain.Envelope{}, ctx.Err()
	}
}

func (a *Agent) resetMirror() {
	a.mu.Lock()
	a.session = nil
	a.code = ""
	a.messages = nil
	a.seen = make(map[string]bool)
	a.presence = make(map[uint]domain.Presence)
	a.mu.Unlock()
}

func (a *Agent) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logrus.WithError(err).Debug("client: read loop terminated")
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			logrus.WithError(err).Warn("client: dropping malformed server event")
			continue
		}

		a.apply(env)

		a.mu.Lock()
		w := a.pending
		a.mu.Unlock()
		if w != nil && w.accepts[env.Type] {
			select {
			case w.ch <- env:
			default:
			}
		}

		if a.onEvent != nil {
			a.onEvent(env)
		}
	}
}

// apply 把服务端事件应用到本地镜像。
func (a *Agent) apply(env domain.Envelope) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch env.Type {
	case domain.EventSessionJoined:
		var p domain.SessionJoinedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		a.session = &p.Session
		a.code = p.Session.Code
		a.messages = p.Messages
		a.seen = make(map[string]bool, len(p.Messages))
		for _, m := range p.Messages {
			a.seen[m.ID] = true
		}
		a.presence = make(map[uint]domain.Presence, len(p.Presence))
		for _, pr := range p.Presence {
			a.presence[pr.UserID] = pr
		}

	case domain.EventCodeUpdated:
		var p domain.CodeUpdatedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		a.code = p.Code

	case domain.EventMessageReceived:
		var m domain.ChatMessage
		if json.Unmarshal(env.Payload, &m) != nil {
			return
		}
		// at-most-once 投递下仍做 id 去重，重连快照可能与广播重叠
		if a.seen[m.ID] {
			return
		}
		a.seen[m.ID] = true
		a.messages = append(a.messages, m)

	case domain.EventUserJoined:
		var p domain.UserJoinedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		a.replacePresence(p.Presence)

	case domain.EventUserLeft:
		var p domain.UserLeftPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		a.replacePresence(p.Presence)

	case domain.EventCursorUpdated:
		var p domain.CursorUpdatedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		if pr, ok := a.presence[p.UserID]; ok {
			cursor := p.Cursor
			pr.Cursor = &cursor
			a.presence[p.UserID] = pr
		}

	case domain.EventSelectionUpdated:
		var p domain.SelectionUpdatedPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		if pr, ok := a.presence[p.UserID]; ok {
			sel := p.Selection
			pr.Selection = &sel
			a.presence[p.UserID] = pr
		}

	case domain.EventUserTyping:
		var p domain.UserTypingPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		if pr, ok := a.presence[p.UserID]; ok {
			pr.IsTyping = p.IsTyping
			if p.IsTyping {
				pr.TypingLocation = p.Location
			} else {
				pr.TypingLocation = ""
			}
			a.presence[p.UserID] = pr
		}
	}
}

// replacePresence 用服务端下发的名单整体替换本地名单。
func (a *Agent) replacePresence(roster []domain.Presence) {
	a.presence = make(map[uint]domain.Presence, len(roster))
	for _, pr := range roster {
		a.presence[pr.UserID] = pr
	}
}
