package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"collabcode/internal/domain"
)

const (
	// typingTTL 是"正在输入"指示在无后续事件时的存活时间。
	// 客户端崩溃或 typing_stop 丢包时，指示最多卡住这么久。
	typingTTL = 3000 * time.Millisecond

	// typingSweepInterval 是过期扫描的周期。
	typingSweepInterval = 100 * time.Millisecond
)

// TypingExpiredFunc 在某个 (用户, 位置) 的输入指示超时后被调用，
// 每次超时恰好调用一次。回调在扫描 goroutine 上执行，不持有内部锁。
type TypingExpiredFunc func(sessionID, userID uint, location domain.TypingLocation)

// typingKey 标识一个独立的输入指示。
// 同一用户在 chat 和 code 的指示互不影响。
type typingKey struct {
	sessionID uint
	userID    uint
	location  domain.TypingLocation
}

// PresenceTracker 维护每个会话的在场状态。
// 全部状态只存在内存中：Presence 的存在等价于"用户当前订阅着该会话的房间"。
// 输入指示的超时不用零散的 per-pair 定时器，而是统一的
// 截止时间表加单个扫描 goroutine，取消和重置都只是改一条表项。
type PresenceTracker struct {
	mu        sync.RWMutex
	sessions  map[uint]map[uint]*domain.Presence // sessionID -> userID -> presence
	deadlines map[typingKey]time.Time

	onExpired TypingExpiredFunc

	typingTTL     time.Duration
	sweepInterval time.Duration
}

// NewPresenceTracker 创建 PresenceTracker 实例。
// 超时回调通过 SetTypingExpiredFunc 注入，以打破和广播层的构造顺序依赖。
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		sessions:      make(map[uint]map[uint]*domain.Presence),
		deadlines:     make(map[typingKey]time.Time),
		typingTTL:     typingTTL,
		sweepInterval: typingSweepInterval,
	}
}

// SetTypingExpiredFunc 注入超时回调，必须在 Run 之前调用。
func (t *PresenceTracker) SetTypingExpiredFunc(fn TypingExpiredFunc) {
	t.onExpired = fn
}

// Run 启动过期扫描循环，直到 ctx 取消。应在单独的 goroutine 中运行。
func (t *PresenceTracker) Run(ctx context.Context) {
	log := logrus.WithField("component", "presence_tracker")
	log.Info("Presence tracker sweep loop started")

	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Presence tracker sweep loop stopped")
			return
		case now := <-ticker.C:
			t.sweep(now)
		}
	}
}

// sweep 找出所有已过期的输入指示，清除标志并触发回调。
// 回调在锁外执行：广播路径不允许反过来阻塞状态表。
func (t *PresenceTracker) sweep(now time.Time) {
	var expired []typingKey

	t.mu.Lock()
	for key, deadline := range t.deadlines {
		if now.Before(deadline) {
			continue
		}
		delete(t.deadlines, key)
		if p := t.get(key.sessionID, key.userID); p != nil && p.IsTyping && p.TypingLocation == key.location {
			p.IsTyping = false
			p.TypingLocation = ""
		}
		expired = append(expired, key)
	}
	t.mu.Unlock()

	for _, key := range expired {
		logrus.WithFields(logrus.Fields{
			"session_id": key.sessionID,
			"user_id":    key.userID,
			"location":   key.location,
		}).Debug("Typing indicator expired")
		if t.onExpired != nil {
			t.onExpired(key.sessionID, key.userID, key.location)
		}
	}
}

// get 返回内部 Presence 指针，调用方必须持有锁。
func (t *PresenceTracker) get(sessionID, userID uint) *domain.Presence {
	if users, ok := t.sessions[sessionID]; ok {
		return users[userID]
	}
	return nil
}

// Upsert 合并部分更新；不存在时以 status=online 的默认值创建。
// 每个 (sessionID, userID) 至多一条，重复 Upsert 不会产生第二条。
func (t *PresenceTracker) Upsert(sessionID uint, user domain.User, update domain.PresenceUpdate) domain.Presence {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.sessions[sessionID]
	if !ok {
		users = make(map[uint]*domain.Presence)
		t.sessions[sessionID] = users
	}

	p, ok := users[user.ID]
	if !ok {
		p = &domain.Presence{
			UserID:    user.ID,
			SessionID: sessionID,
			UserName:  user.Name,
			UserImage: user.Image,
			Status:    domain.StatusOnline,
		}
		users[user.ID] = p
	}

	if update.Cursor != nil {
		cursor := *update.Cursor
		p.Cursor = &cursor
	}
	if update.Selection != nil {
		selection := *update.Selection
		p.Selection = &selection
	}
	if update.Status != nil {
		p.Status = *update.Status
	}
	p.LastSeen = time.Now().UTC()

	return *p
}

// Remove 删除用户在会话中的 Presence 和所有待触发的输入截止时间。
// 重复调用是幂等的。
func (t *PresenceTracker) Remove(sessionID, userID uint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if users, ok := t.sessions[sessionID]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(t.sessions, sessionID)
		}
	}
	delete(t.deadlines, typingKey{sessionID, userID, domain.TypingInChat})
	delete(t.deadlines, typingKey{sessionID, userID, domain.TypingInCode})
}

// SetTyping 更新输入指示。
// isTyping=true 时（重新）设置 3 秒的截止时间：同一 (用户, 位置)
// 再次上报会覆盖旧截止时间，等价于防抖重置。
// isTyping=false 时清除标志和截止时间。
// 用户没有 Presence（未加入）时静默忽略。
func (t *PresenceTracker) SetTyping(sessionID, userID uint, location domain.TypingLocation, isTyping bool) {
	key := typingKey{sessionID, userID, location}

	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.get(sessionID, userID)
	if p == nil {
		return
	}

	if isTyping {
		p.IsTyping = true
		p.TypingLocation = location
		p.LastSeen = time.Now().UTC()
		t.deadlines[key] = time.Now().Add(t.typingTTL)
		return
	}

	delete(t.deadlines, key)
	if p.IsTyping && p.TypingLocation == location {
		p.IsTyping = false
		p.TypingLocation = ""
	}
}

// List 返回会话内全部 Presence 的副本。
func (t *PresenceTracker) List(sessionID uint) []domain.Presence {
	t.mu.RLock()
	defer t.mu.RUnlock()

	users := t.sessions[sessionID]
	result := make([]domain.Presence, 0, len(users))
	for _, p := range users {
		result = append(result, *p)
	}
	return result
}
