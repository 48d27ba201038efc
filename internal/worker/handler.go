package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collabcode/internal/repository"
	"collabcode/internal/tasks"
)

// CodeFlushHandler 把会话的实时代码缓冲区回写到数据库。
// 实时路径只写 Redis，落盘由这里异步完成，编辑延迟不受数据库影响。
type CodeFlushHandler struct {
	sessionRepo repository.SessionRepository
	stateRepo   repository.LiveStateRepository
}

// NewCodeFlushHandler 创建 CodeFlushHandler 实例。
func NewCodeFlushHandler(sessionRepo repository.SessionRepository, stateRepo repository.LiveStateRepository) *CodeFlushHandler {
	return &CodeFlushHandler{sessionRepo: sessionRepo, stateRepo: stateRepo}
}

// ProcessTask 实现 asynq.Handler。
func (h *CodeFlushHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.CodeFlushPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		// payload 解析失败重试也不会成功
		return fmt.Errorf("unmarshal code flush payload: %v: %w", err, asynq.SkipRetry)
	}

	logCtx := logrus.WithFields(logrus.Fields{"task_type": t.Type(), "session_id": payload.SessionID})

	code, version, err := h.stateRepo.GetCode(ctx, payload.SessionID)
	if err != nil {
		return fmt.Errorf("read live code buffer for session %d: %w", payload.SessionID, err)
	}
	if version == 0 {
		logCtx.Debug("No live code buffer to flush")
		return nil
	}

	if err := h.sessionRepo.UpdateCode(ctx, payload.SessionID, code); err != nil {
		return fmt.Errorf("flush code buffer for session %d: %w", payload.SessionID, err)
	}

	logCtx.WithField("version", version).Info("Code buffer flushed to database")
	return nil
}

// SubscriberCounter 报告某个会话当前有多少条活跃连接。
// 由 hub 实现，清理任务据此避开仍有人在线的会话。
type SubscriberCounter interface {
	SubscriberCount(sessionID uint) int
}

// sessionIdleAfter 是会话被视为空闲的时限。
const sessionIdleAfter = 24 * time.Hour

// SessionSweepHandler 归档长时间空闲且无人在线的会话：
// 落盘缓冲区、标记不活跃、清理 Redis key。
type SessionSweepHandler struct {
	sessionRepo repository.SessionRepository
	archiver    SessionArchiver
	subscribers SubscriberCounter
}

// SessionArchiver 是 SessionService.Archive 的最小接口。
type SessionArchiver interface {
	Archive(ctx context.Context, sessionID uint) error
}

// NewSessionSweepHandler 创建 SessionSweepHandler 实例。
func NewSessionSweepHandler(sessionRepo repository.SessionRepository, archiver SessionArchiver, subscribers SubscriberCounter) *SessionSweepHandler {
	return &SessionSweepHandler{sessionRepo: sessionRepo, archiver: archiver, subscribers: subscribers}
}

// ProcessTask 实现 asynq.Handler。
func (h *SessionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())

	idle, err := h.sessionRepo.FindActiveIdleSince(ctx, time.Now().Add(-sessionIdleAfter))
	if err != nil {
		return fmt.Errorf("find idle sessions: %w", err)
	}

	archived := 0
	for _, session := range idle {
		if h.subscribers.SubscriberCount(session.ID) > 0 {
			continue // 还有人在线，跳过
		}
		if err := h.archiver.Archive(ctx, session.ID); err != nil {
			logCtx.WithError(err).WithField("session_id", session.ID).Error("Failed to archive idle session")
			continue
		}
		archived++
	}

	if archived > 0 {
		logCtx.WithField("archived", archived).Info("Idle sessions archived")
	}
	return nil
}
