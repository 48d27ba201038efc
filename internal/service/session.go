package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"collabcode/internal/domain"
	"collabcode/internal/repository"
	"collabcode/internal/tasks"
)

// TaskEnqueuer 是 asynq.Client 的最小接口，便于测试替换。
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// SessionService 是会话记录和会话实时状态的唯一修改入口。
// 持久化记录走 SessionRepository，实时状态（代码缓冲区、成员集合）
// 走 LiveStateRepository；连接层不直接接触任何共享 map。
type SessionService struct {
	sessionRepo repository.SessionRepository
	stateRepo   repository.LiveStateRepository
	enqueuer    TaskEnqueuer

	// joinMu 串行化"检查容量 + 加入成员集合"，
	// 避免并发 join 把会话挤超员。
	joinMu sync.Mutex
}

// NewSessionService 创建 SessionService 实例。
// enqueuer 可以为 nil，此时代码变更不触发后台落盘任务（用于测试）。
func NewSessionService(sessionRepo repository.SessionRepository, stateRepo repository.LiveStateRepository, enqueuer TaskEnqueuer) *SessionService {
	if sessionRepo == nil || stateRepo == nil {
		panic("SessionRepository and LiveStateRepository must be non-nil for SessionService")
	}
	return &SessionService{
		sessionRepo: sessionRepo,
		stateRepo:   stateRepo,
		enqueuer:    enqueuer,
	}
}

// Create 创建新会话：空缓冲区，创建者是唯一的授权参与者。
func (s *SessionService) Create(ctx context.Context, creatorID uint, title string, sessionType domain.SessionType, language string, maxParticipants int) (*domain.Session, error) {
	logCtx := logrus.WithField("creator_id", creatorID)

	if title == "" || !sessionType.IsValid() {
		return nil, ErrInvalidInput
	}
	if maxParticipants < 1 {
		maxParticipants = 8
	}
	if language == "" {
		language = "solidity"
	}

	session := &domain.Session{
		Title:           title,
		Type:            sessionType,
		Language:        language,
		CreatorID:       creatorID,
		MaxParticipants: maxParticipants,
		IsActive:        true,
	}
	if err := s.sessionRepo.Save(ctx, session); err != nil {
		logCtx.WithError(err).Error("Failed to save new session")
		return nil, ErrInternalServer
	}
	if err := s.sessionRepo.AuthorizeParticipant(ctx, session.ID, creatorID); err != nil && !errors.Is(err, repository.ErrDuplicateEntry) {
		logCtx.WithError(err).Error("Failed to authorize creator on new session")
		return nil, ErrInternalServer
	}

	logCtx.WithField("session_id", session.ID).Info("Session created")
	return session, nil
}

// Get 返回会话记录，代码字段用实时缓冲区的当前值覆盖。
func (s *SessionService) Get(ctx context.Context, id uint) (*domain.Session, error) {
	session, err := s.sessionRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", id).Error("Failed to load session")
		return nil, ErrInternalServer
	}

	code, version, err := s.stateRepo.GetCode(ctx, id)
	if err != nil {
		logrus.WithError(err).WithField("session_id", id).Error("Failed to load live code buffer")
		return nil, ErrInternalServer
	}
	if version > 0 {
		session.Code = code
	}
	return session, nil
}

// Join 验证资格后把用户加入会话的在线成员集合。
// 结果依次可能是：ErrSessionNotFound（未知或已归档的会话）、
// ErrForbidden（不在授权名单上）、ErrSessionFull（容量已满且不是重复加入）。
// 已是成员的用户重复加入是幂等的，不受容量限制。
func (s *SessionService) Join(ctx context.Context, id uint, user *domain.User) (*domain.Session, error) {
	logCtx := logrus.WithFields(logrus.Fields{"session_id": id, "user_id": user.ID})

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.IsActive {
		// 已归档会话对外表现为不存在
		return nil, ErrSessionNotFound
	}

	if session.CreatorID != user.ID {
		authorized, err := s.sessionRepo.IsParticipantAuthorized(ctx, id, user.ID)
		if err != nil {
			logCtx.WithError(err).Error("Failed to check participant authorization")
			return nil, ErrInternalServer
		}
		if !authorized {
			logCtx.Warn("Join rejected: user not on the participant list")
			return nil, ErrForbidden
		}
	}

	// 容量检查和成员写入必须在同一个临界区内，
	// 否则两个并发 join 都能通过检查。
	s.joinMu.Lock()
	defer s.joinMu.Unlock()

	isMember, err := s.stateRepo.IsParticipant(ctx, id, user.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to check live membership")
		return nil, ErrInternalServer
	}
	if !isMember {
		count, err := s.stateRepo.CountParticipants(ctx, id)
		if err != nil {
			logCtx.WithError(err).Error("Failed to count live participants")
			return nil, ErrInternalServer
		}
		if count >= session.MaxParticipants {
			logCtx.WithFields(logrus.Fields{"count": count, "max": session.MaxParticipants}).Info("Join rejected: session full")
			return nil, ErrSessionFull
		}
		if err := s.stateRepo.AddParticipant(ctx, id, user.ID); err != nil {
			logCtx.WithError(err).Error("Failed to add live participant")
			return nil, ErrInternalServer
		}
	}

	logCtx.Info("User joined session")
	return session, nil
}

// Leave 把用户移出在线成员集合，用户不在集合中时是 no-op。
func (s *SessionService) Leave(ctx context.Context, id, userID uint) {
	if err := s.stateRepo.RemoveParticipant(ctx, id, userID); err != nil {
		// 离开失败只记日志：成员集合有 TTL 兜底，且不应阻塞连接关闭
		logrus.WithError(err).WithFields(logrus.Fields{"session_id": id, "user_id": userID}).Error("Failed to remove live participant")
	}
}

// ApplyCodeChange 无条件替换权威缓冲区 (last-write-wins)，
// 并入队后台任务把缓冲区回写到数据库。
// meta 只用于下游广播，不参与任何冲突处理。
func (s *SessionService) ApplyCodeChange(ctx context.Context, id uint, code string, meta domain.CodeChangeMeta) (uint64, error) {
	version, err := s.stateRepo.SetCode(ctx, id, code)
	if err != nil {
		logrus.WithError(err).WithField("session_id", id).Error("Failed to set live code buffer")
		return 0, ErrInternalServer
	}

	if s.enqueuer != nil {
		payload, err := tasks.NewCodeFlushTask(id)
		if err == nil {
			// 同一会话短时间内的多次编辑合并为一次落盘
			_, err = s.enqueuer.Enqueue(
				asynq.NewTask(tasks.TypeCodeFlush, payload),
				asynq.Unique(30*time.Second),
				asynq.Queue("low"),
			)
		}
		if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
			// 落盘任务失败不影响实时路径，下一次编辑会再次入队
			logrus.WithError(err).WithField("session_id", id).Warn("Failed to enqueue code flush task")
		}
	}

	logrus.WithFields(logrus.Fields{"session_id": id, "user_id": meta.UserID, "version": version}).Debug("Code buffer replaced")
	return version, nil
}

// List 返回用户可见的全部会话。
func (s *SessionService) List(ctx context.Context, userID uint) ([]domain.Session, error) {
	sessions, err := s.sessionRepo.ListByUser(ctx, userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Failed to list sessions")
		return nil, ErrInternalServer
	}
	return sessions, nil
}

// Authorize 由会话创建者把另一个用户加入授权名单。
func (s *SessionService) Authorize(ctx context.Context, sessionID, requesterID, userID uint) error {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return ErrSessionNotFound
		}
		return ErrInternalServer
	}
	if session.CreatorID != requesterID {
		return ErrForbidden
	}
	if err := s.sessionRepo.AuthorizeParticipant(ctx, sessionID, userID); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil // 重复授权视为成功
		}
		logrus.WithError(err).WithFields(logrus.Fields{"session_id": sessionID, "user_id": userID}).Error("Failed to authorize participant")
		return ErrInternalServer
	}
	return nil
}

// Archive 落盘缓冲区、标记不活跃并清理实时状态，供后台清理任务调用。
func (s *SessionService) Archive(ctx context.Context, sessionID uint) error {
	code, version, err := s.stateRepo.GetCode(ctx, sessionID)
	if err != nil {
		return err
	}
	if version > 0 {
		if err := s.sessionRepo.UpdateCode(ctx, sessionID, code); err != nil {
			return err
		}
	}
	if err := s.sessionRepo.MarkInactive(ctx, sessionID); err != nil {
		return err
	}
	return s.stateRepo.CleanupSession(ctx, sessionID)
}
