package repository

import (
	"context"
	"time"
)

// LiveStateRepository 定义了会话实时状态的操作，由 Redis 实现。
// 实时状态包括权威代码缓冲区、缓冲区版本号和当前成员集合；
// 它们的生命周期与会话的活跃期一致，与持久化记录分离，
// 这样换用外部存储即可支撑多进程部署，而业务层不需要改动。
type LiveStateRepository interface {
	// SetCode 无条件替换会话的权威代码缓冲区 (last-write-wins)，
	// 原子递增版本号并返回新版本。
	SetCode(ctx context.Context, sessionID uint, code string) (uint64, error)

	// GetCode 返回当前缓冲区内容和版本号。
	// 会话从未写入过时返回空串和版本 0，不视为错误。
	GetCode(ctx context.Context, sessionID uint) (string, uint64, error)

	// AddParticipant 将用户加入会话的在线成员集合，重复加入是幂等的。
	AddParticipant(ctx context.Context, sessionID, userID uint) error

	// RemoveParticipant 将用户移出成员集合，不存在时静默成功。
	RemoveParticipant(ctx context.Context, sessionID, userID uint) error

	// IsParticipant 检查用户是否在成员集合中。
	IsParticipant(ctx context.Context, sessionID, userID uint) (bool, error)

	// CountParticipants 返回当前成员数量。
	CountParticipants(ctx context.Context, sessionID uint) (int, error)

	// ParticipantIDs 返回当前全部成员的用户 ID。
	ParticipantIDs(ctx context.Context, sessionID uint) ([]uint, error)

	// CleanupSession 删除会话的全部实时状态 key。
	CleanupSession(ctx context.Context, sessionID uint) error

	// CheckRateLimit 检查 key 的请求频率并递增计数，超限返回 true。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
