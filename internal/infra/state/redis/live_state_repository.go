// Package redisstate 提供 LiveStateRepository 接口的 Redis 实现。
package redisstate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// 会话实时状态 key 的过期时间。正常路径由清理任务删除 key，
// TTL 只兜底进程异常退出后遗留的 key。
const liveStateTTL = 72 * time.Hour

// RedisLiveStateRepository 是 LiveStateRepository 接口的 Redis 实现。
type RedisLiveStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLiveStateRepository 创建 RedisLiveStateRepository 实例。
func NewRedisLiveStateRepository(client *redis.Client, keyPrefix string) *RedisLiveStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisLiveStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "cc:" // 默认前缀 "cc:" (codecollab)
	}
	return &RedisLiveStateRepository{client: client, keyPrefix: keyPrefix}
}

// --- key 生成辅助函数 ---

func (r *RedisLiveStateRepository) codeKey(sessionID uint) string {
	return fmt.Sprintf("%ssession:%d:code", r.keyPrefix, sessionID)
}

func (r *RedisLiveStateRepository) versionKey(sessionID uint) string {
	return fmt.Sprintf("%ssession:%d:version", r.keyPrefix, sessionID)
}

func (r *RedisLiveStateRepository) membersKey(sessionID uint) string {
	return fmt.Sprintf("%ssession:%d:members", r.keyPrefix, sessionID)
}

// SetCode 替换缓冲区并递增版本号，两个命令放进一个 pipeline。
// 不读旧值、不做合并：后写者无条件覆盖先写者。
func (r *RedisLiveStateRepository) SetCode(ctx context.Context, sessionID uint, code string) (uint64, error) {
	pipe := r.client.Pipeline()
	pipe.Set(ctx, r.codeKey(sessionID), code, liveStateTTL)
	incrCmd := pipe.Incr(ctx, r.versionKey(sessionID))
	pipe.Expire(ctx, r.versionKey(sessionID), liveStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis: set code for session %d: %w", sessionID, err)
	}
	version, err := incrCmd.Result()
	if err != nil {
		return 0, fmt.Errorf("redis: get version after set code for session %d: %w", sessionID, err)
	}
	return uint64(version), nil
}

// GetCode 返回当前缓冲区内容和版本号，key 不存在时返回零值。
func (r *RedisLiveStateRepository) GetCode(ctx context.Context, sessionID uint) (string, uint64, error) {
	code, err := r.client.Get(ctx, r.codeKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("redis: get code for session %d: %w", sessionID, err)
	}
	versionStr, err := r.client.Get(ctx, r.versionKey(sessionID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return code, 0, nil
		}
		return "", 0, fmt.Errorf("redis: get version for session %d: %w", sessionID, err)
	}
	version, parseErr := strconv.ParseUint(versionStr, 10, 64)
	if parseErr != nil {
		return "", 0, fmt.Errorf("redis: parse version %q for session %d: %w", versionStr, sessionID, parseErr)
	}
	return code, version, nil
}

// AddParticipant 把用户加入成员集合。SADD 天然幂等。
func (r *RedisLiveStateRepository) AddParticipant(ctx context.Context, sessionID, userID uint) error {
	key := r.membersKey(sessionID)
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, liveStateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add participant %d to session %d: %w", userID, sessionID, err)
	}
	return nil
}

// RemoveParticipant 把用户移出成员集合。SREM 对不存在的成员静默成功。
func (r *RedisLiveStateRepository) RemoveParticipant(ctx context.Context, sessionID, userID uint) error {
	if err := r.client.SRem(ctx, r.membersKey(sessionID), userID).Err(); err != nil {
		return fmt.Errorf("redis: remove participant %d from session %d: %w", userID, sessionID, err)
	}
	return nil
}

// IsParticipant 检查用户是否在成员集合中。
func (r *RedisLiveStateRepository) IsParticipant(ctx context.Context, sessionID, userID uint) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.membersKey(sessionID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check participant %d in session %d: %w", userID, sessionID, err)
	}
	return ok, nil
}

// CountParticipants 返回成员数量。
func (r *RedisLiveStateRepository) CountParticipants(ctx context.Context, sessionID uint) (int, error) {
	count, err := r.client.SCard(ctx, r.membersKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count participants of session %d: %w", sessionID, err)
	}
	return int(count), nil
}

// ParticipantIDs 返回全部成员的用户 ID。
func (r *RedisLiveStateRepository) ParticipantIDs(ctx context.Context, sessionID uint) ([]uint, error) {
	members, err := r.client.SMembers(ctx, r.membersKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list participants of session %d: %w", sessionID, err)
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, parseErr := strconv.ParseUint(m, 10, 64)
		if parseErr != nil {
			// 集合里出现非数字成员说明 key 被污染，跳过并继续
			continue
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

// CleanupSession 删除会话的全部实时状态 key。
func (r *RedisLiveStateRepository) CleanupSession(ctx context.Context, sessionID uint) error {
	keys := []string{r.codeKey(sessionID), r.versionKey(sessionID), r.membersKey(sessionID)}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: cleanup state for session %d: %w", sessionID, err)
	}
	return nil
}

// CheckRateLimit 检查请求频率并递增计数。
// INCR 和 EXPIRE 放进 pipeline 减少一次网络往返。
func (r *RedisLiveStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, r.keyPrefix+key)
	pipe.Expire(ctx, r.keyPrefix+key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}
