// Package tasks 定义后台任务的类型常量和 payload 结构。
package tasks

import "encoding/json"

const (
	// TypeCodeFlush 把某个会话的实时代码缓冲区回写到数据库。
	TypeCodeFlush = "code:flush"
	// TypeSessionSweep 周期性归档空闲会话。
	TypeSessionSweep = "session:sweep"
)

// CodeFlushPayload 是 TypeCodeFlush 任务的数据。
type CodeFlushPayload struct {
	SessionID uint `json:"session_id"`
}

// NewCodeFlushTask 序列化一个代码落盘任务的 payload。
func NewCodeFlushTask(sessionID uint) ([]byte, error) {
	return json.Marshal(CodeFlushPayload{SessionID: sessionID})
}

// NewSessionSweepTask 序列化一个会话清理任务的 payload（无字段）。
func NewSessionSweepTask() ([]byte, error) {
	return json.Marshal(struct{}{})
}
