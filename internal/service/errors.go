package service

import "errors"

// 业务层错误。连接层把它们映射为发回客户端的 error 事件，
// REST 层把它们映射为 HTTP 状态码；任何一个都不允许让进程崩溃。
var (
	ErrNotAuthenticated     = errors.New("not authenticated")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRegistrationFailed   = errors.New("registration failed: name or email already exists")
	ErrSessionNotFound      = errors.New("session not found")
	ErrForbidden            = errors.New("not an authorized participant of this session")
	ErrSessionFull          = errors.New("session is full")
	ErrNotInSession         = errors.New("not in a session")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInternalServer       = errors.New("internal server error")
)
