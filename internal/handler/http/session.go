package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collabcode/internal/domain"
	"collabcode/internal/service"
)

// SessionHandler 封装会话管理的 HTTP 处理逻辑。
// 实时协作走 WebSocket，这里只负责会话的创建、查询和授权。
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler 创建 SessionHandler 实例。
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	if sessionService == nil {
		panic("SessionService cannot be nil for SessionHandler")
	}
	return &SessionHandler{sessionService: sessionService}
}

// requestUserID 从 Gin 上下文取出认证中间件设置的用户 ID。
func requestUserID(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get("user_id")
	if !exists {
		logrus.Warn("Handler: User ID not found in context, middleware missing or failed?")
		ErrorResponse(c, http.StatusUnauthorized, "User not authenticated")
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	if !ok {
		logrus.Error("Handler: User ID in context is not uint")
		ErrorResponse(c, http.StatusInternalServerError, "Internal server error processing user ID")
		return 0, false
	}
	return userID, true
}

// sessionIDParam 解析 URL 中的 :sessionId 参数。
func sessionIDParam(c *gin.Context) (uint, bool) {
	idStr := c.Param("sessionId")
	id64, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil || id64 == 0 {
		logrus.WithError(err).Warnf("Handler: Invalid session ID format: %s", idStr)
		ErrorResponse(c, http.StatusBadRequest, "Invalid session ID format")
		return 0, false
	}
	return uint(id64), true
}

// CreateSessionRequest 定义创建会话请求的结构体。
type CreateSessionRequest struct {
	Title           string             `json:"title" binding:"required,max=200"`
	Type            domain.SessionType `json:"type" binding:"required"`
	Language        string             `json:"language"`
	MaxParticipants int                `json:"max_participants" binding:"omitempty,min=1,max=64"`
}

// CreateSession 处理创建新会话的请求。
func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.CreateSession: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: "+err.Error())
		return
	}
	if !req.Type.IsValid() {
		ErrorResponse(c, http.StatusBadRequest, "Invalid session type")
		return
	}

	session, err := h.sessionService.Create(c.Request.Context(), userID, req.Title, req.Type, req.Language, req.MaxParticipants)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Handler.CreateSession: Failed to create session")
		HandleServiceError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{"session_id": session.ID, "user_id": userID}).Info("Handler.CreateSession: Session created")
	SuccessResponse(c, http.StatusOK, session)
}

// ListSessions 返回当前用户可见的会话列表。
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	sessions, err := h.sessionService.List(c.Request.Context(), userID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", userID).Error("Handler.ListSessions: Failed to list sessions")
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession 返回单个会话的当前状态，代码字段以实时缓冲为准。
func (h *SessionHandler) GetSession(c *gin.Context) {
	if _, ok := requestUserID(c); !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	session, err := h.sessionService.Get(c.Request.Context(), sessionID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, session)
}

// AuthorizeRequest 定义把用户加入会话许可名单的请求。
type AuthorizeRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// AuthorizeParticipant 由会话创建者把其他用户加入许可名单。
func (h *SessionHandler) AuthorizeParticipant(c *gin.Context) {
	requesterID, ok := requestUserID(c)
	if !ok {
		return
	}
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req AuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.AuthorizeParticipant: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: user_id is required")
		return
	}

	if err := h.sessionService.Authorize(c.Request.Context(), sessionID, requesterID, req.UserID); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"requester":  requesterID,
			"user_id":    req.UserID,
		}).Warn("Handler.AuthorizeParticipant: Authorization failed")
		HandleServiceError(c, err)
		return
	}

	SuccessResponse(c, http.StatusOK, gin.H{"message": "Participant authorized"})
}
