// Package websocket 负责 HTTP 到 WebSocket 的升级，
// 以及把新连接交给 hub 层的状态机。
package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"collabcode/internal/hub"
	"collabcode/internal/service"
)

// Handler 处理 WebSocket 升级请求。
// 身份验证走带内的 authenticate 事件，升级端点本身不做鉴权，
// 未验证的连接只能发送 authenticate，其余事件全部被状态机拒绝。
type Handler struct {
	upgrader websocket.Upgrader

	hub      *hub.Hub
	auth     *service.AuthService
	sessions *service.SessionService
	chat     *service.ChatService
	presence *service.PresenceTracker
}

// NewHandler 创建 WebSocket 升级处理器。
func NewHandler(h *hub.Hub, auth *service.AuthService, sessions *service.SessionService, chat *service.ChatService, presence *service.PresenceTracker) *Handler {
	if h == nil || auth == nil || sessions == nil || chat == nil || presence == nil {
		panic("all dependencies are required for websocket.Handler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// TODO: Implement proper origin checking for production
			return true
		},
	}

	return &Handler{
		upgrader: upgrader,
		hub:      h,
		auth:     auth,
		sessions: sessions,
		chat:     chat,
		presence: presence,
	}
}

// HandleConnection 升级连接并启动读写泵。
// 升级成功后本函数即返回，后续通信全部由连接自己的 goroutine 处理。
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时已经写入了 HTTP 错误响应
		logrus.WithError(err).Error("WS Handler: Failed to upgrade connection")
		return
	}

	logrus.WithField("remote_addr", ws.RemoteAddr().String()).Info("WS Handler: Connection upgraded")

	client := hub.NewClient(ws)
	hub.NewConn(client, h.hub, h.auth, h.sessions, h.chat, h.presence)

	go client.Run()
}
