// Package hub 实现会话级的连接管理和事件扇出，
// 以及把入站事件路由到业务组件的连接状态机。
package hub

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub 维护按会话组织的活跃连接集合，并把事件扇出给订阅者。
// 投递语义是 at-most-once：发送全部走非阻塞的带缓冲通道，
// 慢消费者被跳过，绝不阻塞广播方或其它订阅者。
// 单个连接的事件按其读取 goroutine 的处理顺序依次入队，
// 因此同一发送者的事件在所有订阅者处保持发送顺序；
// 不同发送者之间没有顺序保证。
type Hub struct {
	mu    sync.RWMutex
	rooms map[uint]map[*Client]bool // sessionID -> clients
}

// NewHub 创建并返回一个新的 Hub 实例。
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[uint]map[*Client]bool),
	}
}

// Subscribe 把连接加入会话的订阅者集合。
func (h *Hub) Subscribe(client *Client, sessionID uint) {
	if client == nil {
		logrus.Error("Hub: attempted to subscribe a nil client")
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[sessionID]; !ok {
		h.rooms[sessionID] = make(map[*Client]bool)
	}
	h.rooms[sessionID][client] = true
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": sessionID}).Debug("Client subscribed to room")
}

// Unsubscribe 把连接移出会话的订阅者集合，房间变空时删除房间。
// 对未订阅的连接调用是 no-op。
func (h *Hub) Unsubscribe(client *Client, sessionID uint) {
	if client == nil {
		return
	}

	h.mu.Lock()
	if room, ok := h.rooms[sessionID]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, sessionID)
		}
	}
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{"session_id": sessionID}).Debug("Client unsubscribed from room")
}

// Publish 把消息发给会话的所有订阅者，except 不为 nil 时跳过它。
// 在锁内只拷贝接收者列表，实际发送在锁外进行。
func (h *Hub) Publish(sessionID uint, message []byte, except *Client) {
	h.mu.RLock()
	room := h.rooms[sessionID]
	recipients := make([]*Client, 0, len(room))
	for client := range room {
		if client != except {
			recipients = append(recipients, client)
		}
	}
	h.mu.RUnlock()

	if len(recipients) == 0 {
		return
	}

	for _, client := range recipients {
		if !client.enqueue(message) {
			// 发送队列已满：跳过该订阅者，由它自己的写循环处理后续断开。
			// 一个迟钝的连接不能拖慢整个房间。
			logrus.WithFields(logrus.Fields{
				"session_id":   sessionID,
				"message_size": len(message),
			}).Warn("Client send channel full during publish, skipping this client")
		}
	}
}

// PublishToAll 把消息发给会话的所有订阅者，包括发送者自己。
// 用于聊天这类发送者也需要服务端规范形态（分配了 id/时间戳）的事件。
func (h *Hub) PublishToAll(sessionID uint, message []byte) {
	h.Publish(sessionID, message, nil)
}

// SubscriberCount 返回会话当前的订阅者数量。
func (h *Hub) SubscriberCount(sessionID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// CloseAll 关闭所有订阅者连接，用于进程退出。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0)
	for _, room := range h.rooms {
		for client := range room {
			clients = append(clients, client)
		}
	}
	h.rooms = make(map[uint]map[*Client]bool)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
