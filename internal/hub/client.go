package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// 写一条消息的超时时间
	writeWait = 10 * time.Second

	// 等待下一个 pong 的最长时间
	pongWait = 60 * time.Second

	// ping 发送间隔，必须小于 pongWait
	pingPeriod = (pongWait * 9) / 10

	// 入站消息上限。代码缓冲区整体随 code_change 上行，
	// 所以这里要比普通聊天服务大得多。
	maxMessageSize = 512 * 1024

	// 出站队列长度，写满即认为消费者过慢
	sendBufferSize = 256
)

// Client 是一条 WebSocket 连接的传输层：读写泵加出站队列。
// 协议语义全部在 Conn 里，Client 只负责搬运字节。
type Client struct {
	ws   *websocket.Conn
	send chan []byte
	link *Conn

	mu     sync.Mutex
	closed bool
}

// NewClient 包装一条已升级的 WebSocket 连接。
// 状态机由 NewConn 挂接，之后必须调用 Run 启动读写泵。
func NewClient(ws *websocket.Conn) *Client {
	return &Client{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
	}
}

// enqueue 非阻塞地把消息放入出站队列。
// 队列已满或连接已关闭时返回 false，绝不阻塞调用方。
func (c *Client) enqueue(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close 关闭出站队列，触发写循环退出。可以安全地多次调用，
// 之后的 enqueue 全部返回 false。
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Run 启动写循环并在当前 goroutine 运行读循环，连接断开后返回。
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump 从连接读取入站消息并同步交给状态机处理。
// 同步分发意味着同一连接的事件严格按到达顺序生效，
// 上一个事件的广播一定先于下一个事件入队。
func (c *Client) readPump() {
	defer func() {
		c.link.HandleDisconnect()
		c.Close()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{"error": err}).Warn("WebSocket read error")
			}
			break
		}
		c.link.HandleRaw(message)
	}
}

// writePump 把出站队列写入连接，并按周期发送 ping。
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 出站队列已被关闭，通知对端后退出
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithFields(logrus.Fields{"error": err}).Debug("WebSocket write failed")
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
