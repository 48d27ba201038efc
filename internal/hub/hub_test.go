package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain 非阻塞地取出客户端出站队列里的全部消息。
func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_PublishExcludesSender(t *testing.T) {
	h := NewHub()
	sender := NewClient(nil)
	other := NewClient(nil)
	h.Subscribe(sender, 1)
	h.Subscribe(other, 1)

	h.Publish(1, []byte("hello"), sender)

	assert.Empty(t, drain(sender), "发送者不应收到自己的广播")
	got := drain(other)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", string(got[0]))
}

func TestHub_PublishToAllIncludesSender(t *testing.T) {
	h := NewHub()
	sender := NewClient(nil)
	other := NewClient(nil)
	h.Subscribe(sender, 1)
	h.Subscribe(other, 1)

	h.PublishToAll(1, []byte("canonical"))

	assert.Len(t, drain(sender), 1)
	assert.Len(t, drain(other), 1)
}

func TestHub_PublishScopedToRoom(t *testing.T) {
	h := NewHub()
	inRoom := NewClient(nil)
	elsewhere := NewClient(nil)
	h.Subscribe(inRoom, 1)
	h.Subscribe(elsewhere, 2)

	h.PublishToAll(1, []byte("room one only"))

	assert.Len(t, drain(inRoom), 1)
	assert.Empty(t, drain(elsewhere))
}

func TestHub_SlowClientIsSkipped(t *testing.T) {
	h := NewHub()
	slow := NewClient(nil)
	fast := NewClient(nil)
	h.Subscribe(slow, 1)
	h.Subscribe(fast, 1)

	// 填满 slow 的出站队列
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, slow.enqueue([]byte("x")))
	}

	// 广播不阻塞，fast 照常收到
	h.PublishToAll(1, []byte("y"))
	got := drain(fast)
	require.Len(t, got, 1)
	assert.Equal(t, "y", string(got[0]))

	// slow 队列里没有新消息（at-most-once：满即丢）
	assert.Len(t, drain(slow), sendBufferSize)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	h := NewHub()
	c := NewClient(nil)
	h.Subscribe(c, 1)
	require.Equal(t, 1, h.SubscriberCount(1))

	h.Unsubscribe(c, 1)

	assert.Equal(t, 0, h.SubscriberCount(1))
	h.PublishToAll(1, []byte("gone"))
	assert.Empty(t, drain(c))

	// 重复退订是 no-op
	h.Unsubscribe(c, 1)
}

func TestHub_EmptyRoomIsDeleted(t *testing.T) {
	h := NewHub()
	c := NewClient(nil)
	h.Subscribe(c, 1)
	h.Unsubscribe(c, 1)

	h.mu.RLock()
	_, exists := h.rooms[1]
	h.mu.RUnlock()
	assert.False(t, exists, "空房间应被删除")
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := NewClient(nil)
	c.Close()
	// 第二次 Close 不应 panic
	c.Close()

	// 关闭后的入队安全地失败
	assert.False(t, c.enqueue([]byte("late")))
}
