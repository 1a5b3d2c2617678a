package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"musicsquare/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	// 系统消息
	MsgTypeError MessageType = "error" // 错误消息
	MsgTypePing  MessageType = "ping"  // 心跳
	MsgTypePong  MessageType = "pong"  // 心跳响应

	// 服务端 -> 客户端：设备指令
	MsgTypeLoad  MessageType = "load"  // 加载音频
	MsgTypePlay  MessageType = "play"  // 播放
	MsgTypePause MessageType = "pause" // 暂停
	MsgTypeSeek  MessageType = "seek"  // 跳转，客户端发来时表示用户拖动进度条

	// 服务端 -> 客户端：界面推送
	MsgTypeState         MessageType = "state"          // 会话快照
	MsgTypeNotice        MessageType = "notice"         // 提示
	MsgTypeLyrics        MessageType = "lyrics"         // 整份歌词
	MsgTypeLyricLine     MessageType = "lyric"          // 当前歌词行
	MsgTypeSearchResults MessageType = "search_results" // 搜索结果
	MsgTypeChart         MessageType = "chart"          // 榜单歌曲

	// 客户端 -> 服务端
	MsgTypeEvent       MessageType = "event"        // 设备事件
	MsgTypeNext        MessageType = "next"         // 下一首
	MsgTypePrev        MessageType = "prev"         // 上一首
	MsgTypeToggle      MessageType = "toggle"       // 播放/暂停
	MsgTypeMode        MessageType = "mode"         // 切换模式
	MsgTypeSetQueue    MessageType = "set_queue"    // 替换队列
	MsgTypeEnqueueNext MessageType = "enqueue_next" // 下一首播放
	MsgTypeSearch      MessageType = "search"       // 新搜索
	MsgTypeSearchMore  MessageType = "search_more"  // 加载更多
	MsgTypeToplist     MessageType = "toplist"      // 打开榜单
)

const (
	sendBuffer   = 64
	readLimit    = 1 << 20 // set_queue 可能携带整张歌单
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// ErrNotConnected 用户当前没有连接
var ErrNotConnected = errors.New("设备未连接")

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewMessage 把 data 编码进消息
func NewMessage(t MessageType, data any) (*WSMessage, error) {
	msg := &WSMessage{Type: t}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return msg, nil
}

// Client WebSocket 客户端，每个用户同时只有一个
type Client struct {
	ID     string
	UserID int64
	Conn   *websocket.Conn
	Send   chan []byte

	hub    *Hub
	closed bool // 由 hub.mu 保护
}

// Hub 用户 -> 连接
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]*Client
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{clients: make(map[int64]*Client)}
}

// NewClient 创建客户端但不注册
func (h *Hub) NewClient(userID int64, conn *websocket.Conn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		hub:    h,
	}
}

// Register 注册客户端，同一用户的旧连接被踢掉
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if old, ok := h.clients[c.UserID]; ok && old != c {
		h.closeLocked(old)
		logger.Info("[Hub] replaced connection",
			logger.Int64("user", c.UserID),
			logger.String("old", old.ID),
			logger.String("new", c.ID))
	}
	h.clients[c.UserID] = c
	logger.Info("[Hub] client registered", logger.Int64("user", c.UserID), logger.String("conn", c.ID))
}

// Unregister 注销客户端。已被新连接替换的旧客户端只关闭发送通道
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cur, ok := h.clients[c.UserID]; ok && cur == c {
		delete(h.clients, c.UserID)
		logger.Info("[Hub] client unregistered", logger.Int64("user", c.UserID), logger.String("conn", c.ID))
	}
	h.closeLocked(c)
}

// Kick 断开用户连接
func (h *Hub) Kick(userID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[userID]; ok {
		delete(h.clients, userID)
		h.closeLocked(c)
	}
}

func (h *Hub) closeLocked(c *Client) {
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Connected 用户是否在线
func (h *Hub) Connected(userID int64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// Count 在线连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SendToUser 发送消息给指定用户，缓冲区满时丢弃
func (h *Hub) SendToUser(userID int64, msg *WSMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[userID]
	if c == nil || c.closed {
		return ErrNotConnected
	}
	select {
	case c.Send <- data:
		return nil
	default:
		logger.Warn("[Hub] send buffer full, dropping message",
			logger.Int64("user", userID),
			logger.String("type", string(msg.Type)))
		return nil
	}
}

// Close 断开所有连接
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		h.closeLocked(c)
		delete(h.clients, id)
	}
}

// ========== Client 方法 ==========

// ReadPump 读取消息循环
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, c *Client, msg *WSMessage)) {
	defer func() {
		c.hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(readLimit)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("[Hub] websocket read error",
					logger.ErrorField(err),
					logger.Int64("user", c.UserID))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("[Hub] invalid message format", logger.ErrorField(err), logger.Int64("user", c.UserID))
			continue
		}

		if msg.Type == MsgTypePing {
			c.hub.SendToUser(c.UserID, &WSMessage{Type: MsgTypePong})
			continue
		}

		handler(ctx, c, &msg)
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
