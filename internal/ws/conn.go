package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"chatapp/internal/access"
	"chatapp/internal/auth"
	"chatapp/internal/config"
	"chatapp/internal/metrics"
	"chatapp/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const prevMessageLimit = 50

// Client 是一条已认证连接的会话：绑定一个 principal，至多订阅一个房间。
// room 只在 readPump goroutine 内读写。
//
// send 只由 readPump 的收尾逻辑关闭；hub 摘除慢连接时关闭 done，
// writePump 收到信号后断开底层连接，由 readPump 走统一的退出路径。
type Client struct {
	hub       *Hub
	rooms     *service.RoomService
	msgs      *service.MessageService
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	evictOnce sync.Once
	principal string
	room      *RoomHub
}

// evict 通知连接收尾，幂等。由 hub 在摘除慢连接时调用。
func (c *Client) evict() {
	c.evictOnce.Do(func() { close(c.done) })
}

func (c *Client) evicted() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Serve 处理 WebSocket 握手：凭证校验失败直接 401 拒绝，不建立任何会话。
func Serve(hub *Hub, rooms *service.RoomService, msgs *service.MessageService, cfg config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.TokenFromRequest(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "authentication required"})
			return
		}
		claims, err := auth.ParseToken(token, cfg.JWTSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid authentication token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			hub:       hub,
			rooms:     rooms,
			msgs:      msgs,
			conn:      conn,
			send:      make(chan []byte, 256),
			done:      make(chan struct{}),
			principal: claims.Username,
		}
		log.Debug().Str("username", client.principal).Msg("ws connected")

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		// 先退订再关 send：hub 串行处理完 unregister 后不会再向 send 写入，
		// 此后关闭安全，writePump 读到通道关闭即发送关闭帧退出。
		if c.room != nil {
			c.room.unregister <- c
		}
		close(c.send)
		_ = c.conn.Close()
		log.Debug().Str("username", c.principal).Msg("ws disconnected")
	}()
	c.conn.SetReadLimit(1 << 20)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		event, payload, err := DecodeFrame(data)
		if err != nil {
			c.emit(EventError, NoticePayload{Message: "malformed event"})
			continue
		}
		switch event {
		case EventJoinRoom:
			c.handleJoin(payload.(JoinPayload))
		case EventChatMessage:
			c.handleChat(payload.(ChatPayload))
		}
	}
}

// handleJoin 执行进房状态迁移。已订阅其他房间时原子迁移：
// 先通过授权检查，再摘除旧订阅、注册新订阅，失败则原订阅保持不变。
func (c *Client) handleJoin(p JoinPayload) {
	if c.evicted() {
		return
	}
	if p.Username != c.principal {
		c.emit(EventJoinError, NoticePayload{Message: "username mismatch - authentication failed"})
		return
	}
	state, err := c.rooms.State(p.Room)
	if err != nil {
		log.Error().Err(err).Str("room", p.Room).Msg("join load room")
		c.emit(EventJoinError, NoticePayload{Message: "server error"})
		return
	}
	if err := access.Decide(c.principal, state, access.ActionJoin, ""); err != nil {
		c.emit(EventJoinError, NoticePayload{Message: err.Error()})
		return
	}

	if c.room != nil {
		c.room.detach <- c
		c.room = nil
	}
	rh := c.hub.GetRoom(p.Room)
	rh.register <- c
	c.room = rh

	c.emit(EventJoinSuccess, NoticePayload{Message: fmt.Sprintf("Joined room %s", p.Room)})
	rh.broadcast <- outbound{
		data: Encode(EventUserJoined, UserJoinedPayload{Username: c.principal, Message: fmt.Sprintf("%s joined the room", c.principal)}),
		skip: c,
	}

	msgs, err := c.msgs.Recent(p.Room, prevMessageLimit)
	if err != nil {
		log.Error().Err(err).Str("room", p.Room).Msg("join load history")
		return
	}
	prev := make([]MessagePayload, 0, len(msgs))
	for i := range msgs {
		prev = append(prev, NewMessagePayload(&msgs[i]))
	}
	c.emit(EventPrev, prev)
}

// handleChat 发送消息：授权通过后先落库，再用持久化返回的记录广播。
func (c *Client) handleChat(p ChatPayload) {
	if p.Username != c.principal {
		c.emit(EventError, NoticePayload{Message: "username mismatch - authentication failed"})
		return
	}
	state, err := c.rooms.State(p.Room)
	if err != nil {
		log.Error().Err(err).Str("room", p.Room).Msg("chat load room")
		c.emit(EventError, NoticePayload{Message: "server error"})
		return
	}
	if err := access.Decide(c.principal, state, access.ActionSend, ""); err != nil {
		c.emit(EventError, NoticePayload{Message: err.Error()})
		return
	}
	msg, err := c.msgs.Append(p.Room, c.principal, p.Message, nil)
	if err != nil {
		log.Error().Err(err).Str("room", p.Room).Msg("chat persist message")
		c.emit(EventError, NoticePayload{Message: "server error"})
		return
	}
	metrics.WsMessagesTotal.Inc()
	c.hub.GetRoom(p.Room).broadcast <- outbound{data: Encode(EventChatMessage, NewMessagePayload(msg))}
}

// emit 只向当前连接投递一帧；连接已被摘除或缓冲写满时直接丢弃。
func (c *Client) emit(event string, data interface{}) {
	if c.evicted() {
		return
	}
	b := Encode(event, data)
	if b == nil {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-c.done:
			// 被 hub 摘除：断开底层连接，readPump 随之走统一退出路径。
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
