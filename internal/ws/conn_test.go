package ws

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"chatapp/internal/auth"
	"chatapp/internal/config"
	"chatapp/internal/db"
	"chatapp/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const sessionSecret = "session-test-secret"

// sessionDB 连接本地 Postgres，不可用时跳过会话用例。
func sessionDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=chatapp port=5432 sslmode=disable TimeZone=UTC"
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	return gdb
}

func sessionServer(t *testing.T) (*httptest.Server, *service.RoomService) {
	t.Helper()
	gdb := sessionDB(t)
	cfg := config.Config{JWTSecret: sessionSecret, TokenTTLDays: 1, EditWindowMinutes: 15}
	rooms := service.NewRoomService(gdb)
	msgs := service.NewMessageService(gdb, 15*time.Minute)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", Serve(NewHub(), rooms, msgs, cfg))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, rooms
}

func dialSession(t *testing.T, srv *httptest.Server, username string) *websocket.Conn {
	t.Helper()
	token, err := auth.GenerateToken(username, sessionSecret, 1)
	require.NoError(t, err)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, payload interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, Encode(event, payload)))
}

func readTestFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	for i := 0; i < 20; i++ {
		f := readTestFrame(t, conn)
		if f.Event == event {
			return f
		}
	}
	t.Fatalf("did not receive %q frame", event)
	return Frame{}
}

func sessionName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func messageOf(t *testing.T, f Frame) MessagePayload {
	t.Helper()
	var p MessagePayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	return p
}

// 负载里的 username 与连接凭证不一致时拒绝进房，但会话保持已认证，
// 换用正确身份可以继续加入。
func TestSession_JoinIdentityMismatch(t *testing.T) {
	srv, rooms := sessionServer(t)
	alice := sessionName("alice")
	room := sessionName("general")
	_, err := rooms.Create(room, alice, false)
	require.NoError(t, err)

	conn := dialSession(t, srv, alice)
	sendFrame(t, conn, EventJoinRoom, JoinPayload{Username: "someone-else", Room: room})

	f := readTestFrame(t, conn)
	require.Equal(t, EventJoinError, f.Event)
	require.Contains(t, string(f.Data), "mismatch")

	sendFrame(t, conn, EventJoinRoom, JoinPayload{Username: alice, Room: room})
	require.Equal(t, EventJoinSuccess, readTestFrame(t, conn).Event)
	require.Equal(t, EventPrev, readTestFrame(t, conn).Event)
}

// 进房被拒绝时原有订阅保持不变，原房间的广播仍能送达。
func TestSession_JoinDeniedKeepsSubscription(t *testing.T) {
	srv, rooms := sessionServer(t)
	alice := sessionName("alice")
	bob := sessionName("bob")
	carol := sessionName("carol")
	public := sessionName("public")
	private := sessionName("private")
	_, err := rooms.Create(public, alice, false)
	require.NoError(t, err)
	_, err = rooms.Create(private, carol, true)
	require.NoError(t, err)
	_, err = rooms.Join(public, bob)
	require.NoError(t, err)

	conn := dialSession(t, srv, alice)
	sendFrame(t, conn, EventJoinRoom, JoinPayload{Username: alice, Room: public})
	require.Equal(t, EventJoinSuccess, readTestFrame(t, conn).Event)
	require.Equal(t, EventPrev, readTestFrame(t, conn).Event)

	sendFrame(t, conn, EventJoinRoom, JoinPayload{Username: alice, Room: private})
	require.Equal(t, EventJoinError, readTestFrame(t, conn).Event)

	sender := dialSession(t, srv, bob)
	sendFrame(t, sender, EventChatMessage, ChatPayload{Username: bob, Room: public, Message: "still here"})

	got := messageOf(t, readUntil(t, conn, EventChatMessage))
	require.Equal(t, "still here", got.Message)
	require.Equal(t, bob, got.Username)
}

// 空房间加入后 prev 为空；后来者的 prev 按时间升序带上历史消息，
// 且只发给加入者本人；新消息广播到全部订阅者。
func TestSession_PrevReplayAndBroadcast(t *testing.T) {
	srv, rooms := sessionServer(t)
	alice := sessionName("alice")
	bob := sessionName("bob")
	room := sessionName("general")
	_, err := rooms.Create(room, alice, false)
	require.NoError(t, err)

	aliceConn := dialSession(t, srv, alice)
	sendFrame(t, aliceConn, EventJoinRoom, JoinPayload{Username: alice, Room: room})
	require.Equal(t, EventJoinSuccess, readTestFrame(t, aliceConn).Event)
	prev := readTestFrame(t, aliceConn)
	require.Equal(t, EventPrev, prev.Event)
	var history []MessagePayload
	require.NoError(t, json.Unmarshal(prev.Data, &history))
	require.Empty(t, history)

	sendFrame(t, aliceConn, EventChatMessage, ChatPayload{Username: alice, Room: room, Message: "hi"})
	require.Equal(t, "hi", messageOf(t, readUntil(t, aliceConn, EventChatMessage)).Message)
	sendFrame(t, aliceConn, EventChatMessage, ChatPayload{Username: alice, Room: room, Message: "hi again"})
	require.Equal(t, "hi again", messageOf(t, readUntil(t, aliceConn, EventChatMessage)).Message)

	bobConn := dialSession(t, srv, bob)
	sendFrame(t, bobConn, EventJoinRoom, JoinPayload{Username: bob, Room: room})
	require.Equal(t, EventJoinSuccess, readTestFrame(t, bobConn).Event)
	prev = readTestFrame(t, bobConn)
	require.Equal(t, EventPrev, prev.Event)
	require.NoError(t, json.Unmarshal(prev.Data, &history))
	require.Len(t, history, 2)
	require.Equal(t, "hi", history[0].Message)
	require.Equal(t, "hi again", history[1].Message)
	require.Equal(t, alice, history[0].Username)

	// 既有订阅者收到的是进房通知，不是历史回放。
	require.Equal(t, EventUserJoined, readTestFrame(t, aliceConn).Event)

	sendFrame(t, aliceConn, EventChatMessage, ChatPayload{Username: alice, Room: room, Message: "hello"})
	got := messageOf(t, readUntil(t, bobConn, EventChatMessage))
	require.Equal(t, "hello", got.Message)
	require.Equal(t, alice, got.Username)
}

// 重复进房是订阅迁移：旧房间的广播不再送达，新房间的照常送达。
func TestSession_RejoinMovesSubscription(t *testing.T) {
	srv, rooms := sessionServer(t)
	alice := sessionName("alice")
	bob := sessionName("bob")
	roomA := sessionName("room-a")
	roomB := sessionName("room-b")
	_, err := rooms.Create(roomA, alice, false)
	require.NoError(t, err)
	_, err = rooms.Create(roomB, alice, false)
	require.NoError(t, err)
	_, err = rooms.Join(roomA, bob)
	require.NoError(t, err)
	_, err = rooms.Join(roomB, bob)
	require.NoError(t, err)

	conn := dialSession(t, srv, alice)
	sendFrame(t, conn, EventJoinRoom, JoinPayload{Username: alice, Room: roomA})
	require.Equal(t, EventJoinSuccess, readTestFrame(t, conn).Event)
	require.Equal(t, EventPrev, readTestFrame(t, conn).Event)

	sendFrame(t, conn, EventJoinRoom, JoinPayload{Username: alice, Room: roomB})
	require.Equal(t, EventJoinSuccess, readTestFrame(t, conn).Event)
	require.Equal(t, EventPrev, readTestFrame(t, conn).Event)

	sender := dialSession(t, srv, bob)
	sendFrame(t, sender, EventChatMessage, ChatPayload{Username: bob, Room: roomA, Message: "to old room"})
	sendFrame(t, sender, EventChatMessage, ChatPayload{Username: bob, Room: roomB, Message: "to new room"})

	got := messageOf(t, readUntil(t, conn, EventChatMessage))
	require.Equal(t, "to new room", got.Message)
}

// 发消息要过同一套授权判定：身份不一致或非成员都拿到 error 帧，
// 消息不会广播；成员发送照常送达。
func TestSession_ChatDenied(t *testing.T) {
	srv, rooms := sessionServer(t)
	alice := sessionName("alice")
	bob := sessionName("bob")
	room := sessionName("general")
	_, err := rooms.Create(room, alice, false)
	require.NoError(t, err)

	bobConn := dialSession(t, srv, bob)
	// 公开房间允许订阅，但 bob 不是成员。
	sendFrame(t, bobConn, EventJoinRoom, JoinPayload{Username: bob, Room: room})
	require.Equal(t, EventJoinSuccess, readTestFrame(t, bobConn).Event)
	require.Equal(t, EventPrev, readTestFrame(t, bobConn).Event)

	sendFrame(t, bobConn, EventChatMessage, ChatPayload{Username: alice, Room: room, Message: "spoofed"})
	f := readTestFrame(t, bobConn)
	require.Equal(t, EventError, f.Event)
	require.Contains(t, string(f.Data), "mismatch")

	sendFrame(t, bobConn, EventChatMessage, ChatPayload{Username: bob, Room: room, Message: "not allowed"})
	require.Equal(t, EventError, readTestFrame(t, bobConn).Event)

	aliceConn := dialSession(t, srv, alice)
	sendFrame(t, aliceConn, EventChatMessage, ChatPayload{Username: alice, Room: room, Message: "member speaks"})

	got := messageOf(t, readUntil(t, bobConn, EventChatMessage))
	require.Equal(t, "member speaks", got.Message)
	require.Equal(t, alice, got.Username)
}
