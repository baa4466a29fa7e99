package ws

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"chatapp/internal/models"
)

// 协议事件名，入站与出站共用一张封闭的表。
const (
	EventJoinRoom       = "join room"
	EventJoinSuccess    = "join success"
	EventJoinError      = "join error"
	EventUserJoined     = "user joined"
	EventPrev           = "prev"
	EventChatMessage    = "chat message"
	EventMessageEdited  = "message edited"
	EventMessageDeleted = "message deleted"
	EventError          = "error"
)

// Frame 是连接上传输的统一帧结构：事件名加上该事件的负载。
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinPayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
}

type ChatPayload struct {
	Username string `json:"username"`
	Room     string `json:"room"`
	Message  string `json:"message"`
}

type NoticePayload struct {
	Message string `json:"message"`
}

type UserJoinedPayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// MessagePayload 是广播到订阅者的完整消息记录，字段名沿用线上协议。
type MessagePayload struct {
	ID        string    `json:"_id"`
	Username  string    `json:"username"`
	Room      string    `json:"room"`
	Message   string    `json:"message"`
	FileURL   string    `json:"fileUrl,omitempty"`
	FileType  string    `json:"fileType,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	Edited    bool      `json:"edited"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewMessagePayload(m *models.Message) MessagePayload {
	return MessagePayload{
		ID:        m.ID,
		Username:  m.Username,
		Room:      m.RoomName,
		Message:   m.Body,
		FileURL:   m.FileURL,
		FileType:  m.FileType,
		FileName:  m.FileName,
		Edited:    m.Edited,
		CreatedAt: m.CreatedAt,
	}
}

var errBadFrame = errors.New("malformed frame")

// DecodeFrame 在分发前完成边界校验：只接受封闭事件集内的入站事件，
// 且对应负载的必填字段不能缺失。
func DecodeFrame(raw []byte) (string, interface{}, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return "", nil, errBadFrame
	}
	switch f.Event {
	case EventJoinRoom:
		var p JoinPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return "", nil, errBadFrame
		}
		if strings.TrimSpace(p.Username) == "" || strings.TrimSpace(p.Room) == "" {
			return "", nil, errBadFrame
		}
		return f.Event, p, nil
	case EventChatMessage:
		var p ChatPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return "", nil, errBadFrame
		}
		if strings.TrimSpace(p.Username) == "" || strings.TrimSpace(p.Room) == "" || p.Message == "" {
			return "", nil, errBadFrame
		}
		return f.Event, p, nil
	default:
		return "", nil, errBadFrame
	}
}

// Encode 序列化一个出站帧，序列化失败返回 nil 由调用方丢弃。
func Encode(event string, data interface{}) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	b, err := json.Marshal(Frame{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return b
}
