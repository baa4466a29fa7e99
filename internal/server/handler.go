package server

import (
	"errors"
	"net/http"
	"strings"

	"chatapp/internal/access"
	"chatapp/internal/auth"
	"chatapp/internal/config"
	"chatapp/internal/metrics"
	"chatapp/internal/service"
	"chatapp/internal/upload"
	"chatapp/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Handler 聚合全部 HTTP handler，依赖注入 service 层、广播 Hub 与 Blob Store。
type Handler struct {
	cfg     config.Config
	userSvc *service.UserService
	roomSvc *service.RoomService
	msgSvc  *service.MessageService
	hub     *ws.Hub
	blobs   *upload.Store
}

func NewHandler(cfg config.Config, userSvc *service.UserService, roomSvc *service.RoomService, msgSvc *service.MessageService, hub *ws.Hub, blobs *upload.Store) *Handler {
	return &Handler{cfg: cfg, userSvc: userSvc, roomSvc: roomSvc, msgSvc: msgSvc, hub: hub, blobs: blobs}
}

func ok(c *gin.Context, kv gin.H) {
	body := gin.H{"success": true}
	for k, v := range kv {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// StatusOf 把业务错误映射到 HTTP 状态码；未识别的错误归为 internal。
func StatusOf(err error) int {
	switch {
	case errors.Is(err, access.ErrRoomNotFound), errors.Is(err, service.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, access.ErrBanned),
		errors.Is(err, access.ErrPrivateDenied),
		errors.Is(err, access.ErrNotMember),
		errors.Is(err, access.ErrNotOwner),
		errors.Is(err, access.ErrInvalidTarget),
		errors.Is(err, service.ErrEditForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrRoomExists),
		errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrOwnerMustTransfer):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// failWith 按错误类别返回响应；内部错误记日志并隐藏细节。
func failWith(c *gin.Context, err error, op string) {
	status := StatusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("op", op).Msg("internal error")
		fail(c, status, "server error")
		return
	}
	fail(c, status, err.Error())
}

// Signup 处理用户注册请求。
func (h *Handler) Signup(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required,min=3,max=20,chatname"`
		Password string `json:"password" binding:"required,min=8,max=100,strongpw"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid username or password format")
		return
	}
	user, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		failWith(c, err, "signup")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "user": gin.H{"username": user.Username, "rooms": []string{}}})
}

// Login 校验凭证并通过 HTTP-only Cookie 下发 token。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "username and password are required")
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		failWith(c, err, "login")
		return
	}
	maxAge := h.cfg.TokenTTLDays * 24 * 3600
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("authToken", result.Token, maxAge, "/", "", h.cfg.Env != "dev", true)
	ok(c, gin.H{"user": gin.H{"username": result.Username, "rooms": result.Rooms}})
}

// JoinRoomCheck 是请求/响应通道的进房入口：授权通过后补全成员关系。
func (h *Handler) JoinRoomCheck(c *gin.Context) {
	room := strings.TrimSpace(c.Query("room"))
	if room == "" {
		fail(c, http.StatusBadRequest, "room name is required")
		return
	}
	dto, err := h.roomSvc.Join(room, auth.GetUsername(c))
	if err != nil {
		failWith(c, err, "join room")
		return
	}
	ok(c, gin.H{"room": dto})
}

// ListRooms 返回当前用户可见的房间，附带在线订阅数。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.roomSvc.List(auth.GetUsername(c))
	if err != nil {
		failWith(c, err, "list rooms")
		return
	}
	type roomView struct {
		service.RoomDTO
		Online int `json:"online"`
	}
	out := lo.Map(rooms, func(r service.RoomDTO, _ int) roomView {
		return roomView{RoomDTO: r, Online: h.hub.Online(r.Name)}
	})
	ok(c, gin.H{"rooms": out})
}

// RoomInfo 返回房间详情。
func (h *Handler) RoomInfo(c *gin.Context) {
	room := strings.TrimSpace(c.Query("room"))
	if room == "" {
		fail(c, http.StatusBadRequest, "room name is required")
		return
	}
	dto, err := h.roomSvc.Info(room, auth.GetUsername(c))
	if err != nil {
		failWith(c, err, "room info")
		return
	}
	ok(c, gin.H{"room": dto})
}

// CreateRoom 创建房间。
func (h *Handler) CreateRoom(c *gin.Context) {
	var req struct {
		RoomName  string `json:"roomName" binding:"required,min=1,max=128"`
		IsPrivate bool   `json:"isPrivate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "room name is required")
		return
	}
	dto, err := h.roomSvc.Create(strings.TrimSpace(req.RoomName), auth.GetUsername(c), req.IsPrivate)
	if err != nil {
		failWith(c, err, "create room")
		return
	}
	ok(c, gin.H{"room": dto, "message": "Room created successfully"})
}

// AddMember 批量添加成员（逗号分隔），加入即隐式解封。
func (h *Handler) AddMember(c *gin.Context) {
	var req struct {
		Room       string `json:"room" binding:"required"`
		NewMembers string `json:"newMembers" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "room and newMembers are required")
		return
	}
	members := lo.FilterMap(strings.Split(req.NewMembers, ","), func(u string, _ int) (string, bool) {
		u = strings.TrimSpace(u)
		return u, u != ""
	})
	if len(members) == 0 {
		fail(c, http.StatusBadRequest, "no valid member names given")
		return
	}
	if err := h.roomSvc.AddMembers(req.Room, auth.GetUsername(c), members); err != nil {
		failWith(c, err, "add member")
		return
	}
	ok(c, gin.H{"message": "Members added successfully"})
}

// Ban 把目标移出成员集合并封禁。
func (h *Handler) Ban(c *gin.Context) {
	var req struct {
		Room   string `json:"room" binding:"required"`
		Target string `json:"target" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "room and target are required")
		return
	}
	if err := h.roomSvc.Ban(req.Room, auth.GetUsername(c), strings.TrimSpace(req.Target)); err != nil {
		failWith(c, err, "ban")
		return
	}
	ok(c, gin.H{"message": "Member banned successfully"})
}

// TransferOwnership 转移房主身份。
func (h *Handler) TransferOwnership(c *gin.Context) {
	var req struct {
		Room     string `json:"room" binding:"required"`
		NewOwner string `json:"newOwner" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "room and newOwner are required")
		return
	}
	if err := h.roomSvc.Transfer(req.Room, auth.GetUsername(c), strings.TrimSpace(req.NewOwner)); err != nil {
		failWith(c, err, "transfer ownership")
		return
	}
	ok(c, gin.H{"message": "Ownership transferred successfully"})
}

// LeaveRoom 退出房间；房主是最后一名成员时房间与消息一并删除。
func (h *Handler) LeaveRoom(c *gin.Context) {
	var req struct {
		Room string `json:"room" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "room is required")
		return
	}
	if err := h.roomSvc.Leave(req.Room, auth.GetUsername(c)); err != nil {
		failWith(c, err, "leave room")
		return
	}
	ok(c, gin.H{"message": "Left room successfully"})
}

// EditMessage 原地编辑消息并向房间广播完整的更新记录。
// 作者与时间窗口的约束在服务端强制执行。
func (h *Handler) EditMessage(c *gin.Context) {
	var req struct {
		MessageID string `json:"messageId" binding:"required"`
		NewText   string `json:"newText" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "messageId and newText are required")
		return
	}
	msg, err := h.msgSvc.Edit(req.MessageID, req.NewText, auth.GetUsername(c))
	if err != nil {
		failWith(c, err, "edit message")
		return
	}
	h.hub.Publish(msg.RoomName, ws.Encode(ws.EventMessageEdited, ws.NewMessagePayload(msg)))
	ok(c, gin.H{"message": "Message updated successfully"})
}

// DeleteMessage 删除消息并广播只含 id 的墓碑。
func (h *Handler) DeleteMessage(c *gin.Context) {
	var req struct {
		MessageID string `json:"messageId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "messageId is required")
		return
	}
	room, err := h.msgSvc.Delete(req.MessageID, auth.GetUsername(c))
	if err != nil {
		failWith(c, err, "delete message")
		return
	}
	h.hub.Publish(room, ws.Encode(ws.EventMessageDeleted, req.MessageID))
	ok(c, gin.H{"message": "Message deleted successfully"})
}

// Upload 保存附件后走与普通消息完全一致的落库加广播路径。
func (h *Handler) Upload(c *gin.Context) {
	room := strings.TrimSpace(c.PostForm("room"))
	if room == "" {
		fail(c, http.StatusBadRequest, "room name is required")
		return
	}
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "no file uploaded")
		return
	}
	principal := auth.GetUsername(c)

	state, err := h.roomSvc.State(room)
	if err != nil {
		failWith(c, err, "upload load room")
		return
	}
	if err := access.Decide(principal, state, access.ActionSend, ""); err != nil {
		failWith(c, err, "upload")
		return
	}

	saved, err := h.blobs.Save(fh)
	if err != nil {
		if errors.Is(err, upload.ErrTooLarge) || errors.Is(err, upload.ErrUnsupportedType) {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		failWith(c, err, "upload save")
		return
	}

	body := "[" + strings.ToUpper(saved.Type) + "] " + saved.Name
	msg, err := h.msgSvc.Append(room, principal, body, &service.FileInfo{URL: saved.URL, Type: saved.Type, Name: saved.Name})
	if err != nil {
		failWith(c, err, "upload persist message")
		return
	}
	metrics.UploadsTotal.Inc()
	h.hub.Publish(room, ws.Encode(ws.EventChatMessage, ws.NewMessagePayload(msg)))
	ok(c, gin.H{
		"message": "File uploaded successfully",
		"file":    gin.H{"url": saved.URL, "type": saved.Type, "name": saved.Name},
	})
}
