package service

import "errors"

// 业务层通用错误，handler 根据错误类型映射到合适的 HTTP 状态码。
// 授权类错误统一使用 access 包的定义，这里只补充其余类别。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrRoomExists         = errors.New("room name already exists")
	ErrMessageNotFound    = errors.New("message not found")
	ErrEditForbidden      = errors.New("message can no longer be modified")
	ErrOwnerMustTransfer  = errors.New("owner must transfer ownership before leaving")
)
