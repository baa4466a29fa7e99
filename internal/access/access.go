// Package access 是整个系统唯一的房间授权判定点，
// WebSocket 会话与 REST handler 都必须经由 Decide 做出授权决定。
package access

import "errors"

type Action int

const (
	ActionJoin Action = iota
	ActionSend
	ActionAddMember
	ActionBan
	ActionTransfer
)

// 判定失败的全部原因，调用方用 errors.Is 区分并映射到协议错误。
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrBanned        = errors.New("banned from room")
	ErrPrivateDenied = errors.New("access denied to private room")
	ErrNotMember     = errors.New("not a member of room")
	ErrNotOwner      = errors.New("only the room owner may do this")
	ErrInvalidTarget = errors.New("invalid target for operation")
)

// Room 是判定所需的房间快照，由存储层加载后传入。
type Room struct {
	Name    string
	Owner   string
	Private bool
	Members map[string]struct{}
	Banned  map[string]struct{}
}

func (r *Room) IsMember(username string) bool {
	_, ok := r.Members[username]
	return ok
}

func (r *Room) IsBanned(username string) bool {
	_, ok := r.Banned[username]
	return ok
}

// Decide 按固定顺序评估授权规则，返回 nil 表示允许。
// target 仅对 ActionBan / ActionTransfer 有意义。
//
// 评估顺序：房间存在 → 未被封禁 → 私有房间的 join/send 需要成员身份 →
// send 需要成员身份 → 管理操作需要房主身份 → 目标合法性。
func Decide(principal string, room *Room, action Action, target string) error {
	if room == nil {
		return ErrRoomNotFound
	}
	if room.IsBanned(principal) {
		return ErrBanned
	}
	if room.Private && (action == ActionJoin || action == ActionSend) && !room.IsMember(principal) {
		return ErrPrivateDenied
	}
	if action == ActionSend && !room.IsMember(principal) {
		return ErrNotMember
	}
	if action == ActionAddMember || action == ActionBan || action == ActionTransfer {
		if principal != room.Owner {
			return ErrNotOwner
		}
	}
	switch action {
	case ActionBan:
		// 封禁只对公开房间有意义，私有房间的准入已由成员关系把关。
		if target == room.Owner || room.Private {
			return ErrInvalidTarget
		}
	case ActionTransfer:
		if !room.IsMember(target) {
			return ErrInvalidTarget
		}
	}
	return nil
}
