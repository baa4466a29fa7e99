package service

import (
	"errors"
	"sync"
	"time"

	"chatapp/internal/access"
	"chatapp/internal/models"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RoomService 是房间目录的唯一入口，负责成员与封禁集合的全部变更。
// 同一房间的变更由按名字分配的互斥锁串行化。
type RoomService struct {
	db    *gorm.DB
	locks sync.Map
}

func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db}
}

func (s *RoomService) lock(room string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(room, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	IsPrivate bool      `json:"isPrivate"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"createdAt"`
}

// State 加载授权判定所需的房间快照；房间不存在时返回 (nil, nil)，
// 由 access.Decide 统一给出 ROOM_NOT_FOUND。
func (s *RoomService) State(name string) (*access.Room, error) {
	var room models.Room
	if err := s.db.Where("name = ?", name).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var members []models.RoomMember
	if err := s.db.Where("room_name = ?", name).Find(&members).Error; err != nil {
		return nil, err
	}
	var bans []models.RoomBan
	if err := s.db.Where("room_name = ?", name).Find(&bans).Error; err != nil {
		return nil, err
	}
	state := &access.Room{
		Name:    room.Name,
		Owner:   room.Owner,
		Private: room.IsPrivate,
		Members: make(map[string]struct{}, len(members)),
		Banned:  make(map[string]struct{}, len(bans)),
	}
	for _, m := range members {
		state.Members[m.Username] = struct{}{}
	}
	for _, b := range bans {
		state.Banned[b.Username] = struct{}{}
	}
	return state, nil
}

// Create 创建房间，房主自动成为首个成员。
func (s *RoomService) Create(name, owner string, isPrivate bool) (*RoomDTO, error) {
	var count int64
	if err := s.db.Model(&models.Room{}).Where("name = ?", name).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrRoomExists
	}
	room := models.Room{Name: name, Owner: owner, IsPrivate: isPrivate}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		return tx.Create(&models.RoomMember{RoomName: name, Username: owner}).Error
	})
	if err != nil {
		return nil, err
	}
	return &RoomDTO{Name: room.Name, Owner: room.Owner, IsPrivate: room.IsPrivate, Members: []string{owner}, CreatedAt: room.CreatedAt}, nil
}

// Join 执行请求/响应通道的进房检查，通过后把 principal 补进成员集合。
// WebSocket 的 join 只做订阅，不改成员关系，两边共用同一个判定函数。
func (s *RoomService) Join(name, principal string) (*RoomDTO, error) {
	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.State(name)
	if err != nil {
		return nil, err
	}
	if err := access.Decide(principal, state, access.ActionJoin, ""); err != nil {
		return nil, err
	}
	if !state.IsMember(principal) {
		row := models.RoomMember{RoomName: name, Username: principal}
		if err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return nil, err
		}
		state.Members[principal] = struct{}{}
	}
	return s.dto(name, state)
}

// List 返回所有公开房间，以及 principal 是成员的私有房间。
func (s *RoomService) List(principal string) ([]RoomDTO, error) {
	var rooms []models.Room
	err := s.db.
		Where("is_private = ?", false).
		Or("name IN (?)", s.db.Model(&models.RoomMember{}).Select("room_name").Where("username = ?", principal)).
		Order("id").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		var members []models.RoomMember
		if err := s.db.Where("room_name = ?", r.Name).Find(&members).Error; err != nil {
			return nil, err
		}
		out = append(out, RoomDTO{
			Name:      r.Name,
			Owner:     r.Owner,
			IsPrivate: r.IsPrivate,
			Members:   lo.Map(members, func(m models.RoomMember, _ int) string { return m.Username }),
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// Info 返回单个房间的详情，私有房间仅成员可见。
func (s *RoomService) Info(name, principal string) (*RoomDTO, error) {
	state, err := s.State(name)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, access.ErrRoomNotFound
	}
	if state.Private && !state.IsMember(principal) {
		return nil, access.ErrPrivateDenied
	}
	return s.dto(name, state)
}

// AddMembers 批量添加成员，重复添加幂等；加入成员同时清除其封禁记录（隐式解封）。
func (s *RoomService) AddMembers(name, requester string, usernames []string) error {
	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.State(name)
	if err != nil {
		return err
	}
	if err := access.Decide(requester, state, access.ActionAddMember, ""); err != nil {
		return err
	}
	targets := lo.Uniq(usernames)
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, u := range targets {
			row := models.RoomMember{RoomName: name, Username: u}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
				return err
			}
			if err := tx.Where("room_name = ? AND username = ?", name, u).Delete(&models.RoomBan{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Ban 将目标移出成员集合并加入封禁集合，两步在同一事务内完成，
// 保证任何可观测时刻 members 与 banned 不相交。
func (s *RoomService) Ban(name, requester, target string) error {
	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.State(name)
	if err != nil {
		return err
	}
	if err := access.Decide(requester, state, access.ActionBan, target); err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_name = ? AND username = ?", name, target).Delete(&models.RoomMember{}).Error; err != nil {
			return err
		}
		row := models.RoomBan{RoomName: name, Username: target}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
}

// Transfer 以单字段更新的方式转移房主身份。
func (s *RoomService) Transfer(name, requester, newOwner string) error {
	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.State(name)
	if err != nil {
		return err
	}
	if err := access.Decide(requester, state, access.ActionTransfer, newOwner); err != nil {
		return err
	}
	return s.db.Model(&models.Room{}).Where("name = ?", name).Update("owner", newOwner).Error
}

// Leave 处理退出房间：房主是最后一名成员时整个房间连同消息一起删除；
// 房主还有其他成员时必须先转移房主身份；普通成员直接移除成员关系。
func (s *RoomService) Leave(name, principal string) error {
	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()

	state, err := s.State(name)
	if err != nil {
		return err
	}
	if state == nil {
		return access.ErrRoomNotFound
	}
	if principal == state.Owner {
		if len(state.Members) > 1 {
			return ErrOwnerMustTransfer
		}
		return s.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("room_name = ?", name).Delete(&models.Message{}).Error; err != nil {
				return err
			}
			if err := tx.Where("room_name = ?", name).Delete(&models.RoomMember{}).Error; err != nil {
				return err
			}
			if err := tx.Where("room_name = ?", name).Delete(&models.RoomBan{}).Error; err != nil {
				return err
			}
			return tx.Where("name = ?", name).Delete(&models.Room{}).Error
		})
	}
	return s.db.Where("room_name = ? AND username = ?", name, principal).Delete(&models.RoomMember{}).Error
}

func (s *RoomService) dto(name string, state *access.Room) (*RoomDTO, error) {
	var room models.Room
	if err := s.db.Where("name = ?", name).First(&room).Error; err != nil {
		return nil, err
	}
	return &RoomDTO{
		Name:      room.Name,
		Owner:     room.Owner,
		IsPrivate: room.IsPrivate,
		Members:   lo.Keys(state.Members),
		CreatedAt: room.CreatedAt,
	}, nil
}
