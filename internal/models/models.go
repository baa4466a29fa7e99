package models

import "time"

type User struct {
	ID           uint   `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;size:128;not null"`
	Owner     string `gorm:"size:64;not null"`
	IsPrivate bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RoomMember 一行代表一条成员关系，唯一索引保证集合语义（重复加入幂等）。
type RoomMember struct {
	ID       uint   `gorm:"primaryKey"`
	RoomName string `gorm:"uniqueIndex:idx_room_member,priority:1;size:128;not null"`
	Username string `gorm:"uniqueIndex:idx_room_member,priority:2;size:64;not null"`
}

// RoomBan 一行代表一条封禁记录，与 RoomMember 互斥由业务层保证。
type RoomBan struct {
	ID       uint   `gorm:"primaryKey"`
	RoomName string `gorm:"uniqueIndex:idx_room_ban,priority:1;size:128;not null"`
	Username string `gorm:"uniqueIndex:idx_room_ban,priority:2;size:64;not null"`
}

// Message 的主键是 UUID，追加顺序由自增的 Seq 承载：
// created_at 精度有限，同一微秒内的多条消息靠 Seq 保证回放顺序确定。
type Message struct {
	ID        string `gorm:"primaryKey;size:36"`
	Seq       uint64 `gorm:"autoIncrement;uniqueIndex"`
	RoomName  string `gorm:"index:idx_msg_room;size:128;not null"`
	Username  string `gorm:"index;size:64;not null"`
	Body      string `gorm:"type:text;not null"`
	FileURL   string `gorm:"size:256"`
	FileType  string `gorm:"size:16"`
	FileName  string `gorm:"size:256"`
	Edited    bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}
