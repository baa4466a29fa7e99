package service

import (
	"errors"
	"time"

	"chatapp/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MessageService 封装消息日志：追加、查询最近消息、限时编辑与删除。
type MessageService struct {
	db         *gorm.DB
	editWindow time.Duration
	now        func() time.Time
}

func NewMessageService(db *gorm.DB, editWindow time.Duration) *MessageService {
	return &MessageService{db: db, editWindow: editWindow, now: time.Now}
}

// FileInfo 是附件消息携带的文件元数据。
type FileInfo struct {
	URL  string
	Type string
	Name string
}

// Append 持久化一条新消息并返回带 ID 的完整记录。
// 广播必须使用这里返回的记录，保证先落库再扇出。
func (s *MessageService) Append(room, author, body string, file *FileInfo) (*models.Message, error) {
	msg := models.Message{
		ID:       uuid.NewString(),
		RoomName: room,
		Username: author,
		Body:     body,
	}
	if file != nil {
		msg.FileURL = file.URL
		msg.FileType = file.Type
		msg.FileName = file.Name
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, err
	}
	return &msg, nil
}

// Recent 返回房间最近的 limit 条消息，按追加顺序升序。
func (s *MessageService) Recent(room string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var msgs []models.Message
	if err := s.db.Where("room_name = ?", room).Order("seq desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// mutable 判定 requester 是否还能改动这条消息：必须是作者，且在编辑窗口内。
func (s *MessageService) mutable(msg *models.Message, requester string) bool {
	if msg.Username != requester {
		return false
	}
	return s.now().Sub(msg.CreatedAt) <= s.editWindow
}

// Edit 原地修改消息正文并打上编辑标记，返回更新后的完整记录。
func (s *MessageService) Edit(id, newText, requester string) (*models.Message, error) {
	var msg models.Message
	if err := s.db.Where("id = ?", id).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if !s.mutable(&msg, requester) {
		return nil, ErrEditForbidden
	}
	updates := map[string]interface{}{"body": newText, "edited": true}
	if err := s.db.Model(&models.Message{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}
	msg.Body = newText
	msg.Edited = true
	return &msg, nil
}

// Delete 删除消息记录，返回其所在房间名供调用方广播墓碑。
func (s *MessageService) Delete(id, requester string) (string, error) {
	var msg models.Message
	if err := s.db.Where("id = ?", id).First(&msg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrMessageNotFound
		}
		return "", err
	}
	if !s.mutable(&msg, requester) {
		return "", ErrEditForbidden
	}
	if err := s.db.Where("id = ?", id).Delete(&models.Message{}).Error; err != nil {
		return "", err
	}
	return msg.RoomName, nil
}
