package service

import (
	"errors"

	"chatapp/internal/auth"
	"chatapp/internal/config"
	"chatapp/internal/models"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// UserService 实现身份闸口：注册、登录与凭证签发。
type UserService struct {
	db  *gorm.DB
	cfg config.Config
}

func NewUserService(db *gorm.DB, cfg config.Config) *UserService {
	return &UserService{db: db, cfg: cfg}
}

// Register 注册新用户。
func (s *UserService) Register(username, password string) (*models.User, error) {
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{Username: username, PasswordHash: hash}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	Token    string
	Username string
	Rooms    []string
}

// Login 校验用户名密码并签发 token，附带该用户当前的房间列表。
func (s *UserService) Login(username, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	token, err := auth.GenerateToken(user.Username, s.cfg.JWTSecret, s.cfg.TokenTTLDays)
	if err != nil {
		return nil, err
	}
	rooms, err := s.RoomsOf(user.Username)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Username: user.Username, Rooms: rooms}, nil
}

// RoomsOf 返回用户加入的房间名列表，成员表是唯一事实来源。
func (s *UserService) RoomsOf(username string) ([]string, error) {
	var rows []models.RoomMember
	if err := s.db.Where("username = ?", username).Order("room_name").Find(&rows).Error; err != nil {
		return nil, err
	}
	return lo.Map(rows, func(m models.RoomMember, _ int) string { return m.RoomName }), nil
}
