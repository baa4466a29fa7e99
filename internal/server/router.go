package server

import (
	"net/http"
	"regexp"
	"time"

	"chatapp/internal/auth"
	"chatapp/internal/config"
	"chatapp/internal/metrics"
	"chatapp/internal/mw"
	"chatapp/internal/service"
	"chatapp/internal/upload"
	"chatapp/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// registerValidators 往 gin 默认的 validator 引擎里挂自定义规则。
func registerValidators() {
	v, okCast := binding.Validator.Engine().(*validator.Validate)
	if !okCast {
		return
	}
	_ = v.RegisterValidation("chatname", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("strongpw", func(fl validator.FieldLevel) bool {
		pw := fl.Field().String()
		var lower, upper, digit, special bool
		for _, r := range pw {
			switch {
			case r >= 'a' && r <= 'z':
				lower = true
			case r >= 'A' && r <= 'Z':
				upper = true
			case r >= '0' && r <= '9':
				digit = true
			default:
				special = true
			}
		}
		return lower && upper && digit && special
	})
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, hub *ws.Hub, blobs *upload.Store) *gin.Engine {
	registerValidators()

	userSvc := service.NewUserService(db, cfg)
	roomSvc := service.NewRoomService(db)
	msgSvc := service.NewMessageService(db, time.Duration(cfg.EditWindowMinutes)*time.Minute)
	h := NewHandler(cfg, userSvc, roomSvc, msgSvc, hub, blobs)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/user/signup", h.Signup)
	api.POST("/user/login", h.Login)

	chat := api.Group("/chat")
	chat.Use(auth.Middleware(cfg))
	chat.GET("", h.JoinRoomCheck)
	chat.GET("/rooms", h.ListRooms)
	chat.GET("/room-info", h.RoomInfo)
	chat.POST("/rooms", h.CreateRoom)
	chat.POST("/add-member", h.AddMember)
	chat.POST("/ban", h.Ban)
	chat.POST("/transfer-ownership", h.TransferOwnership)
	chat.POST("/leave", h.LeaveRoom)
	chat.POST("/messages/edit", h.EditMessage)
	chat.POST("/messages/delete", h.DeleteMessage)
	chat.POST("/upload", h.Upload)

	r.GET("/ws", ws.Serve(hub, roomSvc, msgSvc, cfg))
	r.Static("/uploads", blobs.Dir())

	return r
}
