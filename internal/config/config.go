package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	DatabaseDSN       string
	JWTSecret         string
	Env               string
	TokenTTLDays      int
	EditWindowMinutes int
	UploadDir         string
	MaxUploadMB       int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Load 读取环境变量生成配置，本地开发时优先加载 .env 文件。
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:              getenv("APP_PORT", "8080"),
		DatabaseDSN:       getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatapp port=5432 sslmode=disable TimeZone=UTC"),
		JWTSecret:         getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:               getenv("APP_ENV", "dev"),
		TokenTTLDays:      getenvInt("TOKEN_TTL_DAYS", 7),
		EditWindowMinutes: getenvInt("EDIT_WINDOW_MINUTES", 15),
		UploadDir:         getenv("UPLOAD_DIR", "uploads"),
		MaxUploadMB:       getenvInt("MAX_UPLOAD_MB", 50),
	}
}

// Validate 在启动前校验关键配置，生产环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("default jwt secret is not allowed outside dev")
	}
	return nil
}
