package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"chatapp/internal/config"
	"chatapp/internal/db"
	"chatapp/internal/upload"
	"chatapp/internal/ws"

	"github.com/gin-gonic/gin"
)

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", JWTSecret: "secret", Env: "dev", TokenTTLDays: 7, EditWindowMinutes: 15}
	gdb, err := db.Connect("host=localhost user=postgres password=postgres dbname=chatapp port=5432 sslmode=disable TimeZone=UTC")
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	blobs, err := upload.NewStore(t.TempDir(), 1)
	if err != nil {
		t.Fatalf("upload store: %v", err)
	}
	engine := SetupRouter(cfg, gdb, ws.NewHub(), blobs)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestWsRejectsUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := config.Config{JWTSecret: "secret"}
	r := gin.New()
	r.GET("/ws", ws.Serve(ws.NewHub(), nil, nil, cfg))

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ws?token=garbage", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", w.Code)
	}
}
