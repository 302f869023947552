package router

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/config"
	"github.com/wakestake/internal/db"
	"github.com/wakestake/internal/handler"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupRouterTest(t *testing.T, mutate func(*config.AppConfig)) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:router-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	cfg := config.Default()
	cfg.CronSecret = "router-cron"
	if mutate != nil {
		mutate(&cfg)
	}
	api := handler.NewAPI(gdb, cfg, nil, handler.Dependencies{})
	return SetupRouter(api, cfg, nil), gdb
}

func TestSetupRouterRoutes(t *testing.T) {
	r, _ := setupRouterTest(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{name: "ping", method: http.MethodGet, path: "/ping", want: http.StatusOK},
		{name: "settings needs token", method: http.MethodGet, path: "/api/me/settings", want: http.StatusUnauthorized},
		{name: "checkin needs token", method: http.MethodPost, path: "/api/checkin", want: http.StatusUnauthorized},
		{name: "history needs token", method: http.MethodGet, path: "/api/history", want: http.StatusUnauthorized},
		{name: "cron needs secret", method: http.MethodPost, path: "/api/cron/evaluate", want: http.StatusForbidden},
		{name: "cron get with secret", method: http.MethodGet, path: "/api/cron/evaluate", header: "Bearer router-cron", want: http.StatusOK},
		{name: "cron post with secret", method: http.MethodPost, path: "/api/cron/evaluate", header: "Bearer router-cron", want: http.StatusOK},
		{name: "admin api needs session", method: http.MethodGet, path: "/admin/api/policy", want: http.StatusUnauthorized},
		{name: "geocode validates", method: http.MethodGet, path: "/api/geocode/reverse", want: http.StatusBadRequest},
		{name: "webhook without signature", method: http.MethodPost, path: "/api/stripe/webhook", want: http.StatusBadRequest},
		{name: "unknown", method: http.MethodGet, path: "/nope", want: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			if rr.Header().Get("X-Request-ID") == "" {
				t.Fatalf("expected request id header")
			}
		})
	}
}

func TestSetupRouterCORS(t *testing.T) {
	r, _ := setupRouterTest(t, func(cfg *config.AppConfig) {
		cfg.AllowedOrigins = []string{"https://app.wakestake.test"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/checkin", nil)
	req.Header.Set("Origin", "https://app.wakestake.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "https://app.wakestake.test" {
		t.Fatalf("unexpected allow origin %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected foreign origin to be rejected, got %d", rr.Code)
	}
}

func TestCorsConfig(t *testing.T) {
	if cfg := corsConfig([]string{"*"}); !cfg.AllowAllOrigins || cfg.AllowCredentials {
		t.Fatalf("wildcard should allow all origins without credentials: %+v", cfg)
	}
	if cfg := corsConfig(nil); !cfg.AllowAllOrigins {
		t.Fatalf("empty list should allow all origins")
	}
	cfg := corsConfig([]string{"https://a.test", "https://b.test"})
	if cfg.AllowAllOrigins || len(cfg.AllowOrigins) != 2 || !cfg.AllowCredentials {
		t.Fatalf("unexpected explicit config: %+v", cfg)
	}
}

func TestAdminLoginSetsSessionCookie(t *testing.T) {
	r, gdb := setupRouterTest(t, nil)

	prev := db.DB
	db.DB = gdb
	t.Cleanup(func() { db.DB = prev })
	if err := db.EnsureAdmin("ops", "ops-password"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"ops","password":"ops-password"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var session *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessionName {
			session = c
		}
	}
	if session == nil || session.Path != "/admin" || !session.HttpOnly {
		t.Fatalf("unexpected session cookie: %+v", session)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/api/policy", nil)
	req.AddCookie(session)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected policy with session, got %d", rr.Code)
	}
}
