package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/config"
	"github.com/wakestake/internal/db"
	"github.com/wakestake/internal/service"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testJWTSecret     = "handler-test-secret"
	testCronSecret    = "cron-secret"
	testWebhookSecret = "whsec_handler"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(value string) {
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	c.now = parsed.UTC()
	c.mu.Unlock()
}

type recordingProvider struct {
	mu    sync.Mutex
	calls []service.UsageRecord
	err   error
}

func (p *recordingProvider) RecordUsage(_ context.Context, usage service.UsageRecord) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.calls = append(p.calls, usage)
	return fmt.Sprintf("mbur_%d", len(p.calls)), nil
}

func (p *recordingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type recordingNotifier struct {
	mu      sync.Mutex
	address []string
}

func (n *recordingNotifier) SendViolationNotice(_ context.Context, address, _ string, _ int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.address = append(n.address, address)
	return nil
}

type handlerEnv struct {
	api      *API
	engine   *gin.Engine
	gdb      *gorm.DB
	clock    *testClock
	provider *recordingProvider
	notifier *recordingNotifier
	cfg      config.AppConfig
}

func setupHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:handler-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return gdb
}

func testConfig() config.AppConfig {
	return config.AppConfig{
		SessionSecret:        "session-secret",
		JWTSecret:            testJWTSecret,
		TokenTTLHours:        24 * 30,
		CronSecret:           testCronSecret,
		ReconcileConcurrency: 2,
		DistanceThresholdM:   70,
		AccuracyMaxM:         30,
		DefaultGraceMinutes:  60,
		StripeWebhookSecret:  testWebhookSecret,
		RateLimitPerMinute:   0,
	}
}

func newHandlerEnv(t *testing.T, mutate func(*config.AppConfig)) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	gdb := setupHandlerTestDB(t)
	clock := &testClock{}
	clock.Set("2024-05-01T05:00:00Z")

	stripe := service.NewStripeClient("sk_test_handler", cfg.StripeWebhookSecret, "http://stripe.invalid")

	env := &handlerEnv{
		gdb:      gdb,
		clock:    clock,
		provider: &recordingProvider{},
		notifier: &recordingNotifier{},
		cfg:      cfg,
	}
	env.api = NewAPI(gdb, cfg, nil, Dependencies{
		Billing:  env.provider,
		Stripe:   stripe,
		Notifier: env.notifier,
		Clock:    clock.Now,
	})
	env.engine = newTestEngine(env.api, cfg)
	return env
}

// newTestEngine 注册与生产一致的路由子集，避免 handler 测试依赖 router 包。
func newTestEngine(api *API, cfg config.AppConfig) *gin.Engine {
	r := gin.New()
	r.Use(RequestID())
	r.Use(sessions.Sessions("test_session", cookie.NewStore([]byte(cfg.SessionSecret))))

	limiter := NewRateLimiter(cfg.RateLimitPerMinute)

	r.POST("/api/auth/signup", limiter.Middleware(), api.Signup)
	r.POST("/api/auth/signin", limiter.Middleware(), api.Signin)
	r.GET("/api/cron/evaluate", api.RequireCronSecret(), api.CronEvaluate)
	r.GET("/api/geocode/reverse", api.ReverseGeocode)
	r.POST("/api/stripe/webhook", api.StripeWebhook)

	user := r.Group("/api", api.RequireUser())
	user.POST("/checkin", limiter.Middleware(), api.Checkin)
	user.POST("/setup", api.Setup)
	user.POST("/consent", api.Consent)
	user.GET("/history", api.History)
	user.GET("/me/settings", api.GetSettings)
	user.POST("/me/pause", api.Pause)
	user.GET("/me/status", api.Status)
	user.GET("/me/today", api.Today)
	user.GET("/me/billing", api.BillingStatus)
	user.GET("/me/streak/badge.png", api.StreakBadge)

	r.POST("/admin/login", api.AdminLogin)
	r.POST("/admin/logout", api.AdminLogout)
	admin := r.Group("/admin/api", AdminAuthRequired())
	admin.GET("/policy", api.GetPolicy)
	admin.PUT("/policy", api.UpdatePolicy)
	admin.POST("/reconcile", api.RunReconcile)
	admin.POST("/charges/retry", api.RetryCharges)
	admin.GET("/users/:id/audit", api.UserAudit)
	return r
}

func (e *handlerEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	case []byte:
		reader = bytes.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rr := httptest.NewRecorder()
	e.engine.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

// signup 注册并返回令牌与用户 ID。
func (e *handlerEnv) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{"email": email, "password": "correct-horse"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", rr.Code, rr.Body.String())
	}
	payload := decodeBody(t, rr)
	user, _ := payload["user"].(map[string]interface{})
	return payload["token"].(string), user["id"].(string)
}

func homeSetup() map[string]interface{} {
	return map[string]interface{}{
		"tz":        "UTC",
		"home":      map[string]float64{"lat": 40.0, "lng": -74.0},
		"wake_time": "07:00",
		"stake_usd": 7,
	}
}

// configure 注册用户并完成家的位置与日程配置，窗口为 UTC 06:00-07:00。
func (e *handlerEnv) configure(t *testing.T, email string) (string, string) {
	t.Helper()
	token, userID := e.signup(t, email)
	rr := e.do(t, http.MethodPost, "/api/setup", token, homeSetup())
	if rr.Code != http.StatusOK {
		t.Fatalf("setup failed: %d %s", rr.Code, rr.Body.String())
	}
	return token, userID
}

// outsideFix 距家约 100 米。
func outsideFix() map[string]float64 {
	return map[string]float64{"lat": 40.0 + 100/111195.0, "lng": -74.0, "accuracy": 10}
}

func (e *handlerEnv) linkBilling(t *testing.T, userID string) {
	t.Helper()
	row := db.Billing{UserID: userID, StripeCustomerID: "cus_" + userID[:8], StripeSubscriptionID: "sub_" + userID[:8]}
	if err := e.gdb.Create(&row).Error; err != nil {
		t.Fatalf("link billing: %v", err)
	}
}
