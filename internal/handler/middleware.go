package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wakestake/internal/logger"
	"golang.org/x/time/rate"
)

const (
	contextUserIDKey    = "user_id"
	contextRequestIDKey = "request_id"
	requestIDHeader     = "X-Request-ID"
)

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// RequireUser 校验 Bearer 令牌并把用户 ID 写入上下文。
func (a *API) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			respondError(c, http.StatusUnauthorized, errUnauth)
			c.Abort()
			return
		}
		userID, err := a.tokens.Verify(token)
		if err != nil {
			respondError(c, http.StatusUnauthorized, errUnauth)
			c.Abort()
			return
		}
		c.Set(contextUserIDKey, userID)
		c.Next()
	}
}

// RequireCronSecret 校验调度器携带的 Authorization: Bearer <CRON_SECRET>。
// 未配置密钥时拒绝全部请求。
func (a *API) RequireCronSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if a.cronSecret == "" || token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(a.cronSecret)) != 1 {
			respondError(c, http.StatusForbidden, errForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestID 为每个请求分配 ID，已有的 X-Request-ID 原样沿用。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(contextRequestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RequestLogger 每个请求输出一行日志。
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if id := c.GetString(contextRequestIDKey); id != "" {
			fields = append(fields, "request_id", id)
		}
		if userID := c.GetString(contextUserIDKey); userID != "" {
			fields = append(fields, "user_id", userID)
		}

		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

type limiterEntry struct {
	limiter *rate.Limiter
	expires time.Time
}

// RateLimiter 是按客户端划分的令牌桶，长时间不活跃的条目会被清理。
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// NewRateLimiter 按每分钟请求数构造限流器，perMinute<=0 时不限流。
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{limit: rate.Inf, burst: 1, ttl: 5 * time.Minute, entries: map[string]*limiterEntry{}}
	}
	burst := perMinute / 2
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		ttl:     5 * time.Minute,
		entries: map[string]*limiterEntry{},
	}
}

// Allow 判断 key 是否还有可用令牌。
func (l *RateLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Middleware 已登录请求按用户限流，其余按客户端 IP。
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(contextUserIDKey)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.Allow(key) {
			respondOutcome(c, http.StatusTooManyRequests, "rate_limited", "Too many requests, slow down.")
			c.Abort()
			return
		}
		c.Next()
	}
}

func (l *RateLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, entry := range l.entries {
		if now.After(entry.expires) {
			delete(l.entries, k)
		}
	}

	if entry, ok := l.entries[key]; ok {
		entry.expires = now.Add(l.ttl)
		return entry.limiter
	}
	entry := &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst), expires: now.Add(l.ttl)}
	l.entries[key] = entry
	return entry.limiter
}
