package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/config"
	"github.com/wakestake/internal/handler"
	"github.com/wakestake/internal/logger"
)

const sessionName = "wakestake_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, cfg config.AppConfig, log *logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handler.RequestID())
	r.Use(handler.RequestLogger(log))
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	// 配置会话中间件，仅后台使用
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/admin",
		MaxAge:   int((12 * time.Hour).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions(sessionName, store))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	limiter := handler.NewRateLimiter(cfg.RateLimitPerMinute)

	apiGroup := r.Group("/api")
	{
		auth := apiGroup.Group("/auth")
		auth.Use(limiter.Middleware())
		{
			auth.POST("/signup", api.Signup)
			auth.POST("/signin", api.Signin)
		}

		cron := apiGroup.Group("/cron")
		cron.Use(api.RequireCronSecret())
		{
			cron.GET("/evaluate", api.CronEvaluate)
			cron.POST("/evaluate", api.CronEvaluate)
		}

		apiGroup.GET("/geocode/reverse", limiter.Middleware(), api.ReverseGeocode)
		apiGroup.POST("/stripe/webhook", api.StripeWebhook)

		// 需要 Bearer 令牌的接口
		user := apiGroup.Group("")
		user.Use(api.RequireUser())
		{
			user.POST("/checkin", limiter.Middleware(), api.Checkin)
			user.POST("/setup", api.Setup)
			user.POST("/consent", api.Consent)
			user.GET("/history", api.History)

			me := user.Group("/me")
			{
				me.GET("/settings", api.GetSettings)
				me.POST("/pause", api.Pause)
				me.GET("/status", api.Status)
				me.GET("/today", api.Today)
				me.GET("/billing", api.BillingStatus)
				me.GET("/streak/badge.png", api.StreakBadge)
			}
		}
	}

	// 后台管理路由
	admin := r.Group("/admin")
	{
		admin.POST("/login", limiter.Middleware(), api.AdminLogin)
		admin.POST("/logout", api.AdminLogout)

		authed := admin.Group("/api")
		authed.Use(handler.AdminAuthRequired())
		{
			authed.GET("/policy", api.GetPolicy)
			authed.PUT("/policy", api.UpdatePolicy)
			authed.POST("/reconcile", api.RunReconcile)
			authed.POST("/charges/retry", api.RetryCharges)
			authed.GET("/users/:id/audit", api.UserAudit)
		}
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID", "Stripe-Signature"},
		ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}
