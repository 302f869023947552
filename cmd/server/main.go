package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"github.com/wakestake/internal/config"
	"github.com/wakestake/internal/db"
	"github.com/wakestake/internal/handler"
	"github.com/wakestake/internal/logger"
	"github.com/wakestake/internal/router"
	"github.com/wakestake/internal/scheduler"
	"github.com/wakestake/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog, err := logger.New(logger.Options{
		Level:      cfg.LogLevel,
		Path:       cfg.LogPath,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer appLog.Sync()

	// 初始化数据库
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabasePath, cfg.DatabaseURL); err != nil {
		appLog.Error("failed to initialize database", "error", err)
		return
	}
	if err := db.EnsureAdmin(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		appLog.Error("failed to ensure admin account", "error", err)
		return
	}

	deps := handler.Dependencies{
		Notifier: service.LogNotifier{Log: appLog.With("component", "notifier")},
		Cache:    service.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
	}
	if cfg.StripeSecretKey != "" || cfg.StripeWebhookSecret != "" {
		deps.Stripe = service.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeBaseURL)
	} else {
		appLog.Warn("stripe not configured, violations will not be billed")
	}
	if cfg.SMTPHost != "" {
		deps.Notifier = service.NewSMTPNotifier(service.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}
	if deps.Cache != nil {
		defer deps.Cache.Close()
	}

	gin.SetMode(cfg.GinMode)
	api := handler.NewAPI(db.DB, cfg, appLog, deps)
	r := router.SetupRouter(api, cfg, appLog)

	jobs, err := scheduler.New(api.Reconciler(), cfg.ReconcileInterval, appLog.With("component", "scheduler"))
	if err != nil {
		appLog.Error("failed to create scheduler", "error", err)
		return
	}
	jobs.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		appLog.Info("server listening", "addr", cfg.ListenAddr, "driver", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("server stopped unexpectedly", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("graceful shutdown failed", "error", err)
	}
	if err := jobs.Shutdown(); err != nil {
		appLog.Warn("scheduler shutdown failed", "error", err)
	}
}
