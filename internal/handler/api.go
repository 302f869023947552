package handler

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wakestake/internal/config"
	"github.com/wakestake/internal/logger"
	"github.com/wakestake/internal/service"
	"gorm.io/gorm"
)

// Dependencies 是可替换的外部依赖，未提供时使用空实现。
type Dependencies struct {
	Billing  service.BillingProvider
	Stripe   *service.StripeClient
	Notifier service.Notifier
	Cache    *redis.Client
	Clock    func() time.Time
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db         *gorm.DB
	log        *logger.Logger
	auth       *service.AuthService
	tokens     service.TokenVerifier
	admins     *service.AdminService
	settings   *service.SettingsService
	checkins   *service.CheckinService
	reconciler *service.ReconcileService
	history    *service.HistoryService
	streaks    *service.StreakService
	audit      *service.AuditService
	policy     *service.PolicyService
	billing    *service.BillingService
	geocode    *service.GeocodeService
	cronSecret string
}

// NewAPI constructs a handler set with shared services.
func NewAPI(gdb *gorm.DB, cfg config.AppConfig, log *logger.Logger, deps Dependencies) *API {
	if log == nil {
		log = logger.NewNop()
	}

	thresholds := service.Thresholds{DistanceM: cfg.DistanceThresholdM, AccuracyMax: cfg.AccuracyMaxM}
	policy := service.NewPolicyService(gdb, thresholds)
	streaks := service.NewStreakService(gdb)
	evaluations := service.NewEvaluationService(gdb, streaks)
	audit := service.NewAuditService(gdb)

	provider := deps.Billing
	if provider == nil && deps.Stripe != nil {
		provider = deps.Stripe
	}
	billing := service.NewBillingService(gdb, provider, deps.Stripe, log.With("component", "billing"))

	authService := service.NewAuthService(gdb, cfg.JWTSecret, time.Duration(cfg.TokenTTLHours)*time.Hour)
	settings := service.NewSettingsService(gdb, audit, cfg.DefaultGraceMinutes)
	checkins := service.NewCheckinService(gdb, evaluations, policy, log.With("component", "checkin"))
	reconciler := service.NewReconcileService(gdb, evaluations, policy, billing, deps.Notifier, log.With("component", "reconcile"), cfg.ReconcileConcurrency)
	history := service.NewHistoryService(gdb, evaluations, streaks, billing)

	if deps.Clock != nil {
		authService.SetClock(deps.Clock)
		settings.SetClock(deps.Clock)
		checkins.SetClock(deps.Clock)
		reconciler.SetClock(deps.Clock)
		history.SetClock(deps.Clock)
	}

	return &API{
		db:         gdb,
		log:        log,
		auth:       authService,
		tokens:     authService,
		admins:     service.NewAdminService(gdb),
		settings:   settings,
		checkins:   checkins,
		reconciler: reconciler,
		history:    history,
		streaks:    streaks,
		audit:      audit,
		policy:     policy,
		billing:    billing,
		geocode:    service.NewGeocodeService(cfg.GeocodeBaseURL, cfg.GeocodeContactEmail, deps.Cache, log.With("component", "geocode")),
		cronSecret: cfg.CronSecret,
	}
}

// DB exposes the underlying gorm instance.
func (a *API) DB() *gorm.DB {
	return a.db
}

// Reconciler 供定时任务复用同一个补偿服务。
func (a *API) Reconciler() *service.ReconcileService {
	return a.reconciler
}

// Geocoder 返回逆地理编码服务，测试中用于替换 HTTP 客户端。
func (a *API) Geocoder() *service.GeocodeService {
	return a.geocode
}
