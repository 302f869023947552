package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig 汇总运行服务所需的基础配置。
type AppConfig struct {
	ListenAddr    string `yaml:"listen_addr"`
	Port          string `yaml:"port"`
	GinMode       string `yaml:"gin_mode"`
	SessionSecret string `yaml:"session_secret"`

	DatabaseDriver string `yaml:"database_driver"`
	DatabasePath   string `yaml:"database_path"`
	DatabaseURL    string `yaml:"database_url"`

	JWTSecret     string `yaml:"jwt_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
	CronSecret    string `yaml:"cron_secret"`

	ReconcileInterval    time.Duration `yaml:"reconcile_interval"`
	ReconcileConcurrency int           `yaml:"reconcile_concurrency"`

	DistanceThresholdM  float64 `yaml:"distance_threshold_m"`
	AccuracyMaxM        float64 `yaml:"accuracy_max_m"`
	DefaultGraceMinutes int     `yaml:"default_grace_minutes"`

	StripeSecretKey     string `yaml:"stripe_secret_key"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret"`
	StripeBaseURL       string `yaml:"stripe_base_url"`

	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
	MailFrom     string `yaml:"mail_from"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	GeocodeBaseURL      string `yaml:"geocode_base_url"`
	GeocodeContactEmail string `yaml:"geocode_contact_email"`

	AllowedOrigins     []string `yaml:"allowed_origins"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`

	LogLevel      string `yaml:"log_level"`
	LogPath       string `yaml:"log_path"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`

	SuperRootUserName string `yaml:"super_root_user_name"`
	SuperRootPassword string `yaml:"super_root_password"`
}

// Default 返回全部字段均为安全默认值的配置。
func Default() AppConfig {
	return AppConfig{
		Port:                 "8080",
		GinMode:              "release",
		SessionSecret:        "wakestake-dev-secret",
		DatabaseDriver:       "sqlite",
		DatabasePath:         "data/wakestake.db",
		JWTSecret:            "wakestake-dev-jwt-secret",
		TokenTTLHours:        24 * 7,
		ReconcileInterval:    5 * time.Minute,
		ReconcileConcurrency: 4,
		DistanceThresholdM:   70,
		AccuracyMaxM:         30,
		DefaultGraceMinutes:  60,
		StripeBaseURL:        "https://api.stripe.com",
		SMTPPort:             587,
		MailFrom:             "WakeStake <no-reply@wakestake.app>",
		GeocodeBaseURL:       "https://nominatim.openstreetmap.org",
		AllowedOrigins:       []string{"*"},
		RateLimitPerMinute:   60,
		LogLevel:             "info",
		LogMaxSizeMB:         100,
		LogMaxBackups:        3,
		LogMaxAgeDays:        7,
	}
}

// Load 依次读取 .env、CONFIG_FILE 指向的 YAML 文件与环境变量，后者优先级最高。
func Load() (AppConfig, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = fmt.Sprintf(":%s", cfg.Port)
	}
	return cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	setString(&cfg.Port, "PORT")
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.GinMode, "GIN_MODE")
	setString(&cfg.SessionSecret, "SESSION_SECRET")
	setString(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	setString(&cfg.DatabasePath, "DATABASE_PATH")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.CronSecret, "CRON_SECRET")
	setString(&cfg.StripeSecretKey, "STRIPE_SECRET_KEY")
	setString(&cfg.StripeWebhookSecret, "STRIPE_WEBHOOK_SECRET")
	setString(&cfg.StripeBaseURL, "STRIPE_BASE_URL")
	setString(&cfg.SMTPHost, "SMTP_HOST")
	setString(&cfg.SMTPUsername, "SMTP_USERNAME")
	setString(&cfg.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.MailFrom, "MAIL_FROM")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.GeocodeBaseURL, "GEOCODE_BASE_URL")
	setString(&cfg.GeocodeContactEmail, "GEOCODE_CONTACT_EMAIL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogPath, "LOG_PATH")
	setString(&cfg.SuperRootUserName, "SUPER_ROOT_USER_NAME")
	setString(&cfg.SuperRootPassword, "SUPER_ROOT_PASSWORD")

	if raw := env("ALLOWED_ORIGINS"); raw != "" {
		cfg.AllowedOrigins = splitList(raw)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TOKEN_TTL_HOURS", &cfg.TokenTTLHours},
		{"RECONCILE_CONCURRENCY", &cfg.ReconcileConcurrency},
		{"DEFAULT_GRACE_MINUTES", &cfg.DefaultGraceMinutes},
		{"SMTP_PORT", &cfg.SMTPPort},
		{"REDIS_DB", &cfg.RedisDB},
		{"RATE_LIMIT_PER_MINUTE", &cfg.RateLimitPerMinute},
		{"LOG_MAX_SIZE_MB", &cfg.LogMaxSizeMB},
		{"LOG_MAX_BACKUPS", &cfg.LogMaxBackups},
		{"LOG_MAX_AGE_DAYS", &cfg.LogMaxAgeDays},
	}
	for _, item := range ints {
		raw := env(item.key)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", item.key, err)
		}
		*item.dst = v
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"DISTANCE_THRESHOLD_M", &cfg.DistanceThresholdM},
		{"ACCURACY_MAX_M", &cfg.AccuracyMaxM},
	}
	for _, item := range floats {
		raw := env(item.key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("invalid %s: %q", item.key, raw)
		}
		*item.dst = v
	}

	if raw := env("RECONCILE_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid RECONCILE_INTERVAL: %w", err)
		}
		cfg.ReconcileInterval = d
	}

	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, key string) {
	if v := env(key); v != "" {
		*dst = v
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
