package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/wakestake/internal/config"
	"github.com/wakestake/internal/db"
	"github.com/wakestake/internal/logger"
	"github.com/wakestake/internal/service"
	"gorm.io/gorm"
)

const demoPassword = "wakestake-demo"

type demoUser struct {
	Email    string
	Timezone string
	WakeTime string
	Home     service.Point
	Stake    float64
	// 每天成功的概率
	Reliability float64
}

var demoUsers = []demoUser{
	{Email: "early.bird@wakestake.app", Timezone: "UTC", WakeTime: "06:30", Home: service.Point{Lat: 51.5072, Lng: -0.1276}, Stake: 5, Reliability: 0.9},
	{Email: "snoozer@wakestake.app", Timezone: "America/New_York", WakeTime: "07:15", Home: service.Point{Lat: 40.7128, Lng: -74.0060}, Stake: 12, Reliability: 0.55},
	{Email: "commuter@wakestake.app", Timezone: "Asia/Tokyo", WakeTime: "08:00", Home: service.Point{Lat: 35.6762, Lng: 139.6503}, Stake: 3, Reliability: 0.75},
}

type seedSummary struct {
	Users      int
	Checkins   int
	Successes  int
	Violations int
	Charges    int
}

// demoProvider 模拟计量计费，不访问外部服务
type demoProvider struct{}

func (demoProvider) RecordUsage(_ context.Context, usage service.UsageRecord) (string, error) {
	return "demo_" + usage.IdempotencyKey, nil
}

// 演示数据生成器
func main() {
	days := flag.Int("days", 21, "number of past days to fill")
	seed := flag.Int64("seed", 42, "random seed")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("加载配置失败:", err)
	}
	// 初始化数据库
	if err := db.Init(cfg.DatabaseDriver, cfg.DatabasePath, cfg.DatabaseURL); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成演示数据...")
	summary, err := seedDemo(context.Background(), db.DB, cfg, time.Now(), *days, rand.New(rand.NewSource(*seed)))
	if err != nil {
		log.Fatal("生成演示数据失败:", err)
	}

	fmt.Println("演示数据生成完成！")
	fmt.Printf("用户: %d (密码: %s)\n", summary.Users, demoPassword)
	fmt.Printf("打卡: %d, 成功: %d, 违约: %d, 扣费: %d\n", summary.Checkins, summary.Successes, summary.Violations, summary.Charges)
}

func seedDemo(ctx context.Context, gdb *gorm.DB, cfg config.AppConfig, now time.Time, days int, rng *rand.Rand) (seedSummary, error) {
	var summary seedSummary

	nop := logger.NewNop()
	streaks := service.NewStreakService(gdb)
	evaluations := service.NewEvaluationService(gdb, streaks)
	auth := service.NewAuthService(gdb, cfg.JWTSecret, time.Hour)
	settings := service.NewSettingsService(gdb, service.NewAuditService(gdb), cfg.DefaultGraceMinutes)
	billing := service.NewBillingService(gdb, demoProvider{}, nil, nop)

	for _, demo := range demoUsers {
		user, _, err := auth.Signup(ctx, demo.Email, demoPassword)
		if errors.Is(err, service.ErrEmailTaken) {
			fmt.Println("用户已存在，跳过:", demo.Email)
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("signup %s: %w", demo.Email, err)
		}
		summary.Users++

		if _, err := settings.Setup(ctx, user.ID, service.SetupInput{
			Timezone: demo.Timezone,
			HomeLat:  demo.Home.Lat,
			HomeLng:  demo.Home.Lng,
			WakeTime: demo.WakeTime,
			StakeUSD: demo.Stake,
		}); err != nil {
			return summary, fmt.Errorf("setup %s: %w", demo.Email, err)
		}
		if err := billing.LinkSubscription(ctx, user.ID, "cus_demo_"+user.ID[:8], "sub_demo_"+user.ID[:8]); err != nil {
			return summary, err
		}

		if err := seedHistory(ctx, gdb, evaluations, billing, user.ID, demo, cfg.DefaultGraceMinutes, now, days, rng, &summary); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

// seedHistory 按时间顺序补齐过去 days 天的打卡与评估。
func seedHistory(ctx context.Context, gdb *gorm.DB, evaluations *service.EvaluationService, billing *service.BillingService,
	userID string, demo demoUser, grace int, now time.Time, days int, rng *rand.Rand, summary *seedSummary) error {
	loc, err := service.LoadTimezone(demo.Timezone)
	if err != nil {
		return err
	}
	wake := service.MustParseWakeTime(demo.WakeTime)
	today, err := time.Parse("2006-01-02", service.LocalDateOf(now, loc))
	if err != nil {
		return err
	}

	for i := days; i >= 1; i-- {
		localDate := today.AddDate(0, 0, -i).Format("2006-01-02")
		window := service.ComputeWindow(loc, localDate, wake, grace)

		if rng.Float64() < demo.Reliability {
			var offset time.Duration
			if grace > 0 {
				offset = time.Duration(rng.Intn(grace)+1) * time.Minute
			}
			fix := db.Checkin{
				UserID:    userID,
				Lat:       demo.Home.Lat + (120+rng.Float64()*400)/111195.0,
				Lng:       demo.Home.Lng,
				AccuracyM: 5 + rng.Float64()*20,
				TsUTC:     window.Start.Add(offset).UTC(),
			}
			if err := gdb.WithContext(ctx).Create(&fix).Error; err != nil {
				return fmt.Errorf("insert checkin: %w", err)
			}
			summary.Checkins++

			if _, _, err := evaluations.Commit(ctx, service.CommitInput{
				UserID:      userID,
				LocalDate:   localDate,
				Status:      db.EvaluationSuccess,
				CheckinID:   &fix.ID,
				Source:      db.SourceRealtime,
				EvaluatedAt: fix.TsUTC,
			}); err != nil {
				return err
			}
			summary.Successes++
			continue
		}

		amount, err := billing.StakeAmount(ctx, userID)
		if err != nil {
			return err
		}
		evaluation, created, err := evaluations.Commit(ctx, service.CommitInput{
			UserID:      userID,
			LocalDate:   localDate,
			Status:      db.EvaluationViolation,
			Source:      db.SourceReconcile,
			EvaluatedAt: window.End.Add(5 * time.Minute),
			StakeUSD:    amount,
		})
		if err != nil {
			return err
		}
		summary.Violations++
		if !created {
			continue
		}

		if _, err := billing.ChargeViolation(ctx, *evaluation, amount); err != nil {
			return fmt.Errorf("charge demo violation: %w", err)
		}
		summary.Charges++
	}
	return nil
}
