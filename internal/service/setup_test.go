package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/wakestake/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:service-%d?mode=memory&cache=shared", time.Now().UnixNano())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql db: %v", err)
	}
	// 共享缓存的内存库在多连接并发写时会报 table locked，测试中串行化连接。
	sqlDB.SetMaxOpenConns(1)

	if err := gdb.AutoMigrate(db.Models()...); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return gdb
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.now = t
}

func mustUTC(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse time %q: %v", value, err)
	}
	return parsed.UTC()
}

var testHome = Point{Lat: 40.0, Lng: -74.0}

// metersNorth 返回 home 正北方向约 meters 米的点。
func metersNorth(home Point, meters float64) Point {
	return Point{Lat: home.Lat + meters/111195.0, Lng: home.Lng}
}

type seedOptions struct {
	Timezone     string
	WakeTime     string
	Grace        int
	Active       bool
	ActiveFrom   string
	Stake        int
	Subscription string
	Email        string
}

func seedUser(t *testing.T, gdb *gorm.DB, userID string, opts seedOptions) {
	t.Helper()

	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if opts.WakeTime == "" {
		opts.WakeTime = "07:00"
	}
	if opts.Email == "" {
		opts.Email = userID + "@example.com"
	}

	lat, lng := testHome.Lat, testHome.Lng
	records := []interface{}{
		&db.User{ID: userID, Email: opts.Email, PasswordHash: "x"},
		&db.Profile{UserID: userID, Timezone: opts.Timezone, HomeLat: &lat, HomeLng: &lng},
		&db.Schedule{UserID: userID, WakeTimeLocal: opts.WakeTime, GraceMinutes: opts.Grace, ActiveEveryday: opts.Active, ActiveFrom: opts.ActiveFrom},
	}
	if opts.Stake > 0 {
		records = append(records, &db.Stake{UserID: userID, StakeUSD: opts.Stake})
	}
	if opts.Subscription != "" {
		records = append(records, &db.Billing{UserID: userID, StripeCustomerID: "cus_" + userID, StripeSubscriptionID: opts.Subscription})
	}

	for _, record := range records {
		if err := gdb.Create(record).Error; err != nil {
			t.Fatalf("seed %T: %v", record, err)
		}
	}
	if !opts.Active {
		if err := gdb.Model(&db.Schedule{}).Where("user_id = ?", userID).Update("active_everyday", false).Error; err != nil {
			t.Fatalf("pause schedule: %v", err)
		}
	}
}

func countRows(t *testing.T, gdb *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	if err := gdb.Model(model).Where(query, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return count
}
