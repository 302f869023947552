package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wakestake/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultWakeTime = "07:00"
	defaultTimezone = "UTC"
	maxGraceMinutes = 180
	minStakeUSD     = 1
	maxStakeUSD     = 100
)

var (
	// ErrInvalidCoordinates 家的位置缺失或超出范围
	ErrInvalidCoordinates = errors.New("invalid home coordinates")
	// ErrInvalidGrace 宽限分钟数超出范围
	ErrInvalidGrace = errors.New("invalid grace minutes")
	// ErrInvalidStake 押金不是有效数字
	ErrInvalidStake = errors.New("invalid stake amount")
)

// Settings 是用户配置的聚合视图，缺失项使用默认值填充。
type Settings struct {
	Timezone       string   `json:"tz"`
	HomeLat        *float64 `json:"home_lat"`
	HomeLng        *float64 `json:"home_lng"`
	WakeTime       string   `json:"wake_time"`
	GraceMinutes   int      `json:"grace_min"`
	ActiveEveryday bool     `json:"active_everyday"`
	ActiveFrom     string   `json:"active_from,omitempty"`
	StakeUSD       int      `json:"stake_usd"`
}

// SetupInput 为首次配置或修改配置的输入。GraceMinutes/Active 为空表示保留原值。
type SetupInput struct {
	Timezone     string
	HomeLat      float64
	HomeLng      float64
	WakeTime     string
	StakeUSD     float64
	GraceMinutes *int
	Active       *bool
	UserAgent    string
}

// ConfigStatus 汇总用户是否完成全部配置。
type ConfigStatus struct {
	Configured  bool `json:"configured"`
	HasProfile  bool `json:"hasProfile"`
	HasSchedule bool `json:"hasSchedule"`
	HasStake    bool `json:"hasStake"`
	HasStripe   bool `json:"hasStripe"`
}

// SettingsService 管理 profile / schedule / stake 三张表。
type SettingsService struct {
	db           *gorm.DB
	audit        *AuditService
	defaultGrace int
	now          func() time.Time
}

// NewSettingsService 构造 SettingsService
func NewSettingsService(gdb *gorm.DB, audit *AuditService, defaultGrace int) *SettingsService {
	if defaultGrace < 0 || defaultGrace > maxGraceMinutes {
		defaultGrace = 60
	}
	return &SettingsService{db: gdb, audit: audit, defaultGrace: defaultGrace, now: time.Now}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *SettingsService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Get 返回用户设置，未配置的字段使用默认值。
func (s *SettingsService) Get(ctx context.Context, userID string) (Settings, error) {
	result := Settings{
		Timezone:       defaultTimezone,
		WakeTime:       defaultWakeTime,
		GraceMinutes:   s.defaultGrace,
		ActiveEveryday: true,
		StakeUSD:       defaultStakeUSD,
	}

	gdb := s.db.WithContext(ctx)

	var profile db.Profile
	if found, err := first(gdb.Where("user_id = ?", userID), &profile); err != nil {
		return result, fmt.Errorf("load profile: %w", err)
	} else if found {
		if profile.Timezone != "" {
			result.Timezone = profile.Timezone
		}
		result.HomeLat = profile.HomeLat
		result.HomeLng = profile.HomeLng
	}

	var schedule db.Schedule
	if found, err := first(gdb.Where("user_id = ?", userID), &schedule); err != nil {
		return result, fmt.Errorf("load schedule: %w", err)
	} else if found {
		result.WakeTime = schedule.WakeTimeLocal
		result.GraceMinutes = schedule.GraceMinutes
		result.ActiveEveryday = schedule.ActiveEveryday
		result.ActiveFrom = schedule.ActiveFrom
	}

	var stake db.Stake
	if found, err := first(gdb.Where("user_id = ?", userID), &stake); err != nil {
		return result, fmt.Errorf("load stake: %w", err)
	} else if found {
		result.StakeUSD = stake.StakeUSD
	}

	return result, nil
}

// Setup 一次性写入 profile、schedule、stake 并记录审计日志。
func (s *SettingsService) Setup(ctx context.Context, userID string, input SetupInput) (Settings, error) {
	loc, err := LoadTimezone(input.Timezone)
	if err != nil {
		return Settings{}, err
	}
	wake, err := ParseWakeTime(input.WakeTime)
	if err != nil {
		return Settings{}, err
	}
	if !validCoordinate(input.HomeLat, input.HomeLng) {
		return Settings{}, ErrInvalidCoordinates
	}
	stake, err := ClampStake(input.StakeUSD)
	if err != nil {
		return Settings{}, err
	}
	if input.GraceMinutes != nil && (*input.GraceMinutes < 0 || *input.GraceMinutes > maxGraceMinutes) {
		return Settings{}, ErrInvalidGrace
	}

	now := s.now()
	lat, lng := input.HomeLat, input.HomeLng

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 窗口按时区换算，时区变化同样要重新计算生效日期。
		var prior db.Profile
		hadProfile, err := first(tx.Where("user_id = ?", userID), &prior)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		zoneChanged := !hadProfile || prior.Timezone != loc.String()

		profile := db.Profile{UserID: userID, Timezone: loc.String(), HomeLat: &lat, HomeLng: &lng}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"timezone", "home_lat", "home_lng", "updated_at"}),
		}).Create(&profile).Error; err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}

		var existing db.Schedule
		found, err := first(tx.Where("user_id = ?", userID), &existing)
		if err != nil {
			return fmt.Errorf("load schedule: %w", err)
		}

		next := existing
		next.UserID = userID
		next.WakeTimeLocal = wake.String()
		if input.GraceMinutes != nil {
			next.GraceMinutes = *input.GraceMinutes
		} else if !found {
			next.GraceMinutes = s.defaultGrace
		}
		if input.Active != nil {
			next.ActiveEveryday = *input.Active
		} else if !found {
			next.ActiveEveryday = true
		}

		windowChanged := !found || !existing.ActiveEveryday || zoneChanged ||
			existing.WakeTimeLocal != next.WakeTimeLocal || existing.GraceMinutes != next.GraceMinutes
		if next.ActiveEveryday && windowChanged {
			from := activationDate(now, loc, wake, next.GraceMinutes)
			if found && existing.ActiveEveryday && existing.ActiveFrom > from {
				from = existing.ActiveFrom
			}
			next.ActiveFrom = from
		}

		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("save schedule: %w", err)
		}

		stakeRow := db.Stake{UserID: userID, StakeUSD: stake}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stake_usd", "updated_at"}),
		}).Create(&stakeRow).Error; err != nil {
			return fmt.Errorf("upsert stake: %w", err)
		}

		if s.audit != nil {
			return s.audit.recordTx(tx, userID, "setup", map[string]interface{}{
				"tz":        loc.String(),
				"wake_time": wake.String(),
				"grace_min": next.GraceMinutes,
				"stake_usd": stake,
				"ua":        input.UserAgent,
			})
		}
		return nil
	})
	if err != nil {
		return Settings{}, err
	}

	return s.Get(ctx, userID)
}

// SetActive 启用或暂停每日评估。
// 当天窗口已经关闭后再启用，生效日期推迟到次日，避免对已结束的窗口追溯判定。
func (s *SettingsService) SetActive(ctx context.Context, userID string, active bool) (db.Schedule, error) {
	var result db.Schedule
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var schedule db.Schedule
		found, err := first(tx.Where("user_id = ?", userID), &schedule)
		if err != nil {
			return fmt.Errorf("load schedule: %w", err)
		}
		if !found {
			schedule = db.Schedule{UserID: userID, WakeTimeLocal: defaultWakeTime, GraceMinutes: s.defaultGrace}
		}

		if active && (!found || !schedule.ActiveEveryday) {
			loc := time.UTC
			var profile db.Profile
			if ok, err := first(tx.Where("user_id = ?", userID), &profile); err != nil {
				return fmt.Errorf("load profile: %w", err)
			} else if ok {
				if parsed, err := LoadTimezone(profile.Timezone); err == nil {
					loc = parsed
				}
			}
			wake, err := ParseWakeTime(schedule.WakeTimeLocal)
			if err != nil {
				wake = MustParseWakeTime(defaultWakeTime)
			}
			schedule.ActiveFrom = activationDate(now, loc, wake, schedule.GraceMinutes)
		}
		schedule.ActiveEveryday = active

		if err := tx.Save(&schedule).Error; err != nil {
			return fmt.Errorf("save schedule: %w", err)
		}
		result = schedule
		return nil
	})
	return result, err
}

// Status 判断配置是否完整：家的位置、日程、押金与订阅缺一不可。
func (s *SettingsService) Status(ctx context.Context, userID string) (ConfigStatus, error) {
	gdb := s.db.WithContext(ctx)
	var status ConfigStatus

	var profile db.Profile
	found, err := first(gdb.Where("user_id = ?", userID), &profile)
	if err != nil {
		return status, fmt.Errorf("load profile: %w", err)
	}
	status.HasProfile = found && profile.Complete()

	var count int64
	if err := gdb.Model(&db.Schedule{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return status, fmt.Errorf("count schedules: %w", err)
	}
	status.HasSchedule = count > 0

	if err := gdb.Model(&db.Stake{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return status, fmt.Errorf("count stakes: %w", err)
	}
	status.HasStake = count > 0

	if err := gdb.Model(&db.Billing{}).Where("user_id = ? AND stripe_subscription_id <> ''", userID).Count(&count).Error; err != nil {
		return status, fmt.Errorf("count billing: %w", err)
	}
	status.HasStripe = count > 0

	status.Configured = status.HasProfile && status.HasSchedule && status.HasStake && status.HasStripe
	return status, nil
}

// ClampStake 四舍五入并限制在 1-100 美元之间。
func ClampStake(v float64) (int, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidStake
	}
	rounded := int(math.Round(v))
	if rounded < minStakeUSD {
		return minStakeUSD, nil
	}
	if rounded > maxStakeUSD {
		return maxStakeUSD, nil
	}
	return rounded, nil
}

// activationDate 返回重新启用后的生效日期：今天的窗口已结束则为明天。
func activationDate(now time.Time, loc *time.Location, wake WakeTime, grace int) string {
	today := LocalDateOf(now, loc)
	window := ComputeWindow(loc, today, wake, grace)
	if now.After(window.End) {
		return NextLocalDate(today)
	}
	return today
}

func first(query *gorm.DB, dst interface{}) (bool, error) {
	err := query.First(dst).Error
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return false, err
}
