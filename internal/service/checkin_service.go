package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/wakestake/internal/db"
	"github.com/wakestake/internal/logger"
	"gorm.io/gorm"
)

// 打卡结果码。除 success 外均不产生评估记录，not_outside 可在窗口内重试。
const (
	OutcomeSuccess       = "success"
	OutcomeTooEarly      = "too_early"
	OutcomeTooLate       = "too_late"
	OutcomeInactive      = "inactive"
	OutcomeInactiveToday = "inactive_today"
	OutcomeNotConfigured = "not_configured"
	OutcomeNotOutside    = "not_outside"
)

// ErrInvalidFix 定位坐标或精度非法。
var ErrInvalidFix = errors.New("invalid position fix")

// CheckinInput 为客户端上报的定位。
type CheckinInput struct {
	UserID    string
	Lat       float64
	Lng       float64
	AccuracyM float64
}

// CheckinResult 描述一次打卡的结果。
type CheckinResult struct {
	Outcome   string   `json:"outcome"`
	Message   string   `json:"message"`
	LocalDate string   `json:"local_date,omitempty"`
	Window    *Window  `json:"-"`
	Distance  *float64 `json:"distance_m,omitempty"`
}

// OK 表示本次打卡已记为成功（含重复提交）。
func (r CheckinResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// dayContext 是实时打卡与补偿任务共享的“今天”上下文。
type dayContext struct {
	profile  db.Profile
	schedule db.Schedule
	loc      *time.Location
	window   Window
	home     Point
}

// CheckinService 处理窗口内的实时打卡。
type CheckinService struct {
	db          *gorm.DB
	evaluations *EvaluationService
	policy      *PolicyService
	log         *logger.Logger
	now         func() time.Time
}

// NewCheckinService 构造 CheckinService
func NewCheckinService(gdb *gorm.DB, evaluations *EvaluationService, policy *PolicyService, log *logger.Logger) *CheckinService {
	if log == nil {
		log = logger.NewNop()
	}
	return &CheckinService{db: gdb, evaluations: evaluations, policy: policy, log: log, now: time.Now}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *CheckinService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Submit 按顺序检查配置、生效日期与窗口，记录定位后判定是否已离家。
// 只有成功会写入评估；其他结果不会产生评估记录。
func (s *CheckinService) Submit(ctx context.Context, input CheckinInput) (CheckinResult, error) {
	if !validCoordinate(input.Lat, input.Lng) || math.IsNaN(input.AccuracyM) || math.IsInf(input.AccuracyM, 0) || input.AccuracyM < 0 {
		return CheckinResult{}, ErrInvalidFix
	}

	now := s.now().UTC()
	gdb := s.db.WithContext(ctx)

	var profile db.Profile
	hasProfile, err := first(gdb.Where("user_id = ?", input.UserID), &profile)
	if err != nil {
		return CheckinResult{}, fmt.Errorf("load profile: %w", err)
	}
	var schedule db.Schedule
	hasSchedule, err := first(gdb.Where("user_id = ?", input.UserID), &schedule)
	if err != nil {
		return CheckinResult{}, fmt.Errorf("load schedule: %w", err)
	}
	if !hasProfile || !hasSchedule || !profile.Complete() {
		return CheckinResult{Outcome: OutcomeNotConfigured, Message: "Set your home location and schedule first."}, nil
	}
	if !schedule.ActiveEveryday {
		return CheckinResult{Outcome: OutcomeInactive, Message: "Your schedule is paused."}, nil
	}

	day, err := resolveDay(profile, schedule, now)
	if err != nil {
		return CheckinResult{Outcome: OutcomeNotConfigured, Message: "Your schedule settings are invalid."}, nil
	}
	if schedule.ActiveFrom != "" && schedule.ActiveFrom > day.window.LocalDate {
		return CheckinResult{
			Outcome:   OutcomeInactiveToday,
			Message:   fmt.Sprintf("Your schedule starts on %s.", schedule.ActiveFrom),
			LocalDate: day.window.LocalDate,
		}, nil
	}

	window := day.window
	if now.Before(window.Start) {
		return CheckinResult{
			Outcome:   OutcomeTooEarly,
			Message:   fmt.Sprintf("Check-in opens at %s.", window.Start.In(day.loc).Format("15:04")),
			LocalDate: window.LocalDate,
			Window:    &window,
		}, nil
	}
	if now.After(window.End) {
		return CheckinResult{
			Outcome:   OutcomeTooLate,
			Message:   "Today's window has closed.",
			LocalDate: window.LocalDate,
			Window:    &window,
		}, nil
	}

	record := db.Checkin{
		UserID:    input.UserID,
		Lat:       input.Lat,
		Lng:       input.Lng,
		AccuracyM: input.AccuracyM,
		TsUTC:     now,
	}
	if err := gdb.Create(&record).Error; err != nil {
		return CheckinResult{}, fmt.Errorf("store checkin: %w", err)
	}

	existing, err := s.evaluations.Get(ctx, input.UserID, window.LocalDate)
	if err != nil {
		return CheckinResult{}, err
	}
	if existing != nil && existing.Status == db.EvaluationSuccess {
		return CheckinResult{
			Outcome:   OutcomeSuccess,
			Message:   "Already checked in today.",
			LocalDate: window.LocalDate,
			Window:    &window,
		}, nil
	}

	thresholds, err := s.policy.Thresholds()
	if err != nil {
		return CheckinResult{}, err
	}
	verdict := Judge(day.home, &Fix{Lat: input.Lat, Lng: input.Lng, AccuracyM: input.AccuracyM}, thresholds)
	distance := verdict.DistanceM

	if !verdict.Success() {
		return CheckinResult{
			Outcome:   OutcomeNotOutside,
			Message:   verdict.Reason,
			LocalDate: window.LocalDate,
			Window:    &window,
			Distance:  &distance,
		}, nil
	}

	checkinID := record.ID
	stored, created, err := s.evaluations.Commit(ctx, CommitInput{
		UserID:      input.UserID,
		LocalDate:   window.LocalDate,
		Status:      db.EvaluationSuccess,
		CheckinID:   &checkinID,
		Source:      db.SourceRealtime,
		EvaluatedAt: now,
	})
	if err != nil {
		return CheckinResult{}, err
	}
	if stored.Status != db.EvaluationSuccess {
		// 补偿任务已在窗口结束时提交了违约。
		return CheckinResult{
			Outcome:   OutcomeTooLate,
			Message:   "Today's window has closed.",
			LocalDate: window.LocalDate,
			Window:    &window,
		}, nil
	}

	if created {
		s.log.Info("checkin succeeded", "user_id", input.UserID, "local_date", window.LocalDate, "distance_m", math.Round(distance))
	}
	return CheckinResult{
		Outcome:   OutcomeSuccess,
		Message:   "Nice! You're out the door.",
		LocalDate: window.LocalDate,
		Window:    &window,
		Distance:  &distance,
	}, nil
}

// resolveDay 根据用户时区计算 now 所在的本地日期及其窗口。
func resolveDay(profile db.Profile, schedule db.Schedule, now time.Time) (dayContext, error) {
	loc, err := LoadTimezone(profile.Timezone)
	if err != nil {
		return dayContext{}, err
	}
	wake, err := ParseWakeTime(schedule.WakeTimeLocal)
	if err != nil {
		return dayContext{}, err
	}
	today := LocalDateOf(now, loc)
	return dayContext{
		profile:  profile,
		schedule: schedule,
		loc:      loc,
		window:   ComputeWindow(loc, today, wake, schedule.GraceMinutes),
		home:     Point{Lat: *profile.HomeLat, Lng: *profile.HomeLng},
	}, nil
}
