package service

import (
	"context"
	"fmt"
	"time"

	"github.com/wakestake/internal/db"
	"gorm.io/gorm"
)

// HistoryView 为历史记录页面的数据。
type HistoryView struct {
	Rows          []db.Evaluation
	TotalUSD      int
	CurrentStreak int
	LongestStreak int
}

// TodayView 描述用户今天的状态；Configured 为 false 时其余字段为空。
type TodayView struct {
	Configured bool
	Active     bool
	LocalDate  string
	Window     *Window
	Status     string
	Checked    bool
}

// HistoryService 汇总评估历史、扣费总额与连胜。
type HistoryService struct {
	db          *gorm.DB
	evaluations *EvaluationService
	streaks     *StreakService
	billing     *BillingService
	now         func() time.Time
}

// NewHistoryService 构造 HistoryService
func NewHistoryService(gdb *gorm.DB, evaluations *EvaluationService, streaks *StreakService, billing *BillingService) *HistoryService {
	return &HistoryService{db: gdb, evaluations: evaluations, streaks: streaks, billing: billing, now: time.Now}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *HistoryService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// History 返回最近的评估（倒序）以及扣费与连胜统计。
func (s *HistoryService) History(ctx context.Context, userID string, limit int) (HistoryView, error) {
	var view HistoryView

	rows, err := s.evaluations.History(ctx, userID, limit)
	if err != nil {
		return view, err
	}
	view.Rows = rows

	total, err := s.billing.TotalUSD(ctx, userID)
	if err != nil {
		return view, err
	}
	view.TotalUSD = total

	streak, err := s.streaks.Get(ctx, userID)
	if err != nil {
		return view, err
	}
	view.CurrentStreak = streak.CurrentStreak
	view.LongestStreak = streak.LongestStreak

	return view, nil
}

// Today 返回今天的窗口与评估状态。
func (s *HistoryService) Today(ctx context.Context, userID string) (TodayView, error) {
	var view TodayView
	gdb := s.db.WithContext(ctx)

	var profile db.Profile
	hasProfile, err := first(gdb.Where("user_id = ?", userID), &profile)
	if err != nil {
		return view, fmt.Errorf("load profile: %w", err)
	}
	var schedule db.Schedule
	hasSchedule, err := first(gdb.Where("user_id = ?", userID), &schedule)
	if err != nil {
		return view, fmt.Errorf("load schedule: %w", err)
	}
	if !hasProfile || !hasSchedule || !profile.Complete() {
		return view, nil
	}

	day, err := resolveDay(profile, schedule, s.now().UTC())
	if err != nil {
		return view, nil
	}
	window := day.window

	view.Configured = true
	view.Active = schedule.ActiveEveryday && (schedule.ActiveFrom == "" || schedule.ActiveFrom <= window.LocalDate)
	view.LocalDate = window.LocalDate
	view.Window = &window

	evaluation, err := s.evaluations.Get(ctx, userID, window.LocalDate)
	if err != nil {
		return view, err
	}
	if evaluation != nil {
		view.Status = evaluation.Status
		view.Checked = evaluation.Status == db.EvaluationSuccess
	}
	return view, nil
}
