package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wakestake/internal/db"
	"github.com/wakestake/internal/logger"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const sideEffectTimeout = 20 * time.Second

// ReconcileSummary 为一次补偿任务的统计。
type ReconcileSummary struct {
	Processed  int `json:"processed"`
	Violations int `json:"violations"`
	Failed     int `json:"failed"`
}

type reconcileOutcome int

const (
	outcomeSkipped reconcileOutcome = iota
	outcomeCommittedSuccess
	outcomeCommittedViolation
)

type reconcileCandidate struct {
	UserID         string
	WakeTimeLocal  string
	GraceMinutes   int
	ActiveEveryday bool
	ActiveFrom     string
	Timezone       string
	HomeLat        *float64
	HomeLng        *float64
	Email          string
}

// ReconcileService 在窗口结束后为没有评估的用户补做判定，
// 判定为违约时计费并发送通知。可与自身及实时打卡并发执行。
type ReconcileService struct {
	db          *gorm.DB
	evaluations *EvaluationService
	policy      *PolicyService
	billing     *BillingService
	notifier    Notifier
	log         *logger.Logger
	concurrency int
	now         func() time.Time
}

// NewReconcileService 构造 ReconcileService，concurrency<=0 时按 4 处理。
func NewReconcileService(gdb *gorm.DB, evaluations *EvaluationService, policy *PolicyService, billing *BillingService, notifier Notifier, log *logger.Logger, concurrency int) *ReconcileService {
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = logger.NewNop()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	return &ReconcileService{
		db:          gdb,
		evaluations: evaluations,
		policy:      policy,
		billing:     billing,
		notifier:    notifier,
		log:         log,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *ReconcileService) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Run 遍历所有启用中的日程并逐个用户补做判定。
// 单个用户的失败只计入 Failed，不会中断整批任务。
func (s *ReconcileService) Run(ctx context.Context) (ReconcileSummary, error) {
	var summary ReconcileSummary
	now := s.now().UTC()

	thresholds, err := s.policy.Thresholds()
	if err != nil {
		return summary, err
	}

	var candidates []reconcileCandidate
	if err := s.db.WithContext(ctx).Table("schedules").
		Select("schedules.user_id, schedules.wake_time_local, schedules.grace_minutes, schedules.active_everyday, schedules.active_from, " +
			"profiles.timezone, profiles.home_lat, profiles.home_lng, users.email").
		Joins("JOIN profiles ON profiles.user_id = schedules.user_id").
		Joins("LEFT JOIN users ON users.id = schedules.user_id").
		Where("schedules.active_everyday = ?", true).
		Order("schedules.user_id ASC").
		Scan(&candidates).Error; err != nil {
		return summary, fmt.Errorf("list active schedules: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, candidate := range candidates {
		candidate := candidate
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					summary.Failed++
					s.log.Error("reconcile user failed", "user_id", candidate.UserID, "error", err)
				}
			}()

			outcome, runErr := s.reconcileUser(ctx, candidate, now, thresholds)
			if runErr != nil {
				return runErr
			}

			mu.Lock()
			switch outcome {
			case outcomeCommittedSuccess:
				summary.Processed++
			case outcomeCommittedViolation:
				summary.Processed++
				summary.Violations++
			}
			mu.Unlock()
			return nil
		})
	}
	// 每个 goroutine 的错误已在 defer 中计数，这里只等待全部结束。
	_ = g.Wait()

	s.log.Info("reconcile finished",
		"candidates", len(candidates),
		"processed", summary.Processed,
		"violations", summary.Violations,
		"failed", summary.Failed,
	)
	return summary, nil
}

func (s *ReconcileService) reconcileUser(ctx context.Context, c reconcileCandidate, now time.Time, thresholds Thresholds) (reconcileOutcome, error) {
	if err := ctx.Err(); err != nil {
		return outcomeSkipped, err
	}

	profile := db.Profile{UserID: c.UserID, Timezone: c.Timezone, HomeLat: c.HomeLat, HomeLng: c.HomeLng}
	schedule := db.Schedule{
		UserID:         c.UserID,
		WakeTimeLocal:  c.WakeTimeLocal,
		GraceMinutes:   c.GraceMinutes,
		ActiveEveryday: c.ActiveEveryday,
		ActiveFrom:     c.ActiveFrom,
	}
	if !profile.Complete() || !schedule.ActiveEveryday {
		return outcomeSkipped, nil
	}

	day, err := resolveDay(profile, schedule, now)
	if err != nil {
		s.log.Warn("skip user with invalid schedule", "user_id", c.UserID, "error", err)
		return outcomeSkipped, nil
	}
	window := day.window
	if schedule.ActiveFrom != "" && schedule.ActiveFrom > window.LocalDate {
		return outcomeSkipped, nil
	}

	existing, err := s.evaluations.Get(ctx, c.UserID, window.LocalDate)
	if err != nil {
		return outcomeSkipped, err
	}
	if existing != nil {
		return outcomeSkipped, nil
	}
	if now.Before(window.End) {
		return outcomeSkipped, nil
	}

	var fix *Fix
	var checkinID *uint
	var latest db.Checkin
	found, err := first(s.db.WithContext(ctx).
		Where("user_id = ? AND ts_utc >= ? AND ts_utc <= ?", c.UserID, window.Start, window.End).
		Order("ts_utc DESC"), &latest)
	if err != nil {
		return outcomeSkipped, fmt.Errorf("load latest checkin: %w", err)
	}
	// mysql DATETIME 不带时区，回读后再按闭区间校验一次。
	if found && window.Contains(latest.TsUTC) {
		fix = &Fix{Lat: latest.Lat, Lng: latest.Lng, AccuracyM: latest.AccuracyM}
		id := latest.ID
		checkinID = &id
	}

	verdict := Judge(day.home, fix, thresholds)

	// 违约时把押金写进评估行，重试计费沿用同一金额。
	stake := 0
	if verdict.Status == db.EvaluationViolation && s.billing != nil {
		amount, err := s.billing.StakeAmount(ctx, c.UserID)
		if err != nil {
			s.log.Warn("load stake failed, billing deferred", "user_id", c.UserID, "error", err)
		} else {
			stake = amount
		}
	}

	stored, created, err := s.evaluations.Commit(ctx, CommitInput{
		UserID:      c.UserID,
		LocalDate:   window.LocalDate,
		Status:      verdict.Status,
		CheckinID:   checkinID,
		Source:      db.SourceReconcile,
		EvaluatedAt: now,
		StakeUSD:    stake,
	})
	if err != nil {
		return outcomeSkipped, err
	}
	if !created {
		return outcomeSkipped, nil
	}

	if stored.Status == db.EvaluationSuccess {
		return outcomeCommittedSuccess, nil
	}

	s.log.Info("violation committed", "user_id", c.UserID, "local_date", window.LocalDate, "reason", verdict.Reason)
	s.dispatchViolation(ctx, *stored, c.Email)
	return outcomeCommittedViolation, nil
}

// dispatchViolation 计费与通知互相独立，失败只记录日志，不影响已提交的评估。
func (s *ReconcileService) dispatchViolation(ctx context.Context, evaluation db.Evaluation, email string) {
	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	amount := evaluation.StakeUSD
	if s.billing != nil && amount <= 0 {
		s.log.Warn("violation not billed: stake unknown", "user_id", evaluation.UserID, "evaluation_id", evaluation.ID)
	} else if s.billing != nil {
		if _, err := s.billing.ChargeViolation(ctx, evaluation, amount); err != nil {
			if errors.Is(err, ErrNoSubscription) {
				s.log.Info("violation not billed: no subscription", "user_id", evaluation.UserID)
			} else {
				s.log.Warn("billing failed", "user_id", evaluation.UserID, "evaluation_id", evaluation.ID, "error", err)
			}
		}
	}

	if email == "" {
		return
	}
	if err := s.notifier.SendViolationNotice(ctx, email, evaluation.LocalDate, amount); err != nil {
		s.log.Warn("violation notice failed", "user_id", evaluation.UserID, "error", err)
	}
}
