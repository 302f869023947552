package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/wakestake/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StreakService 维护连续成功天数。
// 连胜总是由评估历史重新推导，因此对同一日期重复推进不会改变结果。
type StreakService struct {
	db *gorm.DB
}

// NewStreakService 构造 StreakService
func NewStreakService(gdb *gorm.DB) *StreakService {
	return &StreakService{db: gdb}
}

// Get 返回用户连胜，不存在时返回零值。
func (s *StreakService) Get(ctx context.Context, userID string) (db.Streak, error) {
	var streak db.Streak
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&streak).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Streak{UserID: userID}, nil
		}
		return db.Streak{}, fmt.Errorf("get streak: %w", err)
	}
	return streak, nil
}

// advanceTx 在评估写入的同一事务中重算连胜。
func (s *StreakService) advanceTx(tx *gorm.DB, userID, localDate string) (*db.Streak, error) {
	var statuses []string
	if err := tx.Model(&db.Evaluation{}).
		Where("user_id = ?", userID).
		Order("local_date ASC").
		Pluck("status", &statuses).Error; err != nil {
		return nil, fmt.Errorf("load evaluation history: %w", err)
	}

	current, longest := deriveStreak(statuses)

	var existing db.Streak
	if err := tx.Where("user_id = ?", userID).First(&existing).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load streak: %w", err)
	}
	if existing.LongestStreak > longest {
		longest = existing.LongestStreak
	}
	updatedFor := localDate
	if existing.UpdatedForDate > updatedFor {
		updatedFor = existing.UpdatedForDate
	}

	record := db.Streak{
		UserID:         userID,
		CurrentStreak:  current,
		LongestStreak:  longest,
		UpdatedForDate: updatedFor,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"current_streak", "longest_streak", "updated_for_date", "updated_at"}),
	}).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("upsert streak: %w", err)
	}

	return &record, nil
}

// deriveStreak 按日期升序的状态序列计算当前连胜（末尾连续 success 数）与最长连胜。
func deriveStreak(statuses []string) (current, longest int) {
	run := 0
	for _, status := range statuses {
		if status == db.EvaluationSuccess {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	return run, longest
}
