package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wakestake/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidStatus 表示评估状态既不是 success 也不是 violation。
var ErrInvalidStatus = errors.New("invalid evaluation status")

// EvaluationService 负责每日评估的落库。
// 同一用户同一本地日期只会有一行：插入走 ON CONFLICT DO NOTHING，
// 冲突时返回已存在的记录，因此 success 永远不会被 violation 覆盖。
type EvaluationService struct {
	db      *gorm.DB
	streaks *StreakService
}

// CommitInput 描述一次评估写入。
type CommitInput struct {
	UserID      string
	LocalDate   string
	Status      string
	CheckinID   *uint
	Source      string
	EvaluatedAt time.Time
	StakeUSD    int
}

// NewEvaluationService 构造 EvaluationService
func NewEvaluationService(gdb *gorm.DB, streaks *StreakService) *EvaluationService {
	return &EvaluationService{db: gdb, streaks: streaks}
}

// Commit 插入评估（若当天尚无记录）并在同一事务中推进连胜。
// created 为 false 表示已有其他写入方先提交，返回的是已存在的记录。
func (s *EvaluationService) Commit(ctx context.Context, input CommitInput) (*db.Evaluation, bool, error) {
	if input.Status != db.EvaluationSuccess && input.Status != db.EvaluationViolation {
		return nil, false, ErrInvalidStatus
	}
	localDate, err := ParseLocalDate(input.LocalDate)
	if err != nil {
		return nil, false, err
	}
	evaluatedAt := input.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = time.Now()
	}

	var stored db.Evaluation
	created := false

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := db.Evaluation{
			UserID:         input.UserID,
			LocalDate:      localDate,
			Status:         input.Status,
			CheckinID:      input.CheckinID,
			Source:         input.Source,
			EvaluatedAtUTC: evaluatedAt.UTC(),
			StakeUSD:       input.StakeUSD,
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "local_date"}},
			DoNothing: true,
		}).Create(&record)
		if result.Error != nil {
			return fmt.Errorf("insert evaluation: %w", result.Error)
		}
		created = result.RowsAffected > 0

		if err := tx.Where("user_id = ? AND local_date = ?", input.UserID, localDate).First(&stored).Error; err != nil {
			return fmt.Errorf("reload evaluation: %w", err)
		}

		if created && s.streaks != nil {
			if _, err := s.streaks.advanceTx(tx, input.UserID, localDate); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &stored, created, nil
}

// Get 返回指定日期的评估，不存在时返回 nil, nil。
func (s *EvaluationService) Get(ctx context.Context, userID, localDate string) (*db.Evaluation, error) {
	var evaluation db.Evaluation
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND local_date = ?", userID, localDate).
		First(&evaluation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get evaluation: %w", err)
	}
	return &evaluation, nil
}

// History 按本地日期倒序返回评估记录，limit<=0 表示不限制。
func (s *EvaluationService) History(ctx context.Context, userID string, limit int) ([]db.Evaluation, error) {
	var rows []db.Evaluation
	query := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("local_date DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return rows, nil
}
