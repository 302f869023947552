package db

import "time"

const (
	EvaluationSuccess   = "success"
	EvaluationViolation = "violation"

	SourceRealtime  = "realtime"
	SourceReconcile = "reconcile"
)

// Checkin 是一次上报的定位，只追加不修改。
type Checkin struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:36;not null;index:idx_checkin_user_ts,priority:1"`
	Lat       float64   `gorm:"not null"`
	Lng       float64   `gorm:"not null"`
	AccuracyM float64   `gorm:"not null"`
	TsUTC     time.Time `gorm:"not null;index:idx_checkin_user_ts,priority:2"`
	CreatedAt time.Time
}

// Evaluation 记录某个本地日期的最终判定。
// user_id + local_date 唯一索引保证每天至多一行，写入后不再修改。
type Evaluation struct {
	ID             uint      `gorm:"primaryKey"`
	UserID         string    `gorm:"size:36;not null;uniqueIndex:idx_evaluation_user_date,priority:1"`
	LocalDate      string    `gorm:"size:10;not null;uniqueIndex:idx_evaluation_user_date,priority:2"`
	Status         string    `gorm:"size:16;not null"`
	CheckinID      *uint
	Source         string    `gorm:"size:16"`
	EvaluatedAtUTC time.Time `gorm:"not null"`
	// StakeUSD 为违约提交时锁定的押金，0 表示未知，补扣时再查询。
	StakeUSD  int `gorm:"not null;default:0"`
	CreatedAt time.Time
}

// Streak 保存连续成功天数，UpdatedForDate 为最后一次推进对应的本地日期。
type Streak struct {
	UserID         string `gorm:"primaryKey;size:36"`
	CurrentStreak  int    `gorm:"not null;default:0"`
	LongestStreak  int    `gorm:"not null;default:0"`
	UpdatedForDate string `gorm:"size:10"`
	UpdatedAt      time.Time
}
