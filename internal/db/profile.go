package db

import "time"

// Profile 保存用户的时区与家的位置，HomeLat/HomeLng 为空表示尚未设置。
type Profile struct {
	UserID    string `gorm:"primaryKey;size:36"`
	Timezone  string `gorm:"size:64;not null;default:UTC"`
	HomeLat   *float64
	HomeLng   *float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Complete 判断是否可以参与每日评估。
func (p Profile) Complete() bool {
	return p.Timezone != "" && p.HomeLat != nil && p.HomeLng != nil
}

// Schedule 描述每日截止时间与宽限窗口。
// ActiveFrom 为 YYYY-MM-DD 本地日期，空串表示立即生效；
// 窗口关闭后重新启用时会被推迟到次日。
type Schedule struct {
	UserID         string `gorm:"primaryKey;size:36"`
	WakeTimeLocal  string `gorm:"size:5;not null"`
	GraceMinutes   int    `gorm:"not null"`
	ActiveEveryday bool   `gorm:"not null"`
	ActiveFrom     string `gorm:"size:10"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stake 为每次违约计费的金额（美元，1-100）。
type Stake struct {
	UserID    string `gorm:"primaryKey;size:36"`
	StakeUSD  int    `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
