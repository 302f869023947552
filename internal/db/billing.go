package db

import (
	"time"

	"gorm.io/datatypes"
)

// Billing 关联支付平台的客户与订阅。
type Billing struct {
	UserID               string `gorm:"primaryKey;size:36"`
	StripeCustomerID     string `gorm:"size:64"`
	StripeSubscriptionID string `gorm:"size:64"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Charge 为一次成功上报的用量记录；每个 Evaluation 至多对应一条。
type Charge struct {
	ID                  uint   `gorm:"primaryKey"`
	UserID              string `gorm:"size:36;not null;index"`
	EvaluationID        uint   `gorm:"not null;uniqueIndex"`
	StripeUsageRecordID string `gorm:"size:64"`
	AmountUSD           int    `gorm:"not null"`
	CreatedAt           time.Time
}

// AuditLog 记录设置变更、授权同意等用户操作。
type AuditLog struct {
	ID        uint           `gorm:"primaryKey"`
	UserID    string         `gorm:"size:36;index"`
	Action    string         `gorm:"size:64;not null"`
	Meta      datatypes.JSON
	CreatedAt time.Time
}
