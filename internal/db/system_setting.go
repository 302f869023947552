package db

import "gorm.io/gorm"

// SystemSetting 存储后台可配置的系统级键值对。
type SystemSetting struct {
	gorm.Model
	Key   string `gorm:"size:100;uniqueIndex;not null"`
	Value string `gorm:"type:text"`
}

// TableName 自定义表名以保持命名一致。
func (SystemSetting) TableName() string {
	return "system_settings"
}

const (
	// SettingKeyDistanceThreshold 覆盖判定离家的最小距离（米）。
	SettingKeyDistanceThreshold = "distance_threshold_m"
	// SettingKeyAccuracyMax 覆盖可接受的最大定位误差（米）。
	SettingKeyAccuracyMax = "accuracy_max_m"
)
