package service

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wakestake/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidThreshold 表示阈值必须为正数。
var ErrInvalidThreshold = errors.New("threshold must be a positive number")

var policyKeys = []string{
	db.SettingKeyDistanceThreshold,
	db.SettingKeyAccuracyMax,
}

// PolicyService 提供判定阈值的读取与更新能力：配置文件给出默认值，system_settings 中的记录覆盖之。
type PolicyService struct {
	db       *gorm.DB
	defaults Thresholds
}

// NewPolicyService 构造 PolicyService，非法默认值回退到 70m / 30m。
func NewPolicyService(gdb *gorm.DB, defaults Thresholds) *PolicyService {
	if defaults.DistanceM <= 0 {
		defaults.DistanceM = defaultDistanceM
	}
	if defaults.AccuracyMax <= 0 {
		defaults.AccuracyMax = defaultAccuracyMaxM
	}
	return &PolicyService{db: gdb, defaults: defaults}
}

// Thresholds 读取当前生效的阈值。
func (s *PolicyService) Thresholds() (Thresholds, error) {
	result := s.defaults

	keys := make([]interface{}, 0, len(policyKeys))
	for _, k := range policyKeys {
		keys = append(keys, k)
	}

	// key 在 mysql 中是保留字，使用 clause.IN 让方言负责引号。
	var records []db.SystemSetting
	if err := s.db.Where(clause.IN{Column: clause.Column{Name: "key"}, Values: keys}).Find(&records).Error; err != nil {
		return result, fmt.Errorf("load policy settings: %w", err)
	}

	for _, record := range records {
		value, err := strconv.ParseFloat(strings.TrimSpace(record.Value), 64)
		if err != nil || value <= 0 {
			continue
		}
		switch record.Key {
		case db.SettingKeyDistanceThreshold:
			result.DistanceM = value
		case db.SettingKeyAccuracyMax:
			result.AccuracyMax = value
		}
	}

	return result, nil
}

// UpdateThresholds 保存阈值覆盖值。
func (s *PolicyService) UpdateThresholds(input Thresholds) (Thresholds, error) {
	if input.DistanceM <= 0 || input.AccuracyMax <= 0 {
		return Thresholds{}, ErrInvalidThreshold
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := upsertSetting(tx, db.SettingKeyDistanceThreshold, formatFloat(input.DistanceM)); err != nil {
			return err
		}
		return upsertSetting(tx, db.SettingKeyAccuracyMax, formatFloat(input.AccuracyMax))
	})
	if err != nil {
		return Thresholds{}, fmt.Errorf("update policy settings: %w", err)
	}

	return input, nil
}

func upsertSetting(tx *gorm.DB, key, value string) error {
	setting := db.SystemSetting{Key: key, Value: value}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"value":      value,
			"updated_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("upsert setting %s: %w", key, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
