package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/wakestake/internal/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrInvalidConsentKind 同意类型为空或过长。
var ErrInvalidConsentKind = errors.New("invalid consent kind")

const maxAuditString = 256

// AuditService 记录用户操作日志，字符串字段写入前去除 HTML。
type AuditService struct {
	db     *gorm.DB
	policy *bluemonday.Policy
}

// NewAuditService 构造 AuditService
func NewAuditService(gdb *gorm.DB) *AuditService {
	return &AuditService{db: gdb, policy: bluemonday.StrictPolicy()}
}

// Record 写入一条审计日志。
func (s *AuditService) Record(ctx context.Context, userID, action string, meta map[string]interface{}) error {
	return s.recordTx(s.db.WithContext(ctx), userID, action, meta)
}

// RecordConsent 记录用户同意条款等操作。
func (s *AuditService) RecordConsent(ctx context.Context, userID, kind, userAgent string) error {
	cleaned := strings.TrimSpace(s.policy.Sanitize(kind))
	if cleaned == "" || len(cleaned) > 64 {
		return ErrInvalidConsentKind
	}
	return s.Record(ctx, userID, "consent", map[string]interface{}{
		"kind": cleaned,
		"ua":   userAgent,
	})
}

// List 返回用户最近的审计日志。
func (s *AuditService) List(ctx context.Context, userID string, limit int) ([]db.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []db.AuditLog
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return rows, nil
}

func (s *AuditService) recordTx(tx *gorm.DB, userID, action string, meta map[string]interface{}) error {
	payload, err := json.Marshal(s.sanitizeMeta(meta))
	if err != nil {
		return fmt.Errorf("encode audit meta: %w", err)
	}

	entry := db.AuditLog{
		UserID: userID,
		Action: action,
		Meta:   datatypes.JSON(payload),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

func (s *AuditService) sanitizeMeta(meta map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(meta))
	for key, value := range meta {
		if str, ok := value.(string); ok {
			str = s.policy.Sanitize(str)
			if len(str) > maxAuditString {
				str = str[:maxAuditString]
			}
			out[key] = str
			continue
		}
		out[key] = value
	}
	return out
}
